package reflex

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GenerationStats summarizes the scores of one finished generation.
type GenerationStats struct {
	Generation   int     `csv:"generation"`
	Genomes      int     `csv:"genomes"`
	BestScore    float64 `csv:"best_score"`    // Highest score reached this generation.
	MeanScore    float64 `csv:"mean_score"`
	StdDevScore  float64 `csv:"stddev_score"`
	MedianScore  float64 `csv:"median_score"`
	BestEver     float64 `csv:"best_ever"`     // Highest BestScore carried by any genome.
	TotalFitness int     `csv:"total_fitness"` // Roulette wheel size for the next selection.
}

// Summarize computes statistics over the current scores of pop.
func Summarize(pop *Population) GenerationStats {
	s := GenerationStats{
		Generation:   pop.Generation,
		Genomes:      pop.Size(),
		TotalFitness: pop.TotalFitness(),
	}
	if pop.Size() == 0 {
		return s
	}

	scores := make([]float64, pop.Size())
	best := make([]float64, pop.Size())
	for i, g := range pop.Genomes {
		scores[i] = float64(g.Score)
		best[i] = float64(g.BestScore)
	}
	sort.Float64s(scores)

	s.BestScore = floats.Max(scores)
	s.MeanScore, s.StdDevScore = stat.MeanStdDev(scores, nil)
	if len(scores) < 2 {
		s.StdDevScore = 0
	}
	s.MedianScore = stat.Quantile(0.5, stat.Empirical, scores, nil)
	s.BestEver = floats.Max(best)
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s GenerationStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("generation", s.Generation),
		slog.Int("genomes", s.Genomes),
		slog.Float64("best", s.BestScore),
		slog.Float64("mean", s.MeanScore),
		slog.Float64("stddev", s.StdDevScore),
		slog.Float64("median", s.MedianScore),
		slog.Float64("best_ever", s.BestEver),
		slog.Int("total_fitness", s.TotalFitness),
	)
}

// HistoryWriter appends one CSV row per generation. A nil writer discards rows.
type HistoryWriter struct {
	file          *os.File
	headerWritten bool
}

// OpenHistory opens path for appending. It returns nil if path is empty
// (history disabled). The header is only written to an empty file so
// resumed runs keep extending the same table.
func OpenHistory(path string) (*HistoryWriter, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("inspecting history file: %w", err)
	}
	return &HistoryWriter{file: f, headerWritten: info.Size() > 0}, nil
}

// Write appends the statistics of one generation.
func (h *HistoryWriter) Write(stats GenerationStats) error {
	if h == nil {
		return nil
	}
	records := []GenerationStats{stats}
	if !h.headerWritten {
		if err := gocsv.Marshal(records, h.file); err != nil {
			return fmt.Errorf("writing history: %w", err)
		}
		h.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, h.file); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (h *HistoryWriter) Close() error {
	if h == nil {
		return nil
	}
	return h.file.Close()
}

// ReadHistory loads every row previously written to path.
func ReadHistory(path string) ([]GenerationStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	defer f.Close()

	var rows []GenerationStats
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return rows, nil
}
