package reflex

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/baldhumanity/reflex-go/reflex/nn"
)

// Config stores the configuration parameters for a run.
type Config struct {
	Population PopulationConfig
	Network    NetworkConfig
	Evolution  EvolutionConfig
	Controller ControllerConfig
	Store      StoreConfig
}

// PopulationConfig holds the sizes used by selection.
type PopulationConfig struct {
	PopSize        int   `ini:"pop_size"`
	Elitism        int   `ini:"elitism"`          // Genomes copied unchanged into the next generation.
	MatingPoolSize int   `ini:"mating_pool_size"` // Elites plus roulette picks.
	Seed           int64 `ini:"seed"`             // 0 means time based.
	Replay         bool  `ini:"replay"`           // Reload the newest generation without evolving or exporting.
}

// NetworkConfig holds the fixed topology of every genome.
type NetworkConfig struct {
	NumInputs     int     `ini:"num_inputs"`
	HiddenLayers  int     `ini:"hidden_layers"`
	NodesPerLayer int     `ini:"nodes_per_layer"`
	WeightMax     float64 `ini:"weight_max"`
	Epsilon       float64 `ini:"epsilon"`
}

// EvolutionConfig holds crossover and mutation parameters.
type EvolutionConfig struct {
	CrossoverRate      float64 `ini:"crossover_rate"`      // Fraction of the parent distance moved during crossover.
	MutationRate       float64 `ini:"mutation_rate"`       // Percent chance per weight/bias.
	MutationAdjustment float64 `ini:"mutation_adjustment"` // Step size of a nudge mutation.
}

// ControllerConfig holds the normalization constants for environment inputs.
type ControllerConfig struct {
	HorizontalSpan float64 `ini:"horizontal_span"`
	VerticalSpan   float64 `ini:"vertical_span"`
}

// StoreConfig describes where generations are persisted.
type StoreConfig struct {
	Backend    string `ini:"backend"` // "dir" or "sqlite"
	Directory  string `ini:"directory"`
	FilePrefix string `ini:"file_prefix"`
	SQLitePath string `ini:"sqlite_path"`
	HistoryCSV string `ini:"history_csv"` // Empty disables the per-generation history.
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Population: PopulationConfig{
			PopSize:        50,
			Elitism:        2,
			MatingPoolSize: 10,
		},
		Network: NetworkConfig{
			NumInputs:     nn.NumInputs,
			HiddenLayers:  2,
			NodesPerLayer: 4,
			WeightMax:     1.5,
			Epsilon:       0.0001,
		},
		Evolution: EvolutionConfig{
			CrossoverRate:      0.5,
			MutationRate:       10,
			MutationAdjustment: 0.1,
		},
		Controller: ControllerConfig{
			HorizontalSpan: 699,
			VerticalSpan:   763,
		},
		Store: StoreConfig{
			Backend:    "dir",
			Directory:  "epochs",
			FilePrefix: "epoch",
			SQLitePath: "epochs.db",
		},
	}
}

// LoadConfig loads configuration parameters from an INI file on top of
// DefaultConfig. Keys absent from the file keep their default value.
func LoadConfig(filePath string) (*Config, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%s': %w", filePath, err)
	}

	config := DefaultConfig()

	sections := []struct {
		name   string
		target interface{}
	}{
		{"Population", &config.Population},
		{"Network", &config.Network},
		{"Evolution", &config.Evolution},
		{"Controller", &config.Controller},
		{"Store", &config.Store},
	}
	for _, s := range sections {
		if !cfg.HasSection(s.name) {
			continue
		}
		if err := cfg.Section(s.name).MapTo(s.target); err != nil {
			return nil, fmt.Errorf("failed to map [%s] section: %w", s.name, err)
		}
	}

	config.Store.Backend = strings.ToLower(cleanIniString(config.Store.Backend))
	config.Store.Directory = cleanIniString(config.Store.Directory)
	config.Store.FilePrefix = cleanIniString(config.Store.FilePrefix)
	config.Store.SQLitePath = cleanIniString(config.Store.SQLitePath)
	config.Store.HistoryCSV = cleanIniString(config.Store.HistoryCSV)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the cross-field constraints the algorithms rely on.
func (c *Config) Validate() error {
	p := c.Population
	if p.PopSize <= 0 {
		return fmt.Errorf("config error: pop_size must be positive")
	}
	if p.Elitism < 0 || p.Elitism > p.PopSize {
		return fmt.Errorf("config error: elitism must be between 0 and pop_size")
	}
	if p.MatingPoolSize < 1 {
		return fmt.Errorf("config error: mating_pool_size must be positive")
	}
	if p.MatingPoolSize < p.Elitism {
		return fmt.Errorf("config error: mating_pool_size (%d) cannot be smaller than elitism (%d)", p.MatingPoolSize, p.Elitism)
	}

	n := c.Network
	if n.NumInputs < nn.NumInputs {
		return fmt.Errorf("config error: num_inputs must be at least %d", nn.NumInputs)
	}
	if n.HiddenLayers < 0 {
		return fmt.Errorf("config error: hidden_layers cannot be negative")
	}
	if n.NodesPerLayer <= 0 {
		return fmt.Errorf("config error: nodes_per_layer must be positive")
	}
	if n.Epsilon < 0 {
		return fmt.Errorf("config error: epsilon cannot be negative")
	}
	if n.WeightMax <= n.Epsilon {
		return fmt.Errorf("config error: weight_max must be greater than epsilon")
	}

	e := c.Evolution
	if e.CrossoverRate < 0 || e.CrossoverRate > 1 {
		return fmt.Errorf("config error: crossover_rate must be between 0 and 1")
	}
	if e.MutationRate < 0 || e.MutationRate > 100 {
		return fmt.Errorf("config error: mutation_rate must be between 0 and 100")
	}
	if e.MutationAdjustment < 0 {
		return fmt.Errorf("config error: mutation_adjustment cannot be negative")
	}

	if c.Controller.HorizontalSpan <= 0 || c.Controller.VerticalSpan <= 0 {
		return fmt.Errorf("config error: horizontal_span and vertical_span must be positive")
	}

	switch c.Store.Backend {
	case "dir":
		if c.Store.Directory == "" || c.Store.FilePrefix == "" {
			return fmt.Errorf("config error: dir backend requires directory and file_prefix")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("config error: sqlite backend requires sqlite_path")
		}
	default:
		return fmt.Errorf("config error: invalid store backend '%s', must be 'dir' or 'sqlite'", c.Store.Backend)
	}
	return nil
}

// Topology returns the network shape shared by every genome.
func (c *Config) Topology() nn.Topology {
	return nn.Topology{
		Inputs:        c.Network.NumInputs,
		HiddenLayers:  c.Network.HiddenLayers,
		NodesPerLayer: c.Network.NodesPerLayer,
		WeightMax:     c.Network.WeightMax,
		Epsilon:       c.Network.Epsilon,
	}
}

// cleanIniString removes inline comments and trims whitespace from a string read from INI.
func cleanIniString(s string) string {
	if idx := strings.IndexAny(s, "#;"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
