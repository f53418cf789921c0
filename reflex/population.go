package reflex

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/baldhumanity/reflex-go/reflex/nn"
)

// Population holds one generation of genomes. Genomes is an arena indexed by
// slot: slot i drives agent i for the whole generation, and Evolve replaces
// the arena wholesale rather than mutating it in place.
type Population struct {
	Config       *Config
	Genomes      []*Genome
	Reproduction *Reproduction
	Generation   int
	Logger       *slog.Logger
}

// NewPopulation creates generation 0 with randomly initialized genomes.
func NewPopulation(config *Config, rng *rand.Rand) (*Population, error) {
	if rng == nil {
		return nil, errors.New("population requires a random source")
	}
	reproduction := NewReproduction(config, rng)
	return &Population{
		Config:       config,
		Genomes:      reproduction.CreateNewPopulation(config.Population.PopSize),
		Reproduction: reproduction,
		Generation:   0,
		Logger:       slog.Default(),
	}, nil
}

// newPopulationFrom wraps already built genomes, continuing key numbering
// after the largest key present.
func newPopulationFrom(config *Config, rng *rand.Rand, genomes []*Genome, generation int) *Population {
	reproduction := NewReproduction(config, rng)
	for _, g := range genomes {
		if g.Key >= reproduction.NextGenomeKey {
			reproduction.NextGenomeKey = g.Key + 1
		}
	}
	return &Population{
		Config:       config,
		Genomes:      genomes,
		Reproduction: reproduction,
		Generation:   generation,
		Logger:       slog.Default(),
	}
}

// Size returns the number of genomes in the arena.
func (p *Population) Size() int {
	return len(p.Genomes)
}

// Networks returns the network of every slot, in slot order.
func (p *Population) Networks() []*nn.Network {
	nets := make([]*nn.Network, len(p.Genomes))
	for i, g := range p.Genomes {
		nets[i] = g.Network
	}
	return nets
}

// FinalizeAll folds every genome's current score into its best score.
func (p *Population) FinalizeAll() {
	for _, g := range p.Genomes {
		g.Finalize()
	}
}

// ResetScores clears the live score of every genome, keeping BestScore.
func (p *Population) ResetScores() {
	for _, g := range p.Genomes {
		g.Score = 0
	}
}

// SortByBestScore orders the arena by BestScore, best first. Ties keep their slot order.
func (p *Population) SortByBestScore() {
	sortByBestScore(p.Genomes)
}

// TotalFitness returns the sum of positive BestScores across the population.
func (p *Population) TotalFitness() int {
	return totalFitness(p.Genomes)
}

// Best returns the genome with the highest BestScore, or nil if empty.
func (p *Population) Best() *Genome {
	var best *Genome
	for _, g := range p.Genomes {
		if best == nil || g.BestScore > best.BestScore {
			best = g
		}
	}
	return best
}

// Validate checks every genome against the configured topology.
func (p *Population) Validate() error {
	topology := p.Config.Topology()
	for i, g := range p.Genomes {
		if err := g.Network.Validate(topology); err != nil {
			return fmt.Errorf("genome %d (slot %d): %w", g.Key, i, err)
		}
	}
	return nil
}

// Evolve produces the next generation from the finalized best scores.
// The receiver is left sorted by BestScore and otherwise untouched.
func (p *Population) Evolve() (*Population, error) {
	if len(p.Genomes) == 0 {
		return nil, fmt.Errorf("population extinct in generation %d", p.Generation)
	}

	p.SortByBestScore()
	next, err := p.Reproduction.Reproduce(p.Genomes)
	if err != nil {
		return nil, fmt.Errorf("reproduction failed in generation %d: %w", p.Generation, err)
	}

	p.Logger.Info("generation evolved",
		"generation", p.Generation,
		"next_generation", p.Generation+1,
		"best_score", p.Genomes[0].BestScore,
		"total_fitness", p.TotalFitness(),
	)

	return &Population{
		Config:       p.Config,
		Genomes:      next,
		Reproduction: p.Reproduction,
		Generation:   p.Generation + 1,
		Logger:       p.Logger,
	}, nil
}

func sortByBestScore(genomes []*Genome) {
	sort.SliceStable(genomes, func(i, j int) bool {
		return genomes[i].BestScore > genomes[j].BestScore
	})
}

func totalFitness(genomes []*Genome) int {
	total := 0
	for _, g := range genomes {
		if g.BestScore > 0 {
			total += g.BestScore
		}
	}
	return total
}
