package reflex

import (
	"fmt"
	"math/rand"
)

// Reproduction handles the creation of new genomes, either from scratch or
// through selection, crossover and mutation. All randomness is drawn from rng.
type Reproduction struct {
	Config        *Config
	NextGenomeKey int // State for the next genome key
	rng           *rand.Rand
}

// NewReproduction creates a new reproduction manager.
func NewReproduction(config *Config, rng *rand.Rand) *Reproduction {
	return &Reproduction{
		Config:        config,
		NextGenomeKey: 1, // Start genome keys at 1
		rng:           rng,
	}
}

// Rand returns the random source shared by everything derived from this run.
func (r *Reproduction) Rand() *rand.Rand {
	return r.rng
}

// getNextKey gets the next available genome key and increments the internal counter.
func (r *Reproduction) getNextKey() int {
	key := r.NextGenomeKey
	r.NextGenomeKey++
	return key
}

// NewGenome creates a random genome under the next key.
func (r *Reproduction) NewGenome() *Genome {
	return NewGenome(r.getNextKey(), r.rng, r.Config.Topology())
}

// CreateNewPopulation creates popSize random genomes.
func (r *Reproduction) CreateNewPopulation(popSize int) []*Genome {
	genomes := make([]*Genome, popSize)
	for i := range genomes {
		genomes[i] = r.NewGenome()
	}
	return genomes
}

// Reproduce builds the next generation from genomes, which must already be
// sorted by BestScore, best first.
func (r *Reproduction) Reproduce(genomes []*Genome) ([]*Genome, error) {
	popSize := r.Config.Population.PopSize
	elitism := r.Config.Population.Elitism
	if len(genomes) < elitism {
		return nil, fmt.Errorf("cannot take %d elites from %d genomes", elitism, len(genomes))
	}

	// --- Elitism ---
	next := make([]*Genome, 0, popSize)
	for _, g := range genomes[:elitism] {
		elite := g.Copy(g.Key)
		elite.Score = 0
		next = append(next, elite)
	}

	// --- Selection ---
	pool := r.SelectMatingPool(genomes)
	if len(pool) == 0 {
		return nil, fmt.Errorf("mating pool is empty")
	}

	// --- Crossover ---
	for len(next) < popSize {
		parent1, parent2 := r.pickParents(pool)
		child := &Genome{
			Key:     r.getNextKey(),
			Network: Crossover(r.rng, parent1.Network, parent2.Network, r.Config.Evolution.CrossoverRate),
		}
		next = append(next, child)
	}

	// --- Mutation (elites excluded) ---
	for _, child := range next[elitism:] {
		MutateNetwork(r.rng, child.Network, r.Config)
	}

	return next, nil
}

// SelectMatingPool returns the elites followed by roulette picks until the
// pool holds MatingPoolSize genomes. genomes must be sorted best first.
// Pool entries alias genomes; they are only read as crossover parents.
func (r *Reproduction) SelectMatingPool(genomes []*Genome) []*Genome {
	size := r.Config.Population.MatingPoolSize
	elitism := r.Config.Population.Elitism
	if elitism > len(genomes) {
		elitism = len(genomes)
	}

	pool := make([]*Genome, 0, size)
	pool = append(pool, genomes[:elitism]...)
	if len(genomes) == 0 {
		return pool
	}

	total := totalFitness(genomes)
	for len(pool) < size {
		pool = append(pool, genomes[r.spinRoulette(genomes, total)])
	}
	return pool
}

// spinRoulette picks an index with probability proportional to BestScore.
// Genomes without fitness are never picked unless every genome lacks it,
// in which case the pick is uniform.
func (r *Reproduction) spinRoulette(genomes []*Genome, total int) int {
	if total <= 0 {
		return r.rng.Intn(len(genomes))
	}

	// The draw is inclusive of total, so the walk always terminates on a
	// genome with positive fitness.
	draw := r.rng.Intn(total + 1)
	running := 0
	last := 0
	for i, g := range genomes {
		if g.BestScore <= 0 {
			continue
		}
		running += g.BestScore
		last = i
		if running >= draw {
			return i
		}
	}
	return last
}

// pickParents draws two distinct pool members. A single-member pool pairs
// the member with itself.
func (r *Reproduction) pickParents(pool []*Genome) (*Genome, *Genome) {
	i := r.rng.Intn(len(pool))
	if len(pool) == 1 {
		return pool[i], pool[i]
	}
	j := i
	for j == i {
		j = r.rng.Intn(len(pool))
	}
	return pool[i], pool[j]
}
