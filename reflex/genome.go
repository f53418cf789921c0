package reflex

import (
	"fmt"
	"math/rand"

	"github.com/baldhumanity/reflex-go/reflex/nn"
)

// Genome is one evolved controller: a node network plus its fitness record.
type Genome struct {
	Key       int         // Slot-independent identifier, unique within a run.
	Network   *nn.Network // Owned exclusively by this genome.
	Score     int         // Score reached in the current generation.
	BestScore int         // Best score so far; the selection weight, persisted across generations.
}

// NewGenome creates a genome with a randomly initialized network.
func NewGenome(key int, rng *rand.Rand, topology nn.Topology) *Genome {
	return &Genome{
		Key:     key,
		Network: nn.NewNetwork(rng, topology),
	}
}

// RecordScore updates the live score of the current generation.
func (g *Genome) RecordScore(score int) {
	g.Score = score
}

// Finalize folds the current score into BestScore. Called once the agent dies.
func (g *Genome) Finalize() {
	if g.Score > g.BestScore {
		g.BestScore = g.Score
	}
}

// Copy creates a deep copy of the genome under a new key.
func (g *Genome) Copy(key int) *Genome {
	return &Genome{
		Key:       key,
		Network:   g.Network.Copy(),
		Score:     g.Score,
		BestScore: g.BestScore,
	}
}

// String returns a string representation of the Genome.
func (g *Genome) String() string {
	return fmt.Sprintf("Genome(Key: %d, Score: %d, BestScore: %d, Nodes: %d)",
		g.Key, g.Score, g.BestScore, g.Network.NodeCount())
}
