package reflex

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/baldhumanity/reflex-go/reflex/nn"
)

// --------------------------- Crossover ---------------------------

// CrossoverValue blends two parent values. The distance between them is
// measured sign-aware (difference of magnitudes for equal signs, sum of
// magnitudes otherwise) and scaled by rate; a fair coin picks which parent
// is the base, and the base moves that far toward the other parent.
func CrossoverValue(rng *rand.Rand, a, b, rate float64) float64 {
	var d float64
	if math.Signbit(a) == math.Signbit(b) {
		d = math.Abs(math.Abs(a) - math.Abs(b))
	} else {
		d = math.Abs(a) + math.Abs(b)
	}
	adjustment := d * rate

	base, other := a, b
	if rng.Intn(2) == 1 {
		base, other = b, a
	}
	if base > other {
		return base - adjustment
	}
	return base + adjustment
}

// Crossover creates a child network from two structurally identical parents.
// Every weight and bias is blended independently; the child's terminal flags
// come from parent a. Mismatched parents are a programming error and panic.
func Crossover(rng *rand.Rand, a, b *nn.Network, rate float64) *nn.Network {
	if len(a.Layers) != len(b.Layers) {
		panic(fmt.Sprintf("crossover of networks with %d and %d layers", len(a.Layers), len(b.Layers)))
	}
	layers := make([][]*nn.Node, len(a.Layers))
	for i := range a.Layers {
		if len(a.Layers[i]) != len(b.Layers[i]) {
			panic(fmt.Sprintf("crossover layer %d: %d and %d nodes", i, len(a.Layers[i]), len(b.Layers[i])))
		}
		layers[i] = make([]*nn.Node, len(a.Layers[i]))
		for j, nodeA := range a.Layers[i] {
			layers[i][j] = crossoverNode(rng, nodeA, b.Layers[i][j], rate)
		}
	}
	return &nn.Network{Layers: layers}
}

func crossoverNode(rng *rand.Rand, a, b *nn.Node, rate float64) *nn.Node {
	if len(a.Weights) != len(b.Weights) || a.Kind != b.Kind {
		panic(fmt.Sprintf("crossover of mismatched nodes %s and %s", a, b))
	}
	weights := make([]float64, len(a.Weights))
	for k := range weights {
		weights[k] = CrossoverValue(rng, a.Weights[k], b.Weights[k], rate)
	}
	child := &nn.Node{
		Kind:      a.Kind,
		Weights:   weights,
		LastLayer: a.LastLayer,
	}
	if a.Kind == nn.ActivationKind {
		child.Bias = CrossoverValue(rng, a.Bias, b.Bias, rate)
	}
	return child
}

// --------------------------- Mutation ---------------------------

// MutateValue mutates v with probability rate/100. Nine in ten triggered
// mutations nudge v by ±adjustment; the rest replace it with a fresh value
// from [-weightMax, weightMax] whose magnitude exceeds epsilon.
func MutateValue(rng *rand.Rand, v float64, e EvolutionConfig, weightMax, epsilon float64) float64 {
	if rng.Float64()*100 >= e.MutationRate {
		return v
	}
	if rng.Intn(10) < 9 {
		if rng.Intn(2) == 0 {
			return v + e.MutationAdjustment
		}
		return v - e.MutationAdjustment
	}
	return nn.RandomNonZero(rng, weightMax, epsilon)
}

// MutateNetwork applies MutateValue to every weight and every bias in place.
func MutateNetwork(rng *rand.Rand, net *nn.Network, config *Config) {
	e := config.Evolution
	weightMax, epsilon := config.Network.WeightMax, config.Network.Epsilon
	for _, layer := range net.Layers {
		for _, node := range layer {
			for k, w := range node.Weights {
				node.Weights[k] = MutateValue(rng, w, e, weightMax, epsilon)
			}
			if node.Kind == nn.ActivationKind {
				node.Bias = MutateValue(rng, node.Bias, e, weightMax, epsilon)
			}
		}
	}
}
