package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// NodeKind identifies which evaluation rule a Node follows.
type NodeKind int

const (
	InputKind      NodeKind = iota // Weighted pass-through of the accumulated input.
	ActivationKind                 // tanh(sum + bias), then weighted.
	OutputKind                     // Decision accumulator, reports its raw sum.
)

func (k NodeKind) String() string {
	switch k {
	case InputKind:
		return "input"
	case ActivationKind:
		return "activation"
	case OutputKind:
		return "output"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// Node is a single unit of a Network. The Kind decides how GenerateOutput
// interprets the accumulated sum; Bias is only meaningful for ActivationKind.
type Node struct {
	Kind      NodeKind
	Weights   []float64 // One weight per node in the following layer, or exactly one if LastLayer.
	Bias      float64
	LastLayer bool // Feeds the output accumulator instead of the following layer.

	sum float64
}

// NewInputNode creates an input-layer node with randomly initialized weights.
// fanOut is the width of the following layer and is ignored for terminal nodes.
func NewInputNode(rng *rand.Rand, fanOut int, lastLayer bool, weightMax, epsilon float64) *Node {
	return &Node{
		Kind:      InputKind,
		Weights:   randomWeights(rng, weightCount(fanOut, lastLayer), weightMax, epsilon),
		LastLayer: lastLayer,
	}
}

// NewActivationNode creates a hidden-layer node with random weights and bias.
func NewActivationNode(rng *rand.Rand, fanOut int, lastLayer bool, weightMax, epsilon float64) *Node {
	return &Node{
		Kind:      ActivationKind,
		Weights:   randomWeights(rng, weightCount(fanOut, lastLayer), weightMax, epsilon),
		Bias:      RandomNonZero(rng, weightMax, epsilon),
		LastLayer: lastLayer,
	}
}

// NewOutputNode creates the decision accumulator. It carries no weights.
func NewOutputNode() *Node {
	return &Node{Kind: OutputKind}
}

// AddInput adds a contribution to the node's accumulator.
func (n *Node) AddInput(value float64) {
	n.sum += value
}

// Sum reports the current accumulator value.
func (n *Node) Sum() float64 {
	return n.sum
}

// Clear resets the accumulator for the next tick.
func (n *Node) Clear() {
	n.sum = 0
}

// GenerateOutput returns the node's contribution towards the node at index
// in the following layer. Calling it without an index is the same as index 0,
// which is how terminal nodes feed the output accumulator.
//
// The output accumulator ignores the index and returns its raw sum; turning
// that into a decision is left to Decide.
func (n *Node) GenerateOutput(index ...int) float64 {
	i := 0
	if len(index) > 0 {
		i = index[0]
	}
	switch n.Kind {
	case InputKind:
		return n.sum * n.Weights[i]
	case ActivationKind:
		return math.Tanh(n.sum+n.Bias) * n.Weights[i]
	default:
		return n.sum
	}
}

// Copy returns a deep copy of the node with a cleared accumulator.
func (n *Node) Copy() *Node {
	weights := make([]float64, len(n.Weights))
	copy(weights, n.Weights)
	return &Node{
		Kind:      n.Kind,
		Weights:   weights,
		Bias:      n.Bias,
		LastLayer: n.LastLayer,
	}
}

// String returns a short representation of the node.
func (n *Node) String() string {
	if n.Kind == ActivationKind {
		return fmt.Sprintf("Node(%s, weights: %d, bias: %.3f, last: %t)", n.Kind, len(n.Weights), n.Bias, n.LastLayer)
	}
	return fmt.Sprintf("Node(%s, weights: %d, last: %t)", n.Kind, len(n.Weights), n.LastLayer)
}

// RandomNonZero draws uniformly from [-max, max], resampling until the
// magnitude exceeds epsilon so no connection starts out dead.
func RandomNonZero(rng *rand.Rand, max, epsilon float64) float64 {
	for {
		v := -max + rng.Float64()*2*max
		if math.Abs(v) > epsilon {
			return v
		}
	}
}

func randomWeights(rng *rand.Rand, count int, weightMax, epsilon float64) []float64 {
	weights := make([]float64, count)
	for i := range weights {
		weights[i] = RandomNonZero(rng, weightMax, epsilon)
	}
	return weights
}

// weightCount is the fan-out rule: terminal nodes carry exactly one weight.
func weightCount(fanOut int, lastLayer bool) int {
	if lastLayer {
		return 1
	}
	return fanOut
}
