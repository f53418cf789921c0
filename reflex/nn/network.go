// Package nn implements the fixed-topology node network evaluated once per tick
// by every controller in a population.
//
// A Network is an input layer followed by zero or more equally sized hidden
// layers. Every node of a non-terminal layer carries one weight per node of
// the following layer; nodes of the final layer carry a single weight and
// feed an implicit output accumulator whose sign is the decision.
package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Designated input slots of layer 0. Slots beyond these, if the input layer
// is configured wider, receive no input.
const (
	PipeDistanceInput = iota
	PipeCentreInput
	GroundDistanceInput
	FallingInput

	NumInputs
)

// Topology describes the shape of a Network and how its values are drawn.
type Topology struct {
	Inputs        int     // Width of the input layer, at least NumInputs.
	HiddenLayers  int     // Number of hidden layers, may be zero.
	NodesPerLayer int     // Width of every hidden layer.
	WeightMax     float64 // Random values are drawn from [-WeightMax, WeightMax].
	Epsilon       float64 // Random values never have a magnitude at or below this.
}

// LayerWidth returns the number of nodes in the given layer.
func (t Topology) LayerWidth(layer int) int {
	if layer == 0 {
		return t.Inputs
	}
	return t.NodesPerLayer
}

// IsLastLayer reports whether the given layer feeds the output accumulator.
func (t Topology) IsLastLayer(layer int) bool {
	return layer == t.HiddenLayers
}

// FanOut returns the weight count of a node in the given layer.
func (t Topology) FanOut(layer int) int {
	if t.IsLastLayer(layer) {
		return 1
	}
	return t.LayerWidth(layer + 1)
}

// NewNode creates a randomly initialized node of the kind belonging to layer.
func (t Topology) NewNode(rng *rand.Rand, layer int) *Node {
	if layer == 0 {
		return NewInputNode(rng, t.LayerWidth(1), t.IsLastLayer(0), t.WeightMax, t.Epsilon)
	}
	return NewActivationNode(rng, t.LayerWidth(layer+1), t.IsLastLayer(layer), t.WeightMax, t.Epsilon)
}

// NewLayer creates a fully randomized layer.
func (t Topology) NewLayer(rng *rand.Rand, layer int) []*Node {
	nodes := make([]*Node, t.LayerWidth(layer))
	for i := range nodes {
		nodes[i] = t.NewNode(rng, layer)
	}
	return nodes
}

// Network is an ordered list of layers. Layer 0 is the input layer.
type Network struct {
	Layers [][]*Node
}

// NewNetwork bootstraps a network with random weights and biases.
func NewNetwork(rng *rand.Rand, t Topology) *Network {
	layers := make([][]*Node, t.HiddenLayers+1)
	for i := range layers {
		layers[i] = t.NewLayer(rng, i)
	}
	return &Network{Layers: layers}
}

// Activate feeds the normalized inputs through the network and returns the
// raw value of the output accumulator. Every accumulator is zero afterwards.
func (net *Network) Activate(inputs [NumInputs]float64) float64 {
	output := NewOutputNode()
	for i, layer := range net.Layers {
		if i == 0 {
			for slot, v := range inputs {
				layer[slot].AddInput(v)
			}
		}

		for _, node := range layer {
			if node.LastLayer {
				output.AddInput(node.GenerateOutput())
				continue
			}
			next := net.Layers[i+1]
			for k, target := range next {
				target.AddInput(node.GenerateOutput(k))
			}
		}

		for _, node := range layer {
			node.Clear()
		}
	}
	return output.GenerateOutput()
}

// ShouldFlap evaluates the network and applies the decision policy.
func (net *Network) ShouldFlap(inputs [NumInputs]float64) bool {
	return Decide(net.Activate(inputs))
}

// Decide maps the output accumulator to a flap decision. Zero does not flap.
func Decide(v float64) bool {
	return v > 0
}

// Copy returns a deep copy sharing no node data with the receiver.
func (net *Network) Copy() *Network {
	layers := make([][]*Node, len(net.Layers))
	for i, layer := range net.Layers {
		layers[i] = make([]*Node, len(layer))
		for j, node := range layer {
			layers[i][j] = node.Copy()
		}
	}
	return &Network{Layers: layers}
}

// NodeCount returns the total number of nodes in the network.
func (net *Network) NodeCount() int {
	n := 0
	for _, layer := range net.Layers {
		n += len(layer)
	}
	return n
}

// Validate checks the shape invariants against t: layer count and widths,
// node kinds, terminal flags, weight counts and finiteness of every value.
func (net *Network) Validate(t Topology) error {
	if len(net.Layers) != t.HiddenLayers+1 {
		return fmt.Errorf("expected %d layers, got %d", t.HiddenLayers+1, len(net.Layers))
	}
	for i, layer := range net.Layers {
		if len(layer) != t.LayerWidth(i) {
			return fmt.Errorf("layer %d: expected %d nodes, got %d", i, t.LayerWidth(i), len(layer))
		}
		wantKind := ActivationKind
		if i == 0 {
			wantKind = InputKind
		}
		for j, node := range layer {
			if node.Kind != wantKind {
				return fmt.Errorf("layer %d node %d: expected %s node, got %s", i, j, wantKind, node.Kind)
			}
			if node.LastLayer != t.IsLastLayer(i) {
				return fmt.Errorf("layer %d node %d: last layer flag is %t", i, j, node.LastLayer)
			}
			if len(node.Weights) != t.FanOut(i) {
				return fmt.Errorf("layer %d node %d: expected %d weights, got %d", i, j, t.FanOut(i), len(node.Weights))
			}
			for k, w := range node.Weights {
				if math.IsNaN(w) || math.IsInf(w, 0) {
					return fmt.Errorf("layer %d node %d: weight %d is not finite", i, j, k)
				}
			}
			if math.IsNaN(node.Bias) || math.IsInf(node.Bias, 0) {
				return fmt.Errorf("layer %d node %d: bias is not finite", i, j)
			}
		}
	}
	return nil
}
