package reflex

import (
	"fmt"

	"github.com/baldhumanity/reflex-go/reflex/nn"
)

// Measurements are raw distances in the environment's coordinate space.
type Measurements struct {
	PipeDistance       float64 // Horizontal distance to the next gap.
	PipeCentreDistance float64 // Vertical distance to the centre of that gap.
	GroundDistance     float64 // Vertical distance to the ground.
}

// Agent is the environment's view of a single controlled bird.
type Agent interface {
	Alive() bool
	Falling() bool
	Measure() Measurements
	Tap()
}

// Normalize converts raw measurements and the falling state into network inputs.
func Normalize(m Measurements, falling bool, cfg ControllerConfig) [nn.NumInputs]float64 {
	var inputs [nn.NumInputs]float64
	inputs[nn.PipeDistanceInput] = m.PipeDistance / cfg.HorizontalSpan
	inputs[nn.PipeCentreInput] = m.PipeCentreDistance / cfg.VerticalSpan
	inputs[nn.GroundDistanceInput] = m.GroundDistance / cfg.VerticalSpan
	if falling {
		inputs[nn.FallingInput] = 1
	}
	return inputs
}

// Decide is the pure decision function offered to environments.
func Decide(net *nn.Network, inputs [nn.NumInputs]float64) bool {
	return net.ShouldFlap(inputs)
}

// Controller drives a set of agents, one network per agent slot.
type Controller struct {
	Config   ControllerConfig
	networks []*nn.Network
}

// NewController pairs networks[i] with agent i on every Tick.
func NewController(cfg ControllerConfig, networks []*nn.Network) *Controller {
	return &Controller{Config: cfg, networks: networks}
}

// Tick evaluates every living agent and taps those whose network decides
// to flap. It returns the number of taps issued.
func (c *Controller) Tick(agents []Agent) (int, error) {
	if len(agents) != len(c.networks) {
		return 0, fmt.Errorf("controller has %d networks for %d agents", len(c.networks), len(agents))
	}
	taps := 0
	for i, agent := range agents {
		if !agent.Alive() {
			continue
		}
		inputs := Normalize(agent.Measure(), agent.Falling(), c.Config)
		if Decide(c.networks[i], inputs) {
			agent.Tap()
			taps++
		}
	}
	return taps, nil
}
