package pvnet

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Float is the network's scalar type.
var Float = G.Float32

// Mode selects the architecture depth.
type Mode int

const (
	// Baseline is the 2-residual-block architecture.
	Baseline Mode = iota
	// Advanced is the 5-residual-block architecture.
	Advanced
)

func (m Mode) String() string {
	if m == Advanced {
		return "advanced"
	}
	return "baseline"
}

// ResidualBlocks returns the residual stack depth for the mode.
func (m Mode) ResidualBlocks() int {
	if m == Advanced {
		return 5
	}
	return 2
}

// Config configures the policy-value network's graphs.
type Config struct {
	Mode Mode
	K    int // filter count of the shared trunk
	FC   int // value head hidden width

	BatchSize     int
	Features      int // input planes
	Height, Width int
	ActionSpace   int

	// Loss composition; only consulted when FwdOnly is false.
	ValueLossCoef float32
	EntropyCoef   float32
	AuxLossWeight float32

	FwdOnly bool
}

// DefaultConf returns a trainable configuration for the given board and
// action space.
func DefaultConf(features, height, width, actionSpace int) Config {
	return Config{
		Mode:          Baseline,
		K:             64,
		FC:            256,
		BatchSize:     32,
		Features:      features,
		Height:        height,
		Width:         width,
		ActionSpace:   actionSpace,
		ValueLossCoef: 0.5,
		EntropyCoef:   0.01,
		AuxLossWeight: 0.1,
	}
}

// Valid reports the first problem with the configuration, or nil.
func (conf Config) Valid() error {
	switch {
	case conf.K < 1:
		return fmt.Errorf("filter count %d < 1", conf.K)
	case conf.FC < 2:
		return fmt.Errorf("value hidden width %d < 2", conf.FC)
	case conf.BatchSize < 1:
		return fmt.Errorf("batch size %d < 1", conf.BatchSize)
	case conf.Features < 1:
		return fmt.Errorf("feature planes %d < 1", conf.Features)
	case conf.Height < 2 || conf.Width < 2:
		return fmt.Errorf("board %dx%d too small", conf.Height, conf.Width)
	case conf.ActionSpace < 2:
		return fmt.Errorf("action space %d < 2", conf.ActionSpace)
	}
	return nil
}
