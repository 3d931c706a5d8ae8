package reward

// Tier identifies one additive component of the shaped reward. Curriculum
// stages scale tiers independently.
type Tier int

const (
	Material Tier = iota
	MultiCapture
	Positional
	King
	Defense
	Tempo
	Phase
)

func (t Tier) String() string {
	switch t {
	case Material:
		return "material"
	case MultiCapture:
		return "multi_capture"
	case Positional:
		return "positional"
	case King:
		return "king"
	case Defense:
		return "defense"
	case Tempo:
		return "tempo"
	case Phase:
		return "phase"
	}
	return "unknown"
}

// Multipliers scales each tier's contribution before summation. MultiCapture
// replaces Material on moves that capture more than one piece.
type Multipliers map[Tier]float32

// DefaultMultipliers is the mastery-stage scaling: everything at 1.0.
func DefaultMultipliers() Multipliers {
	return Multipliers{
		Material:     1.0,
		MultiCapture: 1.0,
		Positional:   1.0,
		King:         1.0,
		Defense:      1.0,
		Tempo:        1.0,
		Phase:        1.0,
	}
}

// factor returns the multiplier for t, defaulting to 1.0 when unset.
func (m Multipliers) factor(t Tier) float32 {
	if m == nil {
		return 1.0
	}
	if f, ok := m[t]; ok {
		return f
	}
	return 1.0
}
