package game

import "time"

// Transition is one agent move: the position it saw, what it did, and what
// came of it. Immutable once created.
type Transition struct {
	State     []float32 // encoded position before the move
	Action    int       // policy action index
	Legal     []int     // legal action indices in State, for loss-time masking
	Reward    float32   // shaped reward
	NextState []float32 // encoded position after the move
	Terminal  bool
	Player    Colour

	// Optional baselines recorded at decision time.
	LogProb  float32
	Baseline float32
}

// Trajectory is the complete recorded sequence of an agent's transitions in
// one game. Immutable once stored, except for its replay priority.
type Trajectory struct {
	GameID      string
	Winner      Outcome
	Transitions []Transition
	MoveCount   int
	Duration    time.Duration
}

// Len returns the number of recorded transitions.
func (t *Trajectory) Len() int { return len(t.Transitions) }
