package game

import "fmt"

// Colour is the colour of a piece or player. The agent always plays Black;
// Red is the opponent (a human client or the mirrored self-play side).
type Colour int32

const (
	None Colour = iota
	Black
	Red
)

func (cl Colour) Format(s fmt.State, c rune) {
	switch c {
	case 'v':
		switch cl {
		case None:
			fmt.Fprint(s, "None")
		case Black:
			fmt.Fprint(s, "Black")
		case Red:
			fmt.Fprint(s, "Red")
		}
	case 's':
		switch cl {
		case None:
			fmt.Fprint(s, "·")
		case Black:
			fmt.Fprint(s, "b")
		case Red:
			fmt.Fprint(s, "r")
		}
	}
}

// Opponent returns the other colour.
func (cl Colour) Opponent() Colour {
	switch cl {
	case Black:
		return Red
	case Red:
		return Black
	}
	return None
}

// String implements the storage representation ("black"/"red").
func (cl Colour) String() string {
	switch cl {
	case Black:
		return "black"
	case Red:
		return "red"
	}
	return "none"
}

// ParseColour is the inverse of Colour.String.
func ParseColour(s string) Colour {
	switch s {
	case "black":
		return Black
	case "red":
		return Red
	}
	return None
}

// Outcome is a finished game's result from the agent's point of view.
type Outcome string

const (
	OutcomeNone  Outcome = ""
	OutcomeAgent Outcome = "ai"
	OutcomeHuman Outcome = "human"
	OutcomeDraw  Outcome = "draw"
)

// Valid reports whether o is a recordable outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeAgent || o == OutcomeHuman || o == OutcomeDraw
}

// Move is a single move, possibly a capture chain, from one playable square to another.
type Move struct {
	FromRow int `json:"fromRow"`
	FromCol int `json:"fromCol"`
	ToRow   int `json:"toRow"`
	ToCol   int `json:"toCol"`
}

func (m Move) Format(s fmt.State, c rune) {
	fmt.Fprintf(s, "%d,%d->%d,%d", m.FromRow, m.FromCol, m.ToRow, m.ToCol)
}

// RulesEngine is the collaborating rules implementation. Legality, capture
// chains and promotion are entirely its business; the learning core only
// consumes its answers.
type RulesEngine interface {
	// LegalMoves returns every legal move for the player in the position.
	LegalMoves(b *Board, p Colour) []Move
	// ApplyMove applies a legal move and returns the resulting position,
	// the number of pieces captured and whether the moved piece promoted.
	ApplyMove(b *Board, m Move) (next *Board, captured int, promoted bool)
	// IsTerminal reports whether the position ends the game, and the winner
	// if so (OutcomeDraw for drawn terminal positions).
	IsTerminal(b *Board) (bool, Outcome)
}
