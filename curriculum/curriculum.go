// Package curriculum maps training progress to reward emphasis and
// exploration pressure. Stage selection is a pure function of the cumulative
// completed-game count; nothing here transitions or rolls back.
package curriculum

import "github.com/joviva/viloria-checkers-ai-sub002/reward"

// Stage is one phase of the training progression.
type Stage struct {
	Name        string
	Description string
	MinGames    int
	MaxGames    int // exclusive; <0 means unbounded
	Multipliers reward.Multipliers
}

// unbounded marks the final stage's open range.
const unbounded = -1

// stages in progression order. Ranges are contiguous and exhaustive over [0, ∞).
var stages = []Stage{
	{
		Name:        "basic_captures",
		Description: "Learning basic piece captures",
		MinGames:    0,
		MaxGames:    100,
		Multipliers: reward.Multipliers{reward.Material: 2.0},
	},
	{
		Name:        "multi_capture_chains",
		Description: "Learning multi-capture sequences",
		MinGames:    100,
		MaxGames:    300,
		Multipliers: reward.Multipliers{reward.MultiCapture: 2.5},
	},
	{
		Name:        "defensive_positioning",
		Description: "Learning defensive formations",
		MinGames:    300,
		MaxGames:    600,
		Multipliers: reward.Multipliers{reward.Positional: 2.0, reward.Defense: 2.0},
	},
	{
		Name:        "king_endgames",
		Description: "Learning king endgame tactics",
		MinGames:    600,
		MaxGames:    1000,
		Multipliers: reward.Multipliers{reward.King: 2.0},
	},
	{
		Name:        "mastery",
		Description: "Balanced strategic gameplay",
		MinGames:    1000,
		MaxGames:    unbounded,
		Multipliers: reward.Multipliers{},
	},
}

// StageCount returns the number of stages in the progression.
func StageCount() int { return len(stages) }

// StageFor returns the stage covering g completed games. Negative counts are
// treated as zero.
func StageFor(g int) Stage {
	if g < 0 {
		g = 0
	}
	for _, s := range stages {
		if g >= s.MinGames && (s.MaxGames == unbounded || g < s.MaxGames) {
			return s
		}
	}
	return stages[len(stages)-1]
}

// Ordinal returns the stage's position in the progression, for monotonicity
// checks and exploration adjustment.
func (s Stage) Ordinal() int {
	for i, c := range stages {
		if c.Name == s.Name {
			return i
		}
	}
	return len(stages) - 1
}

// Final reports whether this is the mastery stage.
func (s Stage) Final() bool { return s.MaxGames == unbounded }

// Disabled returns the stage used when the curriculum toggle is off: unit
// reward multipliers and no stage adjustment to exploration.
func Disabled() Stage { return Stage{Name: "disabled", Description: "Curriculum disabled"} }

// Info is the stage report surfaced by stats and per-iteration logs.
type Info struct {
	Stage          string  `json:"stage"`
	Description    string  `json:"description"`
	GamesCompleted int     `json:"games_completed"`
	ProgressPct    float32 `json:"progress_pct"`
}

// StageInfo reports the stage for g games plus progress through its range.
func StageInfo(g int) Info {
	if g < 0 {
		g = 0
	}
	s := StageFor(g)
	pct := float32(100)
	if !s.Final() {
		pct = float32(g-s.MinGames) / float32(s.MaxGames-s.MinGames) * 100
	}
	return Info{
		Stage:          s.Name,
		Description:    s.Description,
		GamesCompleted: g,
		ProgressPct:    pct,
	}
}
