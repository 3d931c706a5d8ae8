// Package reward turns pairs of board snapshots into shaped scalar rewards.
//
// Shaping is pure: two positions in, one number out. Curriculum multipliers
// are passed per call rather than cached, so the shaper carries no state
// across games or stages.
package reward

import "github.com/joviva/viloria-checkers-ai-sub002/game"

// Reward constants. Material follows a convex schedule so longer capture
// chains dominate repeated single exchanges.
const (
	singleCapture     = 0.08
	chainBase         = 0.2
	chainConvexity    = 0.05
	gapClosed         = 0.03
	cohesionGain      = 0.04
	newSupport        = 0.02
	promotionBase     = 0.12
	kingThreatened    = -0.15
	kingLost          = -0.25
	isolationPenalty  = -0.05
	backRankViolation = -0.20
	tempoGain         = 0.01
	openingBackRank   = 0.02
	endgameActiveKing = 0.03

	winReward  = 1.0
	lossReward = -1.0

	openingPieces = 30
	endgamePieces = 10
)

// Breakdown reports each tier's multiplied contribution plus raw counters the
// evaluator and priority assignment care about.
type Breakdown struct {
	Material   float32
	Positional float32
	King       float32
	Defense    float32
	Tempo      float32
	Phase      float32
	Terminal   float32

	Captures  int
	Promoted  bool
	KingsLost int
}

// Total sums every tier.
func (bd Breakdown) Total() float32 {
	return bd.Material + bd.Positional + bd.King + bd.Defense + bd.Tempo + bd.Phase + bd.Terminal
}

// Shape computes the shaped reward for pov's move taking before to after.
// terminal marks the game's final transition; winner is then consulted for
// the terminal bonus, which stacks on top of the per-move tiers and is never
// scaled by curriculum multipliers.
func Shape(before, after *game.Board, terminal bool, winner game.Outcome, pov game.Colour, m Multipliers) (float32, Breakdown) {
	var bd Breakdown
	opp := pov.Opponent()

	// Tier 1: material
	captured := before.Count(opp) - after.Count(opp)
	if captured < 0 {
		captured = 0
	}
	bd.Captures = captured
	switch {
	case captured == 1:
		bd.Material = singleCapture * m.factor(Material)
	case captured > 1:
		n := float32(captured)
		bd.Material = (chainBase*n + chainConvexity*(n-1)*(n-1)) * m.factor(MultiCapture)
	}

	// Tier 2: positional
	var positional float32
	if closed := formationGaps(before, pov) - formationGaps(after, pov); closed > 0 {
		positional += gapClosed * float32(closed)
	}
	if gained := cohesionPairs(after, pov) - cohesionPairs(before, pov); gained > 0 {
		positional += cohesionGain * float32(gained)
	}
	if supported := supportedPieces(after, pov) - supportedPieces(before, pov); supported > 0 {
		positional += newSupport * float32(supported)
	}
	bd.Positional = positional * m.factor(Positional)

	// Tier 3: king
	var king float32
	kingsBefore := before.Kings(pov)
	kingsAfter := after.Kings(pov)
	promotions := kingsAfter - kingsBefore
	if promotions > 0 {
		bd.Promoted = true
		remaining := after.Count(pov)
		if remaining < 1 {
			remaining = 1
		}
		king += promotionBase * (1 + 1/float32(remaining)) * float32(promotions)
	}
	king += kingThreatened * float32(kingsUnderThreat(after, pov))
	if promotions < 0 {
		bd.KingsLost = -promotions
		king += kingLost * float32(-promotions)
	}
	bd.King = king * m.factor(King)

	// Tier 4: defense
	var defense float32
	defense += isolationPenalty * float32(isolatedPieces(after, pov))
	if backRankPieces(after, pov) < backRankPieces(before, pov) {
		defense += backRankViolation
	}
	bd.Defense = defense * m.factor(Defense)

	// Tier 5: tempo
	if slowed := mobility(before, opp) - mobility(after, opp); slowed > 0 {
		bd.Tempo = tempoGain * float32(slowed) * m.factor(Tempo)
	}

	// Tier 6: phase-aware
	var phase float32
	switch total := after.Total(); {
	case total >= openingPieces:
		phase = openingBackRank * float32(backRankPieces(after, pov))
	case total <= endgamePieces:
		phase = endgameActiveKing * float32(activeKings(after, pov))
	}
	bd.Phase = phase * m.factor(Phase)

	if terminal {
		bd.Terminal = Terminal(winner, pov)
	}

	return bd.Total(), bd
}

// Terminal returns the end-of-game bonus for pov given the winner: +1 for a
// win, -1 for a loss, 0 for a draw. Never scaled by curriculum multipliers.
func Terminal(winner game.Outcome, pov game.Colour) float32 {
	var r float32
	switch winner {
	case game.OutcomeAgent:
		r = winReward
	case game.OutcomeHuman:
		r = lossReward
	}
	if pov == game.Red {
		// mirrored self-play side: the agent outcome is inverted
		r = -r
	}
	return r
}
