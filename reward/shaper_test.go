package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joviva/viloria-checkers-ai-sub002/game"
)

// boardWithReds places n red men on dark squares plus one black man far away.
func boardWithReds(n int) *game.Board {
	var b game.Board
	b[9][0] = &game.Piece{Colour: game.Black}
	placed := 0
	for row := 0; row < game.Size && placed < n; row++ {
		for col := 0; col < game.Size && placed < n; col++ {
			if (row+col)%2 == 1 {
				b[row][col] = &game.Piece{Colour: game.Red}
				placed++
			}
		}
	}
	return &b
}

func materialFor(t *testing.T, captured int) float32 {
	t.Helper()
	before := boardWithReds(captured)
	after := boardWithReds(0)
	_, bd := Shape(before, after, false, game.OutcomeNone, game.Black, DefaultMultipliers())
	assert.Equal(t, captured, bd.Captures)
	return bd.Material
}

func TestMaterialSchedule(t *testing.T) {
	cases := []struct {
		captured int
		want     float32
	}{
		{0, 0},
		{1, 0.08},
		{2, 0.45},
		{3, 0.80},
		{4, 1.25},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, materialFor(t, c.captured), 1e-6, "captured=%d", c.captured)
	}
}

func TestMaterialConvexity(t *testing.T) {
	prev := materialFor(t, 2) - materialFor(t, 1)
	for n := 2; n < 8; n++ {
		diff := materialFor(t, n+1) - materialFor(t, n)
		assert.True(t, diff >= prev, "increment shrank at n=%d: %v < %v", n, diff, prev)
		prev = diff
	}
}

func TestMultipliersSelectTier(t *testing.T) {
	before := boardWithReds(1)
	after := boardWithReds(0)

	// the material multiplier scales single captures only
	_, bd := Shape(before, after, false, game.OutcomeNone, game.Black, Multipliers{Material: 2.0})
	assert.InDelta(t, 0.16, bd.Material, 1e-6)

	// chains answer to the multi-capture multiplier, not the material one
	before = boardWithReds(3)
	_, bd = Shape(before, after, false, game.OutcomeNone, game.Black, Multipliers{Material: 2.0})
	assert.InDelta(t, 0.80, bd.Material, 1e-6)
	_, bd = Shape(before, after, false, game.OutcomeNone, game.Black, Multipliers{MultiCapture: 2.5})
	assert.InDelta(t, 2.0, bd.Material, 1e-6)
}

func TestTerminalReward(t *testing.T) {
	b := boardWithReds(0)
	cases := []struct {
		winner game.Outcome
		pov    game.Colour
		want   float32
	}{
		{game.OutcomeAgent, game.Black, 1.0},
		{game.OutcomeHuman, game.Black, -1.0},
		{game.OutcomeDraw, game.Black, 0.0},
		{game.OutcomeAgent, game.Red, -1.0},
		{game.OutcomeHuman, game.Red, 1.0},
	}
	for _, c := range cases {
		_, bd := Shape(b, b, true, c.winner, c.pov, DefaultMultipliers())
		assert.InDelta(t, c.want, bd.Terminal, 1e-6, "winner=%s pov=%v", c.winner, c.pov)
	}

	// terminal bonus never fires mid-game
	_, bd := Shape(b, b, false, game.OutcomeAgent, game.Black, DefaultMultipliers())
	assert.Zero(t, bd.Terminal)
}

func TestTerminalIgnoresMultipliers(t *testing.T) {
	b := boardWithReds(0)
	_, bd := Shape(b, b, true, game.OutcomeAgent, game.Black, Multipliers{
		Material: 5, MultiCapture: 5, Positional: 5, King: 5, Defense: 5, Tempo: 5, Phase: 5,
	})
	assert.InDelta(t, 1.0, bd.Terminal, 1e-6)
}

func TestPromotionReward(t *testing.T) {
	var before, after game.Board
	before[1][2] = &game.Piece{Colour: game.Black}
	after[0][3] = &game.Piece{Colour: game.Black, King: true}

	_, bd := Shape(&before, &after, false, game.OutcomeNone, game.Black, DefaultMultipliers())
	assert.True(t, bd.Promoted)
	// one remaining piece: 0.12 * (1 + 1/1)
	assert.InDelta(t, 0.24, bd.King, 1e-6)
}

func TestKingLost(t *testing.T) {
	var before, after game.Board
	before[4][5] = &game.Piece{Colour: game.Black, King: true}
	before[9][0] = &game.Piece{Colour: game.Black}
	after[9][0] = &game.Piece{Colour: game.Black}

	_, bd := Shape(&before, &after, false, game.OutcomeNone, game.Black, DefaultMultipliers())
	assert.Equal(t, 1, bd.KingsLost)
	assert.InDelta(t, -0.25, bd.King, 1e-6)
}

func TestBackRankViolation(t *testing.T) {
	var before, after game.Board
	// black's back rank is row 9
	before[9][2] = &game.Piece{Colour: game.Black}
	after[8][3] = &game.Piece{Colour: game.Black}

	_, bd := Shape(&before, &after, false, game.OutcomeNone, game.Black, DefaultMultipliers())
	assert.True(t, bd.Defense <= -0.20, "expected back-rank penalty, got %v", bd.Defense)
}

func TestBreakdownTotalMatchesReward(t *testing.T) {
	before := boardWithReds(2)
	after := boardWithReds(0)
	r, bd := Shape(before, after, true, game.OutcomeAgent, game.Black, DefaultMultipliers())
	assert.InDelta(t, r, bd.Total(), 1e-6)
}
