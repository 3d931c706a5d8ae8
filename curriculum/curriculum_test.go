package curriculum

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joviva/viloria-checkers-ai-sub002/reward"
)

var stageAt = []struct {
	games int
	want  string
}{
	{-5, "basic_captures"},
	{0, "basic_captures"},
	{99, "basic_captures"},
	{100, "multi_capture_chains"},
	{101, "multi_capture_chains"},
	{299, "multi_capture_chains"},
	{300, "defensive_positioning"},
	{599, "defensive_positioning"},
	{600, "king_endgames"},
	{999, "king_endgames"},
	{1000, "mastery"},
	{1500, "mastery"},
	{1 << 30, "mastery"},
}

func TestStageFor(t *testing.T) {
	for _, c := range stageAt {
		if got := StageFor(c.games).Name; got != c.want {
			t.Errorf("StageFor(%d) = %q, want %q", c.games, got, c.want)
		}
	}
}

func TestStageMonotonic(t *testing.T) {
	prev := StageFor(0).Ordinal()
	for g := 0; g <= 2000; g++ {
		ord := StageFor(g).Ordinal()
		if ord < prev {
			t.Fatalf("stage ordinal decreased at %d games: %d -> %d", g, prev, ord)
		}
		prev = ord
	}
}

func TestStageMultipliers(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(float32(2.0), StageFor(0).Multipliers[reward.Material])
	assert.Equal(float32(2.5), StageFor(100).Multipliers[reward.MultiCapture])
	assert.Equal(float32(2.0), StageFor(300).Multipliers[reward.Positional])
	assert.Equal(float32(2.0), StageFor(300).Multipliers[reward.Defense])
	assert.Equal(float32(2.0), StageFor(600).Multipliers[reward.King])
	assert.Empty(StageFor(1000).Multipliers)
}

func TestStageInfo(t *testing.T) {
	assert := assert.New(t)

	info := StageInfo(50)
	assert.Equal("basic_captures", info.Stage)
	assert.InDelta(50.0, info.ProgressPct, 1e-3)
	assert.Equal(50, info.GamesCompleted)

	info = StageInfo(5000)
	assert.Equal("mastery", info.Stage)
	assert.InDelta(100.0, info.ProgressPct, 1e-3)
}

func TestDisabledStageIsNeutral(t *testing.T) {
	s := Disabled()
	assert.False(t, s.Final())
	assert.True(t, s.Ordinal() > 1)
	assert.Empty(t, s.Multipliers)
}
