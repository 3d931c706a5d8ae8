package viloria

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joviva/viloria-checkers-ai-sub002/curriculum"
	"github.com/joviva/viloria-checkers-ai-sub002/game"
	"github.com/joviva/viloria-checkers-ai-sub002/replay"
	"github.com/joviva/viloria-checkers-ai-sub002/reward"
)

func TestConfigValid(t *testing.T) {
	assert.NoError(t, DefaultConfig(t.TempDir()).Valid())

	broken := []struct {
		field string
		mod   func(*Config)
	}{
		{"learning_rate", func(c *Config) { c.LearningRate = 0 }},
		{"gamma", func(c *Config) { c.Gamma = 0 }},
		{"gamma", func(c *Config) { c.Gamma = 1.1 }},
		{"gae_lambda", func(c *Config) { c.GAELambda = -0.1 }},
		{"batch_size", func(c *Config) { c.BatchSize = 0 }},
		{"value_loss_coef", func(c *Config) { c.ValueLossCoef = -1 }},
		{"entropy_coef", func(c *Config) { c.EntropyCoef = -1 }},
		{"aux_loss_weight", func(c *Config) { c.AuxLossWeight = -1 }},
		{"max_grad_norm", func(c *Config) { c.MaxGradNorm = 0 }},
		{"max_loss_threshold", func(c *Config) { c.MaxLossThreshold = 0 }},
		{"training_interval", func(c *Config) { c.TrainingInterval = 0 }},
		{"save_interval", func(c *Config) { c.SaveInterval = 0 }},
		{"priority_temperature", func(c *Config) { c.PriorityTemperature = 0 }},
		{"recent_ratio", func(c *Config) { c.RecentRatio = 2 }},
		{"replay_path", func(c *Config) { c.ReplayPath = "" }},
		{"checkpoint_path", func(c *Config) { c.CheckpointPath = "" }},
		{"replay_capacity", func(c *Config) { c.ReplayCapacity = 0 }},
		{"self_play_games", func(c *Config) { c.SelfPlayGames = -1 }},
		{"self_play_interval", func(c *Config) { c.SelfPlayInterval = 0 }},
		{"max_moves", func(c *Config) { c.MaxMoves = 0 }},
	}
	for _, c := range broken {
		conf := DefaultConfig(t.TempDir())
		c.mod(&conf)
		err := conf.Valid()
		var cerr ConfigurationError
		require.True(t, errors.As(err, &cerr), "%s: want ConfigurationError, got %v", c.field, err)
		assert.Equal(t, c.field, cerr.Field)
	}
}

func TestPriorityTemperatureOnlyCheckedWhenEnabled(t *testing.T) {
	conf := DefaultConfig(t.TempDir())
	conf.UsePriorityReplay = false
	conf.PriorityTemperature = 0
	assert.NoError(t, conf.Valid())
}

// stubRules always offers the same two moves and never ends the game.
type stubRules struct{ moves []game.Move }

func newStubRules() *stubRules {
	return &stubRules{moves: []game.Move{
		{FromRow: 0, FromCol: 1, ToRow: 1, ToCol: 2},
		{FromRow: 1, FromCol: 2, ToRow: 0, ToCol: 1},
	}}
}

func (r *stubRules) LegalMoves(b *game.Board, p game.Colour) []game.Move { return r.moves }
func (r *stubRules) ApplyMove(b *game.Board, m game.Move) (*game.Board, int, bool) {
	return b.Clone(), 0, false
}
func (r *stubRules) IsTerminal(b *game.Board) (bool, game.Outcome) { return false, game.OutcomeNone }

func testSessionConfig(t *testing.T) Config {
	conf := DefaultConfig(t.TempDir())
	conf.BatchSize = 4
	conf.MinTrainGames = 1
	conf.SaveInterval = 1
	conf.SelfPlayGames = 0
	return conf
}

func TestNewSessionRequiresRulesForSelfPlay(t *testing.T) {
	conf := testSessionConfig(t)
	conf.SelfPlayGames = 2
	_, err := NewSession(conf, nil)
	var cerr ConfigurationError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, "self_play_games", cerr.Field)
}

func TestSessionWithoutRules(t *testing.T) {
	s, err := NewSession(testSessionConfig(t), nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RecordGame("", game.OutcomeAgent, newStubRules().moves, time.Second)
	assert.Error(t, err)
	_, _, err = s.InferMove(game.NewBoard(), game.Black)
	assert.Error(t, err)
}

func TestSessionRecordAndInfer(t *testing.T) {
	rules := newStubRules()
	s, err := NewSession(testSessionConfig(t), rules)
	require.NoError(t, err)
	defer s.Close()

	moves := []game.Move{rules.moves[0], rules.moves[1], rules.moves[0], rules.moves[1]}
	id, err := s.RecordGame("live-1", game.OutcomeAgent, moves, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "live-1", id)
	assert.Equal(t, 1, s.Games())

	summary, err := s.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalGames)
	assert.Equal(t, 1, summary.Wins)

	// before any checkpoint the uniform fallback serves
	mv, version, err := s.InferMove(game.NewBoard(), game.Black)
	require.NoError(t, err)
	assert.Equal(t, "uniform", version)
	assert.Contains(t, rules.moves, mv)
}

func TestSessionRejectsBadGames(t *testing.T) {
	rules := newStubRules()
	s, err := NewSession(testSessionConfig(t), rules)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RecordGame("", game.Outcome("nonsense"), rules.moves, time.Second)
	assert.Error(t, err)

	_, err = s.RecordGame("", game.OutcomeDraw, nil, time.Second)
	assert.Error(t, err)

	illegal := []game.Move{{FromRow: 4, FromCol: 5, ToRow: 5, ToCol: 6}}
	_, err = s.RecordGame("", game.OutcomeDraw, illegal, time.Second)
	assert.Error(t, err)
}

func TestSessionGeneratesID(t *testing.T) {
	rules := newStubRules()
	s, err := NewSession(testSessionConfig(t), rules)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.RecordGame("", game.OutcomeDraw, rules.moves, time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestSessionTrainPublishRestore(t *testing.T) {
	conf := testSessionConfig(t)
	rules := newStubRules()

	s, err := NewSession(conf, rules)
	require.NoError(t, err)

	// enough transitions for one batch
	moves := make([]game.Move, 8)
	for i := range moves {
		moves[i] = rules.moves[i%2]
	}
	_, err = s.RecordGame("", game.OutcomeAgent, moves, time.Second)
	require.NoError(t, err)

	// SaveInterval 1 checkpoints and publishes on the first iteration
	require.NoError(t, s.TrainOnce())
	_, version, err := s.InferMove(game.NewBoard(), game.Black)
	require.NoError(t, err)
	assert.Equal(t, "step-1", version)
	require.NoError(t, s.Close())

	// a fresh session restores the checkpoint and serves it immediately
	restored, err := NewSession(conf, rules)
	require.NoError(t, err)
	defer restored.Close()
	assert.Equal(t, 1, restored.Games())
	_, version, err = restored.InferMove(game.NewBoard(), game.Black)
	require.NoError(t, err)
	assert.Equal(t, "step-1", version)
}

// chainRules offers one stationary move; with captures set, applying it
// removes three red men from the back row.
type chainRules struct{ captures int }

func (r *chainRules) LegalMoves(b *game.Board, p game.Colour) []game.Move {
	return []game.Move{{FromRow: 6, FromCol: 1, ToRow: 5, ToCol: 2}}
}

func (r *chainRules) ApplyMove(b *game.Board, m game.Move) (*game.Board, int, bool) {
	next := b.Clone()
	if r.captures > 0 {
		for _, col := range []int{1, 3, 5} {
			next[0][col] = nil
		}
	}
	return next, r.captures, false
}

func (r *chainRules) IsTerminal(b *game.Board) (bool, game.Outcome) { return false, game.OutcomeNone }

func TestSessionCurriculumShiftsChainRewards(t *testing.T) {
	conf := testSessionConfig(t)
	rules := &chainRules{}
	s, err := NewSession(conf, rules)
	require.NoError(t, err)

	mv := rules.LegalMoves(nil, game.Black)[0]

	// a plain draw first, so the store holds one base-priority game
	_, err = s.RecordGame("draw-0", game.OutcomeDraw, []game.Move{mv}, time.Second)
	require.NoError(t, err)

	// 101 wins, each ending on a three-capture chain, crossing the
	// 100-game stage boundary along the way
	rules.captures = 3
	for i := 1; i <= 101; i++ {
		_, err = s.RecordGame(fmt.Sprintf("chain-%d", i), game.OutcomeAgent, []game.Move{mv}, time.Second)
		require.NoError(t, err)
	}
	assert.Equal(t, 102, s.Games())
	assert.Equal(t, "multi_capture_chains", s.StageInfo().Stage)
	require.NoError(t, s.Close())

	store, err := replay.Open(conf.ReplayPath, conf.ReplayCapacity)
	require.NoError(t, err)
	defer store.Close()

	// chain wins carry priority 2.4 against the draw's 1.0, so a cold
	// sample of all 101 chain games never picks the draw
	trajs, err := store.SamplePrioritized(101, 1e-6)
	require.NoError(t, err)
	for _, traj := range trajs {
		assert.NotEqual(t, "draw-0", traj.GameID)
	}

	before := game.NewBoard()
	after, _, _ := (&chainRules{captures: 3}).ApplyMove(before, mv)

	// shaped in basic_captures: the convex chain bonus at factor 1, plus
	// the unscaled terminal win
	early, err := store.Trajectory("chain-50")
	require.NoError(t, err)
	wantEarly, bd := reward.Shape(before, after, true, game.OutcomeAgent, game.Black, curriculum.StageFor(50).Multipliers)
	assert.InDelta(t, 0.80, bd.Material, 1e-6)
	assert.InDelta(t, 1.0, bd.Terminal, 1e-6)
	require.Len(t, early.Transitions, 1)
	assert.InDelta(t, wantEarly, early.Transitions[0].Reward, 1e-5)

	// shaped in multi_capture_chains: the same chain at factor 2.5
	late, err := store.Trajectory("chain-101")
	require.NoError(t, err)
	wantLate, _ := reward.Shape(before, after, true, game.OutcomeAgent, game.Black, curriculum.StageFor(101).Multipliers)
	require.Len(t, late.Transitions, 1)
	assert.InDelta(t, wantLate, late.Transitions[0].Reward, 1e-5)
	assert.InDelta(t, 1.2, wantLate-wantEarly, 1e-5, "the stage shift scales only the chain tier")
}

func TestStageInfoFollowsGames(t *testing.T) {
	s, err := NewSession(testSessionConfig(t), nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "basic_captures", s.StageInfo().Stage)
}
