// Package viloria is an online reinforcement-learning pipeline for 10x10
// checkers. A Session owns every piece of shared state: the replay store,
// the curriculum window, the evaluator, the policy-value network and its
// trainer, and the atomically published live model. Finished games flow in
// through RecordGame or the self-play producer; the trainer consumes them on
// a fixed interval and republishes weights after each checkpoint.
package viloria

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/joviva/viloria-checkers-ai-sub002/curriculum"
	"github.com/joviva/viloria-checkers-ai-sub002/evaluator"
	"github.com/joviva/viloria-checkers-ai-sub002/game"
	"github.com/joviva/viloria-checkers-ai-sub002/pvnet"
	"github.com/joviva/viloria-checkers-ai-sub002/replay"
	"github.com/joviva/viloria-checkers-ai-sub002/reward"
	"github.com/joviva/viloria-checkers-ai-sub002/selfplay"
	"github.com/joviva/viloria-checkers-ai-sub002/trainer"
)

// Session is the explicit state object behind the pipeline. Construct one
// with NewSession; there is no package-level state.
type Session struct {
	conf  Config
	rules game.RulesEngine

	store     *replay.Store
	window    *curriculum.Window
	eval      *evaluator.Evaluator
	net       *pvnet.Net
	trainable *pvnet.Trainable
	valuer    *pvnet.Inferencer
	trainer   *trainer.Trainer
	generator *selfplay.Generator

	// live is the published inference model. Nil until the first checkpoint
	// (or a restored one); readers fall back to the uniform policy.
	live    atomic.Pointer[pvnet.Inferencer]
	version atomic.Int64 // optimizer steps at publication; -1 before

	games atomic.Int64 // cumulative completed games

	mu  sync.Mutex // guards rnd
	rnd *rand.Rand
}

// NewSession validates conf, opens storage, builds or restores the network
// and wires every component. rules is the external rules-engine
// collaborator; a Session built without one can still train from stored
// games but cannot self-play, record or serve moves.
func NewSession(conf Config, rules game.RulesEngine) (*Session, error) {
	if err := conf.Valid(); err != nil {
		return nil, err
	}
	if rules == nil && conf.SelfPlayGames > 0 {
		return nil, ConfigurationError{"self_play_games", "requires a rules engine"}
	}

	store, err := replay.Open(conf.ReplayPath, conf.ReplayCapacity)
	if err != nil {
		return nil, err
	}

	netConf := pvnet.DefaultConf(game.Planes, game.Size, game.Size, game.ActionSpace)
	netConf.BatchSize = conf.BatchSize
	netConf.ValueLossCoef = conf.ValueLossCoef
	netConf.EntropyCoef = conf.EntropyCoef
	netConf.AuxLossWeight = conf.AuxLossWeight
	if conf.UseAdvancedNetwork {
		netConf.Mode = pvnet.Advanced
	}
	net := pvnet.New(netConf)
	if err := net.Init(); err != nil {
		store.Close()
		return nil, errors.WithMessage(err, "building network")
	}

	var meta pvnet.Meta
	restored := false
	if _, statErr := os.Stat(conf.CheckpointPath); statErr == nil {
		if meta, err = pvnet.Load(conf.CheckpointPath, net); err != nil {
			store.Close()
			return nil, err
		}
		restored = true
		klog.Infof("restored checkpoint %s: steps=%d games=%d", conf.CheckpointPath, meta.Steps, meta.Games)
	}

	trainable, err := pvnet.NewTrainable(net, conf.LearningRate, conf.MaxGradNorm)
	if err != nil {
		store.Close()
		return nil, err
	}
	trainable.SetSteps(meta.Steps)

	valuer, err := pvnet.Infer(net, conf.BatchSize)
	if err != nil {
		store.Close()
		return nil, errors.WithMessage(err, "building value evaluator")
	}

	s := &Session{
		conf:      conf,
		rules:     rules,
		store:     store,
		window:    curriculum.NewWindow(),
		eval:      evaluator.New(store),
		net:       net,
		trainable: trainable,
		valuer:    valuer,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.version.Store(-1)

	stats, err := store.Stats()
	if err != nil {
		store.Close()
		return nil, err
	}
	gamesSeen := stats.TotalGames
	if meta.Games > gamesSeen {
		gamesSeen = meta.Games
	}
	s.games.Store(int64(gamesSeen))

	tr, err := trainer.New(trainer.Config{
		BatchSize:           conf.BatchSize,
		Gamma:               conf.Gamma,
		Lambda:              conf.GAELambda,
		MaxLoss:             conf.MaxLossThreshold,
		Interval:            conf.TrainingInterval,
		SaveEvery:           conf.SaveInterval,
		MinGames:            conf.MinTrainGames,
		CheckpointPath:      conf.CheckpointPath,
		PriorityReplay:      conf.UsePriorityReplay,
		PriorityTemperature: conf.PriorityTemperature,
		RecentRatio:         conf.RecentRatio,
	}, store, trainable, valuer)
	if err != nil {
		valuer.Close()
		store.Close()
		return nil, err
	}
	tr.Games = func() int { return int(s.games.Load()) }
	tr.OnCheckpoint = s.publish
	tr.OnIteration = s.eval.RecordIteration
	s.trainer = tr

	if rules != nil {
		gen := selfplay.New(rules, s.liveInferer, conf.MaxMoves)
		gen.Steps = func() int { return s.trainer.Steps() }
		gen.Window = s.window
		gen.OnGame = func(traj *game.Trajectory) {
			s.games.Add(1)
			s.eval.RecordGame(traj)
		}
		if conf.UseCurriculum {
			gen.Stage = func() curriculum.Stage { return curriculum.StageFor(int(s.games.Load())) }
		}
		s.generator = gen
	}

	if restored {
		s.publish(meta)
	}
	return s, nil
}

// Run drives the trainer and, when configured, the self-play producer until
// ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if s.conf.SelfPlayGames > 0 && s.generator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.selfPlayLoop(ctx)
		}()
	}
	err := s.trainer.Run(ctx)
	wg.Wait()
	return err
}

func (s *Session) selfPlayLoop(ctx context.Context) {
	ticker := time.NewTicker(s.conf.SelfPlayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.generator.Generate(ctx, s.conf.SelfPlayGames, s.store)
			if err != nil && !errors.Is(err, context.Canceled) {
				klog.Errorf("self-play batch failed after %d games: %v", n, err)
			}
		}
	}
}

// RecordGame validates and ingests a finished live game: the move history is
// replayed through the rules engine, rewards are shaped server-side with the
// current curriculum multipliers, and the trajectory is persisted with a
// content-derived priority. Write failures surface to the caller. Returns
// the game id.
func (s *Session) RecordGame(id string, winner game.Outcome, moves []game.Move, duration time.Duration) (string, error) {
	if s.rules == nil {
		return "", errors.New("recording games requires a rules engine")
	}
	if !winner.Valid() {
		return "", errors.Errorf("invalid winner %q", winner)
	}
	if len(moves) == 0 {
		return "", errors.New("game has no moves")
	}
	if id == "" {
		id = uuid.NewString()
	}

	mult := s.multipliers()
	board := game.NewBoard()
	player := game.Black
	traj := &game.Trajectory{GameID: id, Winner: winner, Duration: duration}

	var maxChain int
	for i, mv := range moves {
		legalMoves := s.rules.LegalMoves(board, player)
		found := false
		legal := make([]int, len(legalMoves))
		for j, lm := range legalMoves {
			legal[j] = lm.Index()
			if lm == mv {
				found = true
			}
		}
		if !found {
			return "", errors.Errorf("move %d (%v) is not legal for %v", i, mv, player)
		}

		next, captured, _ := s.rules.ApplyMove(board, mv)
		if captured > maxChain {
			maxChain = captured
		}
		terminal := i == len(moves)-1
		shaped, _ := reward.Shape(board, next, terminal, winner, player, mult)
		traj.Transitions = append(traj.Transitions, game.Transition{
			State:     board.Encode(player),
			Action:    mv.Index(),
			Legal:     legal,
			Reward:    shaped,
			NextState: next.Encode(player),
			Terminal:  terminal,
			Player:    player,
		})
		board = next
		player = player.Opponent()
	}
	traj.MoveCount = len(moves)

	if err := s.store.Add(traj, selfplay.Priority(maxChain, winner)); err != nil {
		return "", err
	}
	s.games.Add(1)
	s.window.Record(winner == game.OutcomeAgent)
	s.eval.RecordGame(traj)
	return id, nil
}

// InferMove picks a move for the player using the live model with a small
// adaptive exploration mix, and reports the serving model version.
func (s *Session) InferMove(board *game.Board, player game.Colour) (game.Move, string, error) {
	if s.rules == nil {
		return game.Move{}, "", errors.New("serving moves requires a rules engine")
	}
	moves := s.rules.LegalMoves(board, player)
	if len(moves) == 0 {
		return game.Move{}, "", errors.Errorf("no legal moves for %v", player)
	}
	legal := make([]int, len(moves))
	for i, mv := range moves {
		legal[i] = mv.Index()
	}

	state := board.Encode(player)
	policy, _, err := s.liveInferer().Infer(state, legal)
	game.ReturnPlanes(state)
	if err != nil {
		return game.Move{}, "", err
	}
	eps := curriculum.Epsilon(s.trainer.Steps(), s.window.WinRate(), s.stage())
	return moves[s.pick(policy, legal, eps)], s.modelVersion(), nil
}

// pick is epsilon-greedy over the legal moves, sampling the renormalized
// policy on the exploit path.
func (s *Session) pick(policy []float32, legal []int, epsilon float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rnd.Float32() < epsilon {
		return s.rnd.Intn(len(legal))
	}
	var sum float32
	for _, a := range legal {
		sum += policy[a]
	}
	if sum <= 0 {
		return s.rnd.Intn(len(legal))
	}
	r := s.rnd.Float32() * sum
	for i, a := range legal {
		r -= policy[a]
		if r <= 0 {
			return i
		}
	}
	return len(legal) - 1
}

// publish swaps in a fresh forward-only model copy after a checkpoint. A
// failed health probe keeps the previous weights serving.
func (s *Session) publish(meta pvnet.Meta) {
	inf, err := pvnet.Infer(s.net, 1)
	if err != nil {
		klog.Errorf("building inference model: %v", err)
		return
	}
	board := game.NewBoard()
	var legal []int
	if s.rules != nil {
		for _, mv := range s.rules.LegalMoves(board, game.Black) {
			legal = append(legal, mv.Index())
		}
	}
	if len(legal) == 0 {
		// arbitrary non-empty probe set; the check only needs finite,
		// normalized outputs
		for a := 0; a < 8; a++ {
			legal = append(legal, a)
		}
	}
	probe := board.Encode(game.Black)
	err = pvnet.HealthCheck(inf, probe, legal)
	game.ReturnPlanes(probe)
	if err != nil {
		klog.Warningf("model health check failed, keeping previous weights live: %v", err)
		return
	}
	if old := s.live.Swap(inf); old != nil {
		old.Close()
	}
	s.version.Store(int64(meta.Steps))
	klog.Infof("published model at step %d", meta.Steps)
}

// liveInferer returns the published model, or the uniform policy before any
// publication.
func (s *Session) liveInferer() pvnet.Inferer {
	if inf := s.live.Load(); inf != nil {
		return inf
	}
	return pvnet.Uniform{ActionSpace: game.ActionSpace}
}

func (s *Session) modelVersion() string {
	if v := s.version.Load(); v >= 0 {
		return fmt.Sprintf("step-%d", v)
	}
	return "uniform"
}

func (s *Session) stage() curriculum.Stage {
	if !s.conf.UseCurriculum {
		return curriculum.Disabled()
	}
	return curriculum.StageFor(int(s.games.Load()))
}

func (s *Session) multipliers() reward.Multipliers {
	if m := s.stage().Multipliers; m != nil {
		return m
	}
	return reward.DefaultMultipliers()
}

// TrainOnce forces a single training iteration outside the trainer's
// schedule. It holds, without error, while the store has fewer than the
// configured minimum of games.
func (s *Session) TrainOnce() error { return s.trainer.Iterate() }

// Games reports the cumulative completed-game count.
func (s *Session) Games() int { return int(s.games.Load()) }

// StageInfo reports the current curriculum stage and progress.
func (s *Session) StageInfo() curriculum.Info {
	return curriculum.StageInfo(int(s.games.Load()))
}

// Summary returns the evaluator's current aggregates.
func (s *Session) Summary() (evaluator.Summary, error) { return s.eval.Summary() }

// ExportMetrics writes the metrics history as JSON to path.
func (s *Session) ExportMetrics(path string) error { return s.eval.Export(path) }

// Checkpoint persists the current weights and counters immediately, outside
// the trainer's schedule. Used on graceful shutdown.
func (s *Session) Checkpoint() error {
	meta := pvnet.Meta{Steps: s.trainer.Steps(), Games: int(s.games.Load())}
	return pvnet.Save(s.conf.CheckpointPath, s.net, meta)
}

// Close releases machines and storage. The Session must not be used after.
func (s *Session) Close() error {
	var firstErr error
	if inf := s.live.Swap(nil); inf != nil {
		firstErr = inf.Close()
	}
	if err := s.trainable.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.valuer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
