// Package selfplay generates training games by letting the current model
// play both seats with epsilon-greedy exploration. Black plays the agent
// seat, so self-play outcomes land in the same ai/human vocabulary as games
// against real opponents.
package selfplay

import (
	"context"
	"math/rand"
	"time"

	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/joviva/viloria-checkers-ai-sub002/curriculum"
	"github.com/joviva/viloria-checkers-ai-sub002/game"
	"github.com/joviva/viloria-checkers-ai-sub002/pvnet"
	"github.com/joviva/viloria-checkers-ai-sub002/replay"
	"github.com/joviva/viloria-checkers-ai-sub002/reward"
)

// DefaultMaxMoves truncates runaway games; a truncated game records as a
// draw.
const DefaultMaxMoves = 200

// Priority composition: capture chains and wins make a game more likely to
// be replayed.
const (
	basePriority  = 1.0
	chainPriority = 0.3
	winPriority   = 0.5
)

// Generator plays complete self-play games against the live model.
type Generator struct {
	rules    game.RulesEngine
	maxMoves int
	rnd      *rand.Rand

	// Infer returns the model snapshot to play with. Consulted once per game
	// so a mid-game checkpoint never mixes weights within one trajectory.
	Infer func() pvnet.Inferer

	// Steps feeds exploration decay; Stage supplies the curriculum stage for
	// reward multipliers and exploration adjustment. Either may be nil.
	Steps func() int
	Stage func() curriculum.Stage

	// Window, when set, receives each self-play outcome.
	Window *curriculum.Window

	// OnGame, when set, observes each completed trajectory after it is
	// persisted.
	OnGame func(*game.Trajectory)

	// FixedEpsilon overrides adaptive exploration when non-negative.
	FixedEpsilon float32
}

// New returns a Generator over the given rules. maxMoves <= 0 uses
// DefaultMaxMoves.
func New(rules game.RulesEngine, infer func() pvnet.Inferer, maxMoves int) *Generator {
	if maxMoves <= 0 {
		maxMoves = DefaultMaxMoves
	}
	return &Generator{
		rules:        rules,
		maxMoves:     maxMoves,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
		Infer:        infer,
		FixedEpsilon: -1,
	}
}

// Generate plays num games and persists each with its computed priority.
// Cancellation is honored between games; the game in flight completes.
func (g *Generator) Generate(ctx context.Context, num int, store *replay.Store) (int, error) {
	var played int
	for i := 0; i < num; i++ {
		select {
		case <-ctx.Done():
			return played, ctx.Err()
		default:
		}
		traj, priority, err := g.PlayGame()
		if err != nil {
			return played, err
		}
		if err := store.Add(traj, priority); err != nil {
			return played, err
		}
		if g.Window != nil {
			g.Window.Record(traj.Winner == game.OutcomeAgent)
		}
		if g.OnGame != nil {
			g.OnGame(traj)
		}
		played++
		klog.V(1).Infof("self-play game %s: winner=%s moves=%d priority=%.2f", traj.GameID, traj.Winner, traj.MoveCount, priority)
	}
	return played, nil
}

// PlayGame plays one full game and returns the trajectory with its replay
// priority.
func (g *Generator) PlayGame() (*game.Trajectory, float32, error) {
	inf := g.Infer()
	if inf == nil {
		return nil, 0, errors.New("no model available for self-play")
	}
	epsilon := g.epsilon()
	multipliers := g.multipliers()

	traj := &game.Trajectory{GameID: uuid.NewString()}
	board := game.NewBoard()
	player := game.Black
	start := time.Now()

	var maxChain int
	for len(traj.Transitions) < g.maxMoves {
		moves := g.rules.LegalMoves(board, player)
		if len(moves) == 0 {
			// no moves loses; flag the previous transition as terminal
			traj.Winner = seatOutcome(player.Opponent())
			g.markTerminal(traj)
			break
		}
		legal := make([]int, len(moves))
		for i, mv := range moves {
			legal[i] = mv.Index()
		}

		state := board.Encode(player)
		policy, value, err := inf.Infer(state, legal)
		if err != nil {
			return nil, 0, errors.WithMessagef(err, "inferring move %d", len(traj.Transitions))
		}
		choice := g.chooseMove(policy, legal, epsilon)
		mv := moves[choice]

		next, captured, _ := g.rules.ApplyMove(board, mv)
		if captured > maxChain {
			maxChain = captured
		}
		terminal, outcome := g.rules.IsTerminal(next)

		shaped, _ := reward.Shape(board, next, terminal, outcome, player, multipliers)
		logProb := float32(0)
		if p := policy[mv.Index()]; p > 0 {
			logProb = math32.Log(p)
		}
		traj.Transitions = append(traj.Transitions, game.Transition{
			State:     state,
			Action:    mv.Index(),
			Legal:     legal,
			Reward:    shaped,
			NextState: next.Encode(player),
			Terminal:  terminal,
			Player:    player,
			LogProb:   logProb,
			Baseline:  value,
		})

		board = next
		if terminal {
			traj.Winner = outcome
			break
		}
		player = player.Opponent()
	}

	if traj.Winner == game.OutcomeNone {
		// move cap reached
		traj.Winner = game.OutcomeDraw
		g.markTerminal(traj)
	}
	traj.MoveCount = len(traj.Transitions)
	traj.Duration = time.Since(start)
	return traj, Priority(maxChain, traj.Winner), nil
}

// chooseMove is epsilon-greedy: explore uniformly over the legal moves,
// otherwise sample the policy restricted to them.
func (g *Generator) chooseMove(policy []float32, legal []int, epsilon float32) int {
	if g.rnd.Float32() < epsilon {
		return g.rnd.Intn(len(legal))
	}
	var sum float32
	for _, a := range legal {
		sum += policy[a]
	}
	if sum <= 0 {
		return g.rnd.Intn(len(legal))
	}
	r := g.rnd.Float32() * sum
	for i, a := range legal {
		r -= policy[a]
		if r <= 0 {
			return i
		}
	}
	return len(legal) - 1
}

func (g *Generator) epsilon() float32 {
	if g.FixedEpsilon >= 0 {
		return g.FixedEpsilon
	}
	var steps int
	if g.Steps != nil {
		steps = g.Steps()
	}
	stage := curriculum.Disabled()
	if g.Stage != nil {
		stage = g.Stage()
	}
	winRate := float32(0.5)
	if g.Window != nil {
		winRate = g.Window.WinRate()
	}
	return curriculum.Epsilon(steps, winRate, stage)
}

func (g *Generator) multipliers() reward.Multipliers {
	if g.Stage == nil {
		return reward.DefaultMultipliers()
	}
	m := g.Stage().Multipliers
	if m == nil {
		return reward.DefaultMultipliers()
	}
	return m
}

// markTerminal closes out a trajectory whose last shaped transition did not
// know the game was over (no-moves loss, move-cap truncation): it flags the
// transition terminal and adds the end-of-game bonus its shaping missed.
func (g *Generator) markTerminal(traj *game.Trajectory) {
	n := len(traj.Transitions)
	if n == 0 {
		return
	}
	last := &traj.Transitions[n-1]
	if !last.Terminal {
		last.Terminal = true
		last.Reward += reward.Terminal(traj.Winner, last.Player)
	}
}

// Priority derives a trajectory's replay priority from its longest capture
// chain and whether the agent won. Used for both self-play and recorded live
// games.
func Priority(maxChain int, winner game.Outcome) float32 {
	p := float32(basePriority) + chainPriority*float32(maxChain)
	if winner == game.OutcomeAgent {
		p += winPriority
	}
	return p
}

func seatOutcome(winner game.Colour) game.Outcome {
	switch winner {
	case game.Black:
		return game.OutcomeAgent
	case game.Red:
		return game.OutcomeHuman
	}
	return game.OutcomeDraw
}
