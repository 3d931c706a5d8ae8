// Package evaluator aggregates agent performance: outcome counts and capture
// statistics from finished games, entropy and value-error readings from
// training iterations, periodic snapshots with a trend classification, and a
// JSON export. It never writes to the store, so the pipeline keeps training
// even when metrics refresh fails.
package evaluator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/joviva/viloria-checkers-ai-sub002/game"
	"github.com/joviva/viloria-checkers-ai-sub002/replay"
)

// SnapshotEvery is how many completed games between snapshots.
const SnapshotEvery = 10

// trendEpsilon separates a real slope from noise.
const trendEpsilon = 0.01

// Trend classifies the recent win-rate slope across snapshots.
type Trend string

const (
	Improving Trend = "improving"
	Stable    Trend = "stable"
	Declining Trend = "declining"
	Unknown   Trend = "unknown" // fewer than two snapshots
)

// Snapshot is a point-in-time aggregate, emitted every SnapshotEvery games.
type Snapshot struct {
	Games           int       `json:"games"`
	Wins            int       `json:"wins"`
	Losses          int       `json:"losses"`
	Draws           int       `json:"draws"`
	WinRate         float64   `json:"win_rate"`
	SingleCaptures  int       `json:"single_captures"`
	MultiCaptures   int       `json:"multi_captures"`
	LongestChain    int       `json:"longest_chain"`
	AverageCohesion float64   `json:"average_cohesion"`
	AverageEntropy  float64   `json:"average_entropy"`
	AverageValueErr float64   `json:"average_value_error"`
	AdvSignAccuracy float64   `json:"advantage_sign_accuracy"`
	Taken           time.Time `json:"taken"`
}

// Summary merges the running aggregates with durable store totals.
type Summary struct {
	TotalGames   int     `json:"total_games"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	Draws        int     `json:"draws"`
	WinRate      float64 `json:"win_rate"`
	AverageMoves float64 `json:"average_moves"`

	SingleCaptures  int     `json:"single_captures"`
	MultiCaptures   int     `json:"multi_captures"`
	LongestChain    int     `json:"longest_chain"`
	AverageCohesion float64 `json:"average_cohesion"`

	AverageEntropy  float64 `json:"average_entropy"`
	AverageValueErr float64 `json:"average_value_error"`
	AdvSignAccuracy float64 `json:"advantage_sign_accuracy"`
	Iterations      int     `json:"iterations"`

	Trend       Trend      `json:"trend"`
	Snapshots   []Snapshot `json:"snapshots"`
	RefreshedAt time.Time  `json:"refreshed_at"`
}

// Evaluator accumulates metrics behind one mutex. The last good summary is
// cached so a storage hiccup degrades to stale metrics instead of an error.
type Evaluator struct {
	mu    sync.Mutex
	store *replay.Store

	games          int
	wins           int
	losses         int
	draws          int
	singleCaptures int
	multiCaptures  int
	longestChain   int
	cohesionSum    float64
	cohesionN      int

	entropySum  float64
	valueErrSum float64
	advAccSum   float64
	iterations  int

	snapshots []Snapshot
	lastGood  Summary
	hasGood   bool
}

// New returns an Evaluator backed by store.
func New(store *replay.Store) *Evaluator {
	return &Evaluator{store: store}
}

// RecordGame ingests one finished trajectory. Capture counts and cohesion
// samples come from the encoded planes, so any stored game can be ingested
// without the rules engine.
func (e *Evaluator) RecordGame(traj *game.Trajectory) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.games++
	switch traj.Winner {
	case game.OutcomeAgent:
		e.wins++
	case game.OutcomeHuman:
		e.losses++
	default:
		e.draws++
	}
	for _, tr := range traj.Transitions {
		captured := capturedPieces(tr.State, tr.NextState)
		switch {
		case captured == 1:
			e.singleCaptures++
		case captured > 1:
			e.multiCaptures++
			if captured > e.longestChain {
				e.longestChain = captured
			}
		}
		if captured == 1 && e.longestChain < 1 {
			e.longestChain = 1
		}
		e.cohesionSum += float64(cohesionPairs(tr.State))
		e.cohesionN++
	}

	if e.games%SnapshotEvery == 0 {
		e.snapshots = append(e.snapshots, e.snapshotLocked())
	}
}

// RecordIteration ingests one training iteration's policy entropy, value
// loss and advantage-sign accuracy.
func (e *Evaluator) RecordIteration(entropy, valueError, advSignAccuracy float32) {
	e.mu.Lock()
	e.entropySum += float64(entropy)
	e.valueErrSum += float64(valueError)
	e.advAccSum += float64(advSignAccuracy)
	e.iterations++
	e.mu.Unlock()
}

func (e *Evaluator) snapshotLocked() Snapshot {
	s := Snapshot{
		Games:          e.games,
		Wins:           e.wins,
		Losses:         e.losses,
		Draws:          e.draws,
		SingleCaptures: e.singleCaptures,
		MultiCaptures:  e.multiCaptures,
		LongestChain:   e.longestChain,
		Taken:          time.Now().UTC(),
	}
	if e.games > 0 {
		s.WinRate = float64(e.wins) / float64(e.games)
	}
	if e.cohesionN > 0 {
		s.AverageCohesion = e.cohesionSum / float64(e.cohesionN)
	}
	if e.iterations > 0 {
		s.AverageEntropy = e.entropySum / float64(e.iterations)
		s.AverageValueErr = e.valueErrSum / float64(e.iterations)
		s.AdvSignAccuracy = e.advAccSum / float64(e.iterations)
	}
	return s
}

// Summary returns the point-in-time aggregates. Durable totals come from
// the store; on a store failure the last good summary is served and the
// failure logged. The error is only surfaced when no good summary exists.
func (e *Evaluator) Summary() (Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats, err := e.store.Stats()
	if err != nil {
		if e.hasGood {
			klog.Warningf("metrics refresh failed, serving stale summary: %v", err)
			return e.lastGood, nil
		}
		return Summary{}, err
	}

	snap := e.snapshotLocked()
	s := Summary{
		TotalGames:      stats.TotalGames,
		Wins:            stats.Wins[string(game.OutcomeAgent)],
		Losses:          stats.Wins[string(game.OutcomeHuman)],
		Draws:           stats.Wins[string(game.OutcomeDraw)],
		AverageMoves:    stats.AverageMoves,
		SingleCaptures:  snap.SingleCaptures,
		MultiCaptures:   snap.MultiCaptures,
		LongestChain:    snap.LongestChain,
		AverageCohesion: snap.AverageCohesion,
		AverageEntropy:  snap.AverageEntropy,
		AverageValueErr: snap.AverageValueErr,
		AdvSignAccuracy: snap.AdvSignAccuracy,
		Iterations:      e.iterations,
		Trend:           trend(e.snapshots),
		Snapshots:       append([]Snapshot(nil), e.snapshots...),
		RefreshedAt:     time.Now().UTC(),
	}
	if s.TotalGames > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalGames)
	}

	e.lastGood = s
	e.hasGood = true
	return s, nil
}

// trend fits a least-squares line through the snapshot win rates and
// classifies its slope.
func trend(snaps []Snapshot) Trend {
	if len(snaps) < 2 {
		return Unknown
	}
	n := float64(len(snaps))
	var sumX, sumY, sumXY, sumXX float64
	for i, s := range snaps {
		x := float64(i)
		sumX += x
		sumY += s.WinRate
		sumXY += x * s.WinRate
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Stable
	}
	slope := (n*sumXY - sumX*sumY) / denom
	switch {
	case slope > trendEpsilon:
		return Improving
	case slope < -trendEpsilon:
		return Declining
	}
	return Stable
}

// Export serializes the full metrics history as JSON, written via a temp
// file and rename.
func (e *Evaluator) Export(path string) error {
	s, err := e.Summary()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metrics-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// capturedPieces counts opponent pieces present before the move and gone
// after it. Both planes share the mover's point of view.
func capturedPieces(state, next []float32) int {
	if len(state) < game.EncodedLen || len(next) < game.EncodedLen {
		return 0
	}
	boardSize := game.Size * game.Size
	var before, after float32
	for i := 2 * boardSize; i < 4*boardSize; i++ {
		before += state[i]
		after += next[i]
	}
	if d := int(before - after); d > 0 {
		return d
	}
	return 0
}

// cohesionPairs counts diagonally adjacent own-piece pairs, each pair once.
func cohesionPairs(state []float32) int {
	if len(state) < game.EncodedLen {
		return 0
	}
	own := func(r, c int) bool {
		i := r*game.Size + c
		return state[i] > 0 || state[game.Size*game.Size+i] > 0
	}
	var pairs int
	for r := 0; r < game.Size-1; r++ {
		for c := 0; c < game.Size; c++ {
			if !own(r, c) {
				continue
			}
			if c > 0 && own(r+1, c-1) {
				pairs++
			}
			if c < game.Size-1 && own(r+1, c+1) {
				pairs++
			}
		}
	}
	return pairs
}
