package curriculum

import (
	"sync"

	"github.com/chewxy/math32"
)

// Exploration bounds and adjustment thresholds.
const (
	baseEpsilon = 0.30
	minEpsilon  = 0.01
	maxEpsilon  = 0.30
	decayRate   = 0.995

	strugglingWinRate = 0.3
	dominatingWinRate = 0.7

	// WindowSize is how many recent game outcomes feed the win rate.
	WindowSize = 50
)

// Epsilon computes the adaptive exploration rate from training progress,
// recent performance and the curriculum stage. Always within
// [minEpsilon, maxEpsilon].
func Epsilon(trainingSteps int, recentWinRate float32, stage Stage) float32 {
	eps := baseEpsilon * math32.Pow(decayRate, float32(trainingSteps))

	switch {
	case recentWinRate < strugglingWinRate:
		eps *= 1.5
	case recentWinRate > dominatingWinRate:
		eps *= 0.7
	}

	switch {
	case stage.Ordinal() <= 1:
		eps *= 1.5
	case stage.Final():
		eps *= 0.6
	}

	if eps < minEpsilon {
		eps = minEpsilon
	}
	if eps > maxEpsilon {
		eps = maxEpsilon
	}
	return eps
}

// Window is a rolling record of recent game outcomes. It belongs to the
// session rather than any package-level state, so concurrent producers share
// one explicit instance.
type Window struct {
	mu       sync.Mutex
	outcomes []bool
	next     int
	filled   bool
}

// NewWindow returns a window over the default outcome count.
func NewWindow() *Window { return &Window{outcomes: make([]bool, WindowSize)} }

// Record appends one game outcome, evicting the oldest once full.
func (w *Window) Record(won bool) {
	w.mu.Lock()
	w.outcomes[w.next] = won
	w.next++
	if w.next == len(w.outcomes) {
		w.next = 0
		w.filled = true
	}
	w.mu.Unlock()
}

// WinRate returns the rolling win rate, or 0.5 before any game finishes.
func (w *Window) WinRate() float32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.next
	if w.filled {
		n = len(w.outcomes)
	}
	if n == 0 {
		return 0.5
	}
	var wins int
	for i := 0; i < n; i++ {
		if w.outcomes[i] {
			wins++
		}
	}
	return float32(wins) / float32(n)
}
