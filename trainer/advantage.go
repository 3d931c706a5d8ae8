package trainer

import (
	"github.com/chewxy/math32"
	"gorgonia.org/vecf32"

	"github.com/joviva/viloria-checkers-ai-sub002/game"
)

// computeGAE fills discounted returns and GAE(λ) advantages for one
// trajectory. A trajectory interleaves both players' moves; each player's
// transitions form their own episode, chained backward over that player's
// indices only. values[i] is V(s_i) from the mover's perspective.
func computeGAE(traj *game.Trajectory, values []float32, gamma, lambda float32) (returns, advantages []float32) {
	n := len(traj.Transitions)
	returns = make([]float32, n)
	advantages = make([]float32, n)

	for _, colour := range []game.Colour{game.Black, game.Red} {
		var nextReturn, nextAdv, nextValue float32
		for i := n - 1; i >= 0; i-- {
			tr := traj.Transitions[i]
			if tr.Player != colour {
				continue
			}
			returns[i] = tr.Reward + gamma*nextReturn
			delta := tr.Reward + gamma*nextValue - values[i]
			advantages[i] = delta + gamma*lambda*nextAdv
			nextReturn, nextAdv, nextValue = returns[i], advantages[i], values[i]
		}
	}
	return returns, advantages
}

// normalizeAdvantages centers and rescales a batch of advantages to zero
// mean and unit variance. Batches too small to estimate a variance are left
// alone.
func normalizeAdvantages(adv []float32) {
	if len(adv) < 2 {
		return
	}
	var mean float32
	for _, a := range adv {
		mean += a
	}
	mean /= float32(len(adv))

	var variance float32
	for _, a := range adv {
		d := a - mean
		variance += d * d
	}
	std := math32.Sqrt(variance / float32(len(adv)))

	for i := range adv {
		adv[i] -= mean
	}
	vecf32.Scale(adv, 1/(std+1e-8))
}
