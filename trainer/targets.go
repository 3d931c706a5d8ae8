package trainer

import "github.com/joviva/viloria-checkers-ai-sub002/game"

// Auxiliary head targets are derived from the encoded planes alone, so they
// can be rebuilt for any stored transition without replaying the game.

const (
	ownMen = iota
	ownKings
	oppMen
	oppKings
)

func planeAt(state []float32, plane, row, col int) float32 {
	return state[plane*game.Size*game.Size+row*game.Size+col]
}

func occupied(state []float32, row, col int) bool {
	for p := ownMen; p <= oppKings; p++ {
		if planeAt(state, p, row, col) > 0 {
			return true
		}
	}
	return false
}

// materialTarget classifies the mover's material balance: behind, even or
// ahead. Kings weigh three men.
func materialTarget(state []float32) []float32 {
	var own, opp float32
	for row := 0; row < game.Size; row++ {
		for col := 0; col < game.Size; col++ {
			own += planeAt(state, ownMen, row, col) + 3*planeAt(state, ownKings, row, col)
			opp += planeAt(state, oppMen, row, col) + 3*planeAt(state, oppKings, row, col)
		}
	}
	target := make([]float32, 3)
	switch {
	case own < opp:
		target[0] = 1
	case own == opp:
		target[1] = 1
	default:
		target[2] = 1
	}
	return target
}

// threatTarget marks each square whose own piece an adjacent opponent could
// jump: an opposing piece on one diagonal neighbour and an empty landing
// square on the other. Flying-king captures from a distance are out of the
// target's scope.
func threatTarget(state []float32) []float32 {
	target := make([]float32, game.Size*game.Size)
	dirs := [4][2]int{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}
	for row := 0; row < game.Size; row++ {
		for col := 0; col < game.Size; col++ {
			if planeAt(state, ownMen, row, col) == 0 && planeAt(state, ownKings, row, col) == 0 {
				continue
			}
			for _, d := range dirs {
				ar, ac := row+d[0], col+d[1] // attacker
				lr, lc := row-d[0], col-d[1] // landing
				if ar < 0 || ar >= game.Size || ac < 0 || ac >= game.Size {
					continue
				}
				if lr < 0 || lr >= game.Size || lc < 0 || lc >= game.Size {
					continue
				}
				if planeAt(state, oppMen, ar, ac) == 0 && planeAt(state, oppKings, ar, ac) == 0 {
					continue
				}
				if occupied(state, lr, lc) {
					continue
				}
				target[row*game.Size+col] = 1
				break
			}
		}
	}
	return target
}
