package reward

import "github.com/joviva/viloria-checkers-ai-sub002/game"

var diagonals = [4][2]int{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}

// friendlyNeighbours counts diagonal neighbours of (row, col) with the given colour.
func friendlyNeighbours(b *game.Board, row, col int, cl game.Colour) int {
	var n int
	for _, d := range diagonals {
		if p := b.At(row+d[0], col+d[1]); p != nil && p.Colour == cl {
			n++
		}
	}
	return n
}

// cohesionPairs counts unordered diagonally-adjacent same-colour pairs.
func cohesionPairs(b *game.Board, cl game.Colour) int {
	var pairs int
	for row := 0; row < game.Size; row++ {
		for col := 0; col < game.Size; col++ {
			p := b.At(row, col)
			if p == nil || p.Colour != cl {
				continue
			}
			// count down-board neighbours only, so each pair counts once
			for _, d := range [2][2]int{{1, -1}, {1, 1}} {
				if q := b.At(row+d[0], col+d[1]); q != nil && q.Colour == cl {
					pairs++
				}
			}
		}
	}
	return pairs
}

// supportedPieces counts pieces of cl with at least one friendly diagonal neighbour.
func supportedPieces(b *game.Board, cl game.Colour) int {
	var n int
	for row := 0; row < game.Size; row++ {
		for col := 0; col < game.Size; col++ {
			p := b.At(row, col)
			if p != nil && p.Colour == cl && friendlyNeighbours(b, row, col, cl) > 0 {
				n++
			}
		}
	}
	return n
}

// isolatedPieces counts pieces of cl with no friendly diagonal neighbour.
func isolatedPieces(b *game.Board, cl game.Colour) int {
	return b.Count(cl) - supportedPieces(b, cl)
}

// formationGaps counts empty playable squares flanked by two or more pieces
// of cl. A gap is a hole an opponent can slip through or land in.
func formationGaps(b *game.Board, cl game.Colour) int {
	var gaps int
	for row := 0; row < game.Size; row++ {
		for col := 0; col < game.Size; col++ {
			if (row+col)%2 != 1 || b.At(row, col) != nil {
				continue
			}
			if friendlyNeighbours(b, row, col, cl) >= 2 {
				gaps++
			}
		}
	}
	return gaps
}

// backRank returns cl's own back row index.
func backRank(cl game.Colour) int {
	if cl == game.Black {
		return game.Size - 1
	}
	return 0
}

// backRankPieces counts cl's pieces still on their back rank.
func backRankPieces(b *game.Board, cl game.Colour) int {
	var n int
	row := backRank(cl)
	for col := 0; col < game.Size; col++ {
		if p := b.At(row, col); p != nil && p.Colour == cl {
			n++
		}
	}
	return n
}

// kingsUnderThreat counts cl's kings adjacent to an opponent piece that has
// an empty landing square directly behind the king. This is a one-jump
// heuristic, not a full capture search.
func kingsUnderThreat(b *game.Board, cl game.Colour) int {
	opp := cl.Opponent()
	var n int
	for row := 0; row < game.Size; row++ {
		for col := 0; col < game.Size; col++ {
			p := b.At(row, col)
			if p == nil || p.Colour != cl || !p.King {
				continue
			}
			for _, d := range diagonals {
				attacker := b.At(row+d[0], col+d[1])
				landing := b.At(row-d[0], col-d[1])
				landingOnBoard := row-d[0] >= 0 && row-d[0] < game.Size && col-d[1] >= 0 && col-d[1] < game.Size
				if attacker != nil && attacker.Colour == opp && landing == nil && landingOnBoard {
					n++
					break
				}
			}
		}
	}
	return n
}

// activeKings counts cl's kings with at least one empty diagonal step available.
func activeKings(b *game.Board, cl game.Colour) int {
	var n int
	for row := 0; row < game.Size; row++ {
		for col := 0; col < game.Size; col++ {
			p := b.At(row, col)
			if p == nil || p.Colour != cl || !p.King {
				continue
			}
			for _, d := range diagonals {
				nr, nc := row+d[0], col+d[1]
				if nr >= 0 && nr < game.Size && nc >= 0 && nc < game.Size && b.At(nr, nc) == nil {
					n++
					break
				}
			}
		}
	}
	return n
}

// mobility estimates cl's move count: empty diagonal steps plus simple jumps.
// A deliberate approximation; the rules engine owns real legality.
func mobility(b *game.Board, cl game.Colour) int {
	opp := cl.Opponent()
	var moves int
	for row := 0; row < game.Size; row++ {
		for col := 0; col < game.Size; col++ {
			p := b.At(row, col)
			if p == nil || p.Colour != cl {
				continue
			}
			dirs := pieceDirections(p, cl)
			for _, d := range dirs {
				nr, nc := row+d[0], col+d[1]
				if nr < 0 || nr >= game.Size || nc < 0 || nc >= game.Size {
					continue
				}
				switch q := b.At(nr, nc); {
				case q == nil:
					moves++
				case q.Colour == opp:
					jr, jc := nr+d[0], nc+d[1]
					if jr >= 0 && jr < game.Size && jc >= 0 && jc < game.Size && b.At(jr, jc) == nil {
						moves++
					}
				}
			}
		}
	}
	return moves
}

func pieceDirections(p *game.Piece, cl game.Colour) [][2]int {
	if p.King {
		return [][2]int{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}
	}
	if cl == game.Black {
		return [][2]int{{-1, -1}, {-1, 1}}
	}
	return [][2]int{{1, -1}, {1, 1}}
}
