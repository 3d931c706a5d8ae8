package game

import "encoding/json"

const (
	// Size is the board's edge length. International draughts is played on 10x10.
	Size = 10
	// Planes is the number of feature planes in an encoded position.
	Planes = 5
	// PlayableSquares is the number of dark squares pieces may occupy.
	PlayableSquares = Size * Size / 2
	// ActionSpace is the policy head's width: every (from, to) pair of
	// playable squares, which also covers flying-king landings.
	ActionSpace = PlayableSquares * PlayableSquares
	// EncodedLen is the flat length of one encoded position.
	EncodedLen = Planes * Size * Size
)

// Piece occupies a dark square. The zero value is not valid; empty squares
// are nil in the board grid.
type Piece struct {
	Colour Colour `json:"-"`
	King   bool   `json:"king"`
}

// pieceJSON matches the client wire format {"color": "black", "king": false}.
type pieceJSON struct {
	Color string `json:"color"`
	King  bool   `json:"king"`
}

func (p Piece) MarshalJSON() ([]byte, error) {
	return json.Marshal(pieceJSON{Color: p.Colour.String(), King: p.King})
}

func (p *Piece) UnmarshalJSON(data []byte) error {
	var pj pieceJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return err
	}
	p.Colour = ParseColour(pj.Color)
	p.King = pj.King
	return nil
}

// Board is a full 10x10 grid. Light squares are always nil.
type Board [Size][Size]*Piece

// NewBoard returns the starting position: four rows of Red at the top,
// four rows of Black at the bottom, dark squares only.
func NewBoard() *Board {
	var b Board
	for row := 0; row < 4; row++ {
		for col := 0; col < Size; col++ {
			if (row+col)%2 == 1 {
				b[row][col] = &Piece{Colour: Red}
			}
		}
	}
	for row := 6; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if (row+col)%2 == 1 {
				b[row][col] = &Piece{Colour: Black}
			}
		}
	}
	return &b
}

// Clone deep-copies the board.
func (b *Board) Clone() *Board {
	var c Board
	for row := range b {
		for col, p := range b[row] {
			if p != nil {
				cp := *p
				c[row][col] = &cp
			}
		}
	}
	return &c
}

// Count returns the number of pieces of the given colour.
func (b *Board) Count(cl Colour) int {
	var n int
	for row := range b {
		for _, p := range b[row] {
			if p != nil && p.Colour == cl {
				n++
			}
		}
	}
	return n
}

// Kings returns the number of kings of the given colour.
func (b *Board) Kings(cl Colour) int {
	var n int
	for row := range b {
		for _, p := range b[row] {
			if p != nil && p.Colour == cl && p.King {
				n++
			}
		}
	}
	return n
}

// Total returns the number of pieces on the board.
func (b *Board) Total() int { return b.Count(Black) + b.Count(Red) }

// At returns the piece at (row, col), or nil. Out-of-range coordinates are nil.
func (b *Board) At(row, col int) *Piece {
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return nil
	}
	return b[row][col]
}

// Encode flattens the position into the network's input planes from pov's
// perspective: own men, own kings, opponent men, opponent kings, playable
// squares. The returned slice is pooled; hand it back with ReturnPlanes once
// copied into a tensor.
func (b *Board) Encode(pov Colour) []float32 {
	planes := borrowPlanes()
	opp := pov.Opponent()
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			at := row*Size + col
			if (row+col)%2 == 1 {
				planes[4*Size*Size+at] = 1
			}
			p := b[row][col]
			if p == nil {
				continue
			}
			switch {
			case p.Colour == pov && !p.King:
				planes[at] = 1
			case p.Colour == pov && p.King:
				planes[Size*Size+at] = 1
			case p.Colour == opp && !p.King:
				planes[2*Size*Size+at] = 1
			case p.Colour == opp && p.King:
				planes[3*Size*Size+at] = 1
			}
		}
	}
	return planes
}

// MarshalJSON writes the client board format: a 10x10 array of nulls and pieces.
func (b *Board) MarshalJSON() ([]byte, error) {
	grid := make([][]*Piece, Size)
	for row := range b {
		grid[row] = b[row][:]
	}
	return json.Marshal(grid)
}

func (b *Board) UnmarshalJSON(data []byte) error {
	var grid [][]*Piece
	if err := json.Unmarshal(data, &grid); err != nil {
		return err
	}
	for row := range b {
		for col := range b[row] {
			b[row][col] = nil
			if row < len(grid) && col < len(grid[row]) {
				b[row][col] = grid[row][col]
			}
		}
	}
	return nil
}

// playableIndex maps (row, col) to its dark-square ordinal, or -1.
func playableIndex(row, col int) int {
	if row < 0 || row >= Size || col < 0 || col >= Size || (row+col)%2 != 1 {
		return -1
	}
	return (row*Size + col) / 2
}

// playableSquare is the inverse of playableIndex.
func playableSquare(idx int) (row, col int) {
	at := idx * 2
	row = at / Size
	col = at % Size
	if (row+col)%2 != 1 {
		col++
	}
	return row, col
}

// Index encodes the move as a policy action: from-square ordinal times the
// playable-square count, plus the to-square ordinal. Returns -1 when either
// endpoint is not a playable square.
func (m Move) Index() int {
	from := playableIndex(m.FromRow, m.FromCol)
	to := playableIndex(m.ToRow, m.ToCol)
	if from < 0 || to < 0 {
		return -1
	}
	return from*PlayableSquares + to
}

// MoveFromIndex decodes a policy action back into a move. The ok result is
// false when idx is outside the action space.
func MoveFromIndex(idx int) (m Move, ok bool) {
	if idx < 0 || idx >= ActionSpace {
		return m, false
	}
	m.FromRow, m.FromCol = playableSquare(idx / PlayableSquares)
	m.ToRow, m.ToCol = playableSquare(idx % PlayableSquares)
	return m, true
}
