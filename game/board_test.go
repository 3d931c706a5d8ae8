package game

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestNewBoard(t *testing.T) {
	assert := assert.New(t)
	b := NewBoard()
	assert.Equal(20, b.Count(Black))
	assert.Equal(20, b.Count(Red))
	assert.Equal(0, b.Kings(Black))
	assert.Equal(0, b.Kings(Red))
	assert.Equal(40, b.Total())

	// pieces only on dark squares
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if (row+col)%2 == 0 && b[row][col] != nil {
				t.Fatalf("piece on light square (%d,%d)", row, col)
			}
		}
	}
}

func TestClone(t *testing.T) {
	b := NewBoard()
	c := b.Clone()
	c[6][1] = nil
	assert.NotNil(t, b[6][1], "clone should not alias the original")
}

func TestEncode(t *testing.T) {
	assert := assert.New(t)
	b := NewBoard()
	b[4][5] = &Piece{Colour: Black, King: true}

	planes := b.Encode(Black)
	defer ReturnPlanes(planes)
	assert.Len(planes, EncodedLen)

	sum := func(plane int) (s float32) {
		for _, v := range planes[plane*Size*Size : (plane+1)*Size*Size] {
			s += v
		}
		return
	}
	assert.Equal(float32(20), sum(0), "own men")
	assert.Equal(float32(1), sum(1), "own kings")
	assert.Equal(float32(20), sum(2), "opponent men")
	assert.Equal(float32(0), sum(3), "opponent kings")
	assert.Equal(float32(PlayableSquares), sum(4), "playable squares")
}

func TestReturnPlanesRecycles(t *testing.T) {
	b := NewBoard()
	planes := b.Encode(Black)
	for i := range planes {
		planes[i] = 99
	}
	ReturnPlanes(planes)

	// a reused buffer must come back zeroed before re-encoding
	fresh := b.Encode(Black)
	defer ReturnPlanes(fresh)
	var sum float32
	for _, v := range fresh {
		sum += v
	}
	assert.Equal(t, float32(20+20+PlayableSquares), sum)

	// wrong-sized slices are dropped, not pooled
	ReturnPlanes(make([]float32, 3))
}

func TestEncodePerspective(t *testing.T) {
	var b Board
	b[6][1] = &Piece{Colour: Black}
	b[3][2] = &Piece{Colour: Red}

	black := b.Encode(Black)
	defer ReturnPlanes(black)
	assert.Equal(t, float32(1), black[6*Size+1], "own man plane")
	assert.Equal(t, float32(1), black[2*Size*Size+3*Size+2], "opponent man plane")

	red := b.Encode(Red)
	defer ReturnPlanes(red)
	assert.Equal(t, float32(1), red[3*Size+2], "own man plane")
	assert.Equal(t, float32(1), red[2*Size*Size+6*Size+1], "opponent man plane")
}

func TestPlayableIndexRoundTrip(t *testing.T) {
	for idx := 0; idx < PlayableSquares; idx++ {
		row, col := playableSquare(idx)
		if got := playableIndex(row, col); got != idx {
			t.Fatalf("playableIndex(playableSquare(%d)) = %d", idx, got)
		}
	}
}

func TestMoveIndexRoundTrip(t *testing.T) {
	for from := 0; from < PlayableSquares; from++ {
		for to := 0; to < PlayableSquares; to++ {
			fr, fc := playableSquare(from)
			tr, tc := playableSquare(to)
			m := Move{FromRow: fr, FromCol: fc, ToRow: tr, ToCol: tc}
			idx := m.Index()
			if idx != from*PlayableSquares+to {
				t.Fatalf("Move%v.Index() = %d, want %d", m, idx, from*PlayableSquares+to)
			}
			back, ok := MoveFromIndex(idx)
			if !ok || back != m {
				t.Fatalf("MoveFromIndex(%d) = %v, %v; want %v", idx, back, ok, m)
			}
		}
	}
}

func TestMoveIndexRejectsLightSquares(t *testing.T) {
	assert.Equal(t, -1, Move{FromRow: 0, FromCol: 0, ToRow: 1, ToCol: 0}.Index())

	_, ok := MoveFromIndex(-1)
	assert.False(t, ok)
	_, ok = MoveFromIndex(ActionSpace)
	assert.False(t, ok)
}

func TestBoardJSONRoundTrip(t *testing.T) {
	b := NewBoard()
	b[4][5] = &Piece{Colour: Red, King: true}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	var back Board
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b, &back); diff != "" {
		t.Errorf("board changed across JSON round trip:\n%s", diff)
	}
}

func TestColour(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(Red, Black.Opponent())
	assert.Equal(Black, Red.Opponent())
	assert.Equal(Black, ParseColour("black"))
	assert.Equal(Red, ParseColour("red"))
	assert.Equal(None, ParseColour("chartreuse"))
}

func TestOutcomeValid(t *testing.T) {
	assert := assert.New(t)
	assert.True(OutcomeAgent.Valid())
	assert.True(OutcomeHuman.Valid())
	assert.True(OutcomeDraw.Valid())
	assert.False(OutcomeNone.Valid())
	assert.False(Outcome("cat").Valid())
}
