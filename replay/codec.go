package replay

import (
	"encoding/binary"
	"math"
)

// Encoded positions are stored as little-endian float32 blobs. The column
// format is private to the store; callers only ever see []float32.

func encodePlanes(planes []float32) []byte {
	buf := make([]byte, 4*len(planes))
	for i, v := range planes {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodePlanes(buf []byte) []float32 {
	planes := make([]float32, len(buf)/4)
	for i := range planes {
		planes[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return planes
}
