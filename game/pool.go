package game

import "sync"

var planePool = sync.Pool{
	New: func() interface{} { return make([]float32, EncodedLen) },
}

func borrowPlanes() []float32 {
	planes := planePool.Get().([]float32)
	for i := range planes {
		planes[i] = 0
	}
	return planes
}

// ReturnPlanes hands an encoded position back to the pool. Callers must not
// retain the slice afterwards.
func ReturnPlanes(planes []float32) {
	if len(planes) == EncodedLen {
		planePool.Put(planes)
	}
}
