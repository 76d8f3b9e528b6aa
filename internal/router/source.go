package router

import "sync"

// *rand.Rand is not safe for concurrent use; reply workers share one router.
type syncSource struct {
	mu  sync.Mutex
	src Source
}

func lockedSource(src Source) Source {
	if s, ok := src.(*syncSource); ok {
		return s
	}
	return &syncSource{src: src}
}

func (s *syncSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Float64()
}

// FixedSource returns the same value on every draw.
type FixedSource float64

func (f FixedSource) Float64() float64 { return float64(f) }
