package random

import "sync"

// Scripted replays fixed values, cycling when exhausted. Ints are reduced
// modulo n so one script can drive any selection.
type Scripted struct {
	mu     sync.Mutex
	ints   []int
	floats []float64
	i, f   int
}

// NewScripted creates a Scripted source.
func NewScripted(ints []int, floats []float64) *Scripted {
	return &Scripted{ints: ints, floats: floats}
}

// IntN implements Source.
func (s *Scripted) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[s.i%len(s.ints)]
	s.i++
	if v < 0 {
		v = -v
	}
	return v % n
}

// Float64 implements Source.
func (s *Scripted) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[s.f%len(s.floats)]
	s.f++
	return v
}
