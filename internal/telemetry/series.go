package telemetry

import "sync"

// Series keeps a rolling window of recent samples for live observers.
type Series struct {
	mu      sync.Mutex
	max     int
	samples []Sample
}

func NewSeries(maxPoints int) *Series {
	if maxPoints <= 0 {
		maxPoints = 500
	}
	return &Series{max: maxPoints}
}

func (s *Series) Append(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)
	if overflow := len(s.samples) - s.max; overflow > 0 {
		s.samples = append(s.samples[:0], s.samples[overflow:]...)
	}
}

// Samples returns a copy of the window, oldest first.
func (s *Series) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.samples...)
}

// Latest returns the newest sample, if any.
func (s *Series) Latest() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

func (s *Series) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}
