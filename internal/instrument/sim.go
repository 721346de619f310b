package instrument

import (
	"context"
	"sync"
)

// Simulator is an in-process power source for bench-less runs.
type Simulator struct {
	mu       sync.Mutex
	voltage  float64
	limit    float64
	enabled  bool
	current  float64
}

func NewSimulator() *Simulator {
	return &Simulator{}
}

// SetMeasuredCurrent injects the current the simulator reports while the
// output is enabled.
func (s *Simulator) SetMeasuredCurrent(amps float64) {
	s.mu.Lock()
	s.current = amps
	s.mu.Unlock()
}

func (s *Simulator) SetVoltage(ctx context.Context, volts float64) error {
	s.mu.Lock()
	s.voltage = volts
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetCurrentLimit(ctx context.Context, amps float64) error {
	s.mu.Lock()
	s.limit = amps
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Enable(ctx context.Context, on bool) error {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
	return nil
}

func (s *Simulator) MeasureVoltage(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return 0, nil
	}
	return s.voltage, nil
}

func (s *Simulator) MeasureCurrent(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return 0, nil
	}
	return s.current, nil
}
