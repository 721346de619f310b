package sensors

import (
	"context"
	"errors"

	"github.com/ferralab/prepcore/internal/instrument"
)

// ErrUnsupported marks a channel the hardware cannot provide.
var ErrUnsupported = errors.New("sensor channel unsupported")

// InstrumentSource samples current and voltage from the power source.
// There is no temperature probe on this path.
type InstrumentSource struct {
	Power instrument.Port
}

func (s *InstrumentSource) ReadCurrent(ctx context.Context) (float64, error) {
	return s.Power.MeasureCurrent(ctx)
}

func (s *InstrumentSource) ReadVoltage(ctx context.Context) (float64, error) {
	return s.Power.MeasureVoltage(ctx)
}

func (s *InstrumentSource) ReadTemperature(ctx context.Context) (float64, error) {
	return 0, ErrUnsupported
}
