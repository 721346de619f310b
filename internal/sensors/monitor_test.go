package sensors_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/sensors"
)

type fakeSource struct {
	currentMA atomic.Int64 // microamps to keep it integral
	voltage   atomic.Int64 // millivolts
	tempErr   atomic.Bool
}

func (f *fakeSource) ReadCurrent(ctx context.Context) (float64, error) {
	return float64(f.currentMA.Load()) / 1e6, nil
}

func (f *fakeSource) ReadVoltage(ctx context.Context) (float64, error) {
	return float64(f.voltage.Load()) / 1e3, nil
}

func (f *fakeSource) ReadTemperature(ctx context.Context) (float64, error) {
	if f.tempErr.Load() {
		return 0, errors.New("no temperature channel")
	}
	return 21.5, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMonitorCachesLatestValues(t *testing.T) {
	src := &fakeSource{}
	src.currentMA.Store(4200) // 4.2 mA
	src.voltage.Store(12000)

	monitor := sensors.NewMonitor(src, 5*time.Millisecond, zap.NewNop())
	monitor.Start()
	defer monitor.Stop()

	waitFor(t, func() bool { return !monitor.LatestCurrent().At.IsZero() })

	if got := monitor.LatestCurrent().Value; got != 0.0042 {
		t.Errorf("current = %v, want 0.0042", got)
	}
	if got := monitor.LatestVoltage().Value; got != 12 {
		t.Errorf("voltage = %v, want 12", got)
	}
	if got := monitor.LatestTemperature().Value; got != 21.5 {
		t.Errorf("temperature = %v, want 21.5", got)
	}

	// The cache follows the source.
	src.currentMA.Store(1000)
	waitFor(t, func() bool { return monitor.LatestCurrent().Value == 0.001 })
}

func TestMonitorToleratesTemperatureErrors(t *testing.T) {
	src := &fakeSource{}
	src.voltage.Store(12000)
	src.tempErr.Store(true)

	monitor := sensors.NewMonitor(src, 5*time.Millisecond, zap.NewNop())
	monitor.Start()
	defer monitor.Stop()

	waitFor(t, func() bool { return !monitor.LatestVoltage().At.IsZero() })

	// Current and voltage keep flowing; temperature just stays zero.
	if got := monitor.LatestTemperature(); !got.At.IsZero() {
		t.Errorf("temperature reading = %+v, want zero value", got)
	}
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	monitor := sensors.NewMonitor(&fakeSource{}, 5*time.Millisecond, zap.NewNop())
	monitor.Start()
	monitor.Start()
	monitor.Stop()
	monitor.Stop()
}
