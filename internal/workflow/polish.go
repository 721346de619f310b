package workflow

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/recipe"
	"github.com/ferralab/prepcore/internal/telemetry"
)

// polish runs one polishing segment: a Z oscillation about the contact zero
// while telemetry samples stream to the sink. Time mode stops at the
// duration, with at most one commanded move still in flight; count mode
// runs whole cycles.
func (r *runner) polish(zero float64) error {
	w := r.rec.Waveform
	cyc := r.rec.Cycle
	if cyc.Mode == recipe.ModeCharge {
		return fmt.Errorf("cycle mode %q: %w", cyc.Mode, ErrUnsupportedConfiguration)
	}

	center := zero + w.CenterOffsetMM
	low := center - w.AmplitudeMM
	high := center + w.AmplitudeMM
	half := w.Period / 2
	// One full cycle travels four amplitudes.
	feed := 4 * w.AmplitudeMM / w.Period.Minutes()

	stopSampling := r.startSampler(cyc)
	defer stopSampling()

	start := time.Now()
	var deadline time.Time
	if cyc.Mode == recipe.ModeTime {
		deadline = start.Add(cyc.Duration)
	}
	cycles := 0
	for {
		if err := r.stroke(low, feed, half, deadline); err != nil {
			return err
		}
		if cyc.Mode == recipe.ModeTime && !time.Now().Before(deadline) {
			break
		}

		if err := r.stroke(high, feed, half, deadline); err != nil {
			return err
		}
		cycles++
		if cyc.Mode == recipe.ModeTime && !time.Now().Before(deadline) {
			break
		}
		if cyc.Mode == recipe.ModeCount && cycles >= cyc.Count {
			break
		}
	}

	samples := stopSampling()
	r.log.Info("polishing segment finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("cycles", cycles),
		zap.Int("samples", samples),
		zap.Float64("z_mm", r.e.Snapshot().Position.Z))
	return nil
}

// stroke issues one half-oscillation and pads out the remainder of the half
// period, so simulated stages keep real-time pacing. The pad is truncated
// at the deadline when one is set.
func (r *runner) stroke(z, feed float64, half time.Duration, deadline time.Time) error {
	began := time.Now()
	if err := r.moveZ(z, feed); err != nil {
		return err
	}
	rem := half - time.Since(began)
	if !deadline.IsZero() {
		if until := time.Until(deadline); until < rem {
			rem = until
		}
	}
	if rem > 0 {
		return r.sleep(rem)
	}
	return nil
}

// startSampler emits one telemetry sample immediately and then one per
// sample interval for as long as the segment runs. A time-mode segment of
// duration T therefore yields ceil(T / interval) samples. The returned stop
// is idempotent and reports how many samples were taken.
func (r *runner) startSampler(cyc recipe.Cycle) func() int {
	interval := r.e.settings.SampleInterval
	done := make(chan struct{})
	finished := make(chan struct{})
	count := 0

	go func() {
		defer close(finished)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		start := time.Now()
		r.sample()
		count = 1
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if cyc.Mode == recipe.ModeTime && time.Since(start) >= cyc.Duration {
					return
				}
				r.sample()
				count++
			}
		}
	}()

	return func() int {
		select {
		case <-done:
		default:
			close(done)
		}
		<-finished
		return count
	}
}

func (r *runner) sample() {
	r.e.deps.Sink.Append(telemetry.Sample{
		At:          time.Now().UTC(),
		Voltage:     r.e.deps.Sensors.LatestVoltage().Value,
		Current:     r.e.deps.Sensors.LatestCurrent().Value,
		Temperature: r.e.deps.Sensors.LatestTemperature().Value,
		Position:    r.e.Snapshot().Position,
	})
}
