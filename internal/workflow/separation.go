package workflow

import (
	"time"

	"go.uber.org/zap"
)

// seekSeparation oscillates the finished specimen at the polishing zero and
// watches the cell current for a drop below the rolling baseline, which
// marks the moment the lower wire half detaches. A watcher goroutine samples
// the sensor monitor's cache on its own cadence, so detection latency does
// not depend on the waveform period and the stage never pauses to measure.
func (r *runner) seekSeparation(zero float64) error {
	s := r.rec.Separation
	if s.DropMA <= 0 || s.Window <= 0 {
		return nil
	}

	w := r.rec.Waveform
	center := zero + w.CenterOffsetMM
	low := center - w.AmplitudeMM
	high := center + w.AmplitudeMM
	half := w.Period / 2
	feed := 4 * w.AmplitudeMM / w.Period.Minutes()

	if err := r.moveZ(high, r.cal.Feeds.Approach); err != nil {
		return err
	}

	detected := make(chan struct{})
	stopWatch := r.watchSeparation(s.DropMA, detected)
	defer stopWatch()

	deadline := time.Now().Add(s.Window)
	target := low
	for time.Now().Before(deadline) {
		select {
		case <-detected:
			return nil
		default:
		}
		if err := r.stroke(target, feed, half, deadline); err != nil {
			return err
		}
		if target == low {
			target = high
		} else {
			target = low
		}
	}

	stopWatch()
	select {
	case <-detected:
		return nil
	default:
	}
	return ErrSeparationTimeout
}

// watchSeparation samples the cached cell current once per separation
// cadence and closes detected when a reading falls at least dropMA below
// the rolling baseline mean. The returned stop is idempotent.
func (r *runner) watchSeparation(dropMA float64, detected chan struct{}) func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		ticker := time.NewTicker(r.e.settings.SeparationCadence)
		defer ticker.Stop()

		baseline := make([]float64, 0, r.e.settings.BaselineWindow)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				currentMA := r.e.deps.Sensors.LatestCurrent().Value * 1000
				if len(baseline) > 0 && mean(baseline)-currentMA >= dropMA {
					r.log.Info("separation detected",
						zap.Float64("current_ma", currentMA),
						zap.Float64("baseline_ma", mean(baseline)))
					close(detected)
					return
				}
				baseline = append(baseline, currentMA)
				if len(baseline) > r.e.settings.BaselineWindow {
					baseline = baseline[1:]
				}
			}
		}
	}()

	return func() {
		select {
		case <-done:
		default:
			close(done)
		}
		<-finished
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
