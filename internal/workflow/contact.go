package workflow

import (
	"context"
	"math"

	"go.uber.org/zap"
)

// seekContact lowers the specimen from the beaker approach height in fixed
// steps until the cell current confirms electrolyte contact. The confirmed
// zero is the commanded height after the k-th step, start - k*step, so it
// is exact regardless of sensor latency. Descending the full max depth
// without contact is ErrNoContact.
func (r *runner) seekContact() (float64, error) {
	c := r.rec.Contact
	start := r.cal.Beaker[2]

	if err := r.moveZ(start, r.cal.Feeds.Rapid); err != nil {
		return 0, err
	}

	maxSteps := int(math.Ceil(c.MaxDepthMM / c.StepMM))
	for k := 1; k <= maxSteps; k++ {
		z := start - float64(k)*c.StepMM
		if err := r.moveZ(z, r.cal.Feeds.Approach); err != nil {
			return 0, err
		}
		if c.Settle > 0 {
			if err := r.sleep(c.Settle); err != nil {
				return 0, err
			}
		}

		contact, err := r.confirmContact()
		if err != nil {
			return 0, err
		}
		if contact {
			r.log.Debug("contact current confirmed",
				zap.Int("step", k), zap.Float64("z_mm", z))
			if c.RetractMM > 0 {
				if err := r.moveZ(z+c.RetractMM, r.cal.Feeds.Approach); err != nil {
					return 0, err
				}
			}
			return z, nil
		}
	}
	return 0, ErrNoContact
}

// confirmContact requires the configured number of consecutive readings at
// or above the detection threshold. A single reading below it resets the
// decision for this step.
func (r *runner) confirmContact() (bool, error) {
	c := r.rec.Contact

	for i := 0; i < c.Confirm; i++ {
		if err := r.check(); err != nil {
			return false, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.e.settings.MoveTimeout)
		amps, err := r.e.deps.Power.MeasureCurrent(ctx)
		cancel()
		if err != nil {
			return false, err
		}
		if amps*1000 < c.ThresholdMA {
			return false, nil
		}
	}
	return true, nil
}
