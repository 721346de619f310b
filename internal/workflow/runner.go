package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/motion"
	"github.com/ferralab/prepcore/internal/recipe"
)

// runner executes a single job on the engine's worker goroutine. Motion is
// issued with its own deadline contexts; cancellation is checked between
// commands, so an in-flight move always completes before the job unwinds.
type runner struct {
	e   *Engine
	ctx context.Context
	job *Job
	rec recipe.Recipe
	cal recipe.Calibration
	log *zap.Logger
}

func (e *Engine) execute(ctx context.Context, job *Job) {
	r := &runner{
		e:   e,
		ctx: ctx,
		job: job,
		rec: job.Recipe,
		cal: e.deps.Calibration,
		log: e.logger.With(zap.String("job", job.ID.String()), zap.String("specimen", job.Specimen)),
	}

	r.log.Info("job started", zap.String("recipe", job.Recipe.Name))
	err := r.run()

	switch {
	case err == nil:
		e.completeDone(job)
		r.log.Info("job done")
	case errors.Is(err, context.Canceled):
		r.recover()
		e.completeTerminal(job, StateAborted, ReasonNone, "")
		r.log.Info("job aborted")
	default:
		reason := classify(err)
		// A charge-mode job is rejected before the stage ever moves, so
		// there is nothing to retract from.
		if reason != ReasonUnsupportedConfig {
			r.recover()
		}
		e.setLastError(err.Error())
		e.completeTerminal(job, StateFailed, reason, err.Error())
		r.log.Error("job failed", zap.String("reason", string(reason)), zap.Error(err))
	}

	e.mu.Lock()
	e.active = nil
	e.activeCancel = nil
	e.mu.Unlock()
}

func (r *runner) run() error {
	// A charge-terminated cycle is recognized but not implemented. Reject
	// it here so the stage never moves for such a job.
	if r.rec.Cycle.Mode == recipe.ModeCharge {
		return fmt.Errorf("cycle mode %q: %w", r.rec.Cycle.Mode, ErrUnsupportedConfiguration)
	}

	src, err := r.e.slotDef(r.job.SourceSlot)
	if err != nil {
		return err
	}

	r.step(StateMovingToPickup)
	if err := r.moveZ(r.rec.SafeZMM, r.cal.Feeds.Rapid); err != nil {
		return err
	}
	if err := r.moveXY(src.Position[0], src.Position[1]); err != nil {
		return err
	}

	r.step(StatePicking)
	if err := r.runMacro(r.rec.PickupMacro); err != nil {
		return err
	}
	if err := r.moveZ(r.rec.SafeZMM, r.cal.Feeds.Rapid); err != nil {
		return err
	}

	r.step(StateMovingToBeaker)
	if err := r.moveXY(r.cal.Beaker[0], r.cal.Beaker[1]); err != nil {
		return err
	}

	if err := r.configurePower(); err != nil {
		return err
	}

	r.step(StateSeekingContact)
	zero, err := r.seekContact()
	if err != nil {
		return err
	}
	r.setPolishZero(zero)
	if r.e.deps.ZeroSaver != nil {
		if err := r.e.deps.ZeroSaver.SetLastPolishZero(zero); err != nil {
			r.log.Warn("persisting polish zero failed", zap.Error(err))
		}
	}

	for iter := 1; ; iter++ {
		r.step(StatePolishing)
		if err := r.polish(zero); err != nil {
			return err
		}

		r.step(StateMovingToInspect)
		if err := r.moveZ(r.rec.SafeZMM, r.cal.Feeds.Rapid); err != nil {
			return err
		}
		// The camera Z offset is relative to the confirmed zero, so the
		// specimen sits in the calibrated frame whatever its contact height.
		inspect := motion.Position{
			X: r.cal.Beaker[0] + r.cal.CameraOffset[0],
			Y: r.cal.Beaker[1] + r.cal.CameraOffset[1],
			Z: zero + r.cal.CameraOffset[2],
		}
		if err := r.moveXY(inspect.X, inspect.Y); err != nil {
			return err
		}
		if err := r.moveZ(inspect.Z, r.cal.Feeds.Rapid); err != nil {
			return err
		}

		r.step(StateInspecting)
		meas, err := r.inspect(iter)
		if err != nil {
			return err
		}
		r.appendMeasurement(meas)

		r.step(StateEvaluatingThickness)
		r.log.Info("thickness evaluated",
			zap.Int("iteration", iter),
			zap.Float64("width_um", meas.WidthUm),
			zap.Float64("threshold_um", r.rec.Imaging.ThresholdUm))
		if meas.WidthUm <= r.rec.Imaging.ThresholdUm {
			break
		}
		if iter >= r.rec.Imaging.MaxIterations {
			return &thicknessError{iterations: iter, lastUm: meas.WidthUm}
		}
		if r.rec.Imaging.Interval > 0 {
			if err := r.sleep(r.rec.Imaging.Interval); err != nil {
				return err
			}
		}

		r.step(StateMovingToBeaker)
		if err := r.moveZ(r.rec.SafeZMM, r.cal.Feeds.Rapid); err != nil {
			return err
		}
		if err := r.moveXY(r.cal.Beaker[0], r.cal.Beaker[1]); err != nil {
			return err
		}
	}

	r.step(StateSeekingSeparation)
	if err := r.moveZ(r.rec.SafeZMM, r.cal.Feeds.Rapid); err != nil {
		return err
	}
	if err := r.moveXY(r.cal.Beaker[0], r.cal.Beaker[1]); err != nil {
		return err
	}
	switch err := r.seekSeparation(zero); {
	case err == nil:
	case errors.Is(err, ErrSeparationTimeout):
		// The wire usually detaches during the final polish; an undetected
		// drop is not worth scrapping the specimen over. Note it and move on.
		r.log.Warn("separation window elapsed without a current drop")
		r.setReason(ReasonSeparationTimeout)
	default:
		return err
	}
	if err := r.powerOff(); err != nil {
		return err
	}

	r.step(StateMovingToClean)
	if err := r.moveZ(r.rec.SafeZMM, r.cal.Feeds.Rapid); err != nil {
		return err
	}

	r.step(StateCleaning)
	if r.rec.Cleaning.Rinse > 0 {
		if err := r.moveZ(r.cal.CleanImmersionZ, r.cal.Feeds.Approach); err != nil {
			return err
		}
		if err := r.sleep(r.rec.Cleaning.Rinse); err != nil {
			return err
		}
		if err := r.moveZ(r.rec.SafeZMM, r.cal.Feeds.Rapid); err != nil {
			return err
		}
	}

	dest, err := r.e.claimOutputSlot(r.job)
	if err != nil {
		return err
	}

	r.step(StateMovingToStore)
	if err := r.moveXY(dest.Position[0], dest.Position[1]); err != nil {
		return err
	}

	r.step(StatePlacing)
	if err := r.runMacro(r.rec.PlaceMacro); err != nil {
		return err
	}
	return r.moveZ(r.rec.SafeZMM, r.cal.Feeds.Rapid)
}

// recover retracts to the safe height with its own context so that both
// failed and aborted jobs end clear of the electrolyte. Power goes off
// first; a misbehaving supply must not stay live under a stuck stage.
func (r *runner) recover() {
	ctx, cancel := context.WithTimeout(context.Background(), r.e.settings.MoveTimeout)
	defer cancel()

	if err := r.e.deps.Power.Enable(ctx, false); err != nil {
		r.log.Error("disabling power during recovery failed", zap.Error(err))
	}
	r.e.setMoving(true)
	if err := r.e.deps.Motion.MoveZ(ctx, r.rec.SafeZMM, r.cal.Feeds.Rapid); err != nil {
		r.log.Error("retract to safe height failed", zap.Error(err))
	}
	r.e.setMoving(false)
	r.refreshPosition(ctx)
}

func (r *runner) step(state State) {
	r.e.transition(r.job, state)
}

// check is the cooperative cancellation point between commands.
func (r *runner) check() error {
	select {
	case <-r.ctx.Done():
		return context.Canceled
	default:
		return nil
	}
}

func (r *runner) sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.ctx.Done():
		return context.Canceled
	case <-timer.C:
		return nil
	}
}

func (r *runner) moveZ(z, feed float64) error {
	if err := r.check(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.e.settings.MoveTimeout)
	defer cancel()

	r.e.setMoving(true)
	err := r.e.deps.Motion.MoveZ(ctx, z, feed)
	r.e.setMoving(false)
	r.refreshPosition(ctx)
	return err
}

func (r *runner) moveXY(x, y float64) error {
	if err := r.check(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.e.settings.MoveTimeout)
	defer cancel()

	r.e.setMoving(true)
	err := r.e.deps.Motion.MoveXY(ctx, x, y, r.cal.Feeds.Rapid)
	r.e.setMoving(false)
	r.refreshPosition(ctx)
	return err
}

func (r *runner) runMacro(name string) error {
	if err := r.check(); err != nil {
		return err
	}
	macro, ok := r.rec.Macros[name]
	if !ok {
		return fmt.Errorf("recipe %q has no macro %q", r.rec.Name, name)
	}
	lines, err := motion.LoadMacro(r.e.deps.Recipes.Dir(), name, macro.File)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.e.settings.MacroTimeout)
	defer cancel()

	r.e.setMoving(true)
	err = r.e.deps.Motion.RunMacro(ctx, name, lines)
	r.e.setMoving(false)
	r.refreshPosition(ctx)
	return err
}

func (r *runner) refreshPosition(ctx context.Context) {
	pos, err := r.e.deps.Motion.Position(ctx)
	if err != nil {
		return
	}
	r.e.setPosition(pos)
}

func (r *runner) configurePower() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.e.settings.MoveTimeout)
	defer cancel()

	if err := r.e.deps.Power.SetVoltage(ctx, r.rec.VoltageV); err != nil {
		return err
	}
	if err := r.e.deps.Power.SetCurrentLimit(ctx, r.rec.CurrentLimitA); err != nil {
		return err
	}
	return r.e.deps.Power.Enable(ctx, true)
}

func (r *runner) powerOff() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.e.settings.MoveTimeout)
	defer cancel()
	return r.e.deps.Power.Enable(ctx, false)
}

func (r *runner) setPolishZero(zero float64) {
	r.e.mu.Lock()
	z := zero
	r.job.PolishZero = &z
	r.e.mu.Unlock()
	r.log.Info("electrolyte contact confirmed", zap.Float64("zero_mm", zero))
}

func (r *runner) appendMeasurement(m Measurement) {
	r.e.mu.Lock()
	r.job.Measurements = append(r.job.Measurements, m)
	r.e.mu.Unlock()
}

func (r *runner) setReason(reason Reason) {
	r.e.mu.Lock()
	r.job.Reason = reason
	r.e.mu.Unlock()
}

func (e *Engine) slotDef(id string) (recipe.SlotDef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sl, ok := e.slots[id]
	if !ok {
		return recipe.SlotDef{}, fmt.Errorf("slot %q missing from calibration", id)
	}
	return sl.def, nil
}

// claimOutputSlot binds the first free output slot to the job. Occupancy
// itself only changes once the job completes.
func (e *Engine) claimOutputSlot(job *Job) (recipe.SlotDef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.slotOrder {
		sl := e.slots[id]
		if sl.def.Role != recipe.RoleOutput {
			continue
		}
		if sl.specimen != "" || sl.job != uuid.Nil {
			continue
		}
		sl.job = job.ID
		job.DestSlot = id
		return sl.def, nil
	}
	return recipe.SlotDef{}, ErrNoOutputSlot
}

func (e *Engine) completeDone(job *Job) {
	e.mu.Lock()
	if sl, ok := e.slots[job.SourceSlot]; ok && sl.job == job.ID {
		sl.specimen = ""
		sl.job = uuid.Nil
	}
	if sl, ok := e.slots[job.DestSlot]; ok && sl.job == job.ID {
		sl.specimen = job.Specimen
		sl.job = uuid.Nil
	}
	e.mu.Unlock()

	e.transition(job, StateDone)
}

// completeTerminal archives a failed or aborted job. The source slot stays
// bound until the operator acknowledges the job and clears the specimen.
func (e *Engine) completeTerminal(job *Job, state State, reason Reason, errMsg string) {
	e.mu.Lock()
	if reason != ReasonNone {
		job.Reason = reason
	}
	job.Err = errMsg
	if sl, ok := e.slots[job.DestSlot]; ok && sl.job == job.ID {
		sl.job = uuid.Nil
	}
	e.mu.Unlock()

	e.transition(job, state)
}
