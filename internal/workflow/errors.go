package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ferralab/prepcore/internal/instrument"
	"github.com/ferralab/prepcore/internal/motion"
	"github.com/ferralab/prepcore/internal/vision"
)

// PreconditionError rejects an enqueue synchronously. Jobs that fail this
// way never enter the state machine.
type PreconditionError struct {
	Msg string
	Err error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("precondition failed: %s: %v", e.Msg, e.Err)
	}
	return "precondition failed: " + e.Msg
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func preconditionf(format string, args ...any) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

var (
	// ErrNoContact: max depth reached without a confirmed contact event.
	ErrNoContact = errors.New("no electrolyte contact within max depth")
	// ErrSeparationTimeout: detection window elapsed without a current drop.
	ErrSeparationTimeout = errors.New("separation not detected within window")
	// ErrUnsupportedConfiguration: recipe selects a recognized but
	// unimplemented behavior, e.g. charge-based cycle termination.
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")
	// ErrNoOutputSlot: every output slot was occupied at placement time.
	ErrNoOutputSlot = errors.New("no free output slot")
	// ErrJobNotFound is returned for lookups of unknown job ids.
	ErrJobNotFound = errors.New("job not found")
)

// imagingError marks a capture/measurement failure that survived its retry.
type imagingError struct {
	err error
}

func (e *imagingError) Error() string {
	return fmt.Sprintf("imaging failure: %v", e.err)
}

func (e *imagingError) Unwrap() error {
	return e.err
}

// thicknessError marks an exhausted polish/inspect iteration budget.
type thicknessError struct {
	iterations int
	lastUm     float64
}

func (e *thicknessError) Error() string {
	return fmt.Sprintf("thickness not reached after %d iterations (last %.1f um)", e.iterations, e.lastUm)
}

// classify maps an execution error onto the reason code recorded on the job.
func classify(err error) Reason {
	var motionErr *motion.Error
	var instErr *instrument.Error
	var imgErr *imagingError
	var thickErr *thicknessError

	switch {
	case errors.As(err, &instErr):
		return ReasonInstrumentError
	case errors.As(err, &motionErr):
		if motion.IsTimeout(err) {
			return ReasonMotionTimeout
		}
		return ReasonMotionError
	case errors.Is(err, ErrNoContact):
		return ReasonNoContact
	case errors.Is(err, ErrSeparationTimeout):
		return ReasonSeparationTimeout
	case errors.Is(err, ErrUnsupportedConfiguration):
		return ReasonUnsupportedConfig
	case errors.Is(err, ErrNoOutputSlot):
		return ReasonNoOutputSlot
	case errors.Is(err, vision.ErrNoMeasurableSection), errors.As(err, &imgErr):
		return ReasonImagingFailure
	case errors.As(err, &thickErr):
		return ReasonThicknessNotReached
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonMotionTimeout
	default:
		return ReasonMotionError
	}
}
