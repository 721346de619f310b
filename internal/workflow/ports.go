package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/instrument"
	"github.com/ferralab/prepcore/internal/motion"
	"github.com/ferralab/prepcore/internal/recipe"
	"github.com/ferralab/prepcore/internal/sensors"
	"github.com/ferralab/prepcore/internal/telemetry"
	"github.com/ferralab/prepcore/internal/vision"
)

// RecipeStore resolves named recipes at enqueue time. Absence or malformed
// content surfaces as a PreconditionError, never a runtime failure.
type RecipeStore interface {
	Load(name string) (recipe.Recipe, error)
	Dir() string
}

// Recorder persists job lifecycle data. Implementations log their own
// failures; a broken recorder must not stop a running job.
type Recorder interface {
	JobEnqueued(ctx context.Context, job JobView) error
	JobTransition(ctx context.Context, job JobView, event Event) error
}

// ZeroSaver persists the confirmed polishing zero between runs.
type ZeroSaver interface {
	SetLastPolishZero(z float64) error
}

// Deps are the external collaborators of the engine. Motion, Power,
// Sensors, Frames, Analyzer and Recipes are required; the rest default to
// no-ops.
type Deps struct {
	Motion      motion.Port
	Power       instrument.Port
	Sensors     sensors.Port
	Frames      vision.FrameSource
	Analyzer    vision.Analyzer
	Recipes     RecipeStore
	Calibration recipe.Calibration
	ZeroSaver   ZeroSaver
	Recorder    Recorder
	Sink        telemetry.Sink
	Logger      *zap.Logger
}

// Settings are engine-level timing knobs, independent of any recipe.
type Settings struct {
	DefaultRecipe     string
	SampleInterval    time.Duration
	MoveTimeout       time.Duration
	MacroTimeout      time.Duration
	ImageTimeout      time.Duration
	SeparationCadence time.Duration
	BaselineWindow    int
}

func (s *Settings) applyDefaults() {
	if s.SampleInterval <= 0 {
		s.SampleInterval = 500 * time.Millisecond
	}
	if s.MoveTimeout <= 0 {
		s.MoveTimeout = 30 * time.Second
	}
	if s.MacroTimeout <= 0 {
		s.MacroTimeout = 2 * time.Minute
	}
	if s.ImageTimeout <= 0 {
		s.ImageTimeout = 10 * time.Second
	}
	if s.SeparationCadence <= 0 {
		s.SeparationCadence = 250 * time.Millisecond
	}
	if s.BaselineWindow <= 0 {
		s.BaselineWindow = 8
	}
}
