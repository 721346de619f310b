package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/vision"
)

// inspect captures a frame at the camera position and converts the thinnest
// cross-section into microns. A failed capture or segmentation gets exactly
// one retry before the job fails with an imaging reason.
func (r *runner) inspect(iteration int) (Measurement, error) {
	if err := r.check(); err != nil {
		return Measurement{}, err
	}

	m, err := r.measureOnce()
	if err != nil {
		r.log.Warn("thickness measurement failed, retrying", zap.Error(err))
		m, err = r.measureOnce()
		if err != nil {
			return Measurement{}, &imagingError{err: err}
		}
	}

	return Measurement{
		At:        time.Now().UTC(),
		Iteration: iteration,
		WidthPx:   m.MinWidthPx,
		WidthUm:   m.MinWidthPx * r.cal.MicronsPerPixel,
	}, nil
}

func (r *runner) measureOnce() (vision.Measurement, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.e.settings.ImageTimeout)
	defer cancel()

	img, err := r.e.deps.Frames.Capture(ctx)
	if err != nil {
		return vision.Measurement{}, err
	}
	return r.e.deps.Analyzer.Analyze(img)
}
