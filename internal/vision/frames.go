package vision

import (
	"context"
	"image"
	"image/color"
	"sync"
)

// SyntheticFrameSource renders a dark vertical bar whose waist narrows on
// every capture. Used for bench-less runs and tests.
type SyntheticFrameSource struct {
	// WaistWidthsPx is consumed one entry per capture; the last entry
	// repeats once exhausted.
	WaistWidthsPx []float64

	mu  sync.Mutex
	idx int
}

func (s *SyntheticFrameSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	width := 40.0
	if len(s.WaistWidthsPx) > 0 {
		i := s.idx
		if i >= len(s.WaistWidthsPx) {
			i = len(s.WaistWidthsPx) - 1
		}
		width = s.WaistWidthsPx[i]
		s.idx++
	}
	s.mu.Unlock()

	return RenderBar(128, 128, 60, width), nil
}

// RenderBar draws a dark bar of barWidth px that necks down to waistWidth px
// at mid-height, on a bright background.
func RenderBar(w, h int, barWidth, waistWidth float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 230})
		}
	}

	center := float64(w) / 2
	mid := float64(h) / 2
	for y := 0; y < h; y++ {
		// Linear taper toward the waist at mid-height.
		t := 1 - (mid-absFloat(float64(y)-mid))/mid // 1 at edges, 0 at waist
		width := waistWidth + (barWidth-waistWidth)*t
		half := width / 2
		for x := int(center - half); x < int(center+half); x++ {
			if x >= 0 && x < w {
				img.SetGray(x, y, color.Gray{Y: 20})
			}
		}
	}
	return img
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
