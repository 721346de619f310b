package vision

import (
	"context"
	"errors"
	"image"
	"math"
	"sort"
)

// ErrNoMeasurableSection is returned when no specimen silhouette can be
// segmented from the frame. The workflow treats it as transient and retries
// the capture once before failing the job.
var ErrNoMeasurableSection = errors.New("no measurable section in frame")

// Measurement is the thinnest horizontal cross-section of the specimen.
type Measurement struct {
	MinWidthPx float64
	Row        int
}

// FrameSource supplies captured frames from the inspection camera.
type FrameSource interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Analyzer turns a frame into a width measurement.
type Analyzer interface {
	Analyze(img image.Image) (Measurement, error)
}

// WidthProfileAnalyzer measures a vertically oriented specimen that appears
// dark on a bright background: Otsu threshold, largest connected component,
// per-row width profile, median smoothing, minimum row.
type WidthProfileAnalyzer struct {
	// MedianWindow is the smoothing window for the width profile. Must be
	// odd; zero selects the default of 11 rows.
	MedianWindow int
}

func (a *WidthProfileAnalyzer) Analyze(img image.Image) (Measurement, error) {
	gray := toGray(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return Measurement{}, ErrNoMeasurableSection
	}

	threshold := otsuThreshold(gray)

	// Specimen dark on bright background: foreground below the threshold.
	mask := make([]bool, w*h)
	count := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y
			if v < threshold {
				mask[y*w+x] = true
				count++
			}
		}
	}
	if count == 0 {
		return Measurement{}, ErrNoMeasurableSection
	}

	keepLargestComponent(mask, w, h)

	widths := make([]float64, h)
	for y := 0; y < h; y++ {
		left, right := -1, -1
		for x := 0; x < w; x++ {
			if mask[y*w+x] {
				if left < 0 {
					left = x
				}
				right = x
			}
		}
		if left < 0 {
			widths[y] = math.Inf(1)
			continue
		}
		widths[y] = float64(right - left + 1)
	}

	window := a.MedianWindow
	if window == 0 {
		window = 11
	}
	smoothed := medianFilter(widths, window)

	minRow, minWidth := -1, math.Inf(1)
	for y, width := range smoothed {
		if width < minWidth {
			minWidth = width
			minRow = y
		}
	}
	if minRow < 0 || math.IsInf(minWidth, 1) {
		return Measurement{}, ErrNoMeasurableSection
	}

	return Measurement{MinWidthPx: minWidth, Row: minRow}, nil
}

func toGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return gray
}

// otsuThreshold picks the grey level that maximizes between-class variance.
func otsuThreshold(gray *image.Gray) uint8 {
	var histogram [256]int
	bounds := gray.Bounds()
	total := bounds.Dx() * bounds.Dy()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			histogram[gray.GrayAt(x, y).Y]++
		}
	}

	var sum float64
	for level, n := range histogram {
		sum += float64(level) * float64(n)
	}

	var sumBack, weightBack float64
	best, bestVariance := uint8(0), -1.0
	for level := 0; level < 256; level++ {
		weightBack += float64(histogram[level])
		if weightBack == 0 {
			continue
		}
		weightFore := float64(total) - weightBack
		if weightFore == 0 {
			break
		}
		sumBack += float64(level) * float64(histogram[level])

		meanBack := sumBack / weightBack
		meanFore := (sum - sumBack) / weightFore
		variance := weightBack * weightFore * (meanBack - meanFore) * (meanBack - meanFore)
		if variance > bestVariance {
			bestVariance = variance
			best = uint8(level)
		}
	}
	return best
}

// keepLargestComponent clears every 4-connected foreground component except
// the largest one.
func keepLargestComponent(mask []bool, w, h int) {
	labels := make([]int, len(mask))
	sizes := []int{0} // label 0 is background
	next := 1

	var queue []int
	for start := range mask {
		if !mask[start] || labels[start] != 0 {
			continue
		}
		label := next
		next++
		size := 0
		queue = append(queue[:0], start)
		labels[start] = label
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			size++
			x, y := idx%w, idx/w
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				nidx := ny*w + nx
				if mask[nidx] && labels[nidx] == 0 {
					labels[nidx] = label
					queue = append(queue, nidx)
				}
			}
		}
		sizes = append(sizes, size)
	}

	largest, largestSize := 0, 0
	for label := 1; label < len(sizes); label++ {
		if sizes[label] > largestSize {
			largest = label
			largestSize = sizes[label]
		}
	}
	for idx := range mask {
		mask[idx] = labels[idx] == largest && largest != 0
	}
}

func medianFilter(values []float64, window int) []float64 {
	if window < 2 || len(values) == 0 {
		return values
	}
	half := window / 2
	out := make([]float64, len(values))
	buf := make([]float64, 0, window)
	for i := range values {
		buf = buf[:0]
		for j := i - half; j <= i+half; j++ {
			if j < 0 || j >= len(values) {
				continue
			}
			buf = append(buf, values[j])
		}
		sort.Float64s(buf)
		out[i] = buf[len(buf)/2]
	}
	return out
}
