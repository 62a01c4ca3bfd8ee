package camnode

import (
	"errors"
	"math"

	"github.com/straln/braidcore/internal/wire"
)

// ErrDetectorUnavailable is returned by a detector stub that models the
// wire shape of a detection kind without implementing the underlying
// vision algorithm.
var ErrDetectorUnavailable = errors.New("camnode: detector unavailable")

// Detector runs one detection algorithm over an acquired frame.
type Detector interface {
	Name() string
	Detect(f Frame) ([]wire.Point, error)
}

// BackgroundSubtractionDetector maintains a running-average background
// image and reports the centroid, area and orientation of each connected
// cluster of pixels that deviates from it by more than Threshold.
type BackgroundSubtractionDetector struct {
	Threshold byte

	background []float64 // same length as a frame's Pixels once seeded
	alpha      float64   // background update rate
}

// NewBackgroundSubtractionDetector creates a detector with the given
// foreground threshold and background update rate (0 < alpha <= 1;
// smaller values adapt the background more slowly).
func NewBackgroundSubtractionDetector(threshold byte, alpha float64) *BackgroundSubtractionDetector {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.02
	}
	return &BackgroundSubtractionDetector{Threshold: threshold, alpha: alpha}
}

func (d *BackgroundSubtractionDetector) Name() string { return "background_subtraction" }

func (d *BackgroundSubtractionDetector) Detect(f Frame) ([]wire.Point, error) {
	n := f.Width * f.Height
	if len(d.background) != n {
		d.background = make([]float64, n)
		for i, p := range f.Pixels {
			d.background[i] = float64(p)
		}
		return nil, nil // first frame seeds the background, no detections yet
	}

	fg := make([]bool, n)
	for i, p := range f.Pixels {
		diff := float64(p) - d.background[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > float64(d.Threshold) {
			fg[i] = true
		}
		d.background[i] += d.alpha * (float64(p) - d.background[i])
	}

	return clusterForegroundPixels(fg, f.Width, f.Height), nil
}

// clusterForegroundPixels finds 4-connected components of fg and returns
// one Point per component: area-weighted centroid, pixel count as Area,
// and the component's principal-axis angle as Orientation.
func clusterForegroundPixels(fg []bool, width, height int) []wire.Point {
	visited := make([]bool, len(fg))
	var points []wire.Point

	var stack []int
	for start, isFg := range fg {
		if !isFg || visited[start] {
			continue
		}

		stack = stack[:0]
		stack = append(stack, start)
		visited[start] = true

		var sumX, sumY, sumXX, sumYY, sumXY float64
		var count float64

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x := float64(idx % width)
			y := float64(idx / width)
			sumX += x
			sumY += y
			sumXX += x * x
			sumYY += y * y
			sumXY += x * y
			count++

			col := idx % width
			row := idx / width
			neighbors := []int{}
			if col > 0 {
				neighbors = append(neighbors, idx-1)
			}
			if col < width-1 {
				neighbors = append(neighbors, idx+1)
			}
			if row > 0 {
				neighbors = append(neighbors, idx-width)
			}
			if row < height-1 {
				neighbors = append(neighbors, idx+width)
			}
			for _, nb := range neighbors {
				if fg[nb] && !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}

		cx := sumX / count
		cy := sumY / count
		varX := sumXX/count - cx*cx
		varY := sumYY/count - cy*cy
		covXY := sumXY/count - cx*cy
		orientation := 0.5 * math.Atan2(2*covXY, varX-varY)

		points = append(points, wire.Point{
			Kind:        wire.PointBackgroundSubtraction,
			X:           cx,
			Y:           cy,
			Area:        count,
			Orientation: orientation,
		})
	}

	return points
}

// CentroidDetector emits a single intensity-weighted centroid over the
// whole frame, the trivial moment-based detector named in spec.md.
type CentroidDetector struct{}

func (CentroidDetector) Name() string { return "centroid" }

func (CentroidDetector) Detect(f Frame) ([]wire.Point, error) {
	var sumX, sumY, sumW float64
	for i, p := range f.Pixels {
		w := float64(p)
		if w == 0 {
			continue
		}
		x := float64(i % f.Width)
		y := float64(i / f.Width)
		sumX += w * x
		sumY += w * y
		sumW += w
	}
	if sumW == 0 {
		return nil, nil
	}
	return []wire.Point{{Kind: wire.PointCentroid, X: sumX / sumW, Y: sumY / sumW}}, nil
}

// AprilTagDetector models the AprilTag detection wire shape
// (tag id + homography) without implementing fiducial detection.
type AprilTagDetector struct{}

func (AprilTagDetector) Name() string { return "april_tag" }

func (AprilTagDetector) Detect(Frame) ([]wire.Point, error) {
	return nil, ErrDetectorUnavailable
}

// CheckerboardDetector models the rate-limited checkerboard-corner
// detector's presence in the detector chain without implementing corner
// detection.
type CheckerboardDetector struct{}

func (CheckerboardDetector) Name() string { return "checkerboard" }

func (CheckerboardDetector) Detect(Frame) ([]wire.Point, error) {
	return nil, ErrDetectorUnavailable
}
