// Package segmentation produces and analyzes binary pharynx masks. It
// provides connected-component labeling with a largest-object policy, second
// moment region properties used by the pose normalizer and midline fitter,
// and the bounded threshold search that segments pharynxes from raw
// fluorescence frames.
package segmentation

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"pharynxredox/pkg/stack"
)

// Region describes a single connected foreground component of a mask.
type Region struct {
	// Area is the number of foreground pixels.
	Area int

	// CentroidRow and CentroidCol are the mean row/column of the foreground
	// pixels.
	CentroidRow float64
	CentroidCol float64

	// MinRow, MinCol, MaxRow, MaxCol are the inclusive bounding box of the
	// region.
	MinRow, MinCol int
	MaxRow, MaxCol int

	// rows and cols hold the pixel coordinates of the region.
	rows []float64
	cols []float64
}

// Coords returns the row and column coordinates of every pixel in the region.
func (r *Region) Coords() (rows, cols []float64) {
	return r.rows, r.cols
}

// Orientation returns the angle between the row (vertical) axis and the
// region's principal axis, in radians, following the convention of classical
// second-moment region analysis. The pose normalizer aligns a region to
// horizontal by rotating it by pi/2 minus this angle.
func (r *Region) Orientation() float64 {
	if r.Area < 2 {
		return math.Pi / 2
	}
	covRR := stat.Variance(r.rows, nil)
	covCC := stat.Variance(r.cols, nil)
	covRC := stat.Covariance(r.rows, r.cols, nil)

	// Principal axis angle from the column (horizontal) axis, positive toward
	// increasing rows.
	theta := 0.5 * math.Atan2(2*covRC, covCC-covRR)
	orientation := math.Pi/2 - theta
	if orientation > math.Pi/2 {
		orientation -= math.Pi
	}
	return orientation
}

// Label performs 8-connected component labeling on a mask frame. Labels start
// at 1; 0 is background. It returns the label image and the number of labels.
func Label(mask stack.MaskFrame) ([]int, int) {
	labels := make([]int, mask.Rows*mask.Cols)
	next := 0

	// Iterative flood fill with an explicit queue to avoid recursion depth
	// issues on large regions.
	queue := make([][2]int, 0, 64)
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			if !mask.At(r, c) || labels[r*mask.Cols+c] != 0 {
				continue
			}
			next++
			labels[r*mask.Cols+c] = next
			queue = append(queue[:0], [2]int{r, c})
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				for dr := -1; dr <= 1; dr++ {
					for dc := -1; dc <= 1; dc++ {
						nr, nc := p[0]+dr, p[1]+dc
						if nr < 0 || nr >= mask.Rows || nc < 0 || nc >= mask.Cols {
							continue
						}
						if mask.At(nr, nc) && labels[nr*mask.Cols+nc] == 0 {
							labels[nr*mask.Cols+nc] = next
							queue = append(queue, [2]int{nr, nc})
						}
					}
				}
			}
		}
	}

	return labels, next
}

// LargestRegion returns the largest connected foreground component of the
// mask, or nil when the mask has no foreground pixels. When a mask contains
// multiple disjoint objects the largest one is the documented policy; ties
// resolve to the first label encountered in scan order.
func LargestRegion(mask stack.MaskFrame) *Region {
	labels, n := Label(mask)
	if n == 0 {
		return nil
	}

	counts := make([]int, n+1)
	for _, l := range labels {
		if l > 0 {
			counts[l]++
		}
	}
	best := 1
	for l := 2; l <= n; l++ {
		if counts[l] > counts[best] {
			best = l
		}
	}

	region := &Region{
		MinRow: mask.Rows, MinCol: mask.Cols,
		MaxRow: -1, MaxCol: -1,
		rows: make([]float64, 0, counts[best]),
		cols: make([]float64, 0, counts[best]),
	}
	var sumR, sumC float64
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			if labels[r*mask.Cols+c] != best {
				continue
			}
			region.Area++
			sumR += float64(r)
			sumC += float64(c)
			region.rows = append(region.rows, float64(r))
			region.cols = append(region.cols, float64(c))
			if r < region.MinRow {
				region.MinRow = r
			}
			if r > region.MaxRow {
				region.MaxRow = r
			}
			if c < region.MinCol {
				region.MinCol = c
			}
			if c > region.MaxCol {
				region.MaxCol = c
			}
		}
	}
	region.CentroidRow = sumR / float64(region.Area)
	region.CentroidCol = sumC / float64(region.Area)

	return region
}

// ExtractLargestObject clears every foreground pixel that does not belong to
// the largest connected component, in place. Masks without foreground are
// left untouched.
func ExtractLargestObject(mask stack.MaskFrame) {
	labels, n := Label(mask)
	if n == 0 {
		return
	}

	counts := make([]int, n+1)
	for _, l := range labels {
		if l > 0 {
			counts[l]++
		}
	}
	best := 1
	for l := 2; l <= n; l++ {
		if counts[l] > counts[best] {
			best = l
		}
	}

	for i, l := range labels {
		mask.Pix[i] = l == best
	}
}

// CentroidOverAll returns the mean row/column over every foreground pixel of
// the mask, regardless of connectivity. This mirrors how the pose normalizer
// computes the translation target. Returns false when the mask is empty.
func CentroidOverAll(mask stack.MaskFrame) (row, col float64, ok bool) {
	var sumR, sumC float64
	n := 0
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			if mask.At(r, c) {
				sumR += float64(r)
				sumC += float64(c)
				n++
			}
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return sumR / float64(n), sumC / float64(n), true
}
