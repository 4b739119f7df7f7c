// Package normalize rescales intensity profiles and images for comparison
// and visualization. Profile-based normalization subtracts a clipped mean and
// min-max rescales to [0, 1]; image-based z-normalization centers a frame on
// the statistics of its masked-in pixels.
package normalize

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"pharynxredox/pkg/stack"
)

// InvalidShapeError reports that a caller-provided array violates the
// documented dimensionality contract. It fails fast, before any computation.
type InvalidShapeError struct {
	What     string
	Expected string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("%s must have shape %s", e.What, e.Expected)
}

// clipStats returns the mean, min and max of the profile after trimming
// clipPercent/2 percent of the samples from each end. With clipPercent 0 the
// statistics cover the full profile.
func clipStats(profile []float64, clipPercent float64) (mean, min, max float64) {
	clip := int(float64(len(profile)) * clipPercent / 100)
	trimmed := profile
	if clip > 0 && 2*clip < len(profile) {
		trimmed = profile[clip : len(profile)-clip]
	}

	mean = stat.Mean(trimmed, nil)
	min, max = trimmed[0], trimmed[0]
	for _, v := range trimmed {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return mean, min, max
}

// Profiles normalizes a 2-D set of profiles (frame x position): each profile
// has its clipped mean subtracted, then is rescaled to [0, 1] by its clipped
// min/max. Output values outside the clipped window may exceed [0, 1]; they
// are not re-trimmed. A fresh set is returned; inputs are not modified.
//
// A flat profile (zero clipped range) normalizes to all zeros; that policy is
// deliberate so degenerate frames stay visibly inert instead of propagating
// NaNs.
func Profiles(profiles [][]float64, clipPercent float64) ([][]float64, error) {
	if len(profiles) == 0 {
		return nil, &InvalidShapeError{What: "profiles", Expected: "(frame, position) with at least one frame"}
	}
	width := len(profiles[0])
	for _, p := range profiles {
		if len(p) != width || width == 0 {
			return nil, &InvalidShapeError{What: "profiles", Expected: "(frame, position) with equal nonzero lengths"}
		}
	}

	out := make([][]float64, len(profiles))
	for i, p := range profiles {
		mean, min, max := clipStats(p, clipPercent)
		row := make([]float64, width)

		if max == min {
			out[i] = row
			continue
		}

		// Center on the clipped mean, then rescale by the min/max of the
		// centered profile. The range is unaffected by centering, so this
		// collapses to (v - min) / (max - min).
		for j, v := range p {
			row[j] = (v - mean - (min - mean)) / (max - min)
		}
		out[i] = row
	}
	return out, nil
}

// Images normalizes a 3-D image stack (frame x row x col) by the clipped
// statistics of the corresponding profiles: each frame is centered on its
// profile's clipped mean and rescaled by the profile's clipped range. Frames
// and profiles must be index-aligned along the first axis.
func Images(imgs []stack.Frame, profiles [][]float64, clipPercent float64) ([]stack.Frame, error) {
	if len(imgs) == 0 {
		return nil, &InvalidShapeError{What: "images", Expected: "(frame, row, col) with at least one frame"}
	}
	if len(profiles) != len(imgs) {
		return nil, &InvalidShapeError{What: "profiles", Expected: fmt.Sprintf("(frame=%d, position)", len(imgs))}
	}
	for _, p := range profiles {
		if len(p) == 0 {
			return nil, &InvalidShapeError{What: "profiles", Expected: "(frame, position) with nonzero positions"}
		}
	}

	out := make([]stack.Frame, len(imgs))
	for i, img := range imgs {
		mean, min, max := clipStats(profiles[i], clipPercent)
		norm := stack.Frame{Rows: img.Rows, Cols: img.Cols, Pix: make([]float64, len(img.Pix))}

		if max != min {
			for j, v := range img.Pix {
				norm.Pix[j] = (v - mean - (min - mean)) / (max - min)
			}
		}
		out[i] = norm
	}
	return out, nil
}

// ZNormalize rescales an image by the mean and standard deviation of its
// masked-in pixels: (image - mean) / std, applied to every pixel including
// masked-out ones. A mask with zero intensity variance (or no foreground)
// yields an all-zero frame; dividing by a zero deviation is never performed.
func ZNormalize(img stack.Frame, mask stack.MaskFrame) (stack.Frame, error) {
	if img.Rows != mask.Rows || img.Cols != mask.Cols {
		return stack.Frame{}, &InvalidShapeError{What: "mask", Expected: fmt.Sprintf("(%d, %d)", img.Rows, img.Cols)}
	}

	vals := make([]float64, 0, len(img.Pix))
	for i, in := range mask.Pix {
		if in {
			vals = append(vals, img.Pix[i])
		}
	}

	out := stack.Frame{Rows: img.Rows, Cols: img.Cols, Pix: make([]float64, len(img.Pix))}
	if len(vals) == 0 {
		return out, nil
	}

	mean, std := stat.MeanStdDev(vals, nil)
	if std == 0 {
		return out, nil
	}

	for i, v := range img.Pix {
		out.Pix[i] = (v - mean) / std
	}
	return out, nil
}
