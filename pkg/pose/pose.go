// Package pose centers and rotates image stacks into a canonical pose. For
// each (animal, pair) unit it derives a rigid transform from the reference
// channel's mask (centroid translation plus principal-axis rotation) and
// applies that same transform to every channel of the unit.
package pose

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"pharynxredox/pkg/segmentation"
	"pharynxredox/pkg/stack"
)

// NoObjectFoundError reports that a reference-channel mask contained no
// foreground pixels, so no pose transform can be defined for its unit. This
// is a hard error: downstream midline fitting on an unaligned frame would be
// meaningless.
type NoObjectFoundError struct {
	Animal int
	Pair   int
}

func (e *NoObjectFoundError) Error() string {
	return fmt.Sprintf("no binary object found in reference mask @ [animal=%d ; pair=%d]", e.Animal, e.Pair)
}

// Transform is the rigid pose transform for one (animal, pair) unit: a
// translation moving the object centroid to the image center, followed by a
// rotation aligning the principal axis with the horizontal.
type Transform struct {
	// DRow, DCol shift the object centroid onto the image center.
	DRow, DCol float64

	// Angle is the rotation applied about the image center, in radians. It
	// equals pi/2 minus the measured orientation of the reference object.
	Angle float64
}

// EstimateTransform derives the pose transform from a reference-channel mask.
// The centroid is the mean of all foreground pixels; the orientation comes
// from the largest connected component's second moments.
func EstimateTransform(ref stack.MaskFrame) (Transform, bool) {
	row, col, ok := segmentation.CentroidOverAll(ref)
	if !ok {
		return Transform{}, false
	}
	region := segmentation.LargestRegion(ref)

	cy := float64(ref.Rows / 2)
	cx := float64(ref.Cols / 2)

	// Fold the angle modulo pi into (-pi/2, pi/2] so the smallest rotation
	// is chosen. Without the fold, an already-horizontal object whose
	// residual cross-covariance is slightly negative lands on the far side
	// of the orientation wrap and would be rotated by nearly pi.
	angle := math.Pi/2 - region.Orientation()
	for angle > math.Pi/2 {
		angle -= math.Pi
	}
	for angle <= -math.Pi/2 {
		angle += math.Pi
	}

	return Transform{
		DRow:  cy - row,
		DCol:  cx - col,
		Angle: angle,
	}, true
}

// Apply warps a fluorescence frame with the transform: periodic-wrap
// translation first, then edge-replicated rotation, both bilinear.
func (t Transform) Apply(src stack.Frame, dst stack.Frame) {
	tmp := stack.Frame{Rows: src.Rows, Cols: src.Cols, Pix: make([]float64, len(src.Pix))}
	Translate(src, tmp, t.DRow, t.DCol, Bilinear)
	Rotate(tmp, dst, t.Angle, Bilinear)
}

// ApplyMask warps a mask frame with the transform using nearest-neighbor
// resampling, so the output stays strictly binary.
func (t Transform) ApplyMask(src stack.MaskFrame, dst stack.MaskFrame) {
	srcF := stack.Frame{Rows: src.Rows, Cols: src.Cols, Pix: make([]float64, len(src.Pix))}
	for i, v := range src.Pix {
		if v {
			srcF.Pix[i] = 1
		}
	}
	tmp := stack.Frame{Rows: src.Rows, Cols: src.Cols, Pix: make([]float64, len(src.Pix))}
	out := stack.Frame{Rows: src.Rows, Cols: src.Cols, Pix: make([]float64, len(src.Pix))}
	Translate(srcF, tmp, t.DRow, t.DCol, Nearest)
	Rotate(tmp, out, t.Angle, Nearest)
	for i, v := range out.Pix {
		dst.Pix[i] = v > 0.5
	}
}

// NormalizePose centers and rotates every (animal, pair) unit of the
// fluorescence and mask stacks using the transform derived from the
// reference channel's mask. Fresh output stacks are returned; the inputs are
// not modified. Units are independent and processed in parallel across
// numWorkers goroutines (0 means all available cores).
//
// Returns a NoObjectFoundError if any unit's reference mask is empty.
func NormalizePose(fluor *stack.Stack, masks *stack.MaskStack, referenceChannel string, numWorkers int) (*stack.Stack, *stack.MaskStack, error) {
	if !fluor.SameShape(masks) {
		return nil, nil, fmt.Errorf("fluorescence and mask stacks are not index-aligned")
	}
	refIdx, err := masks.ChannelIndex(referenceChannel)
	if err != nil {
		return nil, nil, err
	}

	outFluor := fluor.EmptyLike()
	outMasks := masks.EmptyLike()

	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	type unit struct {
		animal, pair int
	}
	units := make(chan unit)
	errCh := make(chan error, fluor.Animals*fluor.Pairs)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range units {
				ref := masks.Frame(u.animal, refIdx, u.pair)
				t, ok := EstimateTransform(ref)
				if !ok {
					errCh <- &NoObjectFoundError{Animal: u.animal, Pair: u.pair}
					continue
				}

				// The same transform covers every channel of the unit,
				// including the transmitted-light channel.
				for ci := range fluor.Channels {
					t.Apply(fluor.Frame(u.animal, ci, u.pair), outFluor.Frame(u.animal, ci, u.pair))
					t.ApplyMask(masks.Frame(u.animal, ci, u.pair), outMasks.Frame(u.animal, ci, u.pair))
				}
			}
		}()
	}

	for animal := 0; animal < fluor.Animals; animal++ {
		for pair := 0; pair < fluor.Pairs; pair++ {
			units <- unit{animal: animal, pair: pair}
		}
	}
	close(units)
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, nil, err
	}

	return outFluor, outMasks, nil
}
