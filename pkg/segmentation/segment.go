package segmentation

import (
	"fmt"
	"sort"

	"pharynxredox/pkg/stack"
)

// ConvergenceError reports that the threshold search exhausted its iteration
// or parameter budget without reaching the target object area. The best
// candidate mask found so far is still returned alongside it, so callers can
// decide whether to accept or reject the segmentation.
type ConvergenceError struct {
	// Iterations is the number of search steps performed.
	Iterations int

	// BestArea is the largest-object area of the returned candidate.
	BestArea int

	// Fraction is the threshold fraction at which the search stopped.
	Fraction float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("threshold search did not converge after %d iterations (best area %d px at fraction %.2f)",
		e.Iterations, e.BestArea, e.Fraction)
}

// SearchParams controls the bounded threshold search.
type SearchParams struct {
	// TargetArea is the expected pharynx area in pixels.
	TargetArea int

	// AreaRange is the accepted deviation from TargetArea.
	AreaRange int

	// InitialFraction is the starting threshold, as a fraction of the frame
	// maximum intensity.
	InitialFraction float64

	// Step is the amount the fraction moves per iteration.
	Step float64

	// MaxIterations bounds the search.
	MaxIterations int

	// MinFraction and MaxFraction bound the threshold fraction; stepping past
	// either ends the search.
	MinFraction float64
	MaxFraction float64
}

// DefaultSearchParams returns the experimentally derived search parameters.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		TargetArea:      450,
		AreaRange:       100,
		InitialFraction: 0.15,
		Step:            0.01,
		MaxIterations:   300,
		MinFraction:     0.0,
		MaxFraction:     0.9,
	}
}

func frameMax(frame stack.Frame) float64 {
	max := 0.0
	for _, v := range frame.Pix {
		if v > max {
			max = v
		}
	}
	return max
}

func applyThreshold(frame stack.Frame, t float64, out stack.MaskFrame) {
	for i, v := range frame.Pix {
		out.Pix[i] = v > t
	}
}

func largestArea(mask stack.MaskFrame) int {
	region := LargestRegion(mask)
	if region == nil {
		return 0
	}
	return region.Area
}

// Segment thresholds a single fluorescence frame into a binary pharynx mask.
// The threshold is a fraction of the frame maximum, adjusted iteratively
// until the largest object's area lands in the target range. The search is
// strictly bounded: when the iteration or fraction budget runs out, the best
// candidate found so far is returned together with a ConvergenceError rather
// than a silently unconverged mask.
func Segment(frame stack.Frame, params SearchParams) (stack.MaskFrame, error) {
	mask := stack.MaskFrame{
		Rows: frame.Rows,
		Cols: frame.Cols,
		Pix:  make([]bool, frame.Rows*frame.Cols),
	}

	max := frameMax(frame)
	if max == 0 {
		// Blank frame; nothing to segment.
		return mask, nil
	}

	minArea := params.TargetArea - params.AreaRange
	maxArea := params.TargetArea + params.AreaRange

	p := params.InitialFraction
	applyThreshold(frame, max*p, mask)
	area := largestArea(mask)

	bestMask := stack.MaskFrame{Rows: mask.Rows, Cols: mask.Cols, Pix: make([]bool, len(mask.Pix))}
	copy(bestMask.Pix, mask.Pix)
	bestArea := area
	bestDist := areaDistance(area, minArea, maxArea)

	for i := 0; i < params.MaxIterations; i++ {
		if area >= minArea && area <= maxArea {
			return mask, nil
		}

		if area > maxArea {
			p += params.Step
		} else {
			p -= params.Step
		}
		if p <= params.MinFraction || p >= params.MaxFraction {
			return bestMask, &ConvergenceError{Iterations: i + 1, BestArea: bestArea, Fraction: p}
		}

		applyThreshold(frame, max*p, mask)
		area = largestArea(mask)

		if d := areaDistance(area, minArea, maxArea); d < bestDist {
			bestDist = d
			bestArea = area
			copy(bestMask.Pix, mask.Pix)
		}
	}

	return bestMask, &ConvergenceError{Iterations: params.MaxIterations, BestArea: bestArea, Fraction: p}
}

func areaDistance(area, minArea, maxArea int) int {
	if area < minArea {
		return minArea - area
	}
	if area > maxArea {
		return area - maxArea
	}
	return 0
}

// SegmentStack segments every frame of a fluorescence stack, keeping only the
// largest object per frame. Transmitted-light channels produce all-background
// masks without error. Frames whose threshold search does not converge still
// contribute their best candidate; the indices of those frames are returned
// so batch callers can audit them.
func SegmentStack(fluor *stack.Stack, params SearchParams) (*stack.MaskStack, []string) {
	masks := stack.NewMaskStack(fluor.Channels, fluor.Animals, fluor.Pairs, fluor.Rows, fluor.Cols)
	var unconverged []string

	for animal := 0; animal < fluor.Animals; animal++ {
		for ci, channel := range fluor.Channels {
			if stack.IsTL(channel) {
				continue
			}
			for pair := 0; pair < fluor.Pairs; pair++ {
				frame := fluor.Frame(animal, ci, pair)
				mask, err := Segment(frame, params)
				if err != nil {
					unconverged = append(unconverged,
						fmt.Sprintf("animal=%d channel=%s pair=%d: %v", animal, channel, pair, err))
				}
				ExtractLargestObject(mask)
				copy(masks.Frame(animal, ci, pair).Pix, mask.Pix)
			}
		}
	}

	return masks, unconverged
}

// SubtractMedians subtracts each frame's median intensity from that frame,
// clamping at zero. Transmitted-light frames pass through untouched since
// their background dominates the median. A new stack is returned; the input
// is not modified.
func SubtractMedians(fluor *stack.Stack) *stack.Stack {
	out := fluor.Clone()
	buf := make([]float64, fluor.Rows*fluor.Cols)

	for animal := 0; animal < fluor.Animals; animal++ {
		for ci, channel := range fluor.Channels {
			if stack.IsTL(channel) {
				continue
			}
			for pair := 0; pair < fluor.Pairs; pair++ {
				frame := out.Frame(animal, ci, pair)
				copy(buf, frame.Pix)
				sort.Float64s(buf)

				var med float64
				n := len(buf)
				if n%2 == 0 {
					med = (buf[n/2-1] + buf[n/2]) / 2
				} else {
					med = buf[n/2]
				}

				for i, v := range frame.Pix {
					v -= med
					if v < 0 {
						v = 0
					}
					frame.Pix[i] = v
				}
			}
		}
	}

	return out
}
