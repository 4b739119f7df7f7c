// Package profile samples fluorescence intensity under a fitted midline,
// producing the 1-D intensity profiles that are the pipeline's principal
// measurement output. Sampling supports an optional thickness band: at each
// midline point a segment along the local normal is sampled and collapsed
// into a single value with a Gaussian weight profile centered on the
// midline.
package profile

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"pharynxredox/pkg/midline"
	"pharynxredox/pkg/stack"
)

// SamplingError is a tagged numeric fault raised by the single-frame sampler.
// Batch callers substitute a zero profile of the expected length and record
// the unit, so "measured zero" and "measurement failed" stay distinguishable.
type SamplingError struct {
	Reason string
}

func (e *SamplingError) Error() string {
	return "profile sampling failed: " + e.Reason
}

// Options controls profile sampling.
type Options struct {
	// NPoints is the number of evenly spaced sample positions along the
	// midline's domain.
	NPoints int

	// Thickness is the total length of the normal-direction segment sampled
	// at each midline point. Zero samples the midline curve only.
	Thickness float64

	// BandScale is the Gaussian scale parameter of the weight profile used
	// when flattening a thickness band. Zero means 1.
	BandScale float64
}

// DefaultNPoints is the profile length used for batch sampling.
const DefaultNPoints = 300

func (o Options) bandScale() float64 {
	if o.BandScale == 0 {
		return 1
	}
	return o.BandScale
}

// bilinear samples the frame at fractional (row, col) coordinates.
// Coordinates outside the frame contribute zero, matching the constant
// boundary policy of off-curve sampling near the padded domain edges.
func bilinear(f stack.Frame, row, col float64) float64 {
	r0 := int(math.Floor(row))
	c0 := int(math.Floor(col))
	fr := row - float64(r0)
	fc := col - float64(c0)

	at := func(r, c int) float64 {
		if r < 0 || r >= f.Rows || c < 0 || c >= f.Cols {
			return 0
		}
		return f.At(r, c)
	}

	top := at(r0, c0)*(1-fc) + at(r0, c0+1)*fc
	bot := at(r0+1, c0)*(1-fc) + at(r0+1, c0+1)*fc
	return top*(1-fr) + bot*fr
}

// Sample measures the intensity profile of a frame under a midline. With
// zero thickness it returns the bilinearly interpolated intensity at NPoints
// evenly spaced midline positions. With nonzero thickness each position's
// band of normal-direction samples is averaged with a Gaussian weight
// profile.
func Sample(frame stack.Frame, mid *midline.Poly, opts Options) ([]float64, error) {
	if mid == nil {
		return nil, &SamplingError{Reason: "nil midline"}
	}
	if opts.NPoints <= 0 {
		return nil, &SamplingError{Reason: fmt.Sprintf("invalid point count %d", opts.NPoints)}
	}
	if !mid.IsFinite() {
		return nil, &SamplingError{Reason: "midline has non-finite coefficients"}
	}

	if opts.Thickness == 0 {
		xs, ys := mid.Linspace(opts.NPoints)
		out := make([]float64, opts.NPoints)
		for i := range xs {
			if math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) {
				return nil, &SamplingError{Reason: "non-finite midline coordinate"}
			}
			out[i] = bilinear(frame, ys[i], xs[i])
		}
		return out, nil
	}

	band, err := SampleBand(frame, mid, opts)
	if err != nil {
		return nil, err
	}
	return flattenBand(band, opts)
}

// SampleBand measures the full unreduced band of samples under a midline:
// one row per normal-direction offset, one column per midline position.
func SampleBand(frame stack.Frame, mid *midline.Poly, opts Options) ([][]float64, error) {
	if mid == nil {
		return nil, &SamplingError{Reason: "nil midline"}
	}
	if opts.NPoints <= 0 {
		return nil, &SamplingError{Reason: fmt.Sprintf("invalid point count %d", opts.NPoints)}
	}
	if !mid.IsFinite() {
		return nil, &SamplingError{Reason: "midline has non-finite coefficients"}
	}

	bandPoints := int(math.Round(opts.Thickness))
	if bandPoints < 2 {
		return nil, &SamplingError{Reason: fmt.Sprintf("thickness %.2f yields a band of fewer than 2 samples", opts.Thickness)}
	}

	xs, ys := mid.Linspace(opts.NPoints)
	der := mid.Deriv()
	mag := opts.Thickness / 2

	// Normal segment endpoints per midline point. The normal direction comes
	// from the local tangent; a zero tangent slope makes the normal vertical,
	// which atan handles through its infinite-argument limit.
	xs0 := make([]float64, opts.NPoints)
	ys0 := make([]float64, opts.NPoints)
	xs1 := make([]float64, opts.NPoints)
	ys1 := make([]float64, opts.NPoints)

	for i := range xs {
		slope := der.Eval(xs[i])
		if math.IsNaN(slope) {
			return nil, &SamplingError{Reason: "non-finite tangent slope"}
		}
		theta := math.Atan(-1 / slope)
		dx := math.Cos(theta) * mag
		dy := math.Sin(theta) * mag

		xs0[i] = xs[i] + dx
		ys0[i] = ys[i] + dy
		xs1[i] = xs[i] - dx
		ys1[i] = ys[i] - dy

		// Normalize traversal polarity: the first endpoint must sit at the
		// larger row coordinate, otherwise band rows would alternate sides
		// of the midline between adjacent points and averaging would smear.
		if ys0[i] < ys1[i] {
			xs0[i], xs1[i] = xs1[i], xs0[i]
			ys0[i], ys1[i] = ys1[i], ys0[i]
		}

		if math.IsNaN(xs0[i]) || math.IsNaN(ys0[i]) {
			return nil, &SamplingError{Reason: "non-finite normal segment endpoint"}
		}
	}

	band := make([][]float64, bandPoints)
	for j := 0; j < bandPoints; j++ {
		t := float64(j) / float64(bandPoints-1)
		row := make([]float64, opts.NPoints)
		for i := 0; i < opts.NPoints; i++ {
			x := xs0[i] + (xs1[i]-xs0[i])*t
			y := ys0[i] + (ys1[i]-ys0[i])*t
			row[i] = bilinear(frame, y, x)
		}
		band[j] = row
	}

	return band, nil
}

// flattenBand collapses a band into a single profile with a Gaussian weight
// profile centered on the midline, evaluated across the band width mapped to
// [-1, 1].
func flattenBand(band [][]float64, opts Options) ([]float64, error) {
	bandPoints := len(band)
	weights := make([]float64, bandPoints)
	gauss := distuv.Normal{Mu: 0, Sigma: opts.bandScale()}

	wSum := 0.0
	for j := 0; j < bandPoints; j++ {
		u := -1 + 2*float64(j)/float64(bandPoints-1)
		weights[j] = gauss.Prob(u)
		wSum += weights[j]
	}
	if wSum == 0 || math.IsNaN(wSum) {
		return nil, &SamplingError{Reason: "degenerate band weight profile"}
	}

	out := make([]float64, opts.NPoints)
	for i := 0; i < opts.NPoints; i++ {
		acc := 0.0
		for j := 0; j < bandPoints; j++ {
			acc += band[j][i] * weights[j]
		}
		out[i] = acc / wSum
	}
	return out, nil
}

// FrameRef identifies a frame whose sampling fell back to a zero profile.
type FrameRef struct {
	Animal  int
	Channel string
	Pair    int
	Reason  string
}

// StackOptions controls batch sampling over a whole stack.
type StackOptions struct {
	Options

	// FrameSpecific selects whether each channel uses its own midline. When
	// false, the reference channel's midline is broadcast to every other
	// non-transmitted-light channel of the same (animal, pair).
	FrameSpecific bool

	// ReferenceChannel is the channel whose midline is broadcast when
	// FrameSpecific is false.
	ReferenceChannel string
}

// SampleStack samples an intensity profile for every frame of the
// fluorescence stack under its paired midline. Frames that cannot be sampled
// (nil midlines on transmitted-light channels, numeric faults) produce
// all-zero profiles of the expected length; each substitution is reported in
// the returned fallback list so batch results can be audited.
func SampleStack(fluor *stack.Stack, midlines *midline.Midlines, opts StackOptions) (*stack.ProfileStack, []FrameRef, error) {
	profiles := stack.NewProfileStack(fluor.Channels, fluor.Animals, fluor.Pairs, opts.NPoints)

	refIdx := -1
	if !opts.FrameSpecific {
		i, ok := midlines.ChannelIndex(opts.ReferenceChannel)
		if !ok {
			return nil, nil, fmt.Errorf("unknown reference channel %q", opts.ReferenceChannel)
		}
		refIdx = i
	}

	var fallbacks []FrameRef
	for animal := 0; animal < fluor.Animals; animal++ {
		for ci, channel := range fluor.Channels {
			for pair := 0; pair < fluor.Pairs; pair++ {
				mid := midlines.At(animal, ci, pair)
				if !opts.FrameSpecific && !stack.IsTL(channel) {
					mid = midlines.At(animal, refIdx, pair)
				}

				prof, err := Sample(fluor.Frame(animal, ci, pair), mid, opts.Options)
				if err != nil {
					// Best-effort fallback: a bad frame must not abort the
					// batch. The profile stays zero-filled.
					fallbacks = append(fallbacks, FrameRef{
						Animal:  animal,
						Channel: channel,
						Pair:    pair,
						Reason:  err.Error(),
					})
					continue
				}
				copy(profiles.Profile(animal, ci, pair), prof)
			}
		}
	}

	return profiles, fallbacks, nil
}
