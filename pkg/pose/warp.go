package pose

import (
	"math"

	"pharynxredox/pkg/stack"
)

// Interpolation selects the resampling scheme for a warp. Fluorescence frames
// use bilinear interpolation; masks use nearest-neighbor so no intermediate
// intensity values appear.
type Interpolation int

const (
	Bilinear Interpolation = iota
	Nearest
)

func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// sampleWrap reads the frame at fractional coordinates with periodic
// wrap-around addressing.
func sampleWrap(f stack.Frame, row, col float64, order Interpolation) float64 {
	if order == Nearest {
		r := wrapIndex(int(math.Round(row)), f.Rows)
		c := wrapIndex(int(math.Round(col)), f.Cols)
		return f.At(r, c)
	}

	r0 := int(math.Floor(row))
	c0 := int(math.Floor(col))
	fr := row - float64(r0)
	fc := col - float64(c0)

	r0w := wrapIndex(r0, f.Rows)
	r1w := wrapIndex(r0+1, f.Rows)
	c0w := wrapIndex(c0, f.Cols)
	c1w := wrapIndex(c0+1, f.Cols)

	top := f.At(r0w, c0w)*(1-fc) + f.At(r0w, c1w)*fc
	bot := f.At(r1w, c0w)*(1-fc) + f.At(r1w, c1w)*fc
	return top*(1-fr) + bot*fr
}

// sampleEdge reads the frame at fractional coordinates with edge-replication
// addressing.
func sampleEdge(f stack.Frame, row, col float64, order Interpolation) float64 {
	if order == Nearest {
		r := clampIndex(int(math.Round(row)), f.Rows)
		c := clampIndex(int(math.Round(col)), f.Cols)
		return f.At(r, c)
	}

	r0 := int(math.Floor(row))
	c0 := int(math.Floor(col))
	fr := row - float64(r0)
	fc := col - float64(c0)

	r0c := clampIndex(r0, f.Rows)
	r1c := clampIndex(r0+1, f.Rows)
	c0c := clampIndex(c0, f.Cols)
	c1c := clampIndex(c0+1, f.Cols)

	top := f.At(r0c, c0c)*(1-fc) + f.At(r0c, c1c)*fc
	bot := f.At(r1c, c0c)*(1-fc) + f.At(r1c, c1c)*fc
	return top*(1-fr) + bot*fr
}

// Translate shifts the frame content by (dRow, dCol) with periodic wrap at
// the boundaries, writing into dst. A positive shift moves content toward
// larger row/column indices.
func Translate(src stack.Frame, dst stack.Frame, dRow, dCol float64, order Interpolation) {
	for r := 0; r < dst.Rows; r++ {
		for c := 0; c < dst.Cols; c++ {
			dst.Set(r, c, sampleWrap(src, float64(r)-dRow, float64(c)-dCol, order))
		}
	}
}

// Rotate rotates the frame content about the image center so that a feature
// oriented at the given angle (radians, measured from the column axis toward
// increasing rows) ends up horizontal. Boundary values are edge-replicated.
func Rotate(src stack.Frame, dst stack.Frame, angle float64, order Interpolation) {
	cy := float64(src.Rows / 2)
	cx := float64(src.Cols / 2)
	sin, cos := math.Sincos(angle)

	for r := 0; r < dst.Rows; r++ {
		dr := float64(r) - cy
		for c := 0; c < dst.Cols; c++ {
			dc := float64(c) - cx
			srcCol := cx + cos*dc - sin*dr
			srcRow := cy + sin*dc + cos*dr
			dst.Set(r, c, sampleEdge(src, srcRow, srcCol, order))
		}
	}
}
