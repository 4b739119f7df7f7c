// Package midline fits a low-degree polynomial approximating the
// anterior-posterior axis of a pose-normalized pharynx mask. The fit is a
// plain least-squares regression of row on column over every foreground
// pixel, with the fit domain padded beyond the object's bounding box so the
// sampled profile reaches slightly past the organ on both sides.
package midline

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"pharynxredox/pkg/segmentation"
	"pharynxredox/pkg/stack"
)

const (
	// DefaultDegree is the polynomial degree used for midline fits.
	DefaultDegree = 4

	// DefaultPad is the number of pixels the fit domain extends beyond the
	// mask's horizontal bounding box on each side.
	DefaultPad = 10
)

// Fit fits a polynomial midline of the given degree to the mask's largest
// connected component. The domain is the object's horizontal bounding box
// expanded by pad pixels on both sides.
//
// Returns nil when the mask has no foreground object; callers must treat nil
// as "not measurable" rather than an error (transmitted-light channels are
// expected to produce nil). Ill-conditioned fits are not escalated: the
// best-effort polynomial is returned regardless of conditioning.
func Fit(mask stack.MaskFrame, degree, pad int) *Poly {
	region := segmentation.LargestRegion(mask)
	if region == nil {
		return nil
	}

	rows, cols := region.Coords()
	p := &Poly{
		DomainMin: float64(region.MinCol - pad),
		DomainMax: float64(region.MaxCol + pad),
	}

	m := len(cols)
	n := degree + 1

	// Design matrix of window-space powers of the column coordinate.
	a := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		t := p.toWindow(cols[i])
		pow := 1.0
		for j := 0; j < n; j++ {
			a.Set(i, j, pow)
			pow *= t
		}
	}
	b := mat.NewVecDense(m, rows)

	p.Coeffs = leastSquares(a, b, m, n)
	return p
}

// leastSquares solves min ||A c - b|| by QR factorization, falling back to
// regularized Gaussian elimination on the normal equations when QR cannot
// produce a finite solution (rank-deficient fits from too few points).
func leastSquares(a *mat.Dense, b *mat.VecDense, m, n int) []float64 {
	if m >= n {
		var qr mat.QR
		qr.Factorize(a)

		x := mat.NewDense(n, 1, nil)
		if err := qr.SolveTo(x, false, b); err == nil {
			coeffs := make([]float64, n)
			finite := true
			for i := 0; i < n; i++ {
				coeffs[i] = x.At(i, 0)
				if math.IsNaN(coeffs[i]) || math.IsInf(coeffs[i], 0) {
					finite = false
				}
			}
			if finite {
				return coeffs
			}
		}
	}

	// Normal equations: (A'A + eps I) c = A'b, solved with partial-pivot
	// Gaussian elimination. The ridge term keeps near-singular systems
	// solvable without escalating a warning.
	ata := make([][]float64, n)
	atb := make([]float64, n)
	for i := 0; i < n; i++ {
		ata[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < m; k++ {
				sum += a.At(k, i) * a.At(k, j)
			}
			ata[i][j] = sum
		}
		ata[i][i] += 1e-9
		sum := 0.0
		for k := 0; k < m; k++ {
			sum += a.At(k, i) * b.AtVec(k)
		}
		atb[i] = sum
	}

	return solveGaussian(ata, atb)
}

// solveGaussian solves a small dense linear system in place with partial
// pivoting, regularizing near-zero pivots instead of failing.
func solveGaussian(matrix [][]float64, target []float64) []float64 {
	n := len(target)
	solution := make([]float64, n)

	for i := 0; i < n; i++ {
		maxRow := i
		for j := i + 1; j < n; j++ {
			if math.Abs(matrix[j][i]) > math.Abs(matrix[maxRow][i]) {
				maxRow = j
			}
		}
		if maxRow != i {
			matrix[i], matrix[maxRow] = matrix[maxRow], matrix[i]
			target[i], target[maxRow] = target[maxRow], target[i]
		}

		pivot := matrix[i][i]
		if math.Abs(pivot) < 1e-10 {
			matrix[i][i] += 1e-6
			pivot = matrix[i][i]
		}

		for j := i; j < n; j++ {
			matrix[i][j] /= pivot
		}
		target[i] /= pivot

		for j := i + 1; j < n; j++ {
			factor := matrix[j][i]
			for k := i; k < n; k++ {
				matrix[j][k] -= factor * matrix[i][k]
			}
			target[j] -= factor * target[i]
		}
	}

	for i := n - 1; i >= 0; i-- {
		solution[i] = target[i]
		for j := i + 1; j < n; j++ {
			solution[i] -= matrix[i][j] * solution[j]
		}
	}

	return solution
}

// Midlines holds one fitted midline per (animal, channel, pair) frame. A nil
// entry means the frame had no measurable object.
type Midlines struct {
	Channels []string
	Animals  int
	Pairs    int

	items      []*Poly
	channelIdx map[string]int
}

// NewMidlines allocates an all-nil midline container with the given extents.
func NewMidlines(channels []string, animals, pairs int) *Midlines {
	idx := make(map[string]int, len(channels))
	for i, c := range channels {
		idx[c] = i
	}
	return &Midlines{
		Channels:   append([]string(nil), channels...),
		Animals:    animals,
		Pairs:      pairs,
		items:      make([]*Poly, animals*len(channels)*pairs),
		channelIdx: idx,
	}
}

// ChannelIndex returns the index of the named channel.
func (m *Midlines) ChannelIndex(name string) (int, bool) {
	i, ok := m.channelIdx[name]
	return i, ok
}

func (m *Midlines) offset(animal, channel, pair int) int {
	return (animal*len(m.Channels)+channel)*m.Pairs + pair
}

// At returns the midline for one frame, which may be nil.
func (m *Midlines) At(animal, channel, pair int) *Poly {
	return m.items[m.offset(animal, channel, pair)]
}

// Set stores the midline for one frame.
func (m *Midlines) Set(animal, channel, pair int, p *Poly) {
	m.items[m.offset(animal, channel, pair)] = p
}

// FitStack fits a midline for every frame of the mask stack, preserving the
// (animal, channel, pair) grouping. Frames without foreground (e.g. the
// transmitted-light channel) get nil midlines.
func FitStack(masks *stack.MaskStack, degree, pad int) *Midlines {
	out := NewMidlines(masks.Channels, masks.Animals, masks.Pairs)
	for animal := 0; animal < masks.Animals; animal++ {
		for ci := range masks.Channels {
			for pair := 0; pair < masks.Pairs; pair++ {
				out.Set(animal, ci, pair, Fit(masks.Frame(animal, ci, pair), degree, pad))
			}
		}
	}
	return out
}
