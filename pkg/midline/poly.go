package midline

import "math"

// Poly is a polynomial midline mapping a horizontal (column) coordinate to a
// vertical (row) coordinate, with an explicit valid domain. Coefficients are
// stored against the window [-1, 1]; evaluation maps the domain onto the
// window first, which keeps the least-squares fit well conditioned for
// domains far from the origin.
type Poly struct {
	// Coeffs are the window-space coefficients in ascending power order.
	Coeffs []float64

	// DomainMin and DomainMax bound the valid horizontal extent of the
	// midline: the mask's bounding box expanded by the fit padding.
	DomainMin float64
	DomainMax float64
}

// toWindow maps a domain coordinate onto the window [-1, 1].
func (p *Poly) toWindow(x float64) float64 {
	span := p.DomainMax - p.DomainMin
	if span == 0 {
		return 0
	}
	return (2*x - p.DomainMin - p.DomainMax) / span
}

// Eval evaluates the midline at horizontal coordinate x.
func (p *Poly) Eval(x float64) float64 {
	t := p.toWindow(x)
	// Horner evaluation in window space.
	y := 0.0
	for i := len(p.Coeffs) - 1; i >= 0; i-- {
		y = y*t + p.Coeffs[i]
	}
	return y
}

// Deriv returns dy/dx as a polynomial over the same domain.
func (p *Poly) Deriv() *Poly {
	span := p.DomainMax - p.DomainMin
	scale := 1.0
	if span != 0 {
		// Chain rule: dt/dx for the domain-to-window map.
		scale = 2 / span
	}

	if len(p.Coeffs) <= 1 {
		return &Poly{Coeffs: []float64{0}, DomainMin: p.DomainMin, DomainMax: p.DomainMax}
	}

	coeffs := make([]float64, len(p.Coeffs)-1)
	for k := 1; k < len(p.Coeffs); k++ {
		coeffs[k-1] = float64(k) * p.Coeffs[k] * scale
	}
	return &Poly{Coeffs: coeffs, DomainMin: p.DomainMin, DomainMax: p.DomainMax}
}

// Linspace returns n evenly spaced sample points spanning the domain and the
// midline's value at each.
func (p *Poly) Linspace(n int) (xs, ys []float64) {
	xs = make([]float64, n)
	ys = make([]float64, n)
	if n == 1 {
		xs[0] = (p.DomainMin + p.DomainMax) / 2
		ys[0] = p.Eval(xs[0])
		return xs, ys
	}
	step := (p.DomainMax - p.DomainMin) / float64(n-1)
	for i := 0; i < n; i++ {
		xs[i] = p.DomainMin + float64(i)*step
		ys[i] = p.Eval(xs[i])
	}
	return xs, ys
}

// Degree returns the nominal degree of the polynomial.
func (p *Poly) Degree() int {
	return len(p.Coeffs) - 1
}

// IsFinite reports whether every coefficient is a finite number.
func (p *Poly) IsFinite() bool {
	for _, c := range p.Coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
