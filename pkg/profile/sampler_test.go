package profile

import (
	"math"
	"testing"

	"pharynxredox/pkg/midline"
	"pharynxredox/pkg/stack"
)

// createTestFrame builds a frame from a per-pixel intensity function.
func createTestFrame(rows, cols int, intensity func(r, c int) float64) stack.Frame {
	f := stack.Frame{Rows: rows, Cols: cols, Pix: make([]float64, rows*cols)}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			f.Set(r, c, intensity(r, c))
		}
	}
	return f
}

// flatMidline builds a constant-row midline over the given domain.
func flatMidline(row, domainMin, domainMax float64) *midline.Poly {
	return &midline.Poly{Coeffs: []float64{row}, DomainMin: domainMin, DomainMax: domainMax}
}

func TestSampleConstantFrame(t *testing.T) {
	frame := createTestFrame(64, 64, func(r, c int) float64 { return 7 })
	mid := flatMidline(32, 5, 58)

	prof, err := Sample(frame, mid, Options{NPoints: 50})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(prof) != 50 {
		t.Fatalf("Profile length = %d, expected 50", len(prof))
	}
	for i, v := range prof {
		if math.Abs(v-7) > 1e-9 {
			t.Fatalf("Profile[%d] = %v, expected 7", i, v)
		}
	}
}

func TestSampleGradientFrame(t *testing.T) {
	// Intensity equals the column coordinate, so the sampled profile must
	// reproduce the midline's sample positions exactly.
	frame := createTestFrame(64, 64, func(r, c int) float64 { return float64(c) })
	mid := flatMidline(32, 0, 60)

	prof, err := Sample(frame, mid, Options{NPoints: 31})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	for i, v := range prof {
		want := float64(i) * 2
		if math.Abs(v-want) > 1e-9 {
			t.Errorf("Profile[%d] = %v, expected %v", i, v, want)
		}
	}
}

func TestSampleOutsideFrameIsZero(t *testing.T) {
	frame := createTestFrame(16, 16, func(r, c int) float64 { return 100 })
	// The padded domain extends past the frame on both sides.
	mid := flatMidline(8, -10, 25)

	prof, err := Sample(frame, mid, Options{NPoints: 36})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if prof[0] != 0 {
		t.Errorf("Sample left of the frame = %v, expected 0", prof[0])
	}
	if prof[len(prof)-1] != 0 {
		t.Errorf("Sample right of the frame = %v, expected 0", prof[len(prof)-1])
	}
}

func TestSampleBandGeometry(t *testing.T) {
	// Intensity equals the row coordinate, which makes the band's sampled
	// rows directly observable.
	frame := createTestFrame(64, 64, func(r, c int) float64 { return float64(r) })
	mid := flatMidline(32, 5, 58)
	opts := Options{NPoints: 20, Thickness: 5}

	band, err := SampleBand(frame, mid, opts)
	if err != nil {
		t.Fatalf("SampleBand failed: %v", err)
	}

	if len(band) != 5 {
		t.Fatalf("Band has %d rows, expected 5", len(band))
	}
	for _, row := range band {
		if len(row) != 20 {
			t.Fatalf("Band row has %d samples, expected 20", len(row))
		}
	}

	// The traversal runs from the larger row coordinate to the smaller one:
	// first band row at 32 + 2.5, last at 32 - 2.5, midline in the middle.
	if got := band[0][10]; math.Abs(got-34.5) > 1e-9 {
		t.Errorf("First band row sampled at row %v, expected 34.5", got)
	}
	if got := band[4][10]; math.Abs(got-29.5) > 1e-9 {
		t.Errorf("Last band row sampled at row %v, expected 29.5", got)
	}
	if got := band[2][10]; math.Abs(got-32) > 1e-9 {
		t.Errorf("Middle band row sampled at row %v, expected 32", got)
	}
}

func TestSampleThickConstantFrame(t *testing.T) {
	frame := createTestFrame(64, 64, func(r, c int) float64 { return 7 })
	mid := flatMidline(32, 5, 58)

	prof, err := Sample(frame, mid, Options{NPoints: 40, Thickness: 6, BandScale: 0.5})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	// Gaussian weights are normalized, so a constant band collapses to the
	// constant itself.
	for i, v := range prof {
		if math.Abs(v-7) > 1e-9 {
			t.Fatalf("Profile[%d] = %v, expected 7", i, v)
		}
	}
}

func TestSampleErrors(t *testing.T) {
	frame := createTestFrame(16, 16, func(r, c int) float64 { return 1 })
	mid := flatMidline(8, 2, 14)

	cases := []struct {
		name string
		mid  *midline.Poly
		opts Options
	}{
		{"nil midline", nil, Options{NPoints: 10}},
		{"zero points", mid, Options{NPoints: 0}},
		{"band too thin", mid, Options{NPoints: 10, Thickness: 1}},
		{"non-finite midline", &midline.Poly{Coeffs: []float64{math.NaN()}, DomainMin: 2, DomainMax: 14}, Options{NPoints: 10}},
	}
	for _, tc := range cases {
		_, err := Sample(frame, tc.mid, tc.opts)
		if err == nil {
			t.Errorf("%s: expected an error", tc.name)
			continue
		}
		if _, ok := err.(*SamplingError); !ok {
			t.Errorf("%s: expected a SamplingError, got %T", tc.name, err)
		}
	}
}

func TestSampleStackBroadcastsReferenceMidline(t *testing.T) {
	fluor := stack.NewStack([]string{"410", "470", "TL"}, 1, 1, 64, 64)
	for ci := 0; ci < 3; ci++ {
		f := fluor.Frame(0, ci, 0)
		for i := range f.Pix {
			f.Pix[i] = float64(ci + 1)
		}
	}

	mids := midline.NewMidlines([]string{"410", "470", "TL"}, 1, 1)
	// Only the reference channel has a midline; 470 must borrow it.
	mids.Set(0, 0, 0, flatMidline(32, 5, 58))

	profiles, fallbacks, err := SampleStack(fluor, mids, StackOptions{
		Options:          Options{NPoints: 25},
		FrameSpecific:    false,
		ReferenceChannel: "410",
	})
	if err != nil {
		t.Fatalf("SampleStack failed: %v", err)
	}

	if got := profiles.Profile(0, 0, 0)[12]; math.Abs(got-1) > 1e-9 {
		t.Errorf("410 profile sampled %v, expected 1", got)
	}
	if got := profiles.Profile(0, 1, 0)[12]; math.Abs(got-2) > 1e-9 {
		t.Errorf("470 profile sampled %v, expected 2 (reference midline broadcast)", got)
	}

	// The TL channel has no midline and falls back to a zero profile.
	for _, v := range profiles.Profile(0, 2, 0) {
		if v != 0 {
			t.Fatal("TL profile should be all zeros")
		}
	}
	if len(fallbacks) != 1 || fallbacks[0].Channel != "TL" {
		t.Errorf("Fallback list = %+v, expected a single TL entry", fallbacks)
	}
}

func TestSampleStackFrameSpecific(t *testing.T) {
	fluor := stack.NewStack([]string{"410", "470"}, 1, 1, 64, 64)
	f := fluor.Frame(0, 1, 0)
	for i := range f.Pix {
		f.Pix[i] = 9
	}

	mids := midline.NewMidlines([]string{"410", "470"}, 1, 1)
	mids.Set(0, 0, 0, flatMidline(32, 5, 58))
	// 470 has no midline of its own; frame-specific sampling must not borrow.

	profiles, fallbacks, err := SampleStack(fluor, mids, StackOptions{
		Options:       Options{NPoints: 10},
		FrameSpecific: true,
	})
	if err != nil {
		t.Fatalf("SampleStack failed: %v", err)
	}

	for _, v := range profiles.Profile(0, 1, 0) {
		if v != 0 {
			t.Fatal("470 profile should fall back to zeros in frame-specific mode")
		}
	}
	if len(fallbacks) != 1 || fallbacks[0].Channel != "470" {
		t.Errorf("Fallback list = %+v, expected a single 470 entry", fallbacks)
	}
}

func BenchmarkSample(b *testing.B) {
	frame := createTestFrame(256, 256, func(r, c int) float64 { return float64(r + c) })
	mid := flatMidline(128, 10, 245)
	opts := Options{NPoints: 300, Thickness: 10}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Sample(frame, mid, opts); err != nil {
			b.Fatalf("Sample failed: %v", err)
		}
	}
}
