package pose

import (
	"errors"
	"math"
	"testing"

	"pharynxredox/pkg/segmentation"
	"pharynxredox/pkg/stack"
)

// createEllipseMask draws a filled ellipse with semi-axes (a, b), centered at
// (cr, cc), with its major axis at phi radians from the column axis.
func createEllipseMask(rows, cols int, cr, cc, a, b, phi float64) stack.MaskFrame {
	mask := stack.MaskFrame{Rows: rows, Cols: cols, Pix: make([]bool, rows*cols)}
	sin, cos := math.Sincos(phi)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dr := float64(r) - cr
			dc := float64(c) - cc
			u := (dc*cos + dr*sin) / a
			v := (-dc*sin + dr*cos) / b
			if u*u+v*v <= 1 {
				mask.Set(r, c, true)
			}
		}
	}
	return mask
}

func TestEstimateTransform(t *testing.T) {
	phi := 30 * math.Pi / 180
	mask := createEllipseMask(96, 96, 40, 56, 20, 5, phi)

	tr, ok := EstimateTransform(mask)
	if !ok {
		t.Fatal("EstimateTransform failed on a non-empty mask")
	}

	// The rotation must equal the major-axis angle within a degree.
	if math.Abs(tr.Angle-phi) > 1.5*math.Pi/180 {
		t.Errorf("Transform angle = %v rad, expected %v rad", tr.Angle, phi)
	}

	// The translation must move the centroid onto the image center.
	if math.Abs(tr.DRow-(48-40)) > 0.5 || math.Abs(tr.DCol-(48-56)) > 0.5 {
		t.Errorf("Transform translation = (%v, %v), expected about (8, -8)", tr.DRow, tr.DCol)
	}
}

func TestEstimateTransformNearHorizontal(t *testing.T) {
	// An almost-horizontal object with a slight downward tilt sits just past
	// the orientation wrap; the transform must still pick the small rotation,
	// not the near-pi one on the far side of the fold.
	phi := -0.5 * math.Pi / 180
	mask := createEllipseMask(96, 96, 48, 48, 20, 5, phi)

	tr, ok := EstimateTransform(mask)
	if !ok {
		t.Fatal("EstimateTransform failed on a non-empty mask")
	}
	if math.Abs(tr.Angle) > 1.5*math.Pi/180 {
		t.Errorf("Transform angle = %v rad, expected about %v rad", tr.Angle, phi)
	}
}

func TestEstimateTransformEmptyMask(t *testing.T) {
	mask := stack.MaskFrame{Rows: 16, Cols: 16, Pix: make([]bool, 256)}
	if _, ok := EstimateTransform(mask); ok {
		t.Error("EstimateTransform should fail on an empty mask")
	}
}

func TestTranslateWrap(t *testing.T) {
	src := stack.Frame{Rows: 4, Cols: 4, Pix: make([]float64, 16)}
	for i := range src.Pix {
		src.Pix[i] = float64(i)
	}
	dst := stack.Frame{Rows: 4, Cols: 4, Pix: make([]float64, 16)}

	// An integer shift is exact under bilinear interpolation.
	Translate(src, dst, 1, 0, Bilinear)

	if got := dst.At(1, 2); got != src.At(0, 2) {
		t.Errorf("Shifted pixel = %v, expected %v", got, src.At(0, 2))
	}
	// The first row wraps around from the last source row.
	if got := dst.At(0, 2); got != src.At(3, 2) {
		t.Errorf("Wrapped pixel = %v, expected %v", got, src.At(3, 2))
	}
}

func TestRotateIdentity(t *testing.T) {
	src := stack.Frame{Rows: 8, Cols: 8, Pix: make([]float64, 64)}
	for i := range src.Pix {
		src.Pix[i] = float64(i * 3)
	}
	dst := stack.Frame{Rows: 8, Cols: 8, Pix: make([]float64, 64)}

	Rotate(src, dst, 0, Bilinear)

	for i := range src.Pix {
		if dst.Pix[i] != src.Pix[i] {
			t.Fatalf("Zero rotation changed pixel %d: %v != %v", i, dst.Pix[i], src.Pix[i])
		}
	}
}

// buildEllipseStacks builds a single-unit stack pair with an off-center,
// rotated elliptical object in every non-TL channel.
func buildEllipseStacks(phi float64) (*stack.Stack, *stack.MaskStack) {
	fluor := stack.NewStack([]string{"410", "470"}, 1, 1, 96, 96)
	masks := stack.NewMaskStack([]string{"410", "470"}, 1, 1, 96, 96)

	ellipse := createEllipseMask(96, 96, 40, 56, 20, 5, phi)
	for ci := 0; ci < 2; ci++ {
		copy(masks.Frame(0, ci, 0).Pix, ellipse.Pix)
		f := fluor.Frame(0, ci, 0)
		for i, in := range ellipse.Pix {
			if in {
				f.Pix[i] = 1000
			}
		}
	}
	return fluor, masks
}

func TestNormalizePoseCanonicalizes(t *testing.T) {
	phi := 30 * math.Pi / 180
	fluor, masks := buildEllipseStacks(phi)

	rotFluor, rotMasks, err := NormalizePose(fluor, masks, "410", 2)
	if err != nil {
		t.Fatalf("NormalizePose failed: %v", err)
	}

	region := segmentation.LargestRegion(rotMasks.Frame(0, 0, 0))
	if region == nil {
		t.Fatal("Rotated mask lost its object")
	}

	// Canonical pose: major axis horizontal (orientation pi/2), centroid on
	// the image center.
	if got := region.Orientation(); math.Abs(got-math.Pi/2) > 2*math.Pi/180 {
		t.Errorf("Rotated orientation = %v rad, expected pi/2 within 2 degrees", got)
	}
	if math.Abs(region.CentroidRow-48) > 1 || math.Abs(region.CentroidCol-48) > 1 {
		t.Errorf("Rotated centroid = (%v, %v), expected (48, 48) within 1 px",
			region.CentroidRow, region.CentroidCol)
	}
	if region.MaxCol-region.MinCol <= region.MaxRow-region.MinRow {
		t.Error("Rotated object should be wider than tall")
	}

	// The fluorescence content must follow the mask.
	center := rotFluor.Frame(0, 0, 0).At(48, 48)
	if center < 500 {
		t.Errorf("Rotated fluorescence at center = %v, expected a bright pixel", center)
	}

	// Inputs are owned by the caller and must stay untouched.
	if !masks.Frame(0, 0, 0).At(40, 56) {
		t.Error("NormalizePose modified its input mask")
	}
}

func TestNormalizePoseIdempotent(t *testing.T) {
	fluor, masks := buildEllipseStacks(30 * math.Pi / 180)

	_, rotMasks, err := NormalizePose(fluor, masks, "410", 2)
	if err != nil {
		t.Fatalf("NormalizePose failed: %v", err)
	}

	// A canonically posed unit should need only a negligible transform.
	tr, ok := EstimateTransform(rotMasks.Frame(0, 0, 0))
	if !ok {
		t.Fatal("Canonical mask lost its object")
	}
	if math.Abs(tr.Angle) > 2*math.Pi/180 {
		t.Errorf("Residual rotation = %v rad, expected about 0", tr.Angle)
	}
	if math.Abs(tr.DRow) > 1 || math.Abs(tr.DCol) > 1 {
		t.Errorf("Residual translation = (%v, %v), expected about (0, 0)", tr.DRow, tr.DCol)
	}
}

func TestNormalizePoseSecondPassIsNoOp(t *testing.T) {
	fluor, masks := buildEllipseStacks(30 * math.Pi / 180)

	rotFluor, rotMasks, err := NormalizePose(fluor, masks, "410", 2)
	if err != nil {
		t.Fatalf("NormalizePose failed: %v", err)
	}
	again, _, err := NormalizePose(rotFluor, rotMasks, "410", 2)
	if err != nil {
		t.Fatalf("Second NormalizePose failed: %v", err)
	}

	// Re-normalizing a canonical unit must leave the content essentially
	// unchanged; only interpolation smoothing at the object boundary may
	// differ.
	first := rotFluor.Frame(0, 0, 0)
	second := again.Frame(0, 0, 0)
	var total, diff float64
	for i := range first.Pix {
		total += math.Abs(first.Pix[i])
		diff += math.Abs(second.Pix[i] - first.Pix[i])
	}
	if diff > 0.1*total {
		t.Errorf("Second pass changed %v of %v total intensity, expected a near no-op", diff, total)
	}
}

func TestNormalizePoseNoObject(t *testing.T) {
	fluor := stack.NewStack([]string{"410"}, 1, 1, 32, 32)
	masks := stack.NewMaskStack([]string{"410"}, 1, 1, 32, 32)

	_, _, err := NormalizePose(fluor, masks, "410", 1)
	if err == nil {
		t.Fatal("NormalizePose should fail when the reference mask is empty")
	}
	var noObj *NoObjectFoundError
	if !errors.As(err, &noObj) {
		t.Fatalf("Expected a NoObjectFoundError, got %T: %v", err, err)
	}
	if noObj.Animal != 0 || noObj.Pair != 0 {
		t.Errorf("Error names unit (%d, %d), expected (0, 0)", noObj.Animal, noObj.Pair)
	}
}

func TestNormalizePoseShapeMismatch(t *testing.T) {
	fluor := stack.NewStack([]string{"410"}, 1, 1, 32, 32)
	masks := stack.NewMaskStack([]string{"410"}, 1, 1, 16, 16)

	if _, _, err := NormalizePose(fluor, masks, "410", 1); err == nil {
		t.Error("NormalizePose should reject misaligned stacks")
	}
}

func BenchmarkRotate(b *testing.B) {
	src := stack.Frame{Rows: 256, Cols: 256, Pix: make([]float64, 256*256)}
	for i := range src.Pix {
		src.Pix[i] = float64(i % 1000)
	}
	dst := stack.Frame{Rows: 256, Cols: 256, Pix: make([]float64, 256*256)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Rotate(src, dst, 0.3, Bilinear)
	}
}
