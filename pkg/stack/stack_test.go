package stack

import (
	"os"
	"path/filepath"
	"testing"
)

// createTempDir creates a temporary directory for test files
func createTempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "pharynxredox-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	return dir
}

func TestStackIndexing(t *testing.T) {
	s := NewStack([]string{"410", "470", "TL"}, 2, 2, 4, 5)

	if got := len(s.Data); got != 2*3*2*4*5 {
		t.Fatalf("Backing array has %d elements, expected %d", got, 2*3*2*4*5)
	}

	// Writes through one frame must land at distinct offsets per frame.
	f := s.Frame(1, 2, 0)
	f.Set(3, 4, 42)

	if got := s.Frame(1, 2, 0).At(3, 4); got != 42 {
		t.Errorf("Frame read-back returned %v, expected 42", got)
	}
	if got := s.Frame(1, 2, 1).At(3, 4); got != 0 {
		t.Errorf("Adjacent frame was modified: got %v, expected 0", got)
	}
	if got := s.Frame(0, 2, 0).At(3, 4); got != 0 {
		t.Errorf("Adjacent animal was modified: got %v, expected 0", got)
	}
}

func TestChannelIndex(t *testing.T) {
	s := NewStack([]string{"410", "470"}, 1, 1, 2, 2)

	i, err := s.ChannelIndex("470")
	if err != nil {
		t.Fatalf("ChannelIndex failed for known channel: %v", err)
	}
	if i != 1 {
		t.Errorf("ChannelIndex(470) = %d, expected 1", i)
	}

	if _, err := s.ChannelIndex("530"); err == nil {
		t.Error("ChannelIndex should fail for an unknown channel")
	}
}

func TestIsTL(t *testing.T) {
	cases := map[string]bool{
		"TL":  true,
		"tl":  true,
		"Tl":  true,
		"410": false,
		"":    false,
	}
	for name, want := range cases {
		if got := IsTL(name); got != want {
			t.Errorf("IsTL(%q) = %v, expected %v", name, got, want)
		}
	}
}

func TestCloneIndependence(t *testing.T) {
	s := NewStack([]string{"410"}, 1, 1, 3, 3)
	s.Frame(0, 0, 0).Set(1, 1, 7)

	c := s.Clone()
	c.Frame(0, 0, 0).Set(1, 1, 99)

	if got := s.Frame(0, 0, 0).At(1, 1); got != 7 {
		t.Errorf("Clone shares backing data with the original: got %v, expected 7", got)
	}
}

func TestSameShape(t *testing.T) {
	s := NewStack([]string{"410", "TL"}, 2, 1, 8, 8)

	if !s.SameShape(NewMaskStack([]string{"410", "TL"}, 2, 1, 8, 8)) {
		t.Error("Identical extents should be same-shaped")
	}
	if s.SameShape(NewMaskStack([]string{"410", "470"}, 2, 1, 8, 8)) {
		t.Error("Different channel names should not be same-shaped")
	}
	if s.SameShape(NewMaskStack([]string{"410", "TL"}, 2, 1, 8, 9)) {
		t.Error("Different column extents should not be same-shaped")
	}
}

func TestLoadDirRoundTrip(t *testing.T) {
	dir := createTempDir(t)
	defer os.RemoveAll(dir)

	// Two animals, two channels, one pair. Each frame carries a distinct
	// intensity so the loader's index assignment is observable.
	values := map[string]float64{
		"0_410_0.png": 1000,
		"0_470_0.png": 2000,
		"1_410_0.png": 3000,
		"1_470_0.png": 4000,
	}
	for name, v := range values {
		f := Frame{Rows: 6, Cols: 8, Pix: make([]float64, 6*8)}
		for i := range f.Pix {
			f.Pix[i] = v
		}
		if err := SaveFrame(filepath.Join(dir, name), f); err != nil {
			t.Fatalf("Failed to save frame %s: %v", name, err)
		}
	}

	s, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	if s.Animals != 2 || s.Pairs != 1 || s.Rows != 6 || s.Cols != 8 {
		t.Fatalf("Loaded extents %dx%dx%dx%d, expected 2x1x6x8", s.Animals, s.Pairs, s.Rows, s.Cols)
	}
	if len(s.Channels) != 2 || s.Channels[0] != "410" || s.Channels[1] != "470" {
		t.Fatalf("Loaded channels %v, expected [410 470]", s.Channels)
	}

	if got := s.Frame(1, 1, 0).At(3, 3); got != 4000 {
		t.Errorf("Frame (1, 470, 0) holds %v, expected 4000", got)
	}
	if got := s.Frame(0, 0, 0).At(0, 0); got != 1000 {
		t.Errorf("Frame (0, 410, 0) holds %v, expected 1000", got)
	}
}

func TestLoadMaskDir(t *testing.T) {
	dir := createTempDir(t)
	defer os.RemoveAll(dir)

	f := Frame{Rows: 4, Cols: 4, Pix: make([]float64, 16)}
	f.Set(1, 2, 65535)
	f.Set(2, 2, 65535)
	if err := SaveFrame(filepath.Join(dir, "0_410_0.png"), f); err != nil {
		t.Fatalf("Failed to save mask frame: %v", err)
	}

	m, err := LoadMaskDir(dir)
	if err != nil {
		t.Fatalf("LoadMaskDir failed: %v", err)
	}

	mask := m.Frame(0, 0, 0)
	if !mask.At(1, 2) || !mask.At(2, 2) {
		t.Error("Saturated pixels should load as foreground")
	}
	if mask.At(0, 0) {
		t.Error("Zero pixels should load as background")
	}
}

func TestParseFrameName(t *testing.T) {
	key, err := parseFrameName("003_410_1.png")
	if err != nil {
		t.Fatalf("parseFrameName failed: %v", err)
	}
	if key.animal != 3 || key.channel != "410" || key.pair != 1 {
		t.Errorf("Parsed %+v, expected animal=3 channel=410 pair=1", key)
	}

	if _, err := parseFrameName("notaframe.png"); err == nil {
		t.Error("parseFrameName should reject names without three parts")
	}
	if _, err := parseFrameName("x_410_1.png"); err == nil {
		t.Error("parseFrameName should reject non-numeric animal indices")
	}
}
