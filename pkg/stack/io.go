package stack

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// frameKey identifies one frame of a stack by its axis coordinates.
type frameKey struct {
	animal  int
	channel string
	pair    int
}

// parseFrameName parses a filename of the form <animal>_<channel>_<pair>.<ext>
// into its axis coordinates, e.g. "003_410_1.png".
func parseFrameName(name string) (frameKey, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return frameKey{}, fmt.Errorf("frame filename %q is not <animal>_<channel>_<pair>", name)
	}
	animal, err := strconv.Atoi(parts[0])
	if err != nil {
		return frameKey{}, fmt.Errorf("frame filename %q: bad animal index: %v", name, err)
	}
	pair, err := strconv.Atoi(parts[2])
	if err != nil {
		return frameKey{}, fmt.Errorf("frame filename %q: bad pair index: %v", name, err)
	}
	return frameKey{animal: animal, channel: parts[1], pair: pair}, nil
}

// LoadDir reads a directory of per-frame grayscale images named
// <animal>_<channel>_<pair>.<ext> into a Stack. All frames must share the
// same row/column extents. Pixel intensities are stored as 16-bit counts
// (0-65535) in float64.
func LoadDir(dir string) (*Stack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read stack directory: %v", err)
	}

	type frameFile struct {
		key  frameKey
		path string
	}
	var frames []frameFile
	channelSet := make(map[string]bool)
	maxAnimal, maxPair := -1, -1

	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			continue
		}
		key, err := parseFrameName(e.Name())
		if err != nil {
			return nil, err
		}
		frames = append(frames, frameFile{key: key, path: filepath.Join(dir, e.Name())})
		channelSet[key.channel] = true
		if key.animal > maxAnimal {
			maxAnimal = key.animal
		}
		if key.pair > maxPair {
			maxPair = key.pair
		}
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("no frame images found in %s", dir)
	}

	// Stable channel ordering: numeric wavelengths sorted ascending, then the
	// rest alphabetically, so "410" comes before "470" before "TL".
	channels := make([]string, 0, len(channelSet))
	for c := range channelSet {
		channels = append(channels, c)
	}
	sort.Strings(channels)

	// Probe the first frame for dimensions.
	first, err := loadFrameImage(frames[0].path)
	if err != nil {
		return nil, err
	}
	rows := first.Bounds().Dy()
	cols := first.Bounds().Dx()

	s := NewStack(channels, maxAnimal+1, maxPair+1, rows, cols)
	for _, ff := range frames {
		img, err := loadFrameImage(ff.path)
		if err != nil {
			return nil, err
		}
		if img.Bounds().Dy() != rows || img.Bounds().Dx() != cols {
			return nil, fmt.Errorf("frame %s has dimensions %dx%d, expected %dx%d",
				ff.path, img.Bounds().Dx(), img.Bounds().Dy(), cols, rows)
		}
		ci, err := s.ChannelIndex(ff.key.channel)
		if err != nil {
			return nil, err
		}
		frame := s.Frame(ff.key.animal, ci, ff.key.pair)
		imageToFrame(img, frame)
	}

	return s, nil
}

// LoadMaskDir reads a directory of per-frame binary mask images with the same
// naming convention as LoadDir. Any pixel above half intensity is foreground.
func LoadMaskDir(dir string) (*MaskStack, error) {
	s, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	m := NewMaskStack(s.Channels, s.Animals, s.Pairs, s.Rows, s.Cols)
	for i, v := range s.Data {
		m.Data[i] = v > 32767.5
	}
	return m, nil
}

func loadFrameImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %v", path, err)
	}
	return img, nil
}

func imageToFrame(img image.Image, frame Frame) {
	bounds := img.Bounds()
	for y := 0; y < frame.Rows; y++ {
		for x := 0; x < frame.Cols; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			frame.Set(y, x, float64(r))
		}
	}
}

// FrameToImage converts a frame to a 16-bit grayscale image, clamping values
// to the representable range.
func FrameToImage(frame Frame) image.Image {
	img := image.NewGray16(image.Rect(0, 0, frame.Cols, frame.Rows))
	for y := 0; y < frame.Rows; y++ {
		for x := 0; x < frame.Cols; x++ {
			v := frame.At(y, x)
			if v < 0 {
				v = 0
			} else if v > 65535 {
				v = 65535
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return img
}

// SaveFrame writes a frame as a PNG or JPEG image depending on the file
// extension.
func SaveFrame(path string, frame Frame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create frame file: %v", err)
	}
	defer file.Close()

	img := FrameToImage(frame)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
			return fmt.Errorf("failed to encode frame: %v", err)
		}
	default:
		if err := png.Encode(file, img); err != nil {
			return fmt.Errorf("failed to encode frame: %v", err)
		}
	}
	return nil
}
