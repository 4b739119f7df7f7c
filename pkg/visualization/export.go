// Package visualization exports pipeline outputs for downstream plotting and
// inspection: intensity profiles as CSV, and ratio images z-normalized
// against their masks as grayscale frames.
package visualization

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"pharynxredox/pkg/normalize"
	"pharynxredox/pkg/stack"
)

// SaveProfilesCSV writes a profile stack as a CSV table with one row per
// (animal, channel, pair) frame and one column per sampling position.
// Position is a sampling index; consumers may rescale it to [0, 1].
func SaveProfilesCSV(path string, profiles *stack.ProfileStack) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create profile CSV: %v", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := make([]string, 3+profiles.Points)
	header[0] = "animal"
	header[1] = "channel"
	header[2] = "pair"
	for i := 0; i < profiles.Points; i++ {
		header[3+i] = "p" + strconv.Itoa(i)
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	record := make([]string, 3+profiles.Points)
	for animal := 0; animal < profiles.Animals; animal++ {
		for ci, channel := range profiles.Channels {
			for pair := 0; pair < profiles.Pairs; pair++ {
				record[0] = strconv.Itoa(animal)
				record[1] = channel
				record[2] = strconv.Itoa(pair)
				for i, v := range profiles.Profile(animal, ci, pair) {
					record[3+i] = strconv.FormatFloat(v, 'g', -1, 64)
				}
				if err := w.Write(record); err != nil {
					return fmt.Errorf("failed to write CSV record: %v", err)
				}
			}
		}
	}

	return nil
}

func hasForeground(mask stack.MaskFrame) bool {
	for _, v := range mask.Pix {
		if v {
			return true
		}
	}
	return false
}

// RatioFrame computes the per-pixel ratio of two measurement frames,
// defining division by zero as zero so empty background stays empty.
func RatioFrame(num, den stack.Frame) stack.Frame {
	out := stack.Frame{Rows: num.Rows, Cols: num.Cols, Pix: make([]float64, len(num.Pix))}
	for i := range num.Pix {
		if den.Pix[i] != 0 {
			out.Pix[i] = num.Pix[i] / den.Pix[i]
		}
	}
	return out
}

// SaveRatioImages writes a z-normalized ratio image for every (animal, pair)
// unit: the ratio of the two named channels, z-scored against the reference
// channel's mask, then linearly mapped from [vmin, vmax] to the 16-bit
// grayscale range. Frames whose mask is empty are skipped.
func SaveRatioImages(dir string, fluor *stack.Stack, masks *stack.MaskStack, numChannel, denChannel string, vmin, vmax float64) error {
	ni, err := fluor.ChannelIndex(numChannel)
	if err != nil {
		return err
	}
	di, err := fluor.ChannelIndex(denChannel)
	if err != nil {
		return err
	}
	mi, err := masks.ChannelIndex(numChannel)
	if err != nil {
		return err
	}
	if vmax <= vmin {
		return fmt.Errorf("invalid display range [%g, %g]", vmin, vmax)
	}

	for animal := 0; animal < fluor.Animals; animal++ {
		for pair := 0; pair < fluor.Pairs; pair++ {
			mask := masks.Frame(animal, mi, pair)
			if !hasForeground(mask) {
				continue
			}

			ratio := RatioFrame(fluor.Frame(animal, ni, pair), fluor.Frame(animal, di, pair))
			z, err := normalize.ZNormalize(ratio, mask)
			if err != nil {
				return err
			}

			// Map [vmin, vmax] onto the 16-bit range for export.
			for i, v := range z.Pix {
				z.Pix[i] = (v - vmin) / (vmax - vmin) * 65535
			}

			name := fmt.Sprintf("%03d_ratio_%d.png", animal, pair)
			if err := stack.SaveFrame(filepath.Join(dir, name), z); err != nil {
				return err
			}
		}
	}

	return nil
}
