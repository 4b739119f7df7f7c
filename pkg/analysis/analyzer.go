// Package analysis drives the full measurement pipeline: background
// subtraction, segmentation, pose normalization, midline fitting,
// under-midline sampling and profile normalization. Each (animal, pair) unit
// is independent, so the heavy stages run data-parallel across worker
// goroutines with results written into disjoint frames of the output stacks.
package analysis

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"pharynxredox/pkg/midline"
	"pharynxredox/pkg/normalize"
	"pharynxredox/pkg/pose"
	"pharynxredox/pkg/profile"
	"pharynxredox/pkg/segmentation"
	"pharynxredox/pkg/stack"
)

// Params holds the analysis parameters.
type Params struct {
	// ReferenceChannel is the wavelength used to derive pose transforms and,
	// unless FrameSpecificMidlines is set, the midline broadcast within each
	// (animal, pair).
	ReferenceChannel string

	// MidlineDegree and MidlinePad control the polynomial midline fit.
	MidlineDegree int
	MidlinePad    int

	// ProfilePoints, ProfileThickness and BandScale control under-midline
	// sampling.
	ProfilePoints    int
	ProfileThickness float64
	BandScale        float64

	// FrameSpecificMidlines selects per-channel midlines instead of
	// broadcasting the reference channel's.
	FrameSpecificMidlines bool

	// ClipPercent is the profile-trimming percentage used by normalization.
	ClipPercent float64

	// SubtractMedians enables per-frame median background subtraction before
	// segmentation.
	SubtractMedians bool

	// Segmentation configures the threshold search when no mask stack is
	// provided.
	Segmentation segmentation.SearchParams

	// NumCores specifies how many CPU cores to use for parallel processing.
	NumCores int

	// AbortOnNoObject decides the batch policy when a unit's reference mask
	// is empty: abort the whole run, or skip the unit and record it.
	AbortOnNoObject bool

	// SaveIntermediaryResults determines whether to save intermediary
	// processing results (rotated stacks and masks) under IntermediaryDir.
	SaveIntermediaryResults bool
	IntermediaryDir         string
}

// AuditEntry records a unit or frame that required a fallback during the run.
type AuditEntry struct {
	Stage   string
	Animal  int
	Channel string
	Pair    int
	Reason  string
}

func (e AuditEntry) String() string {
	return fmt.Sprintf("[%s] animal=%d channel=%s pair=%d: %s", e.Stage, e.Animal, e.Channel, e.Pair, e.Reason)
}

// Results holds the outputs of a completed run.
type Results struct {
	// RotatedFluor and RotatedMasks are the pose-normalized stacks.
	RotatedFluor *stack.Stack
	RotatedMasks *stack.MaskStack

	// Midlines holds the per-frame fitted midlines (nil where no object).
	Midlines *midline.Midlines

	// Profiles are the raw sampled intensity profiles.
	Profiles *stack.ProfileStack

	// NormalizedProfiles are the clip-normalized profiles, index-aligned
	// with Profiles.
	NormalizedProfiles *stack.ProfileStack
}

// Analyzer runs the measurement pipeline over one fluorescence/mask stack
// pair.
type Analyzer struct {
	params *Params

	fluor *stack.Stack
	masks *stack.MaskStack

	results Results
	audit   []AuditEntry
}

// New creates an analyzer for the given stacks. masks may be nil, in which
// case the analyzer segments the fluorescence stack itself.
func New(params *Params, fluor *stack.Stack, masks *stack.MaskStack) *Analyzer {
	return &Analyzer{params: params, fluor: fluor, masks: masks}
}

// Run executes the complete pipeline.
func (a *Analyzer) Run() error {
	p := a.params

	// Defaults stay local; the caller's params are read-only.
	numCores := p.NumCores
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}
	nPoints := p.ProfilePoints
	if nPoints <= 0 {
		nPoints = profile.DefaultNPoints
	}

	working := a.fluor

	// Step 1: background subtraction.
	if p.SubtractMedians {
		fmt.Println("Step 1: Subtracting median background...")
		working = segmentation.SubtractMedians(working)
	}

	// Step 2: segmentation (skipped when a mask stack was supplied).
	if a.masks == nil {
		fmt.Println("Step 2: Segmenting pharynxes...")
		masks, unconverged := segmentation.SegmentStack(working, p.Segmentation)
		a.masks = masks
		for _, msg := range unconverged {
			a.audit = append(a.audit, AuditEntry{Stage: "segmentation", Animal: -1, Pair: -1, Reason: msg})
		}
	} else if !working.SameShape(a.masks) {
		return fmt.Errorf("fluorescence and mask stacks are not index-aligned")
	}

	// Step 3: pose normalization. NoObjectFound aborts or skips depending on
	// the configured batch policy.
	fmt.Println("Step 3: Centering and rotating pharynxes...")
	rotFluor, rotMasks, err := a.normalizePose(working, numCores)
	if err != nil {
		return fmt.Errorf("pose normalization failed: %v", err)
	}
	a.results.RotatedFluor = rotFluor
	a.results.RotatedMasks = rotMasks

	if p.SaveIntermediaryResults {
		if err := a.saveIntermediary("03_rotated"); err != nil {
			fmt.Printf("Warning: Failed to save rotated stacks: %v\n", err)
		}
	}

	// Step 4: midline fitting.
	fmt.Println("Step 4: Fitting midlines...")
	mids := midline.FitStack(rotMasks, p.MidlineDegree, p.MidlinePad)
	a.results.Midlines = mids
	for animal := 0; animal < rotMasks.Animals; animal++ {
		for ci, channel := range rotMasks.Channels {
			for pair := 0; pair < rotMasks.Pairs; pair++ {
				if mids.At(animal, ci, pair) == nil && !stack.IsTL(channel) {
					a.audit = append(a.audit, AuditEntry{
						Stage: "midline", Animal: animal, Channel: channel, Pair: pair,
						Reason: "no midline (empty mask)",
					})
				}
			}
		}
	}

	// Step 5: under-midline sampling.
	fmt.Println("Step 5: Measuring intensity profiles...")
	profiles, fallbacks, err := profile.SampleStack(rotFluor, mids, profile.StackOptions{
		Options: profile.Options{
			NPoints:   nPoints,
			Thickness: p.ProfileThickness,
			BandScale: p.BandScale,
		},
		FrameSpecific:    p.FrameSpecificMidlines,
		ReferenceChannel: p.ReferenceChannel,
	})
	if err != nil {
		return fmt.Errorf("profile sampling failed: %v", err)
	}
	a.results.Profiles = profiles
	for _, f := range fallbacks {
		if stack.IsTL(f.Channel) {
			// Expected: TL channels have no midline and measure nothing.
			continue
		}
		a.audit = append(a.audit, AuditEntry{
			Stage: "sampling", Animal: f.Animal, Channel: f.Channel, Pair: f.Pair, Reason: f.Reason,
		})
	}

	// Step 6: profile normalization.
	fmt.Println("Step 6: Normalizing profiles...")
	if err := a.normalizeProfiles(); err != nil {
		return fmt.Errorf("profile normalization failed: %v", err)
	}

	fmt.Printf("Analysis complete: %d animals x %d channels x %d pairs, %d audit entries\n",
		a.fluor.Animals, len(a.fluor.Channels), a.fluor.Pairs, len(a.audit))

	return nil
}

// normalizePose applies the configured NoObjectFound policy. With
// AbortOnNoObject the first empty reference mask aborts the run; otherwise
// offending units are skipped, their output frames stay zeroed, and each skip
// is recorded in the audit log.
func (a *Analyzer) normalizePose(working *stack.Stack, numCores int) (*stack.Stack, *stack.MaskStack, error) {
	p := a.params

	if p.AbortOnNoObject {
		return pose.NormalizePose(working, a.masks, p.ReferenceChannel, numCores)
	}

	refIdx, err := a.masks.ChannelIndex(p.ReferenceChannel)
	if err != nil {
		return nil, nil, err
	}

	outFluor := working.EmptyLike()
	outMasks := a.masks.EmptyLike()

	type unit struct{ animal, pair int }
	units := make(chan unit)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < numCores; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range units {
				t, ok := pose.EstimateTransform(a.masks.Frame(u.animal, refIdx, u.pair))
				if !ok {
					mu.Lock()
					a.audit = append(a.audit, AuditEntry{
						Stage: "pose", Animal: u.animal, Channel: p.ReferenceChannel, Pair: u.pair,
						Reason: "no object in reference mask; unit skipped",
					})
					mu.Unlock()
					continue
				}
				for ci := range working.Channels {
					t.Apply(working.Frame(u.animal, ci, u.pair), outFluor.Frame(u.animal, ci, u.pair))
					t.ApplyMask(a.masks.Frame(u.animal, ci, u.pair), outMasks.Frame(u.animal, ci, u.pair))
				}
			}
		}()
	}

	for animal := 0; animal < working.Animals; animal++ {
		for pair := 0; pair < working.Pairs; pair++ {
			units <- unit{animal: animal, pair: pair}
		}
	}
	close(units)
	wg.Wait()

	return outFluor, outMasks, nil
}

func (a *Analyzer) normalizeProfiles() error {
	p := a.params
	profiles := a.results.Profiles

	normed := stack.NewProfileStack(profiles.Channels, profiles.Animals, profiles.Pairs, profiles.Points)
	for animal := 0; animal < profiles.Animals; animal++ {
		for ci, channel := range profiles.Channels {
			if stack.IsTL(channel) {
				continue
			}
			for pair := 0; pair < profiles.Pairs; pair++ {
				rows := [][]float64{profiles.Profile(animal, ci, pair)}
				out, err := normalize.Profiles(rows, p.ClipPercent)
				if err != nil {
					return err
				}
				copy(normed.Profile(animal, ci, pair), out[0])
			}
		}
	}
	a.results.NormalizedProfiles = normed
	return nil
}

func (a *Analyzer) saveIntermediary(stage string) error {
	fluor := a.results.RotatedFluor
	for animal := 0; animal < fluor.Animals; animal++ {
		for ci, channel := range fluor.Channels {
			for pair := 0; pair < fluor.Pairs; pair++ {
				name := fmt.Sprintf("%03d_%s_%d.png", animal, channel, pair)
				path := filepath.Join(a.params.IntermediaryDir, stage, name)
				if err := stack.SaveFrame(path, fluor.Frame(animal, ci, pair)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Results returns the pipeline outputs after Run has completed.
func (a *Analyzer) Results() Results {
	return a.results
}

// Audit returns the fallback records accumulated during the run: skipped
// units, nil midlines on measurable channels, and zero-profile sampling
// substitutions.
func (a *Analyzer) Audit() []AuditEntry {
	return a.audit
}

// Masks returns the mask stack used by the run (supplied or segmented).
func (a *Analyzer) Masks() *stack.MaskStack {
	return a.masks
}
