package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"pharynxredox/pkg/analysis"
	"pharynxredox/pkg/config"
	"pharynxredox/pkg/segmentation"
	"pharynxredox/pkg/stack"
	"pharynxredox/pkg/visualization"
)

func main() {
	// Parse command line arguments
	fluorDir := flag.String("input", "", "Directory containing fluorescence frames (<animal>_<channel>_<pair>.png)")
	maskDir := flag.String("masks", "", "Directory containing binary mask frames (optional; segmented from input when omitted)")
	outputDir := flag.String("output", "analysis_results", "Directory to write profiles and images")
	configPath := flag.String("config", "pharynxredox.yml", "Path to YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration file and exit")
	ratioNum := flag.String("ratio-num", "410", "Numerator channel for ratio images")
	ratioDen := flag.String("ratio-den", "470", "Denominator channel for ratio images")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Wrote default configuration to %s\n", *configPath)
		return
	}

	if *fluorDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("PHARYNX REDOX PROFILE EXTRACTION")
	fmt.Println("================================")

	// Load input stacks
	fmt.Printf("Loading fluorescence stack from %s...\n", *fluorDir)
	fluor, err := stack.LoadDir(*fluorDir)
	if err != nil {
		log.Fatalf("Failed to load fluorescence stack: %v", err)
	}
	fmt.Printf("Loaded %d animals x %d channels x %d pairs (%dx%d px)\n",
		fluor.Animals, len(fluor.Channels), fluor.Pairs, fluor.Cols, fluor.Rows)

	var masks *stack.MaskStack
	if *maskDir != "" {
		fmt.Printf("Loading mask stack from %s...\n", *maskDir)
		masks, err = stack.LoadMaskDir(*maskDir)
		if err != nil {
			log.Fatalf("Failed to load mask stack: %v", err)
		}
	}

	searchParams := segmentation.DefaultSearchParams()
	searchParams.TargetArea = cfg.Segmentation.TargetArea
	searchParams.AreaRange = cfg.Segmentation.AreaRange
	searchParams.InitialFraction = cfg.Segmentation.InitialFraction
	searchParams.MaxIterations = cfg.Segmentation.MaxIterations

	params := &analysis.Params{
		ReferenceChannel:        cfg.Pipeline.ReferenceChannel,
		MidlineDegree:           cfg.Pipeline.MidlineDegree,
		MidlinePad:              cfg.Pipeline.MidlinePad,
		ProfilePoints:           cfg.Pipeline.ProfilePoints,
		ProfileThickness:        cfg.Pipeline.ProfileThickness,
		BandScale:               cfg.Pipeline.BandScale,
		FrameSpecificMidlines:   cfg.Pipeline.FrameSpecificMidlines,
		ClipPercent:             cfg.Normalization.ClipPercent,
		SubtractMedians:         cfg.Segmentation.SubtractMedians,
		Segmentation:            searchParams,
		NumCores:                cfg.Pipeline.NumCores,
		AbortOnNoObject:         cfg.Output.AbortOnNoObject,
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         filepath.Join(*outputDir, "intermediary"),
	}

	analyzer := analysis.New(params, fluor, masks)

	fmt.Println("Starting analysis...")
	startTime := time.Now()
	if err := analyzer.Run(); err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	elapsed := time.Since(startTime)

	results := analyzer.Results()

	// Export outputs
	rawPath := filepath.Join(*outputDir, "profiles_raw.csv")
	if err := visualization.SaveProfilesCSV(rawPath, results.Profiles); err != nil {
		log.Fatalf("Failed to save raw profiles: %v", err)
	}
	normPath := filepath.Join(*outputDir, "profiles_normalized.csv")
	if err := visualization.SaveProfilesCSV(normPath, results.NormalizedProfiles); err != nil {
		log.Fatalf("Failed to save normalized profiles: %v", err)
	}

	ratioDir := filepath.Join(*outputDir, "ratio_images")
	if err := visualization.SaveRatioImages(ratioDir, results.RotatedFluor, results.RotatedMasks,
		*ratioNum, *ratioDen, -7, 7); err != nil {
		log.Printf("Warning: Failed to save ratio images: %v", err)
	}

	fmt.Printf("\nAnalysis completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Raw profiles:        %s\n", rawPath)
	fmt.Printf("Normalized profiles: %s\n", normPath)
	fmt.Printf("Ratio images:        %s\n", ratioDir)

	// Audit report: which units fell back to zero profiles or were skipped
	audit := analyzer.Audit()
	if len(audit) > 0 {
		fmt.Printf("\n%d units required fallbacks:\n", len(audit))
		for _, e := range audit {
			fmt.Printf("  %s\n", e)
		}
	}
}
