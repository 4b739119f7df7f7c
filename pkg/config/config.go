// Package config provides configuration loading and management for
// pharynxredox. It handles loading configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Pipeline parameters
	Pipeline struct {
		// ReferenceChannel is the wavelength channel used to derive pose
		// transforms and broadcast midlines
		ReferenceChannel string `yaml:"referenceChannel"`

		// MidlineDegree is the polynomial degree of the midline fit
		MidlineDegree int `yaml:"midlineDegree"`

		// MidlinePad extends the midline fit domain beyond the mask bounding
		// box, in pixels per side
		MidlinePad int `yaml:"midlinePad"`

		// ProfilePoints is the number of samples per intensity profile
		ProfilePoints int `yaml:"profilePoints"`

		// ProfileThickness is the total normal-direction band length sampled
		// at each midline point; 0 samples the curve only
		ProfileThickness float64 `yaml:"profileThickness"`

		// BandScale is the Gaussian scale parameter for band averaging
		BandScale float64 `yaml:"bandScale"`

		// FrameSpecificMidlines selects per-channel midlines instead of
		// broadcasting the reference channel's midline within each pair
		FrameSpecificMidlines bool `yaml:"frameSpecificMidlines"`

		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`
	} `yaml:"pipeline"`

	// Segmentation parameters
	Segmentation struct {
		// TargetArea is the expected pharynx area in pixels
		TargetArea int `yaml:"targetArea"`

		// AreaRange is the accepted deviation from TargetArea
		AreaRange int `yaml:"areaRange"`

		// InitialFraction is the starting threshold as a fraction of the
		// frame maximum
		InitialFraction float64 `yaml:"initialFraction"`

		// MaxIterations bounds the threshold search
		MaxIterations int `yaml:"maxIterations"`

		// SubtractMedians enables per-frame median background subtraction
		SubtractMedians bool `yaml:"subtractMedians"`
	} `yaml:"segmentation"`

	// Normalization parameters
	Normalization struct {
		// ClipPercent is the fraction of profile samples trimmed from both
		// ends before computing normalization statistics
		ClipPercent float64 `yaml:"clipPercent"`
	} `yaml:"normalization"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save intermediary
		// processing results (rotated stacks, masks)
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// AbortOnNoObject aborts the whole batch when a unit's reference mask
		// is empty; when false the unit is skipped and recorded in the audit
		// log
		AbortOnNoObject bool `yaml:"abortOnNoObject"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default pipeline parameters
	cfg.Pipeline.ReferenceChannel = "410"
	cfg.Pipeline.MidlineDegree = 4
	cfg.Pipeline.MidlinePad = 10
	cfg.Pipeline.ProfilePoints = 300
	cfg.Pipeline.ProfileThickness = 0
	cfg.Pipeline.BandScale = 1.0
	cfg.Pipeline.FrameSpecificMidlines = false
	cfg.Pipeline.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default segmentation parameters (experimentally derived)
	cfg.Segmentation.TargetArea = 450
	cfg.Segmentation.AreaRange = 100
	cfg.Segmentation.InitialFraction = 0.15
	cfg.Segmentation.MaxIterations = 300
	cfg.Segmentation.SubtractMedians = true

	// Set default normalization parameters
	cfg.Normalization.ClipPercent = 2.0

	// Set default output parameters
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.AbortOnNoObject = true
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
