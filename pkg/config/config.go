// Package config provides configuration loading and management for volresample.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/ks67768/biomedicalimageanalysis/pkg/interpolation"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for resampling
		NumCores int `yaml:"numCores"`

		// Interpolation names the interpolator: "linear" or "nearest"
		Interpolation string `yaml:"interpolation"`
	} `yaml:"processing"`

	// Default pixel values written where the transformed input has no sample
	Defaults struct {
		RotationFill    uint8 `yaml:"rotationFill"`
		TranslationFill uint8 `yaml:"translationFill"`
		ScalingFill     uint8 `yaml:"scalingFill"`
	} `yaml:"defaults"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether preview images are written
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where preview images go
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Compress zlib-compresses MetaImage output
		Compress bool `yaml:"compress"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Interpolation = "linear"

	cfg.Defaults.RotationFill = 100
	cfg.Defaults.TranslationFill = 0
	cfg.Defaults.ScalingFill = 0

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Compress = false
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks values that cannot be fixed up silently
func (c *Config) Validate() error {
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("%w: numCores %d is negative", ErrInvalidConfig, c.Processing.NumCores)
	}
	if _, err := interpolation.ByName(c.Processing.Interpolation); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
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

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

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
