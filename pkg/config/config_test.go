package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// TestDefaultConfig verifies the documented defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processing.NumCores != runtime.NumCPU() {
		t.Errorf("Expected %d cores, got %d", runtime.NumCPU(), cfg.Processing.NumCores)
	}
	if cfg.Processing.Interpolation != "linear" {
		t.Errorf("Expected linear interpolation, got %q", cfg.Processing.Interpolation)
	}
	if cfg.Defaults.RotationFill != 100 {
		t.Errorf("Expected rotation fill 100, got %d", cfg.Defaults.RotationFill)
	}
	if cfg.Defaults.TranslationFill != 0 || cfg.Defaults.ScalingFill != 0 {
		t.Errorf("Expected zero translation/scaling fill, got %d/%d", cfg.Defaults.TranslationFill, cfg.Defaults.ScalingFill)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

// TestLoadMissingConfig returns defaults when no file exists
func TestLoadMissingConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Defaults.RotationFill != 100 {
		t.Errorf("Expected defaults, got rotation fill %d", cfg.Defaults.RotationFill)
	}
}

// TestSaveAndLoadConfig round-trips a modified configuration
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Processing.NumCores = 3
	cfg.Processing.Interpolation = "nearest"
	cfg.Defaults.ScalingFill = 17
	cfg.Output.Compress = true

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Expected %+v, got %+v", *cfg, *loaded)
	}
}

// TestPartialConfig keeps defaults for keys the file omits
func TestPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("defaults:\n  translationFill: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Defaults.TranslationFill != 5 {
		t.Errorf("Expected translation fill 5, got %d", cfg.Defaults.TranslationFill)
	}
	if cfg.Defaults.RotationFill != 100 {
		t.Errorf("Expected rotation fill to stay 100, got %d", cfg.Defaults.RotationFill)
	}
}

// TestInvalidConfig rejects bad values and bad YAML
func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"unknown interpolation", "processing:\n  interpolation: cubic\n", ErrInvalidConfig},
		{"negative cores", "processing:\n  numCores: -2\n", ErrInvalidConfig},
		{"fill out of range", "defaults:\n  rotationFill: 300\n", nil},
		{"not yaml", "processing: [\n", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

// TestCreateDefaultConfigFile writes a loadable file
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("Failed to create default config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("Expected default config, got %+v", *cfg)
	}
}
