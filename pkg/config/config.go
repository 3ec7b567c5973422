// Package config provides configuration loading and management for dicom3d.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"dicom3d/pkg/mesh"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// ChunkSize is the cube side of one marching cubes chunk in voxels
		ChunkSize int `yaml:"chunkSize"`

		// SmoothIterations is the number of Taubin smoothing passes
		SmoothIterations int `yaml:"smoothIterations"`

		// AutoIso selects the Otsu threshold instead of IsoValue
		AutoIso bool `yaml:"autoIso"`

		// IsoValue is the extraction threshold in modality units;
		// only used when AutoIso is false
		IsoValue float64 `yaml:"isoValue"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// PreviewQuality is the JPEG quality of exported preview frames
		PreviewQuality int `yaml:"previewQuality"`

		// AnnotationsDir is the root of the on-disk annotation store
		AnnotationsDir string `yaml:"annotationsDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.ChunkSize = mesh.DefaultChunkSize
	cfg.Processing.SmoothIterations = mesh.DefaultSmoothIterations
	cfg.Processing.AutoIso = true
	cfg.Processing.IsoValue = 0

	cfg.Output.Verbose = true
	cfg.Output.PreviewQuality = 90
	cfg.Output.AnnotationsDir = "annotations"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

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

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
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
	return SaveConfig(DefaultConfig(), configPath)
}
