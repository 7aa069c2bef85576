package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig reads the YAML file, applies defaults and validates the
// result. The parsed configuration is cached.
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	if y.config != nil {
		return y.config, nil
	}

	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	config, err := parseYAML(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", y.filename, err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	y.config = config
	return config, nil
}

func parseYAML(data []byte) (*ConfigData, error) {
	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Input      InputYAML      `yaml:"input"`
		Detection  DetectionYAML  `yaml:"detection,omitempty"`
		Fitting    FittingYAML    `yaml:"fitting,omitempty"`
		Conversion ConversionYAML `yaml:"conversion,omitempty"`
		Splice     SpliceYAML     `yaml:"splice,omitempty"`
		Storage    StorageYAML    `yaml:"storage,omitempty"`
	}

	if err := yaml.Unmarshal(data, &yamlConfig); err != nil {
		return nil, err
	}

	// Convert to our internal format
	config := &ConfigData{
		Input: InputData{
			Bundle:       yamlConfig.Input.Bundle,
			Observations: yamlConfig.Input.Observations,
		},
		Detection: DetectionData{
			Threshold: yamlConfig.Detection.Threshold,
			BlockSize: yamlConfig.Detection.BlockSize,
		},
		Fitting:    FittingData{Workers: yamlConfig.Fitting.Workers},
		Conversion: ConversionData{PixelSize: yamlConfig.Conversion.PixelSize},
		Splice:     SpliceData{Tolerance: yamlConfig.Splice.Tolerance},
	}

	if yamlConfig.Storage.SQLite != nil {
		config.Storage.SQLite = &SQLiteData{Path: yamlConfig.Storage.SQLite.Path}
	}
	if yamlConfig.Storage.TimescaleDB != nil {
		config.Storage.TimescaleDB = &TimescaleDBData{
			ConnectionString: yamlConfig.Storage.TimescaleDB.ConnectionString,
		}
	}

	return config, nil
}

// GetStorageConfig returns the storage configuration
func (y *YAMLProvider) GetStorageConfig() (*StorageData, error) {
	config, err := y.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &config.Storage, nil
}

// IsReadOnly returns true since YAML files are read-only in this implementation
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with YAML tags

type InputYAML struct {
	Bundle       string `yaml:"bundle"`
	Observations string `yaml:"observations,omitempty"`
}

type DetectionYAML struct {
	Threshold float64 `yaml:"threshold,omitempty"`
	BlockSize int     `yaml:"block-size,omitempty"`
}

type FittingYAML struct {
	Workers int `yaml:"workers,omitempty"`
}

type ConversionYAML struct {
	PixelSize float64 `yaml:"pixel-size,omitempty"`
}

type SpliceYAML struct {
	Tolerance float64 `yaml:"tolerance,omitempty"`
}

type StorageYAML struct {
	SQLite      *SQLiteYAML      `yaml:"sqlite,omitempty"`
	TimescaleDB *TimescaleDBYAML `yaml:"timescaledb,omitempty"`
}

type SQLiteYAML struct {
	Path string `yaml:"path"`
}

type TimescaleDBYAML struct {
	ConnectionString string `yaml:"connection-string"`
}
