package config

import (
	"errors"
	"fmt"
	"runtime"
)

// Observation sources.
const (
	ObservationsBundle   = "bundle"
	ObservationsDatabase = "database"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultBlockSize = 30
	DefaultThreshold = 300
	DefaultPixelSize = 30
	DefaultTolerance = 1e-6
	DefaultSQLite    = "reservoirflow.db"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	GetStorageConfig() (*StorageData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration of a pipeline run
type ConfigData struct {
	Input      InputData      `json:"input"`
	Detection  DetectionData  `json:"detection"`
	Fitting    FittingData    `json:"fitting"`
	Conversion ConversionData `json:"conversion"`
	Splice     SpliceData     `json:"splice"`
	Storage    StorageData    `json:"storage,omitempty"`
}

// InputData locates the run's inputs
type InputData struct {
	Bundle string `json:"bundle"`
	// Observations is "bundle" or "database".
	Observations string `json:"observations,omitempty"`
}

// DetectionData holds the reservoir detector parameters
type DetectionData struct {
	Threshold float64 `json:"threshold,omitempty"`
	BlockSize int     `json:"block_size,omitempty"`
}

// FittingData sizes the stage-storage fitting pool
type FittingData struct {
	Workers int `json:"workers,omitempty"`
}

// ConversionData holds the observation pixel resolution in metres
type ConversionData struct {
	PixelSize float64 `json:"pixel_size,omitempty"`
}

// SpliceData holds the adjustment rescale tolerance
type SpliceData struct {
	Tolerance float64 `json:"tolerance,omitempty"`
}

// StorageData holds the configuration for the results backends. At most
// one may be set; SQLite is used when neither is.
type StorageData struct {
	SQLite      *SQLiteData      `json:"sqlite,omitempty"`
	TimescaleDB *TimescaleDBData `json:"timescaledb,omitempty"`
}

type SQLiteData struct {
	Path string `json:"path"`
}

type TimescaleDBData struct {
	ConnectionString string `json:"connection_string"`
}

// ApplyDefaults fills every unset value.
func (c *ConfigData) ApplyDefaults() {
	if c.Input.Observations == "" {
		c.Input.Observations = ObservationsBundle
	}
	if c.Detection.Threshold == 0 {
		c.Detection.Threshold = DefaultThreshold
	}
	if c.Detection.BlockSize == 0 {
		c.Detection.BlockSize = DefaultBlockSize
	}
	if c.Fitting.Workers == 0 {
		c.Fitting.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Conversion.PixelSize == 0 {
		c.Conversion.PixelSize = DefaultPixelSize
	}
	if c.Splice.Tolerance == 0 {
		c.Splice.Tolerance = DefaultTolerance
	}
	if c.Storage.SQLite == nil && c.Storage.TimescaleDB == nil {
		c.Storage.SQLite = &SQLiteData{Path: DefaultSQLite}
	}
}

// Validate rejects values no run could use.
func (c *ConfigData) Validate() error {
	switch {
	case c.Input.Bundle == "":
		return fmt.Errorf("%w: input.bundle is required", ErrInvalidConfig)
	case c.Input.Observations != ObservationsBundle && c.Input.Observations != ObservationsDatabase:
		return fmt.Errorf("%w: input.observations must be %q or %q, got %q",
			ErrInvalidConfig, ObservationsBundle, ObservationsDatabase, c.Input.Observations)
	case c.Detection.Threshold < 0:
		return fmt.Errorf("%w: detection.threshold must not be negative", ErrInvalidConfig)
	case c.Detection.BlockSize < 1:
		return fmt.Errorf("%w: detection.block_size must be positive", ErrInvalidConfig)
	case c.Fitting.Workers < 1:
		return fmt.Errorf("%w: fitting.workers must be positive", ErrInvalidConfig)
	case c.Conversion.PixelSize <= 0:
		return fmt.Errorf("%w: conversion.pixel_size must be positive", ErrInvalidConfig)
	case c.Splice.Tolerance < 0:
		return fmt.Errorf("%w: splice.tolerance must not be negative", ErrInvalidConfig)
	case c.Storage.SQLite != nil && c.Storage.TimescaleDB != nil:
		return fmt.Errorf("%w: configure only one of storage.sqlite and storage.timescaledb", ErrInvalidConfig)
	case c.Storage.SQLite != nil && c.Storage.SQLite.Path == "":
		return fmt.Errorf("%w: storage.sqlite.path is required", ErrInvalidConfig)
	case c.Storage.TimescaleDB != nil && c.Storage.TimescaleDB.ConnectionString == "":
		return fmt.Errorf("%w: storage.timescaledb.connection_string is required", ErrInvalidConfig)
	}
	return nil
}
