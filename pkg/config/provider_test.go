package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := NewYAMLProvider(writeConfig(t, "input:\n  bundle: basin.msgpack\n")).LoadConfig()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Input.Observations != ObservationsBundle {
		t.Errorf("expected observations from the bundle, got %q", cfg.Input.Observations)
	}
	if cfg.Detection.BlockSize != DefaultBlockSize || cfg.Detection.Threshold != DefaultThreshold {
		t.Errorf("unexpected detection defaults %+v", cfg.Detection)
	}
	if cfg.Fitting.Workers != runtime.GOMAXPROCS(0) {
		t.Errorf("expected GOMAXPROCS workers, got %d", cfg.Fitting.Workers)
	}
	if cfg.Conversion.PixelSize != DefaultPixelSize || cfg.Splice.Tolerance != DefaultTolerance {
		t.Errorf("unexpected conversion/splice defaults %+v %+v", cfg.Conversion, cfg.Splice)
	}
	if cfg.Storage.SQLite == nil || cfg.Storage.SQLite.Path != DefaultSQLite {
		t.Errorf("expected default sqlite storage, got %+v", cfg.Storage)
	}
}

func TestLoadConfigFull(t *testing.T) {
	body := `
input:
  bundle: /data/basin.msgpack
  observations: database
detection:
  threshold: 450
  block-size: 20
fitting:
  workers: 3
conversion:
  pixel-size: 10
splice:
  tolerance: 0.001
storage:
  timescaledb:
    connection-string: postgres://flow@localhost/flow
`
	p := NewYAMLProvider(writeConfig(t, body))
	cfg, err := p.LoadConfig()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Detection.Threshold != 450 || cfg.Detection.BlockSize != 20 || cfg.Fitting.Workers != 3 {
		t.Errorf("values not read: %+v %+v", cfg.Detection, cfg.Fitting)
	}
	if cfg.Conversion.PixelSize != 10 || cfg.Splice.Tolerance != 0.001 {
		t.Errorf("values not read: %+v %+v", cfg.Conversion, cfg.Splice)
	}

	storage, err := p.GetStorageConfig()
	if err != nil {
		t.Fatalf("storage config: %v", err)
	}
	if storage.SQLite != nil || storage.TimescaleDB == nil ||
		storage.TimescaleDB.ConnectionString != "postgres://flow@localhost/flow" {
		t.Errorf("unexpected storage %+v", storage)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing bundle", "detection:\n  threshold: 10\n"},
		{"unknown observation source", "input:\n  bundle: b\n  observations: carrier-pigeon\n"},
		{"negative block size", "input:\n  bundle: b\ndetection:\n  block-size: -2\n"},
		{"negative pixel size", "input:\n  bundle: b\nconversion:\n  pixel-size: -30\n"},
		{"two backends", "input:\n  bundle: b\nstorage:\n  sqlite:\n    path: a.db\n  timescaledb:\n    connection-string: x\n"},
		{"empty sqlite path", "input:\n  bundle: b\nstorage:\n  sqlite: {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYAMLProvider(writeConfig(t, tt.body)).LoadConfig()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := NewYAMLProvider(filepath.Join(t.TempDir(), "nope.yaml")).LoadConfig(); err == nil {
		t.Error("expected an error for a missing file")
	}
}
