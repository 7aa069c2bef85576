// Package bundle reads and writes the msgpack file that hands rasters, the
// segmented river network and observation histories to the pipeline.
package bundle

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/chrissnell/reservoirflow/internal/network"
	"github.com/chrissnell/reservoirflow/internal/raster"
	"github.com/chrissnell/reservoirflow/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// Bundle is everything one pipeline run consumes.
type Bundle struct {
	// Occurrence, DEM and Basin share one grid.
	Occurrence *raster.Grid `msgpack:"occurrence"`
	DEM        *raster.Grid `msgpack:"dem"`
	Basin      *raster.Grid `msgpack:"basin"`

	// Accumulation and IDs share the river network's grid.
	Accumulation *raster.Grid `msgpack:"accumulation"`
	IDs          *raster.Grid `msgpack:"ids"`

	Segments []network.SegmentData `msgpack:"segments"`
	Steps    []types.Step          `msgpack:"steps"`

	// Observations maps a region id to its surface-area history. It may
	// be empty when observations come from the results database.
	Observations map[int]types.ObservationSeries `msgpack:"observations,omitempty"`
}

// Load reads a bundle file.
func Load(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bundle: %w", err)
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// Decode reads a bundle from r and checks raster alignment.
func Decode(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := msgpack.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Save writes the bundle to path, replacing any existing file.
func (b *Bundle) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating bundle: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := b.Encode(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing bundle: %w", err)
	}
	return f.Close()
}

// Encode writes the bundle to w.
func (b *Bundle) Encode(w io.Writer) error {
	if err := msgpack.NewEncoder(w).Encode(b); err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}
	return nil
}

// Validate checks that both raster groups are internally aligned.
func (b *Bundle) Validate() error {
	if err := raster.CheckAligned(b.Occurrence, b.DEM, b.Basin); err != nil {
		return fmt.Errorf("occurrence, dem and basin: %w", err)
	}
	if err := raster.CheckAligned(b.Accumulation, b.IDs); err != nil {
		return fmt.Errorf("accumulation and ids: %w", err)
	}
	return nil
}

// Network builds the river network described by the bundle.
func (b *Bundle) Network() (*network.RiverNetwork, error) {
	steps := b.Steps
	if len(steps) == 0 {
		steps = nil
	}
	return network.New(b.Segments, steps)
}
