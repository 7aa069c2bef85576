package bundle

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chrissnell/reservoirflow/internal/network"
	"github.com/chrissnell/reservoirflow/internal/raster"
	"github.com/chrissnell/reservoirflow/internal/types"
)

func sample() *Bundle {
	tr := raster.Transform{OriginX: -120, OriginY: 45, PixelWidth: 0.001, PixelHeight: -0.001}
	grid := func(v float64) *raster.Grid {
		g := raster.New(4, 5, tr)
		for i := range g.Data {
			g.Data[i] = v + float64(i)
		}
		return g
	}
	return &Bundle{
		Occurrence:   grid(0),
		DEM:          grid(100),
		Basin:        grid(1),
		Accumulation: grid(2),
		IDs:          grid(1),
		Segments: []network.SegmentData{{
			ID:        0,
			Pixels:    []int64{1, 6, 11},
			Elevation: []float64{3, 2, 1},
			Distance:  []float64{0, 1, 2},
			Discharge: [][]float64{{5, 5, 5}, {6, 6, 6}},
		}},
		Steps: []types.Step{{Month: 1, Year: 2021}, {Month: 2, Year: 2021}},
		Observations: map[int]types.ObservationSeries{
			3: {{Step: types.Step{Month: 1, Year: 2021}, Pixels: 40}},
		},
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.msgpack")
	if err := sample().Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if b.DEM.At(3, 4) != 119 || b.DEM.Transform != sample().DEM.Transform {
		t.Errorf("dem not restored: %+v", b.DEM.Transform)
	}
	if len(b.Observations[3]) != 1 || b.Observations[3][0].Pixels != 40 {
		t.Errorf("observations not restored: %+v", b.Observations)
	}

	n, err := b.Network()
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	if n.Steps() != 2 || len(n.Labels()) != 2 {
		t.Errorf("expected two labelled steps, got %d/%d", n.Steps(), len(n.Labels()))
	}
	q, _ := n.Hydrograph(0)
	if q[1] != 6 {
		t.Errorf("unexpected discharge %v", q)
	}
}

func TestDecodeRejectsMisalignedRasters(t *testing.T) {
	b := sample()
	b.IDs = raster.New(3, 5, b.IDs.Transform)

	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := Decode(&buf); !errors.Is(err, raster.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.msgpack")); err == nil {
		t.Error("expected an error for a missing bundle")
	}
}
