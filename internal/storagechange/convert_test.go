package storagechange

import (
	"math"
	"testing"

	"github.com/chrissnell/reservoirflow/internal/stagestorage"
	"github.com/chrissnell/reservoirflow/internal/types"
)

var testModel = stagestorage.Model{A: 0.05, B: 1.4}

func series(pixels ...float64) types.ObservationSeries {
	obs := make(types.ObservationSeries, len(pixels))
	for i, p := range pixels {
		obs[i] = types.Observation{Step: types.Step{Month: i%12 + 1, Year: 2020 + i/12}, Pixels: p}
	}
	return obs
}

func TestConvertIncreasingRoundTrip(t *testing.T) {
	c := NewConverter(30)
	obs := series(10, 12, 15, 19, 24, 30, 37)

	out := c.Convert(obs, testModel)
	if len(out) != len(obs)-1 {
		t.Fatalf("expected %d changes, got %d", len(obs)-1, len(out))
	}

	areas := c.Areas(obs)
	want := testModel.PlainVolume(areas[len(areas)-1]) - testModel.PlainVolume(areas[0])
	if got := Total(out); math.Abs(got-want) > 1e-9*math.Abs(want) {
		t.Errorf("expected total %f, got %f", want, got)
	}
	for i, ch := range out {
		if ch.Step != obs[i+1].Step {
			t.Errorf("change %d tagged %v, expected %v", i, ch.Step, obs[i+1].Step)
		}
		if ch.Volume <= 0 {
			t.Errorf("change %d: expected a gain, got %f", i, ch.Volume)
		}
	}
}

func TestRepairStuck(t *testing.T) {
	rising := make([]float64, 14)
	for k := range rising {
		rising[k] = float64(k + 1)
	}
	rising[13] = rising[12]
	risingWant := append([]float64(nil), rising...)
	risingWant[13] = (13 + 2) / 2.0

	tests := []struct {
		name     string
		areas    []float64
		expected []float64
	}{
		{
			name:     "single repeated mid-series value",
			areas:    []float64{10, 20, 20, 40},
			expected: []float64{10, 20, 30, 40},
		},
		{
			name:     "run of repeats walks toward the next change",
			areas:    []float64{8, 8, 8, 16},
			expected: []float64{8, 12, 14, 16},
		},
		{
			name:     "trailing repeat uses the seasonal proxy",
			areas:    rising,
			expected: risingWant,
		},
		{
			name:     "trailing repeat without proxy is kept",
			areas:    []float64{1, 2, 2},
			expected: []float64{1, 2, 2},
		},
		{
			name:     "constant series is kept",
			areas:    []float64{5, 5, 5, 5},
			expected: []float64{5, 5, 5, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RepairStuck(tt.areas)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d values, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if math.Abs(got[i]-tt.expected[i]) > 1e-12 {
					t.Errorf("value %d: expected %f, got %f", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestConvertRepeatedValueStaysFinite(t *testing.T) {
	out := NewConverter(30).Convert(series(0, 20, 20, 40, 40, 0), testModel)
	for i, ch := range out {
		if math.IsNaN(ch.Volume) || math.IsInf(ch.Volume, 0) {
			t.Errorf("change %d is not finite: %f", i, ch.Volume)
		}
	}
}

func TestConvertConstantAndShort(t *testing.T) {
	c := NewConverter(30)
	for i, ch := range c.Convert(series(7, 7, 7, 7), testModel) {
		if ch.Volume != 0 {
			t.Errorf("change %d: expected 0 for a constant series, got %f", i, ch.Volume)
		}
	}
	if out := c.Convert(series(7), testModel); len(out) != 0 {
		t.Errorf("expected no changes for a single observation, got %d", len(out))
	}
}

func TestToDischarge(t *testing.T) {
	s := types.StorageChangeSeries{
		{Step: types.Step{Month: 2, Year: 2024}, Volume: 29 * 86400},
		{Step: types.Step{Month: 4, Year: 2023}, Volume: -30 * 86400 * 2},
	}
	rates := ToDischarge(s)
	if rates[0] != 1 || rates[1] != -2 {
		t.Errorf("unexpected rates %v", rates)
	}
}
