package app

import (
	"context"
	"fmt"

	"github.com/chrissnell/reservoirflow/internal/bundle"
	"github.com/chrissnell/reservoirflow/internal/database"
	"github.com/chrissnell/reservoirflow/internal/detect"
	"github.com/chrissnell/reservoirflow/internal/log"
	"github.com/chrissnell/reservoirflow/internal/network"
	"github.com/chrissnell/reservoirflow/internal/splice"
	"github.com/chrissnell/reservoirflow/internal/stagestorage"
	"github.com/chrissnell/reservoirflow/internal/storage"
	"github.com/chrissnell/reservoirflow/internal/storagechange"
	"github.com/chrissnell/reservoirflow/internal/types"
	"github.com/chrissnell/reservoirflow/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fit is the stage-storage outcome for one region.
type Fit struct {
	Region types.Region
	Result stagestorage.FitResult
	Err    error
}

// Result is everything one pipeline pass produced.
type Result struct {
	RunID   string
	Regions []types.Region
	Fits    []Fit
	// Changes and Rates are keyed by region id.
	Changes  map[int]types.StorageChangeSeries
	Rates    map[int][]float64
	Outcomes []splice.Outcome
	Network  *network.RiverNetwork
	// Hydrographs holds the final discharge leaving each terminal segment.
	Hydrographs map[int][]float64
}

// Pipeline wires detection, fitting, conversion and splicing together.
type Pipeline struct {
	cfg    *config.ConfigData
	logger *zap.SugaredLogger
}

// NewPipeline creates a pipeline for a validated configuration.
func NewPipeline(cfg *config.ConfigData, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// Process runs the whole pipeline over b. store may be nil, in which case
// nothing is persisted and observations must come from the bundle.
func (p *Pipeline) Process(ctx context.Context, b *bundle.Bundle, store storage.ResultStore) (*Result, error) {
	net, err := b.Network()
	if err != nil {
		return nil, fmt.Errorf("building river network: %w", err)
	}

	detector := detect.NewDetector(detect.Params{
		Threshold: p.cfg.Detection.Threshold,
		BlockSize: p.cfg.Detection.BlockSize,
	}, p.logger)
	regions, err := detector.Detect(b.Occurrence, b.Basin)
	if err != nil {
		return nil, err
	}

	fits, err := p.fitAll(ctx, regions, b)
	if err != nil {
		return nil, err
	}

	obs, err := p.observations(ctx, fits, b, store)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Regions:     regions,
		Fits:        fits,
		Changes:     make(map[int]types.StorageChangeSeries),
		Rates:       make(map[int][]float64),
		Network:     net,
		Hydrographs: make(map[int][]float64),
	}

	converter := storagechange.NewConverter(p.cfg.Conversion.PixelSize)
	var reservoirs []splice.Reservoir
	for _, f := range fits {
		if f.Err != nil {
			continue
		}
		series, ok := obs[f.Region.ID]
		if !ok {
			p.logger.Warnf("region %d has no observations; not spliced", f.Region.ID)
			continue
		}
		changes := converter.Convert(series, f.Result.Model)
		rates := storagechange.ToDischarge(changes)
		res.Changes[f.Region.ID] = changes
		res.Rates[f.Region.ID] = rates
		reservoirs = append(reservoirs, splice.Reservoir{
			Region:  f.Region,
			Changes: alignToSteps(changes, rates, net.Labels()),
		})
	}

	splicer := splice.NewSplicer(p.logger)
	splicer.Tolerance = p.cfg.Splice.Tolerance
	res.Outcomes, err = splicer.Splice(net, reservoirs, b.Accumulation, b.IDs)
	if err != nil {
		return nil, err
	}

	for id := 0; id < net.Len(); id++ {
		s, _ := net.Segment(id)
		if s.Successor != nil {
			continue
		}
		if res.Hydrographs[id], err = net.Hydrograph(id); err != nil {
			return nil, err
		}
	}

	if store != nil {
		if err := p.persist(ctx, store, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// fitAll calibrates every region on a bounded worker pool. Per-region
// failures are recorded on the Fit; only cancellation aborts the stage.
func (p *Pipeline) fitAll(ctx context.Context, regions []types.Region, b *bundle.Bundle) ([]Fit, error) {
	fits := make([]Fit, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.Fitting.Workers, 1))

	for i, r := range regions {
		i, r := i, r
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			logger := log.ForReservoir(p.logger, r.ID)
			result, err := stagestorage.NewFitter(logger).Fit(r, b.Occurrence, b.DEM)
			if err != nil {
				logger.Warnf("stage-storage calibration failed: %v", err)
			}
			fits[i] = Fit{Region: r, Result: result, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fits, nil
}

func (p *Pipeline) observations(ctx context.Context, fits []Fit, b *bundle.Bundle, store storage.ResultStore) (map[int]types.ObservationSeries, error) {
	if p.cfg.Input.Observations != config.ObservationsDatabase {
		if b.Observations == nil {
			return map[int]types.ObservationSeries{}, nil
		}
		return b.Observations, nil
	}
	if store == nil {
		return nil, fmt.Errorf("%w: observations from the database need a results store", config.ErrInvalidConfig)
	}
	var ids []int
	for _, f := range fits {
		if f.Err == nil {
			ids = append(ids, f.Region.ID)
		}
	}
	return store.LoadObservations(ctx, ids)
}

// alignToSteps places each rate at the network step with the same month.
// Without step labels the rates are handed over index-aligned.
func alignToSteps(changes types.StorageChangeSeries, rates []float64, labels []types.Step) []float64 {
	if labels == nil {
		return rates
	}
	at := make(map[types.Step]float64, len(changes))
	for i, c := range changes {
		at[c.Step] = rates[i]
	}
	out := make([]float64, len(labels))
	for t, s := range labels {
		out[t] = at[s]
	}
	return out
}

func (p *Pipeline) persist(ctx context.Context, store storage.ResultStore, res *Result) error {
	run := storage.NewRun(p.cfg.Input.Bundle, len(res.Regions))
	res.RunID = run.ID
	if err := store.SaveRun(ctx, run); err != nil {
		return err
	}

	rows := make([]database.Region, len(res.Fits))
	for i, f := range res.Fits {
		rows[i] = storage.RegionRow(run.ID, f.Region, f.Result, f.Err)
	}
	if err := store.SaveRegions(ctx, rows); err != nil {
		return err
	}

	for id, changes := range res.Changes {
		if err := store.SaveChanges(ctx, storage.ChangeRows(run.ID, id, changes, res.Rates[id])); err != nil {
			return err
		}
	}

	if err := store.SaveOutcomes(ctx, storage.OutcomeRows(run.ID, res.Outcomes)); err != nil {
		return err
	}

	labels := res.Network.Labels()
	if labels == nil {
		p.logger.Warnf("bundle has no step labels; outlet hydrographs not persisted")
		return nil
	}
	for id, flow := range res.Hydrographs {
		if err := store.SaveHydrograph(ctx, storage.HydrographRows(run.ID, id, labels, flow)); err != nil {
			return err
		}
	}
	return nil
}
