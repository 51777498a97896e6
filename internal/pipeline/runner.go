package pipeline

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/logger"
	"github.com/sghousing/resale-tracker/internal/store"
)

// Config holds the run parameters.
type Config struct {
	MinYear        int
	ResolveWorkers int
	LatestTable    string
	LatLongTable   string
	TimingTable    string
}

// Deps are the collaborators of a run. Exporter, Warehouse and Reporter are optional.
type Deps struct {
	Fetcher  RecordFetcher
	Searcher AddressSearcher
	Selector MatchSelector
	Store    store.TableStore
	Clock    clockwork.Clock

	Exporter  SnapshotExporter
	Warehouse WarehouseWriter
	Reporter  RunReporter
}

// Runner executes extraction runs. Run is not safe to call concurrently; callers
// serialise runs (see the jobs worker).
type Runner struct {
	deps Deps
	core *Pipeline
	post *Pipeline
}

// NewRunner builds the core step chain and the optional post-persist chain.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Fetcher == nil || deps.Searcher == nil || deps.Selector == nil || deps.Store == nil {
		return nil, errors.New("NewRunner: fetcher, searcher, selector and store are required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if cfg.LatestTable == "" {
		cfg.LatestTable = "Latest"
	}
	if cfg.LatLongTable == "" {
		cfg.LatLongTable = "Lat_Long"
	}
	if cfg.TimingTable == "" {
		cfg.TimingTable = "Timing"
	}

	core := NewPipeline(
		&FetchTransactionsStep{Fetcher: deps.Fetcher, MinYear: cfg.MinYear},
		&NormalizeStep{},
		&LoadCacheStep{Store: deps.Store, Table: cfg.LatLongTable},
		&FindMissingStep{},
		&ResolveAddressesStep{Searcher: deps.Searcher, Selector: deps.Selector, Workers: cfg.ResolveWorkers},
		&MergeCacheStep{Store: deps.Store, Table: cfg.LatLongTable},
		&JoinCoordinatesStep{},
		&ShapeDatasetStep{},
		&PersistDatasetStep{Store: deps.Store, LatestTable: cfg.LatestTable, TimingTable: cfg.TimingTable, Clock: deps.Clock},
	)

	var post []PipelineStep
	if deps.Exporter != nil {
		post = append(post, BestEffort(&ExportSnapshotStep{Exporter: deps.Exporter}))
	}
	if deps.Warehouse != nil {
		post = append(post, BestEffort(&WarehouseStep{Writer: deps.Warehouse}))
	}
	if deps.Reporter != nil {
		post = append(post, BestEffort(&RunReportStep{Reporter: deps.Reporter}))
	}

	return &Runner{deps: deps, core: core, post: NewPipeline(post...)}, nil
}

// Run executes one extraction and returns the persisted dataset.
func (r *Runner) Run(ctx context.Context) (*domain.EnrichedDataset, error) {
	dataset, _, err := r.RunWithSummary(ctx)
	return dataset, err
}

// RunWithSummary is Run plus the counters collected along the way.
func (r *Runner) RunWithSummary(ctx context.Context) (*domain.EnrichedDataset, domain.RunSummary, error) {
	runID := uuid.NewString()
	log := logger.FromContext(ctx).With().Str("run_id", runID).Logger()
	ctx = logger.WithContext(ctx, log)

	state := &PipelineState{RunID: runID}
	state.Summary.RunID = runID
	state.Summary.Status = domain.RunStatusRunning
	state.Summary.StartedAt = r.deps.Clock.Now()

	log.Info().Msg("Extraction run started")

	if err := r.core.Execute(ctx, state); err != nil {
		state.Summary.Status = domain.RunStatusFailed
		state.Summary.Error = err.Error()
		state.Summary.FinishedAt = r.deps.Clock.Now()
		log.Error().Err(err).Msg("Extraction run failed")
		r.recordFailure(ctx, state.Summary)
		return nil, state.Summary, err
	}

	state.Summary.FinishedAt = r.deps.Clock.Now()
	if err := r.post.Execute(ctx, state); err != nil {
		log.Warn().Err(err).Msg("Post-persist steps interrupted")
	}
	state.Summary.Status = domain.RunStatusSuccess

	log.Info().
		Int("rows", state.Summary.DatasetRows).
		Int("missing", state.Summary.MissingAddresses).
		Int("resolved", state.Summary.Resolved).
		Dur("elapsed", state.Summary.FinishedAt.Sub(state.Summary.StartedAt)).
		Msg("Extraction run finished")
	return state.Dataset, state.Summary, nil
}

// recordFailure reports a failed run to the optional sinks. Their errors are logged only.
func (r *Runner) recordFailure(ctx context.Context, summary domain.RunSummary) {
	log := logger.FromContext(ctx)
	if r.deps.Warehouse != nil {
		if err := r.deps.Warehouse.WriteRun(ctx, summary, nil); err != nil {
			log.Warn().Err(err).Msg("Recording failed run in warehouse failed")
		}
	}
	if r.deps.Reporter != nil {
		if err := r.deps.Reporter.Report(ctx, summary); err != nil {
			log.Warn().Err(err).Msg("Reporting failed run failed")
		}
	}
}

func civilDate(t time.Time) civil.Date {
	return civil.DateOf(t)
}
