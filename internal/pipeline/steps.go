package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/geocache"
	"github.com/sghousing/resale-tracker/internal/logger"
	"github.com/sghousing/resale-tracker/internal/onemap"
	"github.com/sghousing/resale-tracker/internal/schema"
	"github.com/sghousing/resale-tracker/internal/store"
)

// Step 1: FetchTransactionsStep downloads the dataset and keeps rows from MinYear on.
type FetchTransactionsStep struct {
	Fetcher RecordFetcher
	MinYear int
}

func (s *FetchTransactionsStep) Name() string { return "fetch_transactions" }

func (s *FetchTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	records, err := s.Fetcher.FetchRecords(ctx)
	if err != nil {
		return err
	}
	kept, err := filterByYear(records, s.MinYear)
	if err != nil {
		return fmt.Errorf("FetchTransactionsStep: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().Int("fetched", len(records)).Int("kept", len(kept)).Int("min_year", s.MinYear).Msg("Fetched transactions")

	state.Raw = kept
	state.Summary.RawRecords = len(kept)
	return nil
}

// Step 2: NormalizeStep converts raw rows to TransactionRecords.
type NormalizeStep struct{}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(_ context.Context, state *PipelineState) error {
	txs := make([]domain.TransactionRecord, 0, len(state.Raw))
	for i, raw := range state.Raw {
		tx, err := normalizeRecord(raw)
		if err != nil {
			return fmt.Errorf("NormalizeStep: record %d: %w", i, err)
		}
		txs = append(txs, tx)
	}
	state.Transactions = txs
	state.Summary.Transactions = len(txs)
	return nil
}

// Step 3: LoadCacheStep reads the geocode cache.
type LoadCacheStep struct {
	Store store.TableStore
	Table string
}

func (s *LoadCacheStep) Name() string { return "load_cache" }

func (s *LoadCacheStep) Execute(ctx context.Context, state *PipelineState) error {
	cache, err := geocache.Load(ctx, s.Store, s.Table)
	if err != nil {
		return err
	}
	state.Cache = cache
	return nil
}

// Step 4: FindMissingStep lists the batch addresses the cache cannot place.
type FindMissingStep struct{}

func (s *FindMissingStep) Name() string { return "find_missing" }

func (s *FindMissingStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Cache == nil {
		return errors.New("FindMissingStep: cache not loaded")
	}
	state.Addresses = distinctAddresses(state.Transactions)
	state.Missing = state.Cache.Missing(state.Addresses)
	state.Summary.DistinctAddresses = len(state.Addresses)
	state.Summary.MissingAddresses = len(state.Missing)

	log := logger.FromContext(ctx)
	log.Info().Int("distinct", len(state.Addresses)).Int("missing", len(state.Missing)).Msg("Computed missing addresses")
	return nil
}

// Step 5: ResolveAddressesStep searches OneMap for each missing address and keeps the
// best match. Workers > 1 fans the searches out over a pool; results keep the order of
// state.Missing either way.
type ResolveAddressesStep struct {
	Searcher AddressSearcher
	Selector MatchSelector
	Workers  int
}

func (s *ResolveAddressesStep) Name() string { return "resolve_addresses" }

type resolution struct {
	entry domain.GeocodeEntry
	kind  onemap.Kind
}

func (s *ResolveAddressesStep) Execute(ctx context.Context, state *PipelineState) error {
	var (
		results []resolution
		err     error
	)
	if s.Workers > 1 && len(state.Missing) > 1 {
		results, err = s.resolveConcurrently(ctx, state.Missing)
	} else {
		results, err = s.resolveSequentially(ctx, state.Missing)
	}
	if err != nil {
		return fmt.Errorf("ResolveAddressesStep: %w", err)
	}

	state.Resolved = make([]domain.GeocodeEntry, len(results))
	for i, r := range results {
		state.Resolved[i] = r.entry
		switch r.kind {
		case onemap.KindFound:
			state.Summary.Resolved++
		case onemap.KindNoMatch:
			state.Summary.NoMatch++
		case onemap.KindFetchError:
			state.Summary.FetchErrors++
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("resolved", state.Summary.Resolved).
		Int("no_match", state.Summary.NoMatch).
		Int("fetch_errors", state.Summary.FetchErrors).
		Msg("Resolved missing addresses")
	return nil
}

func (s *ResolveAddressesStep) resolveSequentially(ctx context.Context, addresses []domain.AddressQuery) ([]resolution, error) {
	out := make([]resolution, 0, len(addresses))
	for _, addr := range addresses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, s.resolve(ctx, addr))
	}
	return out, nil
}

func (s *ResolveAddressesStep) resolveConcurrently(ctx context.Context, addresses []domain.AddressQuery) ([]resolution, error) {
	pool := pond.NewResultPool[resolution](s.Workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, addr := range addresses {
		addr := addr
		group.SubmitErr(func() (resolution, error) {
			if err := ctx.Err(); err != nil {
				return resolution{}, err
			}
			return s.resolve(ctx, addr), nil
		})
	}
	return group.Wait()
}

func (s *ResolveAddressesStep) resolve(ctx context.Context, addr domain.AddressQuery) resolution {
	log := logger.FromContext(ctx).With().Str("address", addr).Logger()

	outcome := s.Searcher.SearchAll(ctx, addr)
	if outcome.Kind == onemap.KindFetchError {
		log.Warn().Err(outcome.Err).Msg("Address search failed, recording as unresolved")
	}

	match := s.Selector.BestMatch(ctx, addr, outcome.CandidatesOrEmpty())
	entry := match.Project()

	kind := outcome.Kind
	if kind == onemap.KindFound && !entry.HasCoordinates() {
		kind = onemap.KindNoMatch
	}
	log.Debug().Str("outcome", kind.String()).Float64("score", match.Score).Str("label", match.Candidate.SearchValue).Msg("Resolved address")
	return resolution{entry: entry, kind: kind}
}

// Step 6: MergeCacheStep merges every resolution at once and saves the cache, so
// later failures do not lose resolved addresses.
type MergeCacheStep struct {
	Store store.TableStore
	Table string
}

func (s *MergeCacheStep) Name() string { return "merge_cache" }

func (s *MergeCacheStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Cache == nil {
		return errors.New("MergeCacheStep: cache not loaded")
	}
	if len(state.Resolved) > 0 {
		state.Cache = state.Cache.Merge(state.Resolved)
		if err := geocache.Save(ctx, s.Store, s.Table, state.Cache); err != nil {
			return err
		}
	}
	state.Summary.CacheRows = state.Cache.Len()
	return nil
}

// Step 7: JoinCoordinatesStep copies cached coordinates onto transactions. Unknown
// addresses keep nil coordinates.
type JoinCoordinatesStep struct{}

func (s *JoinCoordinatesStep) Name() string { return "join_coordinates" }

func (s *JoinCoordinatesStep) Execute(_ context.Context, state *PipelineState) error {
	if state.Cache == nil {
		return errors.New("JoinCoordinatesStep: cache not loaded")
	}
	idx := state.Cache.Index()
	for i := range state.Transactions {
		entry, ok := idx[state.Transactions[i].Address]
		if !ok {
			continue
		}
		state.Transactions[i].Lat = entry.Lat
		state.Transactions[i].Lon = entry.Lon
	}
	return nil
}

// Step 8: ShapeDatasetStep builds the published rows.
type ShapeDatasetStep struct{}

func (s *ShapeDatasetStep) Name() string { return "shape_dataset" }

func (s *ShapeDatasetStep) Execute(_ context.Context, state *PipelineState) error {
	rows := make([]domain.EnrichedRow, len(state.Transactions))
	for i, tx := range state.Transactions {
		rows[i] = shapeRow(tx)
	}
	state.Dataset = &domain.EnrichedDataset{Rows: rows}
	state.Summary.DatasetRows = len(rows)
	return nil
}

// Step 9: PersistDatasetStep writes the Latest table and then the Timing date.
type PersistDatasetStep struct {
	Store       store.TableStore
	LatestTable string
	TimingTable string
	Clock       clockwork.Clock
}

func (s *PersistDatasetStep) Name() string { return "persist_dataset" }

func (s *PersistDatasetStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Dataset == nil {
		return errors.New("PersistDatasetStep: dataset not shaped")
	}
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if err := s.Store.ClearAndWrite(ctx, s.LatestTable, schema.EncodeEnriched(state.Dataset.Rows)); err != nil {
		return fmt.Errorf("PersistDatasetStep: writing %s: %w", s.LatestTable, err)
	}

	today := civilDate(clock.Now())
	if err := s.Store.ClearAndWrite(ctx, s.TimingTable, schema.EncodeTiming(today)); err != nil {
		return fmt.Errorf("PersistDatasetStep: writing %s: %w", s.TimingTable, err)
	}
	state.Dataset.LastUpdated = today
	state.Summary.LastUpdated = today
	return nil
}

// ExportSnapshotStep uploads a CSV copy of the dataset.
type ExportSnapshotStep struct {
	Exporter SnapshotExporter
}

func (s *ExportSnapshotStep) Name() string { return "export_snapshot" }

func (s *ExportSnapshotStep) Execute(ctx context.Context, state *PipelineState) error {
	uri, err := s.Exporter.Export(ctx, state.RunID, state.Dataset)
	if err != nil {
		return err
	}
	state.SnapshotURI = uri
	state.Summary.SnapshotURI = uri
	return nil
}

// WarehouseStep appends the run to the warehouse.
type WarehouseStep struct {
	Writer WarehouseWriter
}

func (s *WarehouseStep) Name() string { return "warehouse" }

func (s *WarehouseStep) Execute(ctx context.Context, state *PipelineState) error {
	var rows []domain.EnrichedRow
	if state.Dataset != nil {
		rows = state.Dataset.Rows
	}
	summary := state.Summary
	summary.Status = domain.RunStatusSuccess
	return s.Writer.WriteRun(ctx, summary, rows)
}

// RunReportStep publishes the run report.
type RunReportStep struct {
	Reporter RunReporter
}

func (s *RunReportStep) Name() string { return "run_report" }

func (s *RunReportStep) Execute(ctx context.Context, state *PipelineState) error {
	summary := state.Summary
	summary.Status = domain.RunStatusSuccess
	return s.Reporter.Report(ctx, summary)
}
