package pipeline

import (
	"context"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/matching"
	"github.com/sghousing/resale-tracker/internal/onemap"
)

// RecordFetcher downloads raw transactions from the upstream dataset.
type RecordFetcher interface {
	FetchRecords(ctx context.Context) ([]domain.RawRecord, error)
}

// AddressSearcher runs a full paginated address search.
type AddressSearcher interface {
	SearchAll(ctx context.Context, query domain.AddressQuery) onemap.Outcome
}

// MatchSelector picks one candidate for a query.
type MatchSelector interface {
	BestMatch(ctx context.Context, query domain.AddressQuery, candidates []domain.MatchCandidate) matching.Match
}

// SnapshotExporter copies the persisted dataset to durable object storage and returns its URI.
type SnapshotExporter interface {
	Export(ctx context.Context, runID string, dataset *domain.EnrichedDataset) (string, error)
}

// WarehouseWriter appends a run and its rows to the analytics warehouse.
type WarehouseWriter interface {
	WriteRun(ctx context.Context, summary domain.RunSummary, rows []domain.EnrichedRow) error
}

// RunReporter publishes a human-readable run report.
type RunReporter interface {
	Report(ctx context.Context, summary domain.RunSummary) error
}

// Compile-time checks that the concrete clients satisfy the step interfaces.
var (
	_ AddressSearcher = (*onemap.Client)(nil)
	_ MatchSelector   = (*matching.Selector)(nil)
)
