package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/geocache"
	"github.com/sghousing/resale-tracker/internal/matching"
	"github.com/sghousing/resale-tracker/internal/onemap"
	"github.com/sghousing/resale-tracker/internal/pipeline"
	"github.com/sghousing/resale-tracker/internal/schema"
	"github.com/sghousing/resale-tracker/internal/store"
	"github.com/sghousing/resale-tracker/internal/store/memory"
)

// MockFetcher is a mock implementation of pipeline.RecordFetcher.
type MockFetcher struct {
	FetchRecordsFunc func(ctx context.Context) ([]domain.RawRecord, error)
}

func (m *MockFetcher) FetchRecords(ctx context.Context) ([]domain.RawRecord, error) {
	return m.FetchRecordsFunc(ctx)
}

// MockSearcher is a mock implementation of pipeline.AddressSearcher that records queries.
type MockSearcher struct {
	SearchAllFunc func(ctx context.Context, query string) onemap.Outcome

	mu      sync.Mutex
	queries []string
}

func (m *MockSearcher) SearchAll(ctx context.Context, query string) onemap.Outcome {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	return m.SearchAllFunc(ctx, query)
}

func (m *MockSearcher) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// MockReporter records summaries and returns Err.
type MockReporter struct {
	Err       error
	Summaries []domain.RunSummary
}

func (m *MockReporter) Report(_ context.Context, summary domain.RunSummary) error {
	m.Summaries = append(m.Summaries, summary)
	return m.Err
}

// failingWrites fails ClearAndWrite for one table.
type failingWrites struct {
	store.TableStore
	table string
}

func (f failingWrites) ClearAndWrite(ctx context.Context, name string, table store.Table) error {
	if name == f.table {
		return errors.New("quota exceeded")
	}
	return f.TableStore.ClearAndWrite(ctx, name, table)
}

func rawRecord(block, street string) domain.RawRecord {
	return domain.RawRecord{
		Month:          "2022-03",
		Town:           "ANG MO KIO",
		FlatType:       "4 ROOM",
		Block:          block,
		StreetName:     street,
		FlatModel:      "improved",
		StoreyRange:    "10 TO 12",
		FloorAreaSqm:   "92",
		RemainingLease: "61 years 04 months",
		ResalePrice:    "450000",
	}
}

func fetcherOf(records ...domain.RawRecord) *MockFetcher {
	return &MockFetcher{FetchRecordsFunc: func(context.Context) ([]domain.RawRecord, error) {
		return records, nil
	}}
}

func seedCache(t *testing.T, ts store.TableStore, entries ...domain.GeocodeEntry) {
	t.Helper()
	require.NoError(t, geocache.Save(context.Background(), ts, "Lat_Long", geocache.New(entries)))
}

func ptr(v float64) *float64 { return &v }

func newRunner(t *testing.T, deps pipeline.Deps, workers int) *pipeline.Runner {
	t.Helper()
	if deps.Selector == nil {
		deps.Selector = matching.NewSelector(matching.NewLexicalScorer())
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	}
	r, err := pipeline.NewRunner(pipeline.Config{MinYear: 2022, ResolveWorkers: workers}, deps)
	require.NoError(t, err)
	return r
}

func TestRunner_CachedAddressNeedsNoSearch(t *testing.T) {
	ts := memory.NewStore()
	seedCache(t, ts, domain.GeocodeEntry{Address: "123 ANG MO KIO AVE 3", Lat: ptr(1.37), Lon: ptr(103.85)})

	searcher := &MockSearcher{SearchAllFunc: func(context.Context, string) onemap.Outcome {
		t.Fatal("search must not be called for cached addresses")
		return onemap.NoMatch()
	}}
	runner := newRunner(t, pipeline.Deps{
		Fetcher:  fetcherOf(rawRecord("123", "ANG MO KIO AVE 3")),
		Searcher: searcher,
		Store:    ts,
	}, 1)

	dataset, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, searcher.Queries())
	require.Len(t, dataset.Rows, 1)
	require.Equal(t, 1.37, *dataset.Rows[0].Lat)
	require.Equal(t, 103.85, *dataset.Rows[0].Lon)
	require.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 1}, dataset.LastUpdated)
	require.Equal(t, 1, ts.Writes("Lat_Long"), "unchanged cache is not rewritten")
}

func TestRunner_ResolvesMissingAndPersists(t *testing.T) {
	ctx := context.Background()
	ts := memory.NewStore()
	seedCache(t, ts, domain.GeocodeEntry{Address: "123 ANG MO KIO AVE 3", Lat: ptr(1.37), Lon: ptr(103.85)})

	searcher := &MockSearcher{SearchAllFunc: func(_ context.Context, query string) onemap.Outcome {
		switch query {
		case "10 JURONG EAST ST 12":
			return onemap.Found([]domain.MatchCandidate{
				{SearchValue: "JURONG EAST MRT STATION", Latitude: "1.333", Longitude: "103.742"},
				{SearchValue: "10 JURONG EAST STREET 12", Latitude: "1.334", Longitude: "103.741"},
			})
		default:
			return onemap.NoMatch()
		}
	}}
	runner := newRunner(t, pipeline.Deps{
		Fetcher: fetcherOf(
			rawRecord("123", "ANG MO KIO AVE 3"),
			rawRecord("10", "JURONG EAST ST 12"),
			rawRecord("9", "NOWHERE RD"),
			rawRecord("10", "JURONG EAST ST 12"),
		),
		Searcher: searcher,
		Store:    ts,
	}, 1)

	dataset, summary, err := runner.RunWithSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"10 JURONG EAST ST 12", "9 NOWHERE RD"}, searcher.Queries())

	require.Len(t, dataset.Rows, 4)
	require.Equal(t, 1.334, *dataset.Rows[1].Lat)
	require.Equal(t, 1.334, *dataset.Rows[3].Lat)
	require.Nil(t, dataset.Rows[2].Lat)
	require.Equal(t, "4R | Improved | 61.33 | $450000", dataset.Rows[0].Display)

	require.Equal(t, domain.RunStatusSuccess, summary.Status)
	require.Equal(t, 3, summary.DistinctAddresses)
	require.Equal(t, 2, summary.MissingAddresses)
	require.Equal(t, 1, summary.Resolved)
	require.Equal(t, 1, summary.NoMatch)
	require.Equal(t, 3, summary.CacheRows)

	cache, err := geocache.Load(ctx, ts, "Lat_Long")
	require.NoError(t, err)
	require.Equal(t, 3, cache.Len())
	entry, ok := cache.Lookup("9 NOWHERE RD")
	require.True(t, ok)
	require.False(t, entry.HasCoordinates())

	latest, err := ts.ReadTable(ctx, "Latest")
	require.NoError(t, err)
	require.Equal(t, schema.LatestColumns, latest.Header)
	require.Len(t, latest.Rows, 4)

	timing, err := ts.ReadTable(ctx, "Timing")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"2024-05-01"}}, timing.Rows)
}

func TestRunner_SecondRunRequeriesOnlyUnresolved(t *testing.T) {
	ts := memory.NewStore()
	seedCache(t, ts)

	searcher := &MockSearcher{SearchAllFunc: func(_ context.Context, query string) onemap.Outcome {
		if query == "1 A ST" {
			return onemap.Found([]domain.MatchCandidate{{SearchValue: "1 A ST", Latitude: "1.3", Longitude: "103.8"}})
		}
		return onemap.NoMatch()
	}}
	runner := newRunner(t, pipeline.Deps{
		Fetcher:  fetcherOf(rawRecord("1", "A ST"), rawRecord("2", "B ST")),
		Searcher: searcher,
		Store:    ts,
	}, 1)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"1 A ST", "2 B ST", "2 B ST"}, searcher.Queries())

	cache, err := geocache.Load(context.Background(), ts, "Lat_Long")
	require.NoError(t, err)
	require.Equal(t, 2, cache.Len(), "repeated misses dedupe to one row")
}

func TestRunner_FetchErrorDegradesToUnresolved(t *testing.T) {
	ts := memory.NewStore()
	searcher := &MockSearcher{SearchAllFunc: func(context.Context, string) onemap.Outcome {
		return onemap.FetchError(errors.New("connection reset"))
	}}
	runner := newRunner(t, pipeline.Deps{
		Fetcher:  fetcherOf(rawRecord("1", "A ST")),
		Searcher: searcher,
		Store:    ts,
	}, 1)

	dataset, summary, err := runner.RunWithSummary(context.Background())
	require.NoError(t, err)
	require.Nil(t, dataset.Rows[0].Lat)
	require.Equal(t, 1, summary.FetchErrors)
}

func TestRunner_ConcurrentResolveKeepsOrder(t *testing.T) {
	ctx := context.Background()
	ts := memory.NewStore()

	var records []domain.RawRecord
	var want []string
	for i := 0; i < 20; i++ {
		street := fmt.Sprintf("STREET %02d", i)
		records = append(records, rawRecord("1", street))
		want = append(want, "1 "+street)
	}

	searcher := &MockSearcher{SearchAllFunc: func(_ context.Context, query string) onemap.Outcome {
		time.Sleep(time.Millisecond)
		return onemap.Found([]domain.MatchCandidate{{SearchValue: query, Latitude: "1.3", Longitude: "103.8"}})
	}}
	runner := newRunner(t, pipeline.Deps{Fetcher: fetcherOf(records...), Searcher: searcher, Store: ts}, 4)

	_, summary, err := runner.RunWithSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, summary.Resolved)
	require.ElementsMatch(t, want, searcher.Queries())

	cache, err := geocache.Load(ctx, ts, "Lat_Long")
	require.NoError(t, err)
	var got []string
	for _, row := range cache.Rows() {
		got = append(got, row.Address)
	}
	require.Equal(t, want, got)
}

func TestRunner_FetchFailureAborts(t *testing.T) {
	ts := memory.NewStore()
	reporter := &MockReporter{}
	runner := newRunner(t, pipeline.Deps{
		Fetcher: &MockFetcher{FetchRecordsFunc: func(context.Context) ([]domain.RawRecord, error) {
			return nil, errors.New("upstream down")
		}},
		Searcher: &MockSearcher{SearchAllFunc: func(context.Context, string) onemap.Outcome { return onemap.NoMatch() }},
		Store:    ts,
		Reporter: reporter,
	}, 1)

	dataset, err := runner.Run(context.Background())
	require.Error(t, err)
	require.Nil(t, dataset)
	require.True(t, strings.HasPrefix(err.Error(), "pipeline step 1 (fetch_transactions) failed"), err.Error())

	_, readErr := ts.ReadTable(context.Background(), "Latest")
	require.ErrorIs(t, readErr, store.ErrTableNotFound)

	require.Len(t, reporter.Summaries, 1)
	require.Equal(t, domain.RunStatusFailed, reporter.Summaries[0].Status)
}

func TestRunner_PersistFailureKeepsResolvedCache(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	searcher := &MockSearcher{SearchAllFunc: func(context.Context, string) onemap.Outcome {
		return onemap.Found([]domain.MatchCandidate{{SearchValue: "1 A ST", Latitude: "1.3", Longitude: "103.8"}})
	}}
	runner := newRunner(t, pipeline.Deps{
		Fetcher:  fetcherOf(rawRecord("1", "A ST")),
		Searcher: searcher,
		Store:    failingWrites{TableStore: mem, table: "Latest"},
	}, 1)

	_, err := runner.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "persist_dataset")

	cache, err := geocache.Load(ctx, mem, "Lat_Long")
	require.NoError(t, err)
	entry, ok := cache.Lookup("1 A ST")
	require.True(t, ok)
	require.True(t, entry.HasCoordinates())
}

func TestRunner_OptionalStepFailureDoesNotFailRun(t *testing.T) {
	reporter := &MockReporter{Err: errors.New("notion unavailable")}
	runner := newRunner(t, pipeline.Deps{
		Fetcher:  fetcherOf(rawRecord("1", "A ST")),
		Searcher: &MockSearcher{SearchAllFunc: func(context.Context, string) onemap.Outcome { return onemap.NoMatch() }},
		Store:    memory.NewStore(),
		Reporter: reporter,
	}, 1)

	dataset, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, dataset.Rows, 1)
	require.Len(t, reporter.Summaries, 1)
	require.Equal(t, domain.RunStatusSuccess, reporter.Summaries[0].Status)
	require.Equal(t, 1, reporter.Summaries[0].DatasetRows)
}

func TestNewRunner_RequiresDeps(t *testing.T) {
	_, err := pipeline.NewRunner(pipeline.Config{}, pipeline.Deps{})
	require.Error(t, err)
}

func TestJoinCoordinatesStep_PrefersResolvedRow(t *testing.T) {
	state := &pipeline.PipelineState{
		Transactions: []domain.TransactionRecord{
			{Address: "1 A ST"},
			{Address: "2 B ST"},
			{Address: "9 Z ST"},
			{Address: "1 A ST"},
		},
		Cache: geocache.New([]domain.GeocodeEntry{
			{Address: "1 A ST"},
			{Address: "1 A ST", Lat: ptr(1.37), Lon: ptr(103.85)},
			{Address: "2 B ST"},
		}),
	}

	step := &pipeline.JoinCoordinatesStep{}
	require.NoError(t, step.Execute(context.Background(), state))

	for _, i := range []int{0, 3} {
		require.NotNil(t, state.Transactions[i].Lat)
		require.Equal(t, 1.37, *state.Transactions[i].Lat)
		require.Equal(t, 103.85, *state.Transactions[i].Lon)
	}
	require.Nil(t, state.Transactions[1].Lat)
	require.Nil(t, state.Transactions[2].Lat)
}
