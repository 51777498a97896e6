// Package app wires configuration into the clients, stores and pipeline shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jonboulle/clockwork"

	"github.com/sghousing/resale-tracker/internal/config"
	"github.com/sghousing/resale-tracker/internal/dashboard"
	"github.com/sghousing/resale-tracker/internal/datagov"
	"github.com/sghousing/resale-tracker/internal/logger"
	"github.com/sghousing/resale-tracker/internal/matching"
	"github.com/sghousing/resale-tracker/internal/onemap"
	"github.com/sghousing/resale-tracker/internal/pipeline"
	"github.com/sghousing/resale-tracker/internal/report"
	"github.com/sghousing/resale-tracker/internal/snapshot"
	"github.com/sghousing/resale-tracker/internal/store"
	"github.com/sghousing/resale-tracker/internal/store/memory"
	"github.com/sghousing/resale-tracker/internal/store/sheets"
	"github.com/sghousing/resale-tracker/internal/store/sqlite"
	"github.com/sghousing/resale-tracker/internal/warehouse"
)

const (
	userAgent              = "resale-tracker/1.0"
	embeddingCacheCapacity = 10000
)

// App holds everything a process needs for extraction runs and dashboard reads.
type App struct {
	Config    config.Config
	Store     store.TableStore
	Searcher  *onemap.Client
	Selector  *matching.Selector
	Runner    *pipeline.Runner
	Reader    *dashboard.Reader
	Warehouse *warehouse.Client

	closers []func() error
}

// New builds the App. Optional sinks are enabled only when configured.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	log := logger.FromContext(ctx)
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	ts, closeStore, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = ts
	a.addCloser(closeStore)

	scorer, err := NewScorer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Selector = matching.NewSelector(scorer)
	a.Searcher = NewSearcher(cfg)

	fetcher := datagov.NewClient(datagov.Config{
		BaseURL:    cfg.DataSourceURL,
		ResourceID: cfg.ResourceID,
		Limit:      cfg.RecordLimit,
		Query:      strconv.Itoa(cfg.MinYear),
		Timeout:    cfg.HTTPTimeout,
		UserAgent:  userAgent,
	})

	deps := pipeline.Deps{
		Fetcher:  fetcher,
		Searcher: a.Searcher,
		Selector: a.Selector,
		Store:    ts,
		Clock:    clockwork.NewRealClock(),
	}

	if cfg.SnapshotBucket != "" {
		objects, err := snapshot.NewGCSStore(ctx)
		if err != nil {
			return nil, err
		}
		a.addCloser(objects.Close)
		deps.Exporter = snapshot.NewExporter(objects, cfg.SnapshotBucket, "")
		log.Info().Str("bucket", cfg.SnapshotBucket).Msg("Snapshot export enabled")
	}
	if cfg.BigQueryProject != "" {
		wh, err := warehouse.New(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, err
		}
		a.addCloser(wh.Close)
		a.Warehouse = wh
		deps.Warehouse = wh
		log.Info().Str("project", cfg.BigQueryProject).Str("dataset", cfg.BigQueryDataset).Msg("Warehouse enabled")
	}
	if cfg.NotionToken != "" {
		deps.Reporter = report.NewReporter(report.NewNotionClient(cfg.NotionToken), cfg.NotionDatabaseID)
		log.Info().Msg("Notion run report enabled")
	}

	a.Runner, err = pipeline.NewRunner(pipeline.Config{
		MinYear:        cfg.MinYear,
		ResolveWorkers: cfg.ResolveWorkers,
		LatestTable:    cfg.LatestTable,
		LatLongTable:   cfg.LatLongTable,
		TimingTable:    cfg.TimingTable,
	}, deps)
	if err != nil {
		return nil, err
	}

	a.Reader = dashboard.NewReader(ts, cfg.LatestTable, cfg.TimingTable, cfg.DashboardCacheTTL)
	return a, nil
}

// NewStore opens the configured table store and returns its close function.
func NewStore(ctx context.Context, cfg config.Config) (store.TableStore, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreSheets:
		s, err := sheets.New(ctx, cfg.SpreadsheetID, []byte(cfg.GoogleCredentialsJSON))
		if err != nil {
			return nil, nil, fmt.Errorf("NewStore: %w", err)
		}
		return s, nil, nil
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("NewStore: %w", err)
		}
		return s, s.Close, nil
	case config.StoreMemory:
		return memory.NewStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("NewStore: unknown store backend %q", cfg.StoreBackend)
	}
}

// NewScorer returns the configured similarity scorer.
func NewScorer(ctx context.Context, cfg config.Config) (matching.Scorer, error) {
	switch cfg.SimilarityBackend {
	case config.SimilarityLexical, "":
		return matching.NewLexicalScorer(), nil
	case config.SimilarityGemini:
		embedder, err := matching.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("NewScorer: %w", err)
		}
		return matching.NewEmbeddingScorer(embedder, cfg.EmbeddingCacheTTL, embeddingCacheCapacity), nil
	default:
		return nil, fmt.Errorf("NewScorer: unknown similarity backend %q", cfg.SimilarityBackend)
	}
}

// NewSearcher builds the OneMap client.
func NewSearcher(cfg config.Config) *onemap.Client {
	return onemap.NewClient(onemap.Config{
		BaseURL:         cfg.OneMapBaseURL,
		Token:           cfg.OneMapToken,
		Timeout:         cfg.HTTPTimeout,
		RateLimitPerSec: cfg.RateLimitPerSec,
		Retries:         cfg.FetchRetries,
		UserAgent:       userAgent,
	})
}

func (a *App) addCloser(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases every client in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
