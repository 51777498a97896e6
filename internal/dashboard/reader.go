// Package dashboard is the read side used by the dashboard: it loads the published
// dataset and answers filter and summary queries over it.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jellydator/ttlcache/v3"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/schema"
	"github.com/sghousing/resale-tracker/internal/store"
)

// ErrNoData is returned when the dataset or its last-updated date has not been published yet.
var ErrNoData = errors.New("no data")

const datasetKey = "dataset"

// Reader loads the published dataset, caching it for a short TTL.
type Reader struct {
	store       store.TableStore
	latestTable string
	timingTable string
	cache       *ttlcache.Cache[string, *domain.EnrichedDataset]
}

// NewReader creates a reader. ttl <= 0 disables caching.
func NewReader(ts store.TableStore, latestTable, timingTable string, ttl time.Duration) *Reader {
	r := &Reader{store: ts, latestTable: latestTable, timingTable: timingTable}
	if ttl > 0 {
		r.cache = ttlcache.New(ttlcache.WithTTL[string, *domain.EnrichedDataset](ttl))
	}
	return r
}

// Dataset returns the published rows and their last-updated date.
func (r *Reader) Dataset(ctx context.Context) (*domain.EnrichedDataset, error) {
	if r.cache != nil {
		if item := r.cache.Get(datasetKey); item != nil {
			return item.Value(), nil
		}
	}

	latest, err := r.readTable(ctx, r.latestTable)
	if err != nil {
		return nil, err
	}
	rows, err := schema.DecodeEnriched(latest)
	if err != nil {
		return nil, fmt.Errorf("Dataset: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	updated, err := r.LastUpdated(ctx)
	if err != nil {
		return nil, err
	}

	dataset := &domain.EnrichedDataset{Rows: rows, LastUpdated: updated}
	if r.cache != nil {
		r.cache.Set(datasetKey, dataset, ttlcache.DefaultTTL)
	}
	return dataset, nil
}

// LastUpdated returns the date of the last successful run.
func (r *Reader) LastUpdated(ctx context.Context) (civil.Date, error) {
	timing, err := r.readTable(ctx, r.timingTable)
	if err != nil {
		return civil.Date{}, err
	}
	date, ok, err := schema.DecodeTiming(timing)
	if err != nil {
		return civil.Date{}, fmt.Errorf("LastUpdated: %w", err)
	}
	if !ok {
		return civil.Date{}, ErrNoData
	}
	return date, nil
}

// Invalidate drops the cached dataset so the next read goes to the store.
func (r *Reader) Invalidate() {
	if r.cache != nil {
		r.cache.DeleteAll()
	}
}

func (r *Reader) readTable(ctx context.Context, name string) (store.Table, error) {
	t, err := r.store.ReadTable(ctx, name)
	if errors.Is(err, store.ErrTableNotFound) {
		return store.Table{}, ErrNoData
	}
	if err != nil {
		return store.Table{}, fmt.Errorf("reading %s: %w", name, err)
	}
	return t, nil
}
