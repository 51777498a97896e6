// Package geocache holds the address to coordinate cache that lets repeated runs skip
// addresses already resolved.
package geocache

import (
	"context"
	"errors"
	"fmt"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/schema"
	"github.com/sghousing/resale-tracker/internal/store"
)

// Cache is an insertion-ordered list of rows. The same address may appear on more than
// one row when an earlier lookup found nothing and a later one succeeded.
type Cache struct {
	rows []domain.GeocodeEntry
}

// New builds a cache from rows, dropping exact duplicates.
func New(rows []domain.GeocodeEntry) *Cache {
	return (&Cache{}).Merge(rows)
}

// Rows returns a copy of the cache rows in order.
func (c *Cache) Rows() []domain.GeocodeEntry {
	return append([]domain.GeocodeEntry(nil), c.rows...)
}

// Len is the number of rows.
func (c *Cache) Len() int {
	return len(c.rows)
}

// Missing returns the addresses that have no row with coordinates, in input order and
// without duplicates.
func (c *Cache) Missing(addresses []domain.AddressQuery) []domain.AddressQuery {
	resolved := make(map[domain.AddressQuery]bool, len(c.rows))
	for _, row := range c.rows {
		if row.HasCoordinates() {
			resolved[row.Address] = true
		}
	}

	seen := make(map[domain.AddressQuery]bool, len(addresses))
	missing := make([]domain.AddressQuery, 0)
	for _, addr := range addresses {
		if seen[addr] || resolved[addr] {
			continue
		}
		seen[addr] = true
		missing = append(missing, addr)
	}
	return missing
}

// Merge returns a new cache holding the existing rows followed by entries, with exact
// duplicate rows removed. Existing rows are never changed, so merging the same entries
// twice gives the same cache.
func (c *Cache) Merge(entries []domain.GeocodeEntry) *Cache {
	merged := make([]domain.GeocodeEntry, 0, len(c.rows)+len(entries))
	seen := make(map[rowKey]bool, len(c.rows)+len(entries))
	for _, row := range append(c.Rows(), entries...) {
		key := keyOf(row)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, row)
	}
	return &Cache{rows: merged}
}

// rowKey identifies a row by full-row equality.
type rowKey struct {
	address        domain.AddressQuery
	hasLat, hasLon bool
	lat, lon       float64
}

func keyOf(row domain.GeocodeEntry) rowKey {
	k := rowKey{address: row.Address}
	if row.Lat != nil {
		k.hasLat, k.lat = true, *row.Lat
	}
	if row.Lon != nil {
		k.hasLon, k.lon = true, *row.Lon
	}
	return k
}

// Index maps each address to the row Lookup would return for it, built in one pass.
func (c *Cache) Index() map[domain.AddressQuery]domain.GeocodeEntry {
	idx := make(map[domain.AddressQuery]domain.GeocodeEntry, len(c.rows))
	for _, row := range c.rows {
		current, ok := idx[row.Address]
		if !ok || (!current.HasCoordinates() && row.HasCoordinates()) {
			idx[row.Address] = row
		}
	}
	return idx
}

// Lookup returns the first row for address that has coordinates, falling back to the
// first row for the address. Use Index for batch joins.
func (c *Cache) Lookup(address domain.AddressQuery) (domain.GeocodeEntry, bool) {
	var fallback *domain.GeocodeEntry
	for i := range c.rows {
		if c.rows[i].Address != address {
			continue
		}
		if c.rows[i].HasCoordinates() {
			return c.rows[i], true
		}
		if fallback == nil {
			fallback = &c.rows[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return domain.GeocodeEntry{}, false
}

// Unresolved lists addresses with no row carrying coordinates, in first-appearance order.
func (c *Cache) Unresolved() []domain.AddressQuery {
	idx := c.Index()
	seen := make(map[domain.AddressQuery]bool, len(idx))
	var out []domain.AddressQuery
	for _, row := range c.rows {
		if seen[row.Address] {
			continue
		}
		seen[row.Address] = true
		if !idx[row.Address].HasCoordinates() {
			out = append(out, row.Address)
		}
	}
	return out
}

// Stats summarises the cache for reporting.
type Stats struct {
	Rows       int
	Addresses  int
	Resolved   int
	Unresolved int
}

// Stats counts rows and distinct addresses. An address is resolved when any of its rows has coordinates.
func (c *Cache) Stats() Stats {
	resolved := make(map[domain.AddressQuery]bool)
	for _, row := range c.rows {
		resolved[row.Address] = resolved[row.Address] || row.HasCoordinates()
	}
	s := Stats{Rows: len(c.rows), Addresses: len(resolved)}
	for _, ok := range resolved {
		if ok {
			s.Resolved++
		} else {
			s.Unresolved++
		}
	}
	return s
}

// Load reads the cache from the named table. A missing table is an empty cache.
func Load(ctx context.Context, ts store.TableStore, table string) (*Cache, error) {
	t, err := ts.ReadTable(ctx, table)
	if errors.Is(err, store.ErrTableNotFound) {
		return New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("geocache.Load: reading %s: %w", table, err)
	}

	rows, err := schema.DecodeGeocode(t)
	if err != nil {
		return nil, fmt.Errorf("geocache.Load: %w", err)
	}
	return New(rows), nil
}

// Save replaces the named table with the cache rows.
func Save(ctx context.Context, ts store.TableStore, table string, c *Cache) error {
	if err := ts.ClearAndWrite(ctx, table, schema.EncodeGeocode(c.rows)); err != nil {
		return fmt.Errorf("geocache.Save: writing %s: %w", table, err)
	}
	return nil
}
