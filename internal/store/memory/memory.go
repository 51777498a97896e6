package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sghousing/resale-tracker/internal/store"
)

// Store is an in-process TableStore. Tables are copied on read and write.
type Store struct {
	mu     sync.RWMutex
	tables map[string]store.Table
	writes map[string]int
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		tables: make(map[string]store.Table),
		writes: make(map[string]int),
	}
}

// ReadTable returns a copy of the named table.
func (s *Store) ReadTable(ctx context.Context, name string) (store.Table, error) {
	if err := ctx.Err(); err != nil {
		return store.Table{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return store.Table{}, fmt.Errorf("ReadTable: %s: %w", name, store.ErrTableNotFound)
	}
	return cloneTable(t), nil
}

// ClearAndWrite replaces the named table.
func (s *Store) ClearAndWrite(ctx context.Context, name string, table store.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables[name] = cloneTable(table)
	s.writes[name]++
	return nil
}

// Writes returns how many times a table has been written.
func (s *Store) Writes(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[name]
}

func cloneTable(t store.Table) store.Table {
	out := store.Table{Header: append([]string(nil), t.Header...)}
	if t.Rows != nil {
		out.Rows = make([][]string, len(t.Rows))
		for i, row := range t.Rows {
			out.Rows[i] = append([]string(nil), row...)
		}
	}
	return out
}
