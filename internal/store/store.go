package store

import (
	"context"
	"errors"
)

// ErrTableNotFound is returned when a backend has no table with the requested name.
var ErrTableNotFound = errors.New("table not found")

// Table is a rectangular block of text cells with a header row.
type Table struct {
	Header []string
	Rows   [][]string
}

// Empty reports whether the table has no data rows.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// TableStore reads and replaces whole named tables.
type TableStore interface {
	// ReadTable returns the header and rows of a table. Missing tables return ErrTableNotFound.
	ReadTable(ctx context.Context, name string) (Table, error)

	// ClearAndWrite replaces the whole content of a table.
	ClearAndWrite(ctx context.Context, name string, table Table) error
}
