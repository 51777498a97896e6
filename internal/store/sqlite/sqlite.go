package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/sghousing/resale-tracker/internal/store"
)

// Store keeps named tables in a local SQLite file. Each table is a header row plus
// ordered data rows, with cells encoded as JSON arrays.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.New: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite.New: migrating: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReadTable returns the header and rows of a table in insertion order.
func (s *Store) ReadTable(ctx context.Context, name string) (store.Table, error) {
	var headerJSON string
	err := s.db.QueryRowContext(ctx, `SELECT header FROM store_tables WHERE name = ?`, name).Scan(&headerJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Table{}, fmt.Errorf("ReadTable: %s: %w", name, store.ErrTableNotFound)
	}
	if err != nil {
		return store.Table{}, fmt.Errorf("ReadTable: reading header of %s: %w", name, err)
	}

	var table store.Table
	if err := json.Unmarshal([]byte(headerJSON), &table.Header); err != nil {
		return store.Table{}, fmt.Errorf("ReadTable: decoding header of %s: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT cells FROM store_rows WHERE table_name = ? ORDER BY row_idx`, name)
	if err != nil {
		return store.Table{}, fmt.Errorf("ReadTable: querying rows of %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cellsJSON string
		if err := rows.Scan(&cellsJSON); err != nil {
			return store.Table{}, fmt.Errorf("ReadTable: scanning row of %s: %w", name, err)
		}
		var cells []string
		if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
			return store.Table{}, fmt.Errorf("ReadTable: decoding row of %s: %w", name, err)
		}
		table.Rows = append(table.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return store.Table{}, fmt.Errorf("ReadTable: iterating rows of %s: %w", name, err)
	}
	return table, nil
}

// ClearAndWrite replaces a table inside a single transaction.
func (s *Store) ClearAndWrite(ctx context.Context, name string, table store.Table) (err error) {
	headerJSON, err := json.Marshal(nonNil(table.Header))
	if err != nil {
		return fmt.Errorf("ClearAndWrite: encoding header of %s: %w", name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ClearAndWrite: beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM store_rows WHERE table_name = ?`, name); err != nil {
		return fmt.Errorf("ClearAndWrite: clearing rows of %s: %w", name, err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO store_tables (name, header) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET header = excluded.header
	`, name, string(headerJSON)); err != nil {
		return fmt.Errorf("ClearAndWrite: writing header of %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO store_rows (table_name, row_idx, cells) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("ClearAndWrite: preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range table.Rows {
		var cellsJSON []byte
		cellsJSON, err = json.Marshal(nonNil(row))
		if err != nil {
			return fmt.Errorf("ClearAndWrite: encoding row %d of %s: %w", i, name, err)
		}
		if _, err = stmt.ExecContext(ctx, name, i, string(cellsJSON)); err != nil {
			return fmt.Errorf("ClearAndWrite: inserting row %d of %s: %w", i, name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ClearAndWrite: committing %s: %w", name, err)
	}
	return nil
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS store_tables (
			name TEXT PRIMARY KEY,
			header TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS store_rows (
			table_name TEXT NOT NULL,
			row_idx INTEGER NOT NULL,
			cells TEXT NOT NULL,
			PRIMARY KEY (table_name, row_idx)
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
