package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/sghousing/resale-tracker/internal/store"
)

// Store maps each logical table onto a worksheet of one spreadsheet. Row 1 holds the header.
type Store struct {
	service       *gsheets.Service
	spreadsheetID string
}

// New creates a Sheets-backed store. credentialsJSON is a service-account key; extra client
// options (endpoint, HTTP client) are appended after the credentials.
func New(ctx context.Context, spreadsheetID string, credentialsJSON []byte, opts ...option.ClientOption) (*Store, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("sheets.New: spreadsheet id is required")
	}

	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if len(credentialsJSON) > 0 {
		clientOpts = append(clientOpts, option.WithCredentialsJSON(credentialsJSON))
	}
	clientOpts = append(clientOpts, opts...)

	service, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("sheets.New: creating service: %w", err)
	}
	return &Store{service: service, spreadsheetID: spreadsheetID}, nil
}

// ReadTable reads the whole worksheet. Ragged rows are padded to the header width.
func (s *Store) ReadTable(ctx context.Context, name string) (store.Table, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetRange(name)).Context(ctx).Do()
	if err != nil {
		if isMissingSheet(err) {
			return store.Table{}, fmt.Errorf("ReadTable: %s: %w", name, store.ErrTableNotFound)
		}
		return store.Table{}, fmt.Errorf("ReadTable: reading %s: %w", name, err)
	}

	var table store.Table
	if len(resp.Values) == 0 {
		return table, nil
	}

	table.Header = cellsToStrings(resp.Values[0], 0)
	for _, raw := range resp.Values[1:] {
		row := cellsToStrings(raw, len(table.Header))
		if isBlankRow(row) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// ClearAndWrite clears the worksheet and writes header plus rows starting at A1.
// Values are written RAW so periods such as "2022-03" stay text.
func (s *Store) ClearAndWrite(ctx context.Context, name string, table store.Table) error {
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, sheetRange(name), &gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("ClearAndWrite: clearing %s: %w", name, err)
	}

	values := make([][]interface{}, 0, len(table.Rows)+1)
	values = append(values, stringsToCells(table.Header))
	for _, row := range table.Rows {
		values = append(values, stringsToCells(row))
	}

	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, sheetRange(name)+"!A1", &gsheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("ClearAndWrite: writing %s: %w", name, err)
	}
	return nil
}

func sheetRange(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func isMissingSheet(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "Unable to parse range")
}

func cellsToStrings(cells []interface{}, width int) []string {
	n := len(cells)
	if width > n {
		n = width
	}
	out := make([]string, n)
	for i, cell := range cells {
		if cell == nil {
			continue
		}
		out[i] = fmt.Sprint(cell)
	}
	return out
}

func stringsToCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
