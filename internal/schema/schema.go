// Package schema enumerates the columns of the persisted tables and converts between
// store.Table cells and domain types. Headers are validated on every decode.
package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/store"
)

var (
	// ErrHeaderMismatch is returned when a table lacks a required column.
	ErrHeaderMismatch = errors.New("header mismatch")
	// ErrInvalidCell is returned when a typed cell cannot be parsed.
	ErrInvalidCell = errors.New("invalid cell")
)

// Column names of the Lat_Long table.
const (
	ColAddress = "address"
	ColLat     = "lat"
	ColLon     = "lon"
)

// Column names of the Latest table, in write order.
const (
	ColPeriod     = "period"
	ColTown       = "town"
	ColFlatType   = "flat type"
	ColBlock      = "block"
	ColStreetName = "street name"
	ColModel      = "model"
	ColFloor      = "floor"
	ColSqM        = "sqm"
	ColLease      = "lease"
	ColPrice      = "price"
	ColDisplay    = "display"
	ColYear       = "year"
	ColMonth      = "mth"
)

// ColLastUpdated is the only column of the Timing table.
const ColLastUpdated = "last_updated"

var (
	LatLongColumns = []string{ColAddress, ColLat, ColLon}
	LatestColumns  = []string{
		ColPeriod, ColTown, ColFlatType, ColBlock, ColStreetName, ColModel, ColFloor,
		ColSqM, ColLease, ColPrice, ColLat, ColLon, ColDisplay, ColYear, ColMonth,
	}
	TimingColumns = []string{ColLastUpdated}
)

// columnIndex maps each required column to its position in header.
// Extra columns are ignored; column order is free.
func columnIndex(table string, header, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing columns %q: %w", table, missing, ErrHeaderMismatch)
	}
	return idx, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

// ParseOptionalFloat parses a coordinate cell. Blank and NaN cells are nil.
func ParseOptionalFloat(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", raw, ErrInvalidCell)
	}
	if math.IsNaN(v) {
		return nil, nil
	}
	return &v, nil
}

// FormatOptionalFloat is the inverse of ParseOptionalFloat.
func FormatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return FormatFloat(*v)
}

// FormatFloat renders v with the fewest digits that round-trip.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// EncodeGeocode renders cache rows as a Lat_Long table.
func EncodeGeocode(entries []domain.GeocodeEntry) store.Table {
	t := store.Table{Header: append([]string(nil), LatLongColumns...)}
	t.Rows = make([][]string, 0, len(entries))
	for _, e := range entries {
		t.Rows = append(t.Rows, []string{e.Address, FormatOptionalFloat(e.Lat), FormatOptionalFloat(e.Lon)})
	}
	return t
}

// DecodeGeocode parses a Lat_Long table. An empty table yields no entries.
func DecodeGeocode(t store.Table) ([]domain.GeocodeEntry, error) {
	if len(t.Header) == 0 && len(t.Rows) == 0 {
		return nil, nil
	}
	idx, err := columnIndex("Lat_Long", t.Header, LatLongColumns)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.GeocodeEntry, 0, len(t.Rows))
	for i, row := range t.Rows {
		lat, err := ParseOptionalFloat(cell(row, idx[ColLat]))
		if err != nil {
			return nil, fmt.Errorf("Lat_Long row %d lat: %w", i+1, err)
		}
		lon, err := ParseOptionalFloat(cell(row, idx[ColLon]))
		if err != nil {
			return nil, fmt.Errorf("Lat_Long row %d lon: %w", i+1, err)
		}
		entries = append(entries, domain.GeocodeEntry{
			Address: cell(row, idx[ColAddress]),
			Lat:     lat,
			Lon:     lon,
		})
	}
	return entries, nil
}

// EncodeEnriched renders dataset rows as a Latest table.
func EncodeEnriched(rows []domain.EnrichedRow) store.Table {
	t := store.Table{Header: append([]string(nil), LatestColumns...)}
	t.Rows = make([][]string, 0, len(rows))
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Period, r.Town, r.FlatType, r.Block, r.StreetName, r.Model, r.Floor,
			FormatFloat(r.SqM), r.Lease, r.Price,
			FormatOptionalFloat(r.Lat), FormatOptionalFloat(r.Lon),
			r.Display, r.Year, r.Month,
		})
	}
	return t
}

// DecodeEnriched parses a Latest table.
func DecodeEnriched(t store.Table) ([]domain.EnrichedRow, error) {
	if len(t.Header) == 0 && len(t.Rows) == 0 {
		return nil, nil
	}
	idx, err := columnIndex("Latest", t.Header, LatestColumns)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.EnrichedRow, 0, len(t.Rows))
	for i, row := range t.Rows {
		sqm, err := strconv.ParseFloat(cell(row, idx[ColSqM]), 64)
		if err != nil {
			return nil, fmt.Errorf("Latest row %d sqm %q: %w", i+1, cell(row, idx[ColSqM]), ErrInvalidCell)
		}
		lat, err := ParseOptionalFloat(cell(row, idx[ColLat]))
		if err != nil {
			return nil, fmt.Errorf("Latest row %d lat: %w", i+1, err)
		}
		lon, err := ParseOptionalFloat(cell(row, idx[ColLon]))
		if err != nil {
			return nil, fmt.Errorf("Latest row %d lon: %w", i+1, err)
		}
		rows = append(rows, domain.EnrichedRow{
			Period:     cell(row, idx[ColPeriod]),
			Town:       cell(row, idx[ColTown]),
			FlatType:   cell(row, idx[ColFlatType]),
			Block:      cell(row, idx[ColBlock]),
			StreetName: cell(row, idx[ColStreetName]),
			Model:      cell(row, idx[ColModel]),
			Floor:      cell(row, idx[ColFloor]),
			SqM:        sqm,
			Lease:      cell(row, idx[ColLease]),
			Price:      cell(row, idx[ColPrice]),
			Lat:        lat,
			Lon:        lon,
			Display:    cell(row, idx[ColDisplay]),
			Year:       cell(row, idx[ColYear]),
			Month:      cell(row, idx[ColMonth]),
		})
	}
	return rows, nil
}

// EncodeTiming renders the last-updated date as a single-cell Timing table.
func EncodeTiming(date civil.Date) store.Table {
	return store.Table{
		Header: append([]string(nil), TimingColumns...),
		Rows:   [][]string{{date.String()}},
	}
}

// DecodeTiming returns the date in the first data row. ok is false for an empty table.
func DecodeTiming(t store.Table) (date civil.Date, ok bool, err error) {
	if len(t.Header) == 0 && len(t.Rows) == 0 {
		return civil.Date{}, false, nil
	}
	idx, err := columnIndex("Timing", t.Header, TimingColumns)
	if err != nil {
		return civil.Date{}, false, err
	}
	if len(t.Rows) == 0 {
		return civil.Date{}, false, nil
	}
	raw := cell(t.Rows[0], idx[ColLastUpdated])
	date, err = civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("Timing %q: %w", raw, ErrInvalidCell)
	}
	return date, true, nil
}
