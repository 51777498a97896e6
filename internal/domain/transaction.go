package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// AddressQuery is the normalized "<block> <street name>" string used both as the
// OneMap search text and as the geocode cache key.
type AddressQuery = string

// RawRecord is one row of the data.gov.sg resale dataset as returned by the datastore API.
// Every value arrives as text.
type RawRecord struct {
	Month             string `json:"month"`
	Town              string `json:"town"`
	FlatType          string `json:"flat_type"`
	Block             string `json:"block"`
	StreetName        string `json:"street_name"`
	FlatModel         string `json:"flat_model"`
	StoreyRange       string `json:"storey_range"`
	FloorAreaSqm      string `json:"floor_area_sqm"`
	LeaseCommenceDate string `json:"lease_commence_date"`
	RemainingLease    string `json:"remaining_lease"`
	ResalePrice       string `json:"resale_price"`
}

// TransactionRecord is a cleaned resale transaction.
type TransactionRecord struct {
	Period     string // "YYYY-MM"
	Town       string
	FlatType   string // "4R", "EC", "MG", ...
	Block      string
	StreetName string
	Model      string // capitalised flat model
	Floor      string // "10-12"
	SqM        float64
	Lease      float64 // remaining lease in years
	Price      float64
	PriceText  string // upstream price text, shown as-is

	Address AddressQuery

	Lat *float64 // nil until resolved
	Lon *float64
}

// GeocodeEntry is one row of the address cache. Lat/Lon are nil when a lookup found nothing.
type GeocodeEntry struct {
	Address AddressQuery
	Lat     *float64
	Lon     *float64
}

// HasCoordinates reports whether both coordinates are present.
func (e GeocodeEntry) HasCoordinates() bool {
	return e.Lat != nil && e.Lon != nil
}

// Equal compares two entries field by field, including coordinate values.
func (e GeocodeEntry) Equal(other GeocodeEntry) bool {
	return e.Address == other.Address && floatPtrEqual(e.Lat, other.Lat) && floatPtrEqual(e.Lon, other.Lon)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MatchCandidate is a single OneMap search hit.
type MatchCandidate struct {
	SearchValue string `json:"SEARCHVAL"`
	BlockNo     string `json:"BLK_NO"`
	RoadName    string `json:"ROAD_NAME"`
	Building    string `json:"BUILDING"`
	Address     string `json:"ADDRESS"`
	Postal      string `json:"POSTAL"`
	Latitude    string `json:"LATITUDE"`
	Longitude   string `json:"LONGITUDE"`
}

// EnrichedRow is one row of the published dataset, in the column order the dashboard reads.
type EnrichedRow struct {
	Period     string   `json:"period"`
	Town       string   `json:"town"`
	FlatType   string   `json:"flat_type"`
	Block      string   `json:"block"`
	StreetName string   `json:"street_name"`
	Model      string   `json:"model"`
	Floor      string   `json:"floor"`
	SqM        float64  `json:"sqm"`
	Lease      string   `json:"lease"`
	Price      string   `json:"price"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	Display    string   `json:"display"`
	Year       string   `json:"year"`
	Month      string   `json:"mth"`
}

// EnrichedDataset is the published table plus the date it was produced.
type EnrichedDataset struct {
	Rows        []EnrichedRow
	LastUpdated civil.Date
}

// Run statuses.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// RunSummary describes one extraction run for reporting sinks.
type RunSummary struct {
	RunID      string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string

	RawRecords        int
	Transactions      int
	DistinctAddresses int
	MissingAddresses  int
	Resolved          int
	NoMatch           int
	FetchErrors       int
	CacheRows         int
	DatasetRows       int

	LastUpdated civil.Date
	SnapshotURI string
}
