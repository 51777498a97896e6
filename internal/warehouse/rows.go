package warehouse

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/schema"
)

const maxErrorLen = 2000

// RunRow is one row of pipeline_runs.
type RunRow struct {
	RunID      string                 `bigquery:"run_id"`     // REQUIRED
	Status     string                 `bigquery:"status"`     // REQUIRED
	StartedTS  time.Time              `bigquery:"started_ts"` // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"`

	ErrorMessage string `bigquery:"error_message"`

	RawRecords        int64 `bigquery:"raw_records"`
	Transactions      int64 `bigquery:"transactions"`
	DistinctAddresses int64 `bigquery:"distinct_addresses"`
	MissingAddresses  int64 `bigquery:"missing_addresses"`
	Resolved          int64 `bigquery:"resolved"`
	NoMatch           int64 `bigquery:"no_match"`
	FetchErrors       int64 `bigquery:"fetch_errors"`
	CacheRows         int64 `bigquery:"cache_rows"`
	DatasetRows       int64 `bigquery:"dataset_rows"`

	LastUpdated bigquery.NullDate `bigquery:"last_updated"`
	SnapshotURI string            `bigquery:"snapshot_uri"`
}

// TransactionRow is one published dataset row, tagged with the run that produced it.
type TransactionRow struct {
	RunID      string     `bigquery:"run_id"`
	LoadedDate civil.Date `bigquery:"loaded_date"`

	Period     string               `bigquery:"period"`
	Town       string               `bigquery:"town"`
	FlatType   string               `bigquery:"flat_type"`
	Block      string               `bigquery:"block"`
	StreetName string               `bigquery:"street_name"`
	Model      string               `bigquery:"model"`
	Floor      string               `bigquery:"floor"`
	SqM        float64              `bigquery:"sqm"`
	Lease      bigquery.NullFloat64 `bigquery:"lease"`
	Price      bigquery.NullFloat64 `bigquery:"price"`
	Lat        bigquery.NullFloat64 `bigquery:"lat"`
	Lon        bigquery.NullFloat64 `bigquery:"lon"`
	Display    string               `bigquery:"display"`
}

// NewRunRow maps a run summary.
func NewRunRow(s domain.RunSummary) *RunRow {
	msg := s.Error
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	row := &RunRow{
		RunID:             s.RunID,
		Status:            s.Status,
		StartedTS:         s.StartedAt,
		FinishedTS:        bigquery.NullTimestamp{Timestamp: s.FinishedAt, Valid: !s.FinishedAt.IsZero()},
		ErrorMessage:      msg,
		RawRecords:        int64(s.RawRecords),
		Transactions:      int64(s.Transactions),
		DistinctAddresses: int64(s.DistinctAddresses),
		MissingAddresses:  int64(s.MissingAddresses),
		Resolved:          int64(s.Resolved),
		NoMatch:           int64(s.NoMatch),
		FetchErrors:       int64(s.FetchErrors),
		CacheRows:         int64(s.CacheRows),
		DatasetRows:       int64(s.DatasetRows),
		LastUpdated:       bigquery.NullDate{Date: s.LastUpdated, Valid: s.LastUpdated.IsValid()},
		SnapshotURI:       s.SnapshotURI,
	}
	return row
}

// NewTransactionRows maps dataset rows. Lease and price cells that are not numbers load as NULL.
func NewTransactionRows(runID string, loaded civil.Date, rows []domain.EnrichedRow) []*TransactionRow {
	out := make([]*TransactionRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, &TransactionRow{
			RunID:      runID,
			LoadedDate: loaded,
			Period:     r.Period,
			Town:       r.Town,
			FlatType:   r.FlatType,
			Block:      r.Block,
			StreetName: r.StreetName,
			Model:      r.Model,
			Floor:      r.Floor,
			SqM:        r.SqM,
			Lease:      nullFloat(parseCell(r.Lease)),
			Price:      nullFloat(parseCell(r.Price)),
			Lat:        nullFloat(r.Lat),
			Lon:        nullFloat(r.Lon),
			Display:    r.Display,
		})
	}
	return out
}

func parseCell(raw string) *float64 {
	v, err := schema.ParseOptionalFloat(raw)
	if err != nil {
		return nil
	}
	return v
}

func nullFloat(v *float64) bigquery.NullFloat64 {
	if v == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *v, Valid: true}
}
