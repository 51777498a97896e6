package warehouse

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"github.com/sghousing/resale-tracker/internal/domain"
)

func TestNewRunRow(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	row := NewRunRow(domain.RunSummary{
		RunID:       "run-1",
		Status:      domain.RunStatusSuccess,
		StartedAt:   started,
		FinishedAt:  started.Add(90 * time.Second),
		Resolved:    3,
		DatasetRows: 10,
		LastUpdated: civil.Date{Year: 2024, Month: time.May, Day: 1},
	})

	require.Equal(t, "run-1", row.RunID)
	require.True(t, row.FinishedTS.Valid)
	require.Equal(t, 90*time.Second, row.Duration())
	require.Equal(t, int64(3), row.Resolved)
	require.True(t, row.LastUpdated.Valid)
	require.Equal(t, "2024-05-01", row.LastUpdated.Date.String())
}

func TestNewRunRow_FailedRun(t *testing.T) {
	row := NewRunRow(domain.RunSummary{
		RunID:     "run-2",
		Status:    domain.RunStatusFailed,
		StartedAt: time.Now(),
		Error:     strings.Repeat("e", 5000),
	})
	require.False(t, row.FinishedTS.Valid)
	require.False(t, row.LastUpdated.Valid)
	require.Len(t, row.ErrorMessage, maxErrorLen)
	require.Zero(t, row.Duration())
}

func TestNewTransactionRows(t *testing.T) {
	lat, lon := 1.37, 103.85
	loaded := civil.Date{Year: 2024, Month: time.May, Day: 1}
	rows := NewTransactionRows("run-1", loaded, []domain.EnrichedRow{
		{Period: "2024-01", Town: "ANG MO KIO", SqM: 92, Lease: "61.33", Price: "450000", Lat: &lat, Lon: &lon},
		{Period: "2024-02", Town: "BEDOK", SqM: 67, Lease: "", Price: "n/a"},
	})

	require.Len(t, rows, 2)
	require.Equal(t, "run-1", rows[0].RunID)
	require.Equal(t, loaded, rows[0].LoadedDate)
	require.True(t, rows[0].Lease.Valid)
	require.Equal(t, 61.33, rows[0].Lease.Float64)
	require.Equal(t, 450000.0, rows[0].Price.Float64)
	require.Equal(t, 1.37, rows[0].Lat.Float64)

	require.False(t, rows[1].Lease.Valid)
	require.False(t, rows[1].Price.Valid)
	require.False(t, rows[1].Lat.Valid)
}
