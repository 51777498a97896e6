// Package snapshot archives each published dataset as a CSV object in a bucket.
package snapshot

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/logger"
	"github.com/sghousing/resale-tracker/internal/schema"
	"github.com/sghousing/resale-tracker/internal/store"
)

const contentType = "text/csv"

// Exporter writes snapshots to one bucket.
type Exporter struct {
	objects ObjectStore
	bucket  string
	prefix  string
}

// NewExporter creates an exporter. Objects are named <prefix>/<YYYY/MM/DD>/<run id>.csv.
func NewExporter(objects ObjectStore, bucket, prefix string) *Exporter {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &Exporter{objects: objects, bucket: bucket, prefix: prefix}
}

// ObjectName returns the object path of a run's snapshot.
func (e *Exporter) ObjectName(runID string, dataset *domain.EnrichedDataset) string {
	day := dataset.LastUpdated
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.csv", e.prefix, day.Year, int(day.Month), day.Day, runID)
}

// Export uploads the dataset in the published column layout and returns its URI.
func (e *Exporter) Export(ctx context.Context, runID string, dataset *domain.EnrichedDataset) (string, error) {
	body, err := EncodeCSV(schema.EncodeEnriched(dataset.Rows))
	if err != nil {
		return "", fmt.Errorf("Export: %w", err)
	}

	object := e.ObjectName(runID, dataset)
	if err := e.objects.Upload(ctx, e.bucket, object, contentType, bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("Export: %w", err)
	}

	uri := URI(e.bucket, object)
	log := logger.FromContext(ctx)
	log.Info().
		Str("uri", uri).
		Int("rows", len(dataset.Rows)).
		Int("bytes", len(body)).
		Msg("Exported dataset snapshot")
	return uri, nil
}

// Load reads a snapshot back into a table.
func (e *Exporter) Load(ctx context.Context, uri string) (store.Table, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return store.Table{}, fmt.Errorf("Load: %w", err)
	}
	data, err := e.objects.Fetch(ctx, bucket, object)
	if err != nil {
		return store.Table{}, fmt.Errorf("Load: %w", err)
	}
	return DecodeCSV(data)
}

// EncodeCSV renders a table with its header as the first record.
func EncodeCSV(t store.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, fmt.Errorf("EncodeCSV: header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("EncodeCSV: rows: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCSV parses a CSV whose first record is the header.
func DecodeCSV(data []byte) (store.Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return store.Table{}, fmt.Errorf("DecodeCSV: %w", err)
	}
	if len(records) == 0 {
		return store.Table{}, nil
	}
	return store.Table{Header: records[0], Rows: records[1:]}, nil
}
