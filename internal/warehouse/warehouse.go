// Package warehouse appends run history and published rows to BigQuery.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/logger"
)

const (
	runsTable         = "pipeline_runs"
	transactionsTable = "resale_transactions"
	insertBatchSize   = 500
)

// Client writes to one BigQuery dataset.
type Client struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// New creates a BigQuery client for project/dataset.
func New(ctx context.Context, projectID, datasetID string) (*Client, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("warehouse.New: creating client: %w", err)
	}
	return &Client{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// WriteRun appends the run row, then the dataset rows of a successful run.
func (c *Client) WriteRun(ctx context.Context, summary domain.RunSummary, rows []domain.EnrichedRow) error {
	dataset := c.client.DatasetInProject(c.projectID, c.datasetID)

	if err := dataset.Table(runsTable).Inserter().Put(ctx, NewRunRow(summary)); err != nil {
		return fmt.Errorf("WriteRun: inserting run row: %w", err)
	}
	if summary.Status != domain.RunStatusSuccess || len(rows) == 0 {
		return nil
	}

	records := NewTransactionRows(summary.RunID, summary.LastUpdated, rows)
	inserter := dataset.Table(transactionsTable).Inserter()
	for start := 0; start < len(records); start += insertBatchSize {
		end := min(start+insertBatchSize, len(records))
		if err := inserter.Put(ctx, records[start:end]); err != nil {
			return fmt.Errorf("WriteRun: inserting rows %d-%d: %w", start, end, err)
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("dataset", c.datasetID).
		Int("rows", len(records)).
		Msg("Appended run to warehouse")
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]*RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	q := c.client.Query(fmt.Sprintf(
		"SELECT * FROM `%s.%s.%s` ORDER BY started_ts DESC LIMIT @limit",
		c.projectID, c.datasetID, runsTable,
	))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: query read: %w", err)
	}

	var runs []*RunRow
	for {
		var r RunRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: iter next: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, nil
}

// Duration is how long a run took, or zero when it has not finished.
func (r *RunRow) Duration() time.Duration {
	if !r.FinishedTS.Valid {
		return 0
	}
	return r.FinishedTS.Timestamp.Sub(r.StartedTS)
}
