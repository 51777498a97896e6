// Package report publishes a one-page summary of every extraction run to a Notion database.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/logger"
)

// Notion property names of the runs database.
const (
	PropRunID        = "Run ID"
	PropStatus       = "Status"
	PropStarted      = "Started"
	PropFinished     = "Finished"
	PropTransactions = "Transactions"
	PropAddresses    = "Addresses"
	PropResolved     = "Resolved"
	PropNoMatch      = "No Match"
	PropFetchErrors  = "Fetch Errors"
	PropDatasetRows  = "Dataset Rows"
	PropLastUpdated  = "Last Updated"
	PropSnapshot     = "Snapshot"
	PropError        = "Error"
)

const maxRichText = 2000

// Reporter writes run summaries to Notion. A run already present is updated in place.
type Reporter struct {
	client     NotionService
	databaseID string
}

// NewReporter creates a reporter for the given runs database.
func NewReporter(client NotionService, databaseID string) *Reporter {
	return &Reporter{client: client, databaseID: databaseID}
}

// Report creates or updates the page for summary.RunID.
func (r *Reporter) Report(ctx context.Context, summary domain.RunSummary) error {
	log := logger.FromContext(ctx)
	props := SummaryToProperties(summary)

	pageID, err := r.findRunPage(ctx, summary.RunID)
	if err != nil {
		return fmt.Errorf("Report: %w", err)
	}

	if pageID != "" {
		if _, err := r.client.UpdatePage(ctx, pageID, props); err != nil {
			return fmt.Errorf("Report: updating page: %w", err)
		}
		log.Info().Str("page_id", pageID).Str("status", summary.Status).Msg("Updated run report")
		return nil
	}

	page, err := r.client.CreatePage(ctx, r.databaseID, props)
	if err != nil {
		return fmt.Errorf("Report: creating page: %w", err)
	}
	log.Info().Str("page_id", string(page.ID)).Str("status", summary.Status).Msg("Created run report")
	return nil
}

func (r *Reporter) findRunPage(ctx context.Context, runID string) (string, error) {
	var cursor notionapi.Cursor
	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: 100}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := r.client.QueryDatabase(ctx, r.databaseID, req)
		if err != nil {
			return "", fmt.Errorf("findRunPage: %w", err)
		}
		for _, page := range resp.Results {
			if extractRunID(page) == runID {
				return string(page.ID), nil
			}
		}

		if !resp.HasMore {
			return "", nil
		}
		cursor = resp.NextCursor
	}
}

// SummaryToProperties maps a run summary to Notion page properties.
func SummaryToProperties(s domain.RunSummary) notionapi.Properties {
	props := notionapi.Properties{
		PropRunID: notionapi.TitleProperty{
			Title: []notionapi.RichText{textValue(s.RunID)},
		},
		PropStatus: notionapi.SelectProperty{
			Select: notionapi.Option{Name: s.Status},
		},
		PropTransactions: notionapi.NumberProperty{Number: float64(s.Transactions)},
		PropAddresses:    notionapi.NumberProperty{Number: float64(s.DistinctAddresses)},
		PropResolved:     notionapi.NumberProperty{Number: float64(s.Resolved)},
		PropNoMatch:      notionapi.NumberProperty{Number: float64(s.NoMatch)},
		PropFetchErrors:  notionapi.NumberProperty{Number: float64(s.FetchErrors)},
		PropDatasetRows:  notionapi.NumberProperty{Number: float64(s.DatasetRows)},
	}

	if !s.StartedAt.IsZero() {
		props[PropStarted] = dateValue(s.StartedAt)
	}
	if !s.FinishedAt.IsZero() {
		props[PropFinished] = dateValue(s.FinishedAt)
	}
	if s.LastUpdated.IsValid() {
		props[PropLastUpdated] = dateValue(s.LastUpdated.In(time.UTC))
	}
	if s.SnapshotURI != "" {
		props[PropSnapshot] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{textValue(s.SnapshotURI)},
		}
	}
	if s.Error != "" {
		msg := s.Error
		if len(msg) > maxRichText {
			msg = msg[:maxRichText]
		}
		props[PropError] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{textValue(msg)},
		}
	}
	return props
}

func textValue(content string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content},
	}
}

func dateValue(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{Start: &d},
	}
}

// extractRunID reads the title of a page returned by the API.
func extractRunID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropRunID]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok && len(title.Title) > 0 {
			return title.Title[0].PlainText
		}
	}
	return ""
}
