package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/require"

	"github.com/sghousing/resale-tracker/internal/domain"
)

// MockNotionService is a mock implementation of NotionService.
type MockNotionService struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePageFunc    func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabaseFunc func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	return m.CreatePageFunc(ctx, databaseID, properties)
}

func (m *MockNotionService) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	return m.UpdatePageFunc(ctx, pageID, properties)
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return m.QueryDatabaseFunc(ctx, databaseID, req)
}

func runPage(id, runID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			PropRunID: &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: runID}},
			},
		},
	}
}

func sampleSummary() domain.RunSummary {
	return domain.RunSummary{
		RunID:             "run-1",
		Status:            domain.RunStatusSuccess,
		StartedAt:         time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		FinishedAt:        time.Date(2024, 5, 1, 9, 5, 0, 0, time.UTC),
		Transactions:      120,
		DistinctAddresses: 80,
		Resolved:          5,
		NoMatch:           1,
		DatasetRows:       120,
		LastUpdated:       civil.Date{Year: 2024, Month: time.May, Day: 1},
		SnapshotURI:       "gs://bucket/snapshots/run-1.csv",
	}
}

func TestSummaryToProperties(t *testing.T) {
	props := SummaryToProperties(sampleSummary())

	title := props[PropRunID].(notionapi.TitleProperty)
	require.Equal(t, "run-1", title.Title[0].Text.Content)
	require.Equal(t, "SUCCESS", props[PropStatus].(notionapi.SelectProperty).Select.Name)
	require.Equal(t, float64(120), props[PropTransactions].(notionapi.NumberProperty).Number)
	require.Equal(t, float64(5), props[PropResolved].(notionapi.NumberProperty).Number)
	require.Contains(t, props, PropSnapshot)
	require.Contains(t, props, PropLastUpdated)
	require.NotContains(t, props, PropError)

	failed := sampleSummary()
	failed.Status = domain.RunStatusFailed
	failed.Error = strings.Repeat("x", 3000)
	failed.SnapshotURI = ""
	props = SummaryToProperties(failed)
	errText := props[PropError].(notionapi.RichTextProperty)
	require.Len(t, errText.RichText[0].Text.Content, maxRichText)
	require.NotContains(t, props, PropSnapshot)
}

func TestReport_CreatesNewPage(t *testing.T) {
	created := 0
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			require.Equal(t, "db-1", databaseID)
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{runPage("p-0", "other-run")}}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			created++
			return &notionapi.Page{ID: "p-1"}, nil
		},
		UpdatePageFunc: func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
			t.Fatal("unexpected update")
			return nil, nil
		},
	}

	require.NoError(t, NewReporter(mock, "db-1").Report(context.Background(), sampleSummary()))
	require.Equal(t, 1, created)
}

func TestReport_UpdatesExistingPageAcrossPages(t *testing.T) {
	var updated string
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			if req.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{runPage("p-0", "other-run")},
					HasMore:    true,
					NextCursor: "next",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{runPage("p-7", "run-1")}}, nil
		},
		UpdatePageFunc: func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
			updated = pageID
			return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			t.Fatal("unexpected create")
			return nil, nil
		},
	}

	require.NoError(t, NewReporter(mock, "db-1").Report(context.Background(), sampleSummary()))
	require.Equal(t, "p-7", updated)
}

func TestReport_QueryError(t *testing.T) {
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return nil, errors.New("unauthorized")
		},
	}
	err := NewReporter(mock, "db-1").Report(context.Background(), sampleSummary())
	require.ErrorContains(t, err, "unauthorized")
}
