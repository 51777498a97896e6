// Package datagov fetches HDB resale transactions from the data.gov.sg datastore API.
package datagov

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sghousing/resale-tracker/internal/domain"
)

const (
	defaultBaseURL    = "https://data.gov.sg/api/action/datastore_search"
	defaultResourceID = "f1765b54-a209-4718-8d38-a39237f502b3"
	defaultLimit      = 1000000
	defaultTimeout    = 2 * time.Minute
	defaultUserAgent  = "resale-tracker/0.1"
)

// ErrNoRecords is returned when the datastore answers with an empty record list.
var ErrNoRecords = errors.New("datagov: no records found")

// Config configures a Client.
type Config struct {
	BaseURL    string
	ResourceID string
	Limit      int
	// Query is the free-text filter sent as q, e.g. "2022".
	Query     string
	Timeout   time.Duration
	UserAgent string
}

// Client downloads the resale dataset in a single request.
type Client struct {
	config Config
	client *http.Client
}

// NewClient creates a client, filling zero config values with defaults.
func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.ResourceID) == "" {
		cfg.ResourceID = defaultResourceID
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type searchResponse struct {
	Success *bool `json:"success"`
	Result  struct {
		Records []map[string]any `json:"records"`
	} `json:"result"`
}

// FetchRecords performs GET {base}?resource_id=..&limit=..&q=.. and returns every record.
func (c *Client) FetchRecords(ctx context.Context) ([]domain.RawRecord, error) {
	params := url.Values{}
	params.Set("resource_id", c.config.ResourceID)
	params.Set("limit", strconv.Itoa(c.config.Limit))
	if c.config.Query != "" {
		params.Set("q", c.config.Query)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("FetchRecords: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("FetchRecords: requesting datastore: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("FetchRecords: reading body: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("FetchRecords: request failed (%s): %s", resp.Status, truncate(strings.TrimSpace(string(body)), 200))
	}

	records, err := parseRecords(body)
	if err != nil {
		return nil, fmt.Errorf("FetchRecords: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

func parseRecords(body []byte) ([]domain.RawRecord, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var payload searchResponse
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if payload.Success != nil && !*payload.Success {
		return nil, errors.New("datastore reported success=false")
	}

	records := make([]domain.RawRecord, 0, len(payload.Result.Records))
	for _, row := range payload.Result.Records {
		records = append(records, domain.RawRecord{
			Month:             getString(row, "month"),
			Town:              getString(row, "town"),
			FlatType:          getString(row, "flat_type"),
			Block:             getString(row, "block"),
			StreetName:        getString(row, "street_name"),
			FlatModel:         getString(row, "flat_model"),
			StoreyRange:       getString(row, "storey_range"),
			FloorAreaSqm:      getString(row, "floor_area_sqm"),
			LeaseCommenceDate: getString(row, "lease_commence_date"),
			RemainingLease:    getString(row, "remaining_lease"),
			ResalePrice:       getString(row, "resale_price"),
		})
	}
	return records, nil
}

// getString reads a field that the datastore may encode either as text or as a number.
func getString(row map[string]any, key string) string {
	value, ok := row[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
