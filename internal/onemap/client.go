// Package onemap queries the OneMap address search API and collects every result page.
package onemap

import (
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

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/logger"
)

const (
	defaultBaseURL         = "https://www.onemap.gov.sg/api"
	searchPath             = "/common/elastic/search"
	defaultTimeout         = 30 * time.Second
	defaultRateLimitPerSec = 4
	defaultRetryInterval   = 500 * time.Millisecond
	defaultUserAgent       = "resale-tracker/0.1"
)

// ErrMalformedQuery is returned for blank search text. No request is sent.
var ErrMalformedQuery = errors.New("onemap: malformed query")

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token is an optional OneMap access token sent in the Authorization header.
	Token           string
	Timeout         time.Duration
	RateLimitPerSec int
	// Retries is how many extra times SearchAll is attempted after a fetch error. 0 disables retry.
	Retries       int
	RetryInterval time.Duration
	UserAgent     string
}

// PageResult is one page of a search response.
type PageResult struct {
	Found         int                     `json:"found"`
	TotalNumPages int                     `json:"totalNumPages"`
	PageNum       int                     `json:"pageNum"`
	Results       []domain.MatchCandidate `json:"results"`
}

// Client is safe for concurrent use. Requests across goroutines share one rate limiter.
type Client struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client, filling zero config values with defaults.
func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = defaultRateLimitPerSec
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &Client{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitPerSec),
	}
}

// Search fetches a single page of results for query.
func (c *Client) Search(ctx context.Context, query domain.AddressQuery, page int) (PageResult, error) {
	if strings.TrimSpace(query) == "" {
		return PageResult{}, ErrMalformedQuery
	}
	if page < 1 {
		page = 1
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return PageResult{}, fmt.Errorf("Search: waiting for rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("searchVal", query)
	params.Set("returnGeom", "Y")
	params.Set("getAddrDetails", "Y")
	params.Set("pageNum", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+searchPath+"?"+params.Encode(), nil)
	if err != nil {
		return PageResult{}, fmt.Errorf("Search: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Token != "" {
		req.Header.Set("Authorization", c.config.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return PageResult{}, fmt.Errorf("Search: requesting page %d: %w", page, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PageResult{}, fmt.Errorf("Search: reading page %d: %w", page, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return PageResult{}, fmt.Errorf("Search: page %d failed (%s): %s", page, resp.Status, strings.TrimSpace(string(body)))
	}

	var result PageResult
	if err := json.Unmarshal(body, &result); err != nil {
		return PageResult{}, fmt.Errorf("Search: decoding page %d: %w", page, err)
	}
	return result, nil
}

// SearchAll fetches pages 1..totalNumPages in order and concatenates their results.
// The first response doubles as page 1. Any failing page abandons the rest and yields
// a FetchError outcome. With Retries > 0 the whole sequence is retried with backoff.
func (c *Client) SearchAll(ctx context.Context, query domain.AddressQuery) Outcome {
	if c.config.Retries == 0 {
		return c.searchAllOnce(ctx, query)
	}

	log := logger.FromContext(ctx)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.RetryInterval

	attempt := 0
	outcome, err := backoff.Retry(ctx, func() (Outcome, error) {
		attempt++
		out := c.searchAllOnce(ctx, query)
		if out.Kind != KindFetchError {
			return out, nil
		}
		if errors.Is(out.Err, ErrMalformedQuery) {
			return out, backoff.Permanent(out.Err)
		}
		log.Debug().Err(out.Err).Str("address", query).Int("attempt", attempt).Msg("OneMap search failed, retrying")
		return out, out.Err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(c.config.Retries+1)))
	if err != nil {
		return FetchError(err)
	}
	return outcome
}

func (c *Client) searchAllOnce(ctx context.Context, query domain.AddressQuery) Outcome {
	first, err := c.Search(ctx, query, 1)
	if err != nil {
		return FetchError(err)
	}
	if first.TotalNumPages <= 0 {
		return NoMatch()
	}

	candidates := append([]domain.MatchCandidate(nil), first.Results...)
	for page := 2; page <= first.TotalNumPages; page++ {
		next, err := c.Search(ctx, query, page)
		if err != nil {
			return FetchError(err)
		}
		candidates = append(candidates, next.Results...)
	}

	if len(candidates) == 0 {
		return NoMatch()
	}
	return Found(candidates)
}

// Candidates returns every result for query, collapsing fetch errors and misses to an empty slice.
func (c *Client) Candidates(ctx context.Context, query domain.AddressQuery) []domain.MatchCandidate {
	outcome := c.SearchAll(ctx, query)
	if outcome.Kind == KindFetchError {
		log := logger.FromContext(ctx)
		log.Warn().Err(outcome.Err).Str("address", query).Msg("OneMap search failed, treating as no match")
	}
	return outcome.CandidatesOrEmpty()
}
