package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultDataSourceURL     = "https://data.gov.sg/api/action/datastore_search"
	defaultResourceID        = "f1765b54-a209-4718-8d38-a39237f502b3"
	defaultRecordLimit       = 1000000
	defaultMinYear           = 2022
	defaultOneMapBaseURL     = "https://www.onemap.gov.sg/api"
	defaultRateLimitPerSec   = 4
	defaultHTTPTimeout       = 30 * time.Second
	defaultSimilarity        = SimilarityLexical
	defaultEmbeddingModel    = "text-embedding-004"
	defaultEmbeddingCacheTTL = time.Hour
	defaultStoreBackend      = StoreSheets
	defaultSQLitePath        = "resale.db"
	defaultLatestTable       = "Latest"
	defaultLatLongTable      = "Lat_Long"
	defaultTimingTable       = "Timing"
	defaultHTTPPort          = "8080"
	defaultLogLevel          = "info"
	defaultLogFormat         = "console"
	defaultQueueBuffer       = 10
	defaultWarehouseDataset  = "resale"
	defaultExtractTimeout    = 30 * time.Minute
	defaultDashboardTTL      = 10 * time.Minute
)

// Similarity backends.
const (
	SimilarityLexical = "lexical"
	SimilarityGemini  = "gemini"
)

// Store backends.
const (
	StoreSheets = "sheets"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config carries every setting of a process. Credentials are plain values here and are
// handed to the clients that need them at construction time.
type Config struct {
	// Upstream transactions
	DataSourceURL string
	ResourceID    string
	RecordLimit   int
	MinYear       int

	// OneMap address search
	OneMapBaseURL     string
	OneMapToken       string
	RateLimitPerSec   int
	FetchRetries      int
	HTTPTimeout       time.Duration
	ResolveWorkers    int
	SimilarityBackend string

	// Gemini embeddings (SimilarityGemini only)
	GeminiAPIKey      string
	EmbeddingModel    string
	EmbeddingCacheTTL time.Duration

	// Table store
	StoreBackend          string
	SpreadsheetID         string
	GoogleCredentialsJSON string
	SQLitePath            string
	LatestTable           string
	LatLongTable          string
	TimingTable           string

	// Optional sinks
	SnapshotBucket   string
	BigQueryProject  string
	BigQueryDataset  string
	NotionToken      string
	NotionDatabaseID string

	// Process
	HTTPPort       string
	LogLevel       string
	LogFormat      string
	QueueBuffer    int
	ExtractTimeout time.Duration
	// DashboardCacheTTL bounds how long the API serves a cached dataset. 0 disables caching.
	DashboardCacheTTL time.Duration
}

// Load reads a .env file when present and then builds the config from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a config from environment variables without validating it.
func FromEnv() Config {
	return Config{
		DataSourceURL: getenv("DATA_SOURCE_URL", defaultDataSourceURL),
		ResourceID:    getenv("DATA_RESOURCE_ID", defaultResourceID),
		RecordLimit:   getenvInt("DATA_RECORD_LIMIT", defaultRecordLimit),
		MinYear:       getenvInt("MIN_YEAR", defaultMinYear),

		OneMapBaseURL:     getenv("ONEMAP_BASE_URL", defaultOneMapBaseURL),
		OneMapToken:       strings.TrimSpace(os.Getenv("ONEMAP_TOKEN")),
		RateLimitPerSec:   getenvInt("ONEMAP_RATE_LIMIT_PER_SEC", defaultRateLimitPerSec),
		FetchRetries:      getenvInt("ONEMAP_FETCH_RETRIES", 0),
		HTTPTimeout:       getenvDuration("HTTP_TIMEOUT", defaultHTTPTimeout),
		ResolveWorkers:    getenvInt("RESOLVE_WORKERS", 1),
		SimilarityBackend: strings.ToLower(getenv("SIMILARITY_BACKEND", defaultSimilarity)),

		GeminiAPIKey:      strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		EmbeddingModel:    getenv("EMBEDDING_MODEL", defaultEmbeddingModel),
		EmbeddingCacheTTL: getenvDuration("EMBEDDING_CACHE_TTL", defaultEmbeddingCacheTTL),

		StoreBackend:          strings.ToLower(getenv("STORE_BACKEND", defaultStoreBackend)),
		SpreadsheetID:         strings.TrimSpace(os.Getenv("SPREADSHEET_ID")),
		GoogleCredentialsJSON: unescapeCredentials(os.Getenv("GOOGLE_CREDENTIALS_JSON")),
		SQLitePath:            getenv("SQLITE_PATH", defaultSQLitePath),
		LatestTable:           getenv("LATEST_TABLE", defaultLatestTable),
		LatLongTable:          getenv("LATLONG_TABLE", defaultLatLongTable),
		TimingTable:           getenv("TIMING_TABLE", defaultTimingTable),

		SnapshotBucket:   strings.TrimSpace(os.Getenv("SNAPSHOT_BUCKET")),
		BigQueryProject:  strings.TrimSpace(os.Getenv("BIGQUERY_PROJECT")),
		BigQueryDataset:  getenv("BIGQUERY_DATASET", defaultWarehouseDataset),
		NotionToken:      strings.TrimSpace(os.Getenv("NOTION_TOKEN")),
		NotionDatabaseID: strings.TrimSpace(os.Getenv("NOTION_DATABASE_ID")),

		HTTPPort:          getenv("PORT", defaultHTTPPort),
		LogLevel:          getenv("LOG_LEVEL", defaultLogLevel),
		LogFormat:         getenv("LOG_FORMAT", defaultLogFormat),
		QueueBuffer:       getenvInt("QUEUE_BUFFER", defaultQueueBuffer),
		ExtractTimeout:    getenvDuration("EXTRACT_TIMEOUT", defaultExtractTimeout),
		DashboardCacheTTL: getenvDuration("DASHBOARD_CACHE_TTL", defaultDashboardTTL),
	}
}

// Validate fills zero values with defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataSourceURL) == "" {
		c.DataSourceURL = defaultDataSourceURL
	}
	if strings.TrimSpace(c.ResourceID) == "" {
		c.ResourceID = defaultResourceID
	}
	if c.RecordLimit <= 0 {
		c.RecordLimit = defaultRecordLimit
	}
	if c.MinYear <= 0 {
		c.MinYear = defaultMinYear
	}
	if strings.TrimSpace(c.OneMapBaseURL) == "" {
		c.OneMapBaseURL = defaultOneMapBaseURL
	}
	if c.RateLimitPerSec <= 0 {
		c.RateLimitPerSec = defaultRateLimitPerSec
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("ONEMAP_FETCH_RETRIES must be >= 0, got %d", c.FetchRetries)
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.ResolveWorkers <= 0 {
		c.ResolveWorkers = 1
	}
	if c.SimilarityBackend == "" {
		c.SimilarityBackend = defaultSimilarity
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = defaultEmbeddingModel
	}
	if c.EmbeddingCacheTTL <= 0 {
		c.EmbeddingCacheTTL = defaultEmbeddingCacheTTL
	}
	if c.StoreBackend == "" {
		c.StoreBackend = defaultStoreBackend
	}
	if c.SQLitePath == "" {
		c.SQLitePath = defaultSQLitePath
	}
	if c.LatestTable == "" {
		c.LatestTable = defaultLatestTable
	}
	if c.LatLongTable == "" {
		c.LatLongTable = defaultLatLongTable
	}
	if c.TimingTable == "" {
		c.TimingTable = defaultTimingTable
	}
	if c.BigQueryDataset == "" {
		c.BigQueryDataset = defaultWarehouseDataset
	}
	if c.HTTPPort == "" {
		c.HTTPPort = defaultHTTPPort
	}
	if c.QueueBuffer <= 0 {
		c.QueueBuffer = defaultQueueBuffer
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = defaultExtractTimeout
	}

	switch c.SimilarityBackend {
	case SimilarityLexical:
	case SimilarityGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required when SIMILARITY_BACKEND=gemini")
		}
	default:
		return fmt.Errorf("unknown SIMILARITY_BACKEND: %s", c.SimilarityBackend)
	}

	switch c.StoreBackend {
	case StoreSheets:
		if c.SpreadsheetID == "" {
			return errors.New("SPREADSHEET_ID is required when STORE_BACKEND=sheets")
		}
		if c.GoogleCredentialsJSON == "" {
			return errors.New("GOOGLE_CREDENTIALS_JSON is required when STORE_BACKEND=sheets")
		}
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND: %s", c.StoreBackend)
	}

	if (c.NotionToken == "") != (c.NotionDatabaseID == "") {
		return errors.New("NOTION_TOKEN and NOTION_DATABASE_ID must be set together")
	}
	return nil
}

// unescapeCredentials undoes the doubled backslashes that hosting dashboards add when a
// service-account JSON is pasted into a single-line secret.
func unescapeCredentials(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), `\\`, `\`)
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
