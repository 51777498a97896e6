package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sghousing/resale-tracker/internal/config"
	"github.com/sghousing/resale-tracker/internal/matching"
	"github.com/sghousing/resale-tracker/internal/store/memory"
	"github.com/sghousing/resale-tracker/internal/store/sqlite"
)

func baseConfig() config.Config {
	cfg := config.Config{StoreBackend: config.StoreMemory}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func TestNew_MemoryBackend(t *testing.T) {
	a, err := New(context.Background(), baseConfig())
	require.NoError(t, err)
	defer a.Close()

	require.IsType(t, &memory.Store{}, a.Store)
	require.NotNil(t, a.Runner)
	require.NotNil(t, a.Reader)
	require.NotNil(t, a.Searcher)
	require.Nil(t, a.Warehouse)
}

func TestNewStore_SQLite(t *testing.T) {
	cfg := baseConfig()
	cfg.StoreBackend = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "resale.db")

	ts, closeFn, err := NewStore(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, ts)
	require.NotNil(t, closeFn)
	require.NoError(t, closeFn())
}

func TestNewStore_Unknown(t *testing.T) {
	cfg := baseConfig()
	cfg.StoreBackend = "redis"
	_, _, err := NewStore(context.Background(), cfg)
	require.ErrorContains(t, err, `unknown store backend "redis"`)
}

func TestNewScorer(t *testing.T) {
	cfg := baseConfig()
	scorer, err := NewScorer(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, &matching.LexicalScorer{}, scorer)

	cfg.SimilarityBackend = config.SimilarityGemini
	_, err = NewScorer(context.Background(), cfg)
	require.Error(t, err, "gemini without an api key")

	cfg.SimilarityBackend = "bert"
	_, err = NewScorer(context.Background(), cfg)
	require.Error(t, err)
}

func TestClose_RunsInReverse(t *testing.T) {
	a := &App{}
	var order []int
	a.addCloser(func() error { order = append(order, 1); return nil })
	a.addCloser(nil)
	a.addCloser(func() error { order = append(order, 2); return nil })
	require.NoError(t, a.Close())
	require.Equal(t, []int{2, 1}, order)
}
