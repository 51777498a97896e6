package geocache

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/schema"
	"github.com/sghousing/resale-tracker/internal/store"
	"github.com/sghousing/resale-tracker/internal/store/memory"
)

func ptr(v float64) *float64 { return &v }

func resolved(addr string, lat, lon float64) domain.GeocodeEntry {
	return domain.GeocodeEntry{Address: addr, Lat: ptr(lat), Lon: ptr(lon)}
}

func TestCache_Missing(t *testing.T) {
	t.Parallel()

	cache := New([]domain.GeocodeEntry{
		resolved("1 A ST", 1.1, 103.1),
		{Address: "2 B ST"},
	})

	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "empty input", input: nil, want: []string{}},
		{name: "all cached", input: []string{"1 A ST"}, want: []string{}},
		{name: "absent address", input: []string{"3 C ST"}, want: []string{"3 C ST"}},
		{name: "nil coordinates count as missing", input: []string{"2 B ST"}, want: []string{"2 B ST"}},
		{
			name:  "order kept and duplicates dropped",
			input: []string{"5 E ST", "1 A ST", "4 D ST", "5 E ST", "2 B ST", "4 D ST"},
			want:  []string{"5 E ST", "4 D ST", "2 B ST"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, cache.Missing(tt.input))
		})
	}
}

func TestCache_Missing_Invariant(t *testing.T) {
	cache := New([]domain.GeocodeEntry{resolved("1 A ST", 1.1, 103.1), {Address: "2 B ST"}})
	input := []string{"1 A ST", "2 B ST", "3 C ST", "1 A ST", "3 C ST"}

	missing := cache.Missing(input)
	seen := map[string]bool{}
	for _, addr := range missing {
		require.Contains(t, input, addr)
		require.False(t, seen[addr], "duplicate %q", addr)
		seen[addr] = true

		entry, ok := cache.Lookup(addr)
		require.True(t, !ok || !entry.HasCoordinates())
	}
}

func TestCache_Merge(t *testing.T) {
	base := New([]domain.GeocodeEntry{resolved("1 A ST", 1.1, 103.1)})

	merged := base.Merge([]domain.GeocodeEntry{
		resolved("1 A ST", 1.1, 103.1),
		resolved("1 A ST", 9.9, 109.9),
		{Address: "2 B ST"},
		{Address: "2 B ST"},
	})

	want := []domain.GeocodeEntry{
		resolved("1 A ST", 1.1, 103.1),
		resolved("1 A ST", 9.9, 109.9),
		{Address: "2 B ST"},
	}
	if diff := cmp.Diff(want, merged.Rows()); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}

	lookup, ok := merged.Lookup("1 A ST")
	require.True(t, ok)
	require.Equal(t, 1.1, *lookup.Lat)

	require.Equal(t, 1, base.Len(), "merge must not mutate the receiver")
}

func TestCache_Merge_Idempotent(t *testing.T) {
	entries := []domain.GeocodeEntry{resolved("3 C ST", 1.3, 103.3), {Address: "4 D ST"}}
	base := New([]domain.GeocodeEntry{resolved("1 A ST", 1.1, 103.1)})

	once := base.Merge(entries)
	twice := once.Merge(entries)
	require.Equal(t, once.Rows(), twice.Rows())
}

func TestCache_Lookup(t *testing.T) {
	cache := New([]domain.GeocodeEntry{
		{Address: "1 A ST"},
		resolved("1 A ST", 1.1, 103.1),
		{Address: "2 B ST"},
	})

	got, ok := cache.Lookup("1 A ST")
	require.True(t, ok)
	require.True(t, got.HasCoordinates())

	got, ok = cache.Lookup("2 B ST")
	require.True(t, ok)
	require.False(t, got.HasCoordinates())

	_, ok = cache.Lookup("3 C ST")
	require.False(t, ok)
}

func TestCache_Index(t *testing.T) {
	cache := New([]domain.GeocodeEntry{
		{Address: "1 A ST"},
		resolved("1 A ST", 1.1, 103.1),
		resolved("1 A ST", 9.9, 109.9),
		{Address: "2 B ST"},
		resolved("3 C ST", 1.3, 103.3),
	})

	idx := cache.Index()
	require.Len(t, idx, 3)
	for _, addr := range []string{"1 A ST", "2 B ST", "3 C ST"} {
		want, _ := cache.Lookup(addr)
		require.Equal(t, want, idx[addr], addr)
	}
	require.Equal(t, 1.1, *idx["1 A ST"].Lat)
	require.False(t, idx["2 B ST"].HasCoordinates())
}

func TestCache_Unresolved(t *testing.T) {
	cache := New([]domain.GeocodeEntry{
		{Address: "2 B ST"},
		{Address: "1 A ST"},
		resolved("1 A ST", 1.1, 103.1),
		{Address: "4 D ST"},
	})
	require.Equal(t, []domain.AddressQuery{"2 B ST", "4 D ST"}, cache.Unresolved())
	require.Empty(t, New(nil).Unresolved())
}

func TestCache_Stats(t *testing.T) {
	cache := New([]domain.GeocodeEntry{
		{Address: "1 A ST"},
		resolved("1 A ST", 1.1, 103.1),
		{Address: "2 B ST"},
	})
	require.Equal(t, Stats{Rows: 3, Addresses: 2, Resolved: 1, Unresolved: 1}, cache.Stats())
}

func TestLoadSave_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := memory.NewStore()

	empty, err := Load(ctx, ts, "Lat_Long")
	require.NoError(t, err)
	require.Equal(t, 0, empty.Len())

	cache := New([]domain.GeocodeEntry{resolved("123 ANG MO KIO AVE 3", 1.37, 103.85), {Address: "9 NOWHERE RD"}})
	require.NoError(t, Save(ctx, ts, "Lat_Long", cache))

	loaded, err := Load(ctx, ts, "Lat_Long")
	require.NoError(t, err)
	require.Equal(t, cache.Rows(), loaded.Rows())
}

func TestLoad_CoercesTextCoordinates(t *testing.T) {
	ctx := context.Background()
	ts := memory.NewStore()
	require.NoError(t, ts.ClearAndWrite(ctx, "Lat_Long", store.Table{
		Header: []string{"address", "lat", "lon"},
		Rows:   [][]string{{"123 ANG MO KIO AVE 3", " 1.37 ", "103.85"}},
	}))

	loaded, err := Load(ctx, ts, "Lat_Long")
	require.NoError(t, err)
	got, ok := loaded.Lookup("123 ANG MO KIO AVE 3")
	require.True(t, ok)
	require.Equal(t, 1.37, *got.Lat)
	require.Equal(t, 103.85, *got.Lon)
}

func TestLoad_BadHeader(t *testing.T) {
	ctx := context.Background()
	ts := memory.NewStore()
	require.NoError(t, ts.ClearAndWrite(ctx, "Lat_Long", store.Table{Header: []string{"addr"}, Rows: [][]string{{"x"}}}))

	_, err := Load(ctx, ts, "Lat_Long")
	require.True(t, errors.Is(err, schema.ErrHeaderMismatch))
}

type failingStore struct{ err error }

func (f failingStore) ReadTable(context.Context, string) (store.Table, error) {
	return store.Table{}, f.err
}

func (f failingStore) ClearAndWrite(context.Context, string, store.Table) error {
	return f.err
}

func TestLoadSave_StoreErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("quota exceeded")

	_, err := Load(ctx, failingStore{err: boom}, "Lat_Long")
	require.ErrorIs(t, err, boom)

	err = Save(ctx, failingStore{err: boom}, "Lat_Long", New(nil))
	require.ErrorIs(t, err, boom)
}
