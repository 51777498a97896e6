package dashboard

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sghousing/resale-tracker/internal/domain"
)

// AllModels selects every flat model.
const AllModels = "All"

// Filter narrows the dataset the way the dashboard sidebar does. Zero values mean
// "no constraint".
type Filter struct {
	Town string
	// Models lists flat models to keep. Empty, or exactly ["All"], keeps every model.
	Models []string
	// Street is matched case-insensitively as a substring of the street name.
	Street string
	// MonthStart and MonthEnd select months in [MonthStart, MonthEnd).
	MonthStart int
	MonthEnd   int
	MinSqM     float64
	MaxSqM     float64
	MinLease   float64
	MinPrice   float64
	MaxPrice   float64
}

func (f Filter) allModels() bool {
	return len(f.Models) == 0 || (len(f.Models) == 1 && f.Models[0] == AllModels)
}

// Apply returns the rows that pass every constraint, in input order.
func (f Filter) Apply(rows []domain.EnrichedRow) []domain.EnrichedRow {
	models := make(map[string]bool, len(f.Models))
	for _, m := range f.Models {
		models[m] = true
	}
	street := strings.ToUpper(strings.TrimSpace(f.Street))

	monthStart, monthEnd := f.MonthStart, f.MonthEnd
	if monthStart <= 0 {
		monthStart = 1
	}
	if monthEnd <= 0 {
		monthEnd = 13
	}

	out := make([]domain.EnrichedRow, 0)
	for _, row := range rows {
		if f.Town != "" && row.Town != f.Town {
			continue
		}
		if !f.allModels() && !models[row.Model] {
			continue
		}
		if street != "" && !strings.Contains(strings.ToUpper(row.StreetName), street) {
			continue
		}
		month, err := strconv.Atoi(row.Month)
		if err != nil || month < monthStart || month >= monthEnd {
			continue
		}
		if f.MinSqM > 0 && row.SqM < f.MinSqM {
			continue
		}
		if f.MaxSqM > 0 && row.SqM > f.MaxSqM {
			continue
		}
		price := parseNumber(row.Price)
		if f.MinPrice > 0 && !(price >= f.MinPrice) {
			continue
		}
		if f.MaxPrice > 0 && !(price <= f.MaxPrice) {
			continue
		}
		if f.MinLease > 0 && !(parseNumber(row.Lease) >= f.MinLease) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Options seeds the sidebar: the towns in the dataset, the models of one town and
// the numeric bounds.
type Options struct {
	Towns    []string `json:"towns"`
	Models   []string `json:"models"`
	MinLease float64  `json:"min_lease"`
	MinSqM   float64  `json:"min_sqm"`
	MaxSqM   float64  `json:"max_sqm"`
	MinPrice float64  `json:"min_price"`
	MaxPrice float64  `json:"max_price"`
}

// BuildOptions lists towns in order of first appearance and the models of town (or of
// the first town when town is empty), followed by "All". Bounds cover the whole dataset.
func BuildOptions(rows []domain.EnrichedRow, town string) Options {
	opts := Options{Towns: []string{}, Models: []string{}}
	if len(rows) == 0 {
		return opts
	}

	seenTown := map[string]bool{}
	for _, row := range rows {
		if !seenTown[row.Town] {
			seenTown[row.Town] = true
			opts.Towns = append(opts.Towns, row.Town)
		}
	}
	if town == "" {
		town = opts.Towns[0]
	}

	seenModel := map[string]bool{}
	opts.MinLease, opts.MinSqM, opts.MinPrice = math.Inf(1), math.Inf(1), math.Inf(1)
	opts.MaxSqM, opts.MaxPrice = math.Inf(-1), math.Inf(-1)
	for _, row := range rows {
		if row.Town == town && !seenModel[row.Model] {
			seenModel[row.Model] = true
			opts.Models = append(opts.Models, row.Model)
		}
		if lease := parseNumber(row.Lease); !math.IsNaN(lease) {
			opts.MinLease = math.Min(opts.MinLease, lease)
		}
		opts.MinSqM = math.Min(opts.MinSqM, row.SqM)
		opts.MaxSqM = math.Max(opts.MaxSqM, row.SqM)
		if price := parseNumber(row.Price); !math.IsNaN(price) {
			opts.MinPrice = math.Min(opts.MinPrice, price)
			opts.MaxPrice = math.Max(opts.MaxPrice, price)
		}
	}
	opts.Models = append(opts.Models, AllModels)

	for _, v := range []*float64{&opts.MinLease, &opts.MinSqM, &opts.MaxSqM, &opts.MinPrice, &opts.MaxPrice} {
		if math.IsInf(*v, 0) {
			*v = 0
		}
	}
	return opts
}

// SortedTowns returns the towns alphabetically.
func (o Options) SortedTowns() []string {
	towns := append([]string(nil), o.Towns...)
	sort.Strings(towns)
	return towns
}

// parseNumber reads a numeric display cell, returning NaN when it is not a number.
func parseNumber(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(raw, ",", "")), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
