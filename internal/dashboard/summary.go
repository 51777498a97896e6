package dashboard

import (
	"math"
	"sort"

	"github.com/sghousing/resale-tracker/internal/domain"
)

// SummaryRow holds per-model averages.
type SummaryRow struct {
	Model     string  `json:"model"`
	Total     int     `json:"total"`
	MeanLease float64 `json:"lease"`
	MeanPrice float64 `json:"price"`
	MeanSqM   float64 `json:"sqm"`
}

type accumulator struct {
	count                int
	lease, price, sqm    float64
	leaseN, priceN, sqmN int
}

func (a *accumulator) add(row domain.EnrichedRow) {
	a.count++
	if v := parseNumber(row.Lease); !math.IsNaN(v) {
		a.lease += v
		a.leaseN++
	}
	if v := parseNumber(row.Price); !math.IsNaN(v) {
		a.price += v
		a.priceN++
	}
	a.sqm += row.SqM
	a.sqmN++
}

func (a *accumulator) row(model string) SummaryRow {
	return SummaryRow{
		Model:     model,
		Total:     a.count,
		MeanLease: mean(a.lease, a.leaseN),
		MeanPrice: mean(a.price, a.priceN),
		MeanSqM:   mean(a.sqm, a.sqmN),
	}
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Summarize groups rows by model and appends an "All" margin row. Rows are ordered by
// total ascending, ties by model name; the margin always has the largest total.
func Summarize(rows []domain.EnrichedRow) []SummaryRow {
	if len(rows) == 0 {
		return []SummaryRow{}
	}

	byModel := map[string]*accumulator{}
	all := &accumulator{}
	for _, row := range rows {
		acc, ok := byModel[row.Model]
		if !ok {
			acc = &accumulator{}
			byModel[row.Model] = acc
		}
		acc.add(row)
		all.add(row)
	}

	out := make([]SummaryRow, 0, len(byModel)+1)
	for model, acc := range byModel {
		out = append(out, acc.row(model))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total < out[j].Total
		}
		return out[i].Model < out[j].Model
	})
	return append(out, all.row(AllModels))
}
