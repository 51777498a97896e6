package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sghousing/resale-tracker/internal/domain"
)

const periodLayout = "2006-01"

// flatTypeReplacements are applied in order; "MULTI-GENERATION" becomes "MG" only after
// the hyphen has been replaced.
var flatTypeReplacements = []struct{ old, new string }{
	{" ROOM", "R"},
	{"EXECUTIVE", "EC"},
	{"-", " "},
	{"MULTI GENERATION", "MG"},
}

// periodYear returns the year of a "YYYY-MM" period.
func periodYear(period string) (int, error) {
	t, err := time.Parse(periodLayout, strings.TrimSpace(period))
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", period, err)
	}
	return t.Year(), nil
}

// filterByYear keeps records whose period year is at least minYear.
func filterByYear(records []domain.RawRecord, minYear int) ([]domain.RawRecord, error) {
	kept := make([]domain.RawRecord, 0, len(records))
	for i, r := range records {
		year, err := periodYear(r.Month)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if year >= minYear {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// normalizeRecord converts a raw upstream row into a TransactionRecord.
func normalizeRecord(r domain.RawRecord) (domain.TransactionRecord, error) {
	period := strings.TrimSpace(r.Month)
	if _, err := periodYear(period); err != nil {
		return domain.TransactionRecord{}, err
	}

	lease, err := parseRemainingLease(r.RemainingLease)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	sqm, err := strconv.ParseFloat(strings.TrimSpace(r.FloorAreaSqm), 64)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("invalid floor area %q: %w", r.FloorAreaSqm, err)
	}
	priceText := strings.TrimSpace(r.ResalePrice)
	price, err := strconv.ParseFloat(priceText, 64)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("invalid resale price %q: %w", r.ResalePrice, err)
	}

	block := strings.TrimSpace(r.Block)
	street := strings.TrimSpace(r.StreetName)

	return domain.TransactionRecord{
		Period:     period,
		Town:       strings.TrimSpace(r.Town),
		FlatType:   normalizeFlatType(r.FlatType),
		Block:      block,
		StreetName: street,
		Model:      capitalize(strings.TrimSpace(r.FlatModel)),
		Floor:      normalizeStorey(r.StoreyRange),
		SqM:        sqm,
		Lease:      lease,
		Price:      price,
		PriceText:  priceText,
		Address:    block + " " + street,
	}, nil
}

// normalizeStorey turns "10 TO 12" into "10-12".
func normalizeStorey(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " TO ", "-")
	return strings.ReplaceAll(s, "TO", "-")
}

func normalizeFlatType(raw string) string {
	s := strings.TrimSpace(raw)
	for _, r := range flatTypeReplacements {
		s = strings.ReplaceAll(s, r.old, r.new)
	}
	return s
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
}

// parseRemainingLease turns "61 years 04 months" into 61.333... Months default to 0.
// A bare number is read as whole years.
func parseRemainingLease(raw string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty remaining lease")
	}

	yearsPart, rest, _ := strings.Cut(s, "year")
	years, err := strconv.ParseFloat(strings.TrimSpace(yearsPart), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid remaining lease %q: %w", raw, err)
	}

	months := 0.0
	if strings.Contains(rest, "month") {
		fields := strings.Fields(rest)
		if len(fields) >= 2 {
			m, err := strconv.ParseFloat(fields[len(fields)-2], 64)
			if err != nil {
				return 0, fmt.Errorf("invalid remaining lease months %q: %w", raw, err)
			}
			months = m
		}
	}

	lease := years + months/12
	if lease < 0 {
		return 0, fmt.Errorf("negative remaining lease %q", raw)
	}
	return lease, nil
}

// distinctAddresses lists addresses in order of first appearance.
func distinctAddresses(txs []domain.TransactionRecord) []domain.AddressQuery {
	seen := make(map[domain.AddressQuery]bool)
	out := make([]domain.AddressQuery, 0)
	for _, tx := range txs {
		if seen[tx.Address] {
			continue
		}
		seen[tx.Address] = true
		out = append(out, tx.Address)
	}
	return out
}

// shapeRow builds the published row for a transaction.
func shapeRow(tx domain.TransactionRecord) domain.EnrichedRow {
	lease := formatDecimal(math.Round(tx.Lease*100) / 100)
	price := tx.PriceText
	if price == "" {
		price = strconv.FormatFloat(tx.Price, 'f', -1, 64)
	}

	year, month := tx.Period, tx.Period
	if i := strings.Index(tx.Period, "-"); i >= 0 {
		year = tx.Period[:i]
		month = tx.Period[strings.LastIndex(tx.Period, "-")+1:]
	}

	return domain.EnrichedRow{
		Period:     tx.Period,
		Town:       tx.Town,
		FlatType:   tx.FlatType,
		Block:      tx.Block,
		StreetName: tx.StreetName,
		Model:      tx.Model,
		Floor:      tx.Floor,
		SqM:        tx.SqM,
		Lease:      lease,
		Price:      price,
		Lat:        tx.Lat,
		Lon:        tx.Lon,
		Display:    tx.FlatType + " | " + tx.Model + " | " + lease + " | $" + price,
		Year:       year,
		Month:      month,
	}
}

// formatDecimal renders a float the way a decimal column is displayed: shortest form,
// always with a fractional part ("61.33", "70.0").
func formatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
