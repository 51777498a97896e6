// Package matching picks the OneMap candidate whose label is most similar to the searched address.
package matching

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/logger"
)

// Scorer returns a similarity between two already-lowercased strings. Higher is more similar.
type Scorer interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(ctx context.Context, a, b string) (float64, error)

func (f ScorerFunc) Similarity(ctx context.Context, a, b string) (float64, error) {
	return f(ctx, a, b)
}

// Match is the winning candidate for a query together with its transient score.
type Match struct {
	Query     domain.AddressQuery
	Candidate domain.MatchCandidate
	Score     float64
	// Scored is false when the candidate was accepted without scoring.
	Scored bool
	// NoMatch marks the placeholder returned for an empty candidate list.
	NoMatch bool
}

// Project reduces a match to the cache row {address, lat, lon}. Placeholders and
// unparsable coordinates project to nil coordinates.
func (m Match) Project() domain.GeocodeEntry {
	entry := domain.GeocodeEntry{Address: m.Query}
	if m.NoMatch {
		return entry
	}
	lat, latOK := parseCoordinate(m.Candidate.Latitude)
	lon, lonOK := parseCoordinate(m.Candidate.Longitude)
	if latOK && lonOK {
		entry.Lat = &lat
		entry.Lon = &lon
	}
	return entry
}

func parseCoordinate(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Selector scores candidates with a Scorer.
type Selector struct {
	scorer Scorer
}

// NewSelector returns a selector using scorer, or the lexical scorer when scorer is nil.
func NewSelector(scorer Scorer) *Selector {
	if scorer == nil {
		scorer = NewLexicalScorer()
	}
	return &Selector{scorer: scorer}
}

// BestMatch scores every candidate against query and returns the highest-scoring one.
// The running maximum starts at 0 on the first candidate and only a strictly greater
// score replaces it, so ties keep the earlier candidate and NaN never wins.
func (s *Selector) BestMatch(ctx context.Context, query domain.AddressQuery, candidates []domain.MatchCandidate) Match {
	if len(candidates) == 0 {
		return Match{Query: query, NoMatch: true}
	}

	log := logger.FromContext(ctx)
	lowered := strings.ToLower(query)

	best := 0.0
	index := 0
	for i, c := range candidates {
		score, err := s.scorer.Similarity(ctx, lowered, strings.ToLower(c.SearchValue))
		if err != nil {
			log.Warn().Err(err).Str("address", query).Str("candidate", c.SearchValue).Msg("similarity failed, scoring as 0")
			continue
		}
		if score > best {
			best = score
			index = i
		}
	}

	return Match{
		Query:     query,
		Candidate: candidates[index],
		Score:     best,
		Scored:    true,
	}
}

// BestOrOnlyMatch accepts a lone candidate without scoring it. Otherwise it is BestMatch.
func (s *Selector) BestOrOnlyMatch(ctx context.Context, query domain.AddressQuery, candidates []domain.MatchCandidate) Match {
	if len(candidates) == 1 {
		return Match{Query: query, Candidate: candidates[0], Score: math.NaN()}
	}
	return s.BestMatch(ctx, query, candidates)
}
