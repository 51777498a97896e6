package onemap

import "github.com/sghousing/resale-tracker/internal/domain"

// Kind tags the result of a full search.
type Kind int

const (
	KindFound Kind = iota
	KindNoMatch
	KindFetchError
)

func (k Kind) String() string {
	switch k {
	case KindFound:
		return "found"
	case KindNoMatch:
		return "no_match"
	case KindFetchError:
		return "fetch_error"
	default:
		return "unknown"
	}
}

// Outcome distinguishes "the API had nothing" from "the API could not be reached".
type Outcome struct {
	Kind       Kind
	Candidates []domain.MatchCandidate
	Err        error
}

// Found wraps a non-empty candidate list.
func Found(candidates []domain.MatchCandidate) Outcome {
	return Outcome{Kind: KindFound, Candidates: candidates}
}

// NoMatch is the outcome of a search with zero pages or zero results.
func NoMatch() Outcome {
	return Outcome{Kind: KindNoMatch}
}

// FetchError records why a search could not complete.
func FetchError(err error) Outcome {
	return Outcome{Kind: KindFetchError, Err: err}
}

// CandidatesOrEmpty returns the candidates of a Found outcome and an empty slice otherwise.
func (o Outcome) CandidatesOrEmpty() []domain.MatchCandidate {
	if o.Kind != KindFound {
		return []domain.MatchCandidate{}
	}
	return o.Candidates
}
