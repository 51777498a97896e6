package matching

import (
	"context"
	"math"
	"strings"
)

// LexicalScorer blends bag-of-words cosine with Jaro similarity. It needs no network and
// is the default scorer.
type LexicalScorer struct {
	// TokenWeight is the share of the token cosine in the blend; the rest goes to Jaro.
	TokenWeight float64
}

// NewLexicalScorer weights tokens and characters equally.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{TokenWeight: 0.5}
}

func (l *LexicalScorer) Similarity(_ context.Context, a, b string) (float64, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return 0, nil
	}
	w := l.TokenWeight
	if w < 0 || w > 1 || math.IsNaN(w) {
		w = 0.5
	}
	return w*cosineBagOfWords(strings.Fields(a), strings.Fields(b)) + (1-w)*jaroSimilarity(a, b), nil
}

func cosineBagOfWords(tokens1, tokens2 []string) float64 {
	if len(tokens1) == 0 || len(tokens2) == 0 {
		return 0
	}

	freq1 := make(map[string]int, len(tokens1))
	freq2 := make(map[string]int, len(tokens2))
	for _, token := range tokens1 {
		freq1[token]++
	}
	for _, token := range tokens2 {
		freq2[token]++
	}

	var dot, norm1, norm2 float64
	for token, f := range freq1 {
		dot += float64(f * freq2[token])
		norm1 += float64(f * f)
	}
	for _, f := range freq2 {
		norm2 += float64(f * f)
	}
	if norm1 == 0 || norm2 == 0 {
		return 0
	}
	return dot / (math.Sqrt(norm1) * math.Sqrt(norm2))
}

func jaroSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1
	}
	r1, r2 := []rune(s1), []rune(s2)
	len1, len2 := len(r1), len(r2)
	if len1 == 0 || len2 == 0 {
		return 0
	}

	window := max(len1, len2)/2 - 1
	if window < 0 {
		window = 0
	}

	m1 := make([]bool, len1)
	m2 := make([]bool, len2)
	matches := 0
	for i := 0; i < len1; i++ {
		start := max(0, i-window)
		end := min(i+window+1, len2)
		for j := start; j < end; j++ {
			if m2[j] || r1[i] != r2[j] {
				continue
			}
			m1[i], m2[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len1; i++ {
		if !m1[i] {
			continue
		}
		for !m2[k] {
			k++
		}
		if r1[i] != r2[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len1) + m/float64(len2) + (m-float64(transpositions/2))/m) / 3
}
