package services

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Match is the winning candidate of a fuzzy lookup.
type Match struct {
	Label string
	Score float64
	Index int
}

// FactorMatcher picks the candidate label most similar to a query.
type FactorMatcher interface {
	// BestMatch returns the highest scoring candidate with score >= minScore.
	// Scores range from 0 to 100. Ties keep the earliest candidate. Labels
	// without any word tokens never match.
	BestMatch(query string, candidates []string, minScore float64) (Match, bool)
}

// TokenSetMatcher scores labels by comparing their token sets, so word order
// and repeated words do not matter and a label that contains all the query's
// words scores highly.
type TokenSetMatcher struct{}

// NewTokenSetMatcher creates the default FactorMatcher.
func NewTokenSetMatcher() *TokenSetMatcher {
	return &TokenSetMatcher{}
}

var _ FactorMatcher = (*TokenSetMatcher)(nil)

func (m *TokenSetMatcher) BestMatch(query string, candidates []string, minScore float64) (Match, bool) {
	best := Match{Index: -1}
	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return best, false
	}

	for i, candidate := range candidates {
		candidateTokens := tokenSet(candidate)
		if len(candidateTokens) == 0 {
			continue
		}
		score := tokenSetRatio(queryTokens, candidateTokens)
		if score < minScore {
			continue
		}
		if best.Index < 0 || score > best.Score {
			best = Match{Label: candidate, Score: score, Index: i}
		}
	}

	return best, best.Index >= 0
}

// Score returns the token-set similarity of two labels on a 0-100 scale.
func (m *TokenSetMatcher) Score(a, b string) float64 {
	return tokenSetRatio(tokenSet(a), tokenSet(b))
}

// tokenSet returns the sorted distinct folded tokens of s.
func tokenSet(s string) []string {
	tokens := foldTokens(s)
	slices.Sort(tokens)
	return slices.Compact(tokens)
}

func tokenSetRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter = append(inter, a[i])
			i++
			j++
		case a[i] < b[j]:
			onlyA = append(onlyA, a[i])
			i++
		default:
			onlyB = append(onlyB, b[j])
			j++
		}
	}
	onlyA = append(onlyA, a[i:]...)
	onlyB = append(onlyB, b[j:]...)

	base := strings.Join(inter, " ")
	withA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	return max(ratio(base, withA), ratio(base, withB), ratio(withA, withB))
}

// ratio is the normalized Levenshtein similarity of two strings.
func ratio(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return (1 - float64(dist)/float64(longest)) * 100
}
