package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// corporateSuffixes are legal-form tokens dropped from the end of company names.
var corporateSuffixes = map[string]bool{
	"inc":          true,
	"incorporated": true,
	"ltd":          true,
	"limited":      true,
	"llc":          true,
	"llp":          true,
	"corp":         true,
	"corporation":  true,
	"co":           true,
	"plc":          true,
	"gmbh":         true,
	"ag":           true,
	"sa":           true,
	"nv":           true,
	"bv":           true,
}

// foldTokens case-folds s, strips diacritics and splits it on every
// non-alphanumeric rune.
func foldTokens(s string) []string {
	// Transformers carry state; build a fresh chain per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// NormalizeCompanyName produces the join key for a company display name:
// folded tokens joined by single spaces with trailing legal-form suffixes removed.
// "Nestlé S.A." and "nestle" share a key.
func NormalizeCompanyName(name string) string {
	tokens := foldTokens(name)

	// Single-letter runs from dotted abbreviations ("S.A.", "N.V.") collapse first.
	tokens = joinInitials(tokens)

	for len(tokens) > 1 && corporateSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// joinInitials merges consecutive single-letter tokens into one token.
func joinInitials(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			out = append(out, run.String())
			run.Reset()
		}
	}
	for _, tok := range tokens {
		if len([]rune(tok)) == 1 {
			run.WriteString(tok)
			continue
		}
		flush()
		out = append(out, tok)
	}
	flush()
	return out
}

// NormalizeDomain produces the join key for a web domain: scheme, credentials,
// leading "www.", port, path, query and trailing dot removed, lower-cased.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return ""
	}

	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "www.")
	return d
}
