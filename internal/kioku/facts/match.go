package facts

import (
	"strings"
	"unicode"
)

// SimilarityThreshold is the minimum fuzzy-match score a stored key must
// reach to be returned by Recall. The score is the fraction of the key's
// tokens that appear in the query (1.0 when the key is a substring of the
// query or vice versa), so 0.5 means "at least half the key". Tunable; the
// default errs on the side of ErrNotFound over wrong answers.
const SimilarityThreshold = 0.5

// NormalizeKey canonicalizes a raw subject key or lookup query: trim, case
// fold, collapse internal whitespace runs to single spaces. Idempotent, and
// applied identically on write and lookup.
func NormalizeKey(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(raw))), " ")
}

// bestMatch scores every stored key against the normalized query and
// returns the single best key above the similarity threshold. When the two
// top candidates tie, ok is false: ambiguity resolves to not-found rather
// than guessing.
func bestMatch(query string, keys []string) (best string, ok bool) {
	queryTokens := tokenize(query)

	var (
		bestScore float64
		tied      bool
	)
	for _, key := range keys {
		score := matchScore(query, queryTokens, key)
		switch {
		case score > bestScore:
			bestScore = score
			best = key
			tied = false
		case score == bestScore && score > 0 && key != best:
			tied = true
		}
	}

	if bestScore < SimilarityThreshold || tied {
		return "", false
	}
	return best, true
}

// matchScore rates how well a stored key answers the query. Substring
// containment in either direction scores 1.0; otherwise the score is the
// fraction of the key's tokens present in the query.
func matchScore(query string, queryTokens map[string]struct{}, key string) float64 {
	if strings.Contains(query, key) || strings.Contains(key, query) {
		return 1.0
	}

	keyTokens := tokenize(key)
	if len(keyTokens) == 0 {
		return 0
	}

	overlap := 0
	for tok := range keyTokens {
		if _, present := queryTokens[tok]; present {
			overlap++
		}
	}
	return float64(overlap) / float64(len(keyTokens))
}

// tokenize splits a normalized string on every non-alphanumeric rune, so
// "john's email" and "johns email" produce overlapping token sets.
func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}
