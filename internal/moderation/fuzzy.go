package moderation

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultMinWordLength is the shortest token or bad word the fuzzy stage
// compares. Shorter words produce too many near-misses.
const DefaultMinWordLength = 4

// FuzzyMatch describes a token that landed within edit distance of a bad word.
type FuzzyMatch struct {
	Token    string
	BadWord  string
	Distance int
	Exact    bool
}

// FuzzyMatcher flags tokens within a small edit distance of a bad word.
type FuzzyMatcher struct {
	minLen int
}

// NewFuzzyMatcher returns a matcher ignoring words shorter than minLen runes.
// A non-positive minLen selects DefaultMinWordLength.
func NewFuzzyMatcher(minLen int) *FuzzyMatcher {
	if minLen <= 0 {
		minLen = DefaultMinWordLength
	}
	return &FuzzyMatcher{minLen: minLen}
}

// threshold returns the largest accepted distance for a bad word of n runes.
func threshold(n int) int {
	if n <= 6 {
		return 1
	}
	return 2
}

// Match tokenizes normalized and compares every token with every bad word.
// technical, when non-nil, suppresses a near-miss whose token reduces to an
// allowlisted term; exact matches are never suppressed.
func (m *FuzzyMatcher) Match(normalized string, badWords []string, technical func(string) bool) (FuzzyMatch, bool) {
	tokens := tokenize(normalized)
	if len(tokens) == 0 || len(badWords) == 0 {
		return FuzzyMatch{}, false
	}

	for _, bad := range badWords {
		lb := utf8.RuneCountInString(bad)
		if lb < m.minLen {
			continue
		}

		for _, tok := range tokens {
			lc := utf8.RuneCountInString(tok)
			if lc < m.minLen {
				continue
			}
			if abs(lc-lb) > 2 {
				continue
			}
			if tok == bad {
				return FuzzyMatch{Token: tok, BadWord: bad, Exact: true}, true
			}
			// Containment either way is left to the pattern stages.
			if strings.Contains(tok, bad) || strings.Contains(bad, tok) {
				continue
			}

			d := levenshtein.ComputeDistance(tok, bad)
			if d > threshold(lb) {
				continue
			}
			if technical != nil && technical(tok) {
				continue
			}
			return FuzzyMatch{Token: tok, BadWord: bad, Distance: d}, true
		}
	}
	return FuzzyMatch{}, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
