package moderation

import (
	"strings"
	"unicode/utf8"
)

// lowEffortCheck pairs a detection function with the label reported for it.
type lowEffortCheck struct {
	name  string
	match func(string) bool
}

// lowEffortChecks is the ordered list applied by LowEffort. The first match
// wins.
var lowEffortChecks = []lowEffortCheck{
	{name: "too_short", match: func(text string) bool {
		return utf8.RuneCountInString(text) <= 3
	}},
	{name: "few_distinct_chars", match: func(text string) bool {
		return distinctRunes(text) <= 2
	}},
	{name: "char_flood", match: hasCharFlood},
	{name: "word_flood", match: hasWordFlood},
}

// LowEffort reports whether a comment carries next to no content, such as
// "ок", "+++" or "ааааааааа", and which check fired. It is independent of
// the profanity verdict; the notifier uses it to label comments.
func LowEffort(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, c := range lowEffortChecks {
		if c.match(text) {
			return c.name, true
		}
	}
	return "", false
}

// IsLowEffort is LowEffort without the reason.
func IsLowEffort(text string) bool {
	_, ok := LowEffort(text)
	return ok
}

func distinctRunes(text string) int {
	seen := make(map[rune]struct{})
	for _, r := range strings.ToLower(text) {
		seen[r] = struct{}{}
	}
	return len(seen)
}

// Flood lengths: a rune or a word repeated this many times in a row.
const (
	charFloodRun = 5
	wordFloodRun = 3
)

// hasCharFlood catches stretched words such as "спасибооооо".
func hasCharFlood(text string) bool {
	return hasRun([]rune(text), charFloodRun)
}

// hasWordFlood catches "да да да"; case is ignored.
func hasWordFlood(text string) bool {
	return hasRun(strings.Fields(strings.ToLower(text)), wordFloodRun)
}

// hasRun reports whether seq holds n equal neighbours.
func hasRun[T comparable](seq []T, n int) bool {
	run := 0
	for i := range seq {
		if i > 0 && seq[i] == seq[i-1] {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
	}
	return false
}
