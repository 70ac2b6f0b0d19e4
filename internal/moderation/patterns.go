package moderation

import (
	"regexp"
	"strings"
)

// RE2's \b and \w only know ASCII, so word edges are spelled out with
// Unicode classes.
const (
	wordStart = `(?:^|[^\p{L}\p{N}_])`
	wordTail  = `[\p{L}\p{N}_]*`
	wordEnd   = `(?:$|[^\p{L}\p{N}_])`
)

// CompiledPattern is a named, precompiled profanity rule.
type CompiledPattern struct {
	Name string
	Re   *regexp.Regexp
}

// basePattern covers the high-frequency roots. Letter positions accept the
// digit and symbol stand-ins as well, for raw text that has not been through
// the normalizer. Latin letters are deliberately absent: the normalizer only
// rewrites Latin inside obfuscated tokens, and plain English words must not
// spell Russian roots ("her", "hue", "ebay").
var basePattern = CompiledPattern{
	Name: "base_roots",
	Re: regexp.MustCompile(`(?i)` + wordStart + `(?:` +
		`ху[йеёяю]` +
		`|п[и1!]зд` +
		`|[б6]л[я9]` +
		`|[её][б6][аулн]` +
		`|сук[аи]` +
		`|муд[ао0][кч4]` +
		`|г[ао0]вн[оа0]` +
		`|п[и1!е]д[ао0]р` +
		`|залуп` +
		`|шлю[хш]` +
		`|деб[и1]л` +
		`|г[ао0]нд[о0]н` +
		`)` + wordTail),
}

// supplementaryPatterns are checked in order after the base pattern. They
// also run against the raw lowercased text, which is where the masked and
// transliterated forms are caught before normalization rewrites them.
var supplementaryPatterns = []CompiledPattern{
	{
		Name: "prefixed_khu",
		Re: regexp.MustCompile(`(?i)` + wordStart +
			`(?:на|по|за|от|ни|до|об|о|а)ху[йеёяю]` + wordTail),
	},
	{
		Name: "prefixed_pizd",
		Re: regexp.MustCompile(`(?i)` + wordStart +
			`(?:пере|при|про|рас|раз|под|от|за|по|на|вы|с|у)п[и1!]зд` + wordTail),
	},
	{
		Name: "prefixed_eb",
		Re: regexp.MustCompile(`(?i)` + wordStart +
			`(?:долбо|разъ|подъ|раз|про|съ|въ|за|от|вы|до|на|по|у)[её][б6]` + wordTail),
	},
	{
		Name: "suchk",
		Re:   regexp.MustCompile(`(?i)` + wordStart + `су[ч4]к[аи]` + wordTail),
	},
	{
		Name: "short_roots",
		Re: regexp.MustCompile(`(?i)` + wordStart + `(?:` +
			`хер(?:н\pL*|ов\pL*|ня\pL*|ом|а)?` +
			`|хрен(?:ов\pL*)?` +
			`|манд(?:а|у|ой|ы|е|ец)` +
			`|[ч4]м[о0](?:шник\pL*)?` +
			`)` + wordEnd),
	},
	{
		Name: "masked",
		Re: regexp.MustCompile(`(?i)` + wordStart + `(?:` +
			`х[@*#%$?.\-_][йеёяю]` +
			`|п[@*#%$?.\-_!]зд` +
			`|[б6]л[@*#%$][дт]` +
			`|с[@*#%$]ка` +
			`)`),
	},
	{
		Name: "translit",
		Re: regexp.MustCompile(`(?i)` + wordStart + `(?:` +
			`(?:bl[yj]a[dt]|pi[sz]d|mudak|pid[ao]r|g[ao]nd[ao]n|zaeb|eba[lnt])` + wordTail +
			`|xu[yj](?:n[ya])?|huj(?:n[ya]|ov\pL*)?` +
			`)` + wordEnd),
	},
	{
		Name: "english",
		Re: regexp.MustCompile(`(?i)` + wordStart + `(?:` +
			`(?:mother)?f+u+c+k+(?:ed|er|ers|ing|in|s|y)?` +
			`|s+h+i+t+(?:s|ty|ting|head|heads)?` +
			`|b+i+t+c+h+(?:es|y|ing)?` +
			`|c+u+n+t+s?` +
			`|a+s+s+h+o+l+e+s?` +
			`|b+a+s+t+a+r+d+s?` +
			`)` + wordEnd),
	},
}

// PatternMatcher evaluates the static pattern table. The zero value is not
// usable; use NewPatternMatcher.
type PatternMatcher struct {
	base          CompiledPattern
	supplementary []CompiledPattern
}

// NewPatternMatcher returns a matcher over the built-in patterns.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{
		base:          basePattern,
		supplementary: supplementaryPatterns,
	}
}

// Match runs the base pattern and then every supplementary pattern against
// text, returning the name of the first rule that matches.
func (m *PatternMatcher) Match(text string) (string, bool) {
	rule, _, ok := m.Find(text)
	return rule, ok
}

// MatchSupplementary runs only the supplementary patterns.
func (m *PatternMatcher) MatchSupplementary(text string) (string, bool) {
	rule, _, ok := m.FindSupplementary(text)
	return rule, ok
}

// Find is Match that also returns the matched word.
func (m *PatternMatcher) Find(text string) (rule, term string, ok bool) {
	if text == "" {
		return "", "", false
	}
	if term, ok := findWord(m.base.Re, text); ok {
		return m.base.Name, term, true
	}
	return m.FindSupplementary(text)
}

// FindSupplementary is MatchSupplementary that also returns the matched word.
func (m *PatternMatcher) FindSupplementary(text string) (rule, term string, ok bool) {
	if text == "" {
		return "", "", false
	}
	for _, p := range m.supplementary {
		if term, ok := findWord(p.Re, text); ok {
			return p.Name, term, true
		}
	}
	return "", "", false
}

// findWord returns the leftmost match of re with the boundary runes that the
// pattern consumed trimmed off.
func findWord(re *regexp.Regexp, text string) (string, bool) {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return strings.TrimFunc(text[loc[0]:loc[1]], func(r rune) bool {
		return !isWordRune(r) && !strings.ContainsRune("@*#%$?.-_!", r)
	}), true
}

// Patterns returns the base pattern followed by the supplementary ones.
func (m *PatternMatcher) Patterns() []CompiledPattern {
	out := make([]CompiledPattern, 0, len(m.supplementary)+1)
	out = append(out, m.base)
	return append(out, m.supplementary...)
}
