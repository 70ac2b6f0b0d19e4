// Package moderation provides content filtering and moderation capabilities.
// It screens user comments for profanity, including deliberately obfuscated
// spellings, and optionally asks an external toxicity classifier for a second
// opinion on flagged text.
package moderation

import (
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Pipeline stages reported in FilterResult.Reason.
const (
	StageExactWord      = "exact_word"
	StagePattern        = "pattern"
	StageRawPattern     = "raw_pattern"
	StageNormalizedWord = "normalized_word"
	StageFuzzy          = "fuzzy"

	// ReasonTooShort marks text that normalizes to fewer than MinTextLength runes.
	ReasonTooShort = "too_short"
)

// MinTextLength is the shortest normalized text the pipeline screens.
const MinTextLength = 3

// FilterResult describes the outcome of a Check call. Blocked results carry
// the stage that fired, the rule name for pattern stages and the offending
// term. Unblocked results may carry an exemption reason.
type FilterResult struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Term    string `json:"term,omitempty"`
}

// Filter screens text for profanity. It is immutable after construction and
// safe for concurrent use.
type Filter struct {
	vocab      *Vocabulary
	normalizer *Normalizer
	patterns   *PatternMatcher
	fuzzy      *FuzzyMatcher
	exemptions *Exemptions

	// bad words in normalized form: normBadSet for the normalized_word
	// stage, fuzzyBad for the fuzzy stage (Cyrillic, not exact-only)
	fuzzyBad   []string
	normBadSet map[string]struct{}

	classifier          ToxicityClassifier
	toxicityThreshold   float64
	minEscalationLength int
	escalationTimeout   time.Duration

	log logrus.FieldLogger
}

type filterConfig struct {
	charMap             CharacterMap
	lemmatizer          Lemmatizer
	minWordLength       int
	classifier          ToxicityClassifier
	toxicityThreshold   float64
	minEscalationLength int
	escalationTimeout   time.Duration
	log                 logrus.FieldLogger
}

// Option configures a Filter.
type Option func(*filterConfig)

// WithLemmatizer enables the technical-term exemption.
func WithLemmatizer(l Lemmatizer) Option {
	return func(c *filterConfig) { c.lemmatizer = l }
}

// WithMinWordLength sets the shortest word compared by the fuzzy stage.
func WithMinWordLength(n int) Option {
	return func(c *filterConfig) { c.minWordLength = n }
}

// WithCharacterMap replaces DefaultCharacterMap.
func WithCharacterMap(cm CharacterMap) Option {
	return func(c *filterConfig) { c.charMap = cm }
}

// WithLogger sets the logger used for stage hits.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *filterConfig) { c.log = log }
}

// WithClassifier enables toxicity escalation in Screen.
func WithClassifier(tc ToxicityClassifier) Option {
	return func(c *filterConfig) { c.classifier = tc }
}

// WithEscalation tunes when and how long Screen consults the classifier.
// Zero values keep the defaults.
func WithEscalation(minLength int, threshold float64, timeout time.Duration) Option {
	return func(c *filterConfig) {
		if minLength > 0 {
			c.minEscalationLength = minLength
		}
		if threshold > 0 {
			c.toxicityThreshold = threshold
		}
		if timeout > 0 {
			c.escalationTimeout = timeout
		}
	}
}

// NewFilter builds a Filter over vocab. A nil vocab yields a filter that only
// relies on the built-in patterns.
func NewFilter(vocab *Vocabulary, opts ...Option) *Filter {
	cfg := filterConfig{
		charMap:             DefaultCharacterMap,
		minWordLength:       DefaultMinWordLength,
		toxicityThreshold:   DefaultToxicityThreshold,
		minEscalationLength: DefaultMinEscalationLength,
		escalationTimeout:   DefaultEscalationTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = discardLogger()
	}
	if vocab == nil {
		vocab = NewVocabulary(nil, nil)
	}

	n := NewNormalizer(cfg.charMap)
	f := &Filter{
		vocab:               vocab,
		normalizer:          n,
		patterns:            NewPatternMatcher(),
		fuzzy:               NewFuzzyMatcher(cfg.minWordLength),
		exemptions:          NewExemptions(vocab.TechnicalTerms(), cfg.lemmatizer, n),
		normBadSet:          make(map[string]struct{}, len(vocab.BadWords())),
		classifier:          cfg.classifier,
		toxicityThreshold:   cfg.toxicityThreshold,
		minEscalationLength: cfg.minEscalationLength,
		escalationTimeout:   cfg.escalationTimeout,
		log:                 cfg.log.WithField("component", "filter"),
	}

	for _, w := range vocab.BadWords() {
		nw := n.Normalize(w)
		if nw == "" {
			continue
		}
		if _, dup := f.normBadSet[nw]; dup {
			continue
		}
		f.normBadSet[nw] = struct{}{}
		// Latin entries stay Latin after normalization and would sit one
		// edit away from plain English ("fuck" and "luck").
		if vocab.IsExactOnly(w) || !hasCyrillic(nw) {
			continue
		}
		f.fuzzyBad = append(f.fuzzyBad, nw)
	}

	return f
}

// NewFilterWithTerms builds a Filter with an in-memory bad-word list and no
// technical allowlist.
func NewFilterWithTerms(terms []string, opts ...Option) *Filter {
	return NewFilter(NewVocabulary(terms, nil), opts...)
}

// Vocabulary returns the word lists the filter was built from.
func (f *Filter) Vocabulary() *Vocabulary { return f.vocab }

// Normalize exposes the filter's normalizer.
func (f *Filter) Normalize(text string) string { return f.normalizer.Normalize(text) }

// IsProfanity reports whether text should be treated as abusive.
func (f *Filter) IsProfanity(text string) bool {
	return f.Check(text).Blocked
}

// Check runs the screening cascade and stops at the first stage that fires.
func (f *Filter) Check(text string) FilterResult {
	if reason, ok := f.exemptions.IsExempt(text); ok {
		return FilterResult{Reason: "exempt_" + reason}
	}

	// Tokens are normalized where they stand and glued afterwards, so an
	// English word next to Cyrillic text keeps its Latin spelling.
	spaced := f.normalizer.Normalize(text)
	stripped := collapseRuns(stripSpace(spaced))
	if utf8.RuneCountInString(stripped) < MinTextLength {
		return FilterResult{Reason: ReasonTooShort}
	}

	lower := strings.ToLower(text)
	for _, word := range strings.Fields(lower) {
		if f.vocab.ContainsBadWord(word) {
			return f.hit(StageExactWord, "", word)
		}
	}

	// Patterns see the text glued together, to undo "х у й", and with word
	// boundaries kept, for roots in the middle of a sentence.
	if rule, term, ok := f.patterns.Find(stripped); ok {
		return f.hit(StagePattern, rule, term)
	}
	if rule, term, ok := f.patterns.Find(spaced); ok {
		return f.hit(StagePattern, rule, term)
	}

	if rule, term, ok := f.patterns.FindSupplementary(lower); ok {
		return f.hit(StageRawPattern, rule, term)
	}

	for _, tok := range tokenize(spaced) {
		if _, ok := f.normBadSet[tok]; ok {
			return f.hit(StageNormalizedWord, "", tok)
		}
	}

	if m, ok := f.fuzzy.Match(spaced, f.fuzzyBad, f.exemptions.IsTechnical); ok {
		f.log.WithFields(logrus.Fields{
			"token":    m.Token,
			"bad_word": m.BadWord,
			"distance": m.Distance,
		}).Debug("[filter] fuzzy match")
		return f.hit(StageFuzzy, "", m.Token)
	}

	return FilterResult{}
}

func (f *Filter) hit(stage, rule, term string) FilterResult {
	f.log.WithFields(logrus.Fields{
		"stage": stage,
		"rule":  rule,
		"term":  term,
	}).Debug("[filter] flagged")
	return FilterResult{Blocked: true, Reason: stage, Rule: rule, Term: term}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
