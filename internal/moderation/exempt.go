package moderation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudflare/ahocorasick"
)

// Exemption reasons reported by IsExempt.
const (
	ExemptCode      = "code"
	ExemptRepeated  = "repeated_char"
	ExemptNumeric   = "numeric"
	ExemptTechnical = "technical"
)

// codeMarkers are substrings that only show up in pasted source code. Bare
// braces are left out because "}{" spells a letter.
var codeMarkers = []string{
	"=",
	"()",
	"{}",
	"[]",
	"){",
	"};",
	"def ",
	"import ",
	"return ",
	"print(",
	"console.",
	"#include",
	"=>",
	"->",
	"::",
	"</",
}

// minContentWord is the shortest token treated as a content word by the
// technical-term rule.
const minContentWord = 3

// Exemptions decides whether text bypasses screening entirely.
type Exemptions struct {
	code       *ahocorasick.Matcher
	lemmatizer Lemmatizer
	lemmas     map[string]struct{}
}

// NewExemptions indexes technical terms by their lemma. Each term is indexed
// both as written and in normalized form, so that tokens coming out of the
// normalizer also resolve. lem may be nil.
func NewExemptions(technical []string, lem Lemmatizer, n *Normalizer) *Exemptions {
	e := &Exemptions{
		code:       ahocorasick.NewStringMatcher(codeMarkers),
		lemmatizer: lem,
		lemmas:     make(map[string]struct{}, len(technical)*2),
	}

	for _, term := range technical {
		forms := []string{term}
		if n != nil {
			forms = append(forms, n.Normalize(term))
		}
		for _, form := range forms {
			if lemma, ok := e.lemma(form); ok {
				e.lemmas[lemma] = struct{}{}
			}
		}
	}
	return e
}

func (e *Exemptions) lemma(word string) (string, bool) {
	if word == "" {
		return "", false
	}
	if e.lemmatizer == nil {
		return word, true
	}
	lemma, err := e.lemmatizer.Lemmatize(word)
	if err != nil || lemma == "" {
		return "", false
	}
	return lemma, true
}

// IsTechnical reports whether word reduces to an allowlisted technical term.
// Without a lemmatizer the word is looked up as is.
func (e *Exemptions) IsTechnical(word string) bool {
	lemma, ok := e.lemma(strings.ToLower(word))
	if !ok {
		return false
	}
	_, hit := e.lemmas[lemma]
	return hit
}

// IsExempt reports whether raw should skip every profanity check, and why.
// Rules apply in order: code markers, a single repeated character, digits
// only, and (with a lemmatizer) all content words being technical terms.
func (e *Exemptions) IsExempt(raw string) (string, bool) {
	lower := strings.ToLower(raw)
	if len(e.code.Match([]byte(lower))) > 0 {
		return ExemptCode, true
	}

	trimmed := strings.TrimSpace(lower)
	if isRepeatedRune(trimmed) {
		return ExemptRepeated, true
	}
	if isDigits(trimmed) {
		return ExemptNumeric, true
	}

	if e.lemmatizer != nil && e.allTechnical(trimmed) {
		return ExemptTechnical, true
	}
	return "", false
}

func (e *Exemptions) allTechnical(text string) bool {
	var words int
	for _, tok := range tokenize(text) {
		if utf8.RuneCountInString(tok) < minContentWord || !isLetters(tok) {
			continue
		}
		words++
		lemma, err := e.lemmatizer.Lemmatize(tok)
		if err != nil {
			return false
		}
		if _, ok := e.lemmas[lemma]; !ok {
			return false
		}
	}
	return words > 0
}

func isRepeatedRune(s string) bool {
	if utf8.RuneCountInString(s) < 2 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
