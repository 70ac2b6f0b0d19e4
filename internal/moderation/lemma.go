package moderation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
)

// Lemmatizer reduces a word to its normal form.
type Lemmatizer interface {
	Lemmatize(word string) (string, error)
}

// SnowballLemmatizer approximates a normal form with Snowball stemming. Words
// containing Cyrillic letters go through the Russian stemmer, everything else
// through the English one.
type SnowballLemmatizer struct{}

// Lemmatize implements Lemmatizer.
func (SnowballLemmatizer) Lemmatize(word string) (string, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return "", nil
	}

	lang := "english"
	for _, r := range word {
		if unicode.Is(unicode.Cyrillic, r) {
			lang = "russian"
			break
		}
	}

	stem, err := snowball.Stem(word, lang, true)
	if err != nil {
		return "", fmt.Errorf("lemma: stem %q: %w", word, err)
	}
	return stem, nil
}

// StaticLemmatizer looks words up in a fixed table of irregular forms and
// falls back to Next (or the word itself) when a form is not listed.
type StaticLemmatizer struct {
	Forms map[string]string
	Next  Lemmatizer
}

// Lemmatize implements Lemmatizer.
func (s StaticLemmatizer) Lemmatize(word string) (string, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if lemma, ok := s.Forms[word]; ok {
		return lemma, nil
	}
	if s.Next != nil {
		return s.Next.Lemmatize(word)
	}
	return word, nil
}
