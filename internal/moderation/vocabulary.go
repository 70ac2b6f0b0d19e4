package moderation

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ExactOnlyPrefix marks a bad word that is matched as written and never
// fuzzily, because its one-edit neighbours are ordinary words ("=дебил"
// would otherwise flag "дебит").
const ExactOnlyPrefix = "="

// Vocabulary holds the profanity list and the technical-term allowlist.
// It is read-only after construction; a reload builds a new Vocabulary.
type Vocabulary struct {
	bad       []string
	badSet    map[string]struct{}
	exactOnly map[string]struct{}
	technical []string
	techSet   map[string]struct{}
}

// NewVocabulary builds a Vocabulary from in-memory lists. Entries are
// trimmed and lowercased; empty entries and duplicates are dropped. Bad words
// may carry ExactOnlyPrefix.
func NewVocabulary(bad, technical []string) *Vocabulary {
	v := &Vocabulary{exactOnly: make(map[string]struct{})}
	plain := make([]string, 0, len(bad))
	for _, w := range bad {
		w = strings.TrimSpace(w)
		if rest, ok := strings.CutPrefix(w, ExactOnlyPrefix); ok {
			w = strings.ToLower(strings.TrimSpace(rest))
			if w != "" {
				v.exactOnly[w] = struct{}{}
			}
		}
		plain = append(plain, w)
	}
	v.bad, v.badSet = cleanWords(plain)
	v.technical, v.techSet = cleanWords(technical)
	return v
}

// LoadVocabulary reads two JSON arrays of strings. A missing or malformed file
// is logged and yields an empty list; the filter keeps working with whatever
// could be loaded.
func LoadVocabulary(badPath, technicalPath string, log logrus.FieldLogger) *Vocabulary {
	if log == nil {
		log = discardLogger()
	}
	bad := loadWordList(badPath, log)
	technical := loadWordList(technicalPath, log)

	v := NewVocabulary(bad, technical)
	log.WithFields(logrus.Fields{
		"bad":       len(v.bad),
		"technical": len(v.technical),
	}).Info("[vocabulary] loaded word lists")
	return v
}

func loadWordList(path string, log logrus.FieldLogger) []string {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("[vocabulary] word list unavailable, using empty list")
		return nil
	}

	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		log.WithError(err).WithField("path", path).Warn("[vocabulary] malformed word list, using empty list")
		return nil
	}
	return words
}

func cleanWords(words []string) ([]string, map[string]struct{}) {
	set := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := set[w]; dup {
			continue
		}
		set[w] = struct{}{}
		out = append(out, w)
	}
	return out, set
}

// ContainsBadWord reports whether word, lowercased, is on the profanity list.
func (v *Vocabulary) ContainsBadWord(word string) bool {
	_, ok := v.badSet[strings.ToLower(word)]
	return ok
}

// IsTechnicalTerm reports whether form is on the technical allowlist.
func (v *Vocabulary) IsTechnicalTerm(form string) bool {
	_, ok := v.techSet[strings.ToLower(form)]
	return ok
}

// IsExactOnly reports whether word was listed with ExactOnlyPrefix.
func (v *Vocabulary) IsExactOnly(word string) bool {
	_, ok := v.exactOnly[strings.ToLower(word)]
	return ok
}

// BadWords returns the profanity list. Callers must not modify it.
func (v *Vocabulary) BadWords() []string { return v.bad }

// TechnicalTerms returns the technical allowlist. Callers must not modify it.
func (v *Vocabulary) TechnicalTerms() []string { return v.technical }
