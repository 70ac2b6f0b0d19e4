package moderation

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// CharacterMapping lists the look-alikes that collapse onto one canonical rune.
// Variants are lowercase; multi-rune variants ("|_|") are rewritten before the
// per-rune pass.
type CharacterMapping struct {
	Canonical rune
	Variants  []string
}

// CharacterMap is ordered: when a variant is listed under two canonical
// runes, the earlier entry wins. A canonical rune must never appear as a
// variant, otherwise normalization stops being idempotent.
type CharacterMap []CharacterMapping

// DefaultCharacterMap folds Latin, Greek and symbol look-alikes onto the
// Cyrillic alphabet.
var DefaultCharacterMap = CharacterMap{
	{'а', []string{"a", "@", "α", "ɑ", "á", "à", "â", "ä", "å"}},
	{'б', []string{"6", "b", "δ"}},
	{'в', []string{"v", "ʙ", "ν"}},
	{'г', []string{"g", "ɡ", "ґ", "ѓ"}},
	{'д', []string{"d", "ԁ"}},
	{'е', []string{"e", "ё", "є", "ε", "é", "è", "ê", "ë", "ҽ"}},
	{'ж', []string{">|<", "}|{"}},
	{'з', []string{"3", "z", "ʒ", "ȝ", "ᴢ"}},
	{'и', []string{"i", "1", "!", "і", "ї", "ı", "ι", "ɪ", "í", "ì"}},
	{'й', []string{"j", "ĭ"}},
	{'к', []string{"k", "κ", "ĸ", "ќ"}},
	{'л', []string{"l", "ʌ", "λ", "ɭ"}},
	{'м', []string{"m", "ʍ"}},
	{'н', []string{"n", "η"}},
	{'о', []string{"o", "0", "ο", "ө", "ọ", "ó", "ò", "ö", "σ"}},
	{'п', []string{"p", "π"}},
	{'р', []string{"r", "ρ", "ɾ"}},
	{'с', []string{"c", "s", "$", "ϲ", "ѕ", "ς", "¢"}},
	{'т', []string{"t", "7", "τ"}},
	{'у', []string{"|_|", "(_)", "y", "u", "ү", "ᥙ", "ў", "γ"}},
	{'ф', []string{"f", "φ", "ɸ"}},
	{'х', []string{"}{", ")(", "x", "h", "χ", "һ", "ҳ", "×"}},
	{'ч', []string{"4"}},
	{'ш', []string{"w", "ɯ"}},
	{'я', []string{"9", "ʁ", "ᴙ"}},
}

// Normalizer maps look-alike characters to a canonical alphabet and collapses
// repeated characters. It is immutable and safe for concurrent use.
type Normalizer struct {
	multi *strings.Replacer
	runes map[rune]rune
}

// NewNormalizer compiles cm into lookup tables.
func NewNormalizer(cm CharacterMap) *Normalizer {
	n := &Normalizer{runes: make(map[rune]rune)}

	type pair struct {
		variant   string
		canonical string
		order     int
	}
	var multi []pair

	for i, entry := range cm {
		for _, v := range entry.Variants {
			if utf8.RuneCountInString(v) == 1 {
				r, _ := utf8.DecodeRuneInString(v)
				if _, taken := n.runes[r]; !taken {
					n.runes[r] = entry.Canonical
				}
				continue
			}
			multi = append(multi, pair{variant: v, canonical: string(entry.Canonical), order: i})
		}
	}

	if len(multi) > 0 {
		// Longest first so "}|{" is not eaten by a shorter variant.
		sort.SliceStable(multi, func(i, j int) bool {
			li, lj := utf8.RuneCountInString(multi[i].variant), utf8.RuneCountInString(multi[j].variant)
			if li != lj {
				return li > lj
			}
			return multi[i].order < multi[j].order
		})
		oldnew := make([]string, 0, len(multi)*2)
		for _, p := range multi {
			oldnew = append(oldnew, p.variant, p.canonical)
		}
		n.multi = strings.NewReplacer(oldnew...)
	}

	return n
}

// Normalize returns the canonical form of text: compatibility-folded,
// lowercased, stripped of invisible format characters and combining marks,
// substitution-mapped and run-length collapsed.
//
// Substitution is applied per whitespace-separated token, and only to tokens
// that are not plain Latin words: a token mixing scripts, or carrying digits
// or symbols inside it, is treated as obfuscated. Plain English stays Latin.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ToLower(norm.NFKC.String(text))
	text = strings.Map(func(r rune) rune {
		if unicode.In(r, unicode.Cf, unicode.Mn) {
			return -1
		}
		return r
	}, text)

	// Collapse before the multi-rune rewrite as well, otherwise ">||<"
	// would only become a variant after the first pass.
	text = collapseRuns(text)

	var b strings.Builder
	b.Grow(len(text))
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				b.WriteString(n.mapToken(text[start:i]))
				start = -1
			}
			b.WriteRune(r)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		b.WriteString(n.mapToken(text[start:]))
	}

	return collapseRuns(b.String())
}

// mapToken rewrites the look-alikes in tok unless it is a plain Latin word.
func (n *Normalizer) mapToken(tok string) string {
	if isLatinWord(tok) {
		return tok
	}
	if n.multi != nil {
		tok = n.multi.Replace(tok)
	}
	return strings.Map(func(r rune) rune {
		if c, ok := n.runes[r]; ok {
			return c
		}
		return r
	}, tok)
}

// edgePunct is sentence punctuation that may surround a plain word.
const edgePunct = `.,;:!?"'()[]{}«»„“”‘’…-–—`

// isLatinWord reports whether tok, once surrounding punctuation is trimmed,
// consists of Latin letters only, with apostrophes and hyphens allowed inside.
func isLatinWord(tok string) bool {
	core := strings.Trim(tok, edgePunct)
	if core == "" {
		return false
	}
	for _, r := range core {
		switch {
		case unicode.Is(unicode.Latin, r):
		case r == '\'' || r == '’' || r == '-':
		default:
			return false
		}
	}
	return true
}

// collapseRuns replaces every run of identical consecutive runes with a
// single occurrence. Go's regexp package has no backreferences, so this is a
// linear scan.
func collapseRuns(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	prev := rune(-1)
	for _, r := range s {
		if r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// hasCyrillic reports whether s contains a Cyrillic letter.
func hasCyrillic(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.Is(unicode.Cyrillic, r)
	}) >= 0
}

// isWordRune reports whether r belongs to a word token: letters, digits and
// underscore, in any script.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// tokenize splits s into maximal runs of word runes.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	})
}

// stripSpace removes every whitespace rune from s.
func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
