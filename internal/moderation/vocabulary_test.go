package moderation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewVocabulary_CleansEntries(t *testing.T) {
	v := NewVocabulary([]string{"", "  ", "Мразь ", "мразь", "valid"}, []string{" Batch"})

	if got := len(v.BadWords()); got != 2 {
		t.Fatalf("BadWords() has %d entries, want 2: %v", got, v.BadWords())
	}
	if !v.ContainsBadWord("МРАЗЬ") {
		t.Error("ContainsBadWord must be case-insensitive")
	}
	if !v.IsTechnicalTerm("batch") {
		t.Error("IsTechnicalTerm(batch) = false, want true")
	}
	if v.ContainsBadWord("") {
		t.Error("empty word must never be a bad word")
	}
}

func TestLoadVocabulary(t *testing.T) {
	v := LoadVocabulary("testdata/badwords.json", "testdata/technical_words.json", nil)

	if len(v.BadWords()) == 0 {
		t.Fatal("expected bad words from testdata")
	}
	if !v.ContainsBadWord("мразь") {
		t.Error("ContainsBadWord(мразь) = false, want true")
	}
	if !v.IsTechnicalTerm("функция") {
		t.Error("IsTechnicalTerm(функция) = false, want true")
	}
}

func TestLoadVocabulary_MissingFile(t *testing.T) {
	dir := t.TempDir()
	v := LoadVocabulary(filepath.Join(dir, "nope.json"), filepath.Join(dir, "nope2.json"), nil)

	if len(v.BadWords()) != 0 || len(v.TechnicalTerms()) != 0 {
		t.Errorf("missing files must yield empty lists, got %d/%d", len(v.BadWords()), len(v.TechnicalTerms()))
	}
}

func TestLoadVocabulary_Malformed(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	tech := filepath.Join(dir, "tech.json")
	if err := os.WriteFile(bad, []byte(`{"not": "an array"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tech, []byte(`["метод"]`), 0o644); err != nil {
		t.Fatal(err)
	}

	v := LoadVocabulary(bad, tech, nil)
	if len(v.BadWords()) != 0 {
		t.Errorf("malformed file must yield an empty list, got %v", v.BadWords())
	}
	if !v.IsTechnicalTerm("метод") {
		t.Error("a good technical file must still load next to a malformed bad-word file")
	}
}

func TestNewVocabulary_ExactOnlyPrefix(t *testing.T) {
	v := NewVocabulary([]string{"=Дебил", "мудило", "= "}, nil)

	if !v.ContainsBadWord("дебил") {
		t.Error("exact-only entry must stay in the bad list without its prefix")
	}
	if v.ContainsBadWord("=дебил") {
		t.Error("prefix must not be part of the stored word")
	}
	if !v.IsExactOnly("ДЕБИЛ") {
		t.Error("IsExactOnly(ДЕБИЛ) = false, want true")
	}
	if v.IsExactOnly("мудило") {
		t.Error("IsExactOnly(мудило) = true, want false")
	}
	if got := len(v.BadWords()); got != 2 {
		t.Errorf("BadWords() has %d entries, want 2: %v", got, v.BadWords())
	}
}
