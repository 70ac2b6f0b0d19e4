package moderation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeWords(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScreener_Reload(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	tech := filepath.Join(dir, "tech.json")
	writeWords(t, bad, `["мразь"]`)
	writeWords(t, tech, `[]`)

	s := NewScreener(bad, tech, nil)
	before := s.Filter()
	if !s.Check("мразь").Blocked {
		t.Fatal("мразь not flagged after initial load")
	}

	writeWords(t, bad, `["подлец"]`)
	after := s.Reload()

	if after == before {
		t.Fatal("Reload did not swap the filter")
	}
	if s.Check("мразь").Blocked {
		t.Error("мразь still flagged after it was removed from the list")
	}
	if !s.Check("подлец").Blocked {
		t.Error("подлец not flagged after reload")
	}
	// The old filter keeps answering with its own vocabulary.
	if !before.IsProfanity("мразь") {
		t.Error("previous filter changed after reload")
	}
}

func TestScreener_MissingFiles(t *testing.T) {
	s := NewScreener(filepath.Join(t.TempDir(), "missing.json"), "", nil)

	if !s.Check("хуй").Blocked {
		t.Error("patterns must keep working with an empty vocabulary")
	}
}

func TestStaticScreener(t *testing.T) {
	tc := &fakeClassifier{opinion: ToxicityOpinion{IsToxic: true, Confidence: 0.9}}
	s := NewStaticScreener(NewVocabulary([]string{"мразь"}, nil), nil, WithClassifier(tc))

	v := s.Screen(context.Background(), longFlagged)
	if !v.Flagged() || v.Toxicity == nil {
		t.Fatalf("verdict = %+v, want flagged with opinion", v)
	}

	s.Reload()
	if !s.Check("мразь").Blocked {
		t.Error("static vocabulary lost on reload")
	}
}

func TestStageLabel(t *testing.T) {
	if got := stageLabel(FilterResult{}); got != "clean" {
		t.Errorf("stageLabel(zero) = %q, want clean", got)
	}
	if got := stageLabel(FilterResult{Blocked: true, Reason: StageFuzzy}); got != StageFuzzy {
		t.Errorf("stageLabel(fuzzy) = %q, want %q", got, StageFuzzy)
	}
}
