package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClassifier struct {
	mu       sync.Mutex
	calls    []string
	opinion  ToxicityOpinion
	err      error
	block    bool
	lastThr  float64
	deadline bool
}

func (c *fakeClassifier) Predict(ctx context.Context, text string, threshold float64) (ToxicityOpinion, error) {
	c.mu.Lock()
	c.calls = append(c.calls, text)
	c.lastThr = threshold
	_, c.deadline = ctx.Deadline()
	c.mu.Unlock()

	if c.block {
		<-ctx.Done()
		return ToxicityOpinion{}, ctx.Err()
	}
	return c.opinion, c.err
}

func (c *fakeClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

const longFlagged = "Это текст с хуём посередине"

func TestScreen_NotInvokedForCleanText(t *testing.T) {
	tc := &fakeClassifier{opinion: ToxicityOpinion{IsToxic: true, Confidence: 0.99}}
	f := newTestFilter(t, WithClassifier(tc))

	v := f.Screen(context.Background(), "Это нормальный текст без оскорблений")
	if v.Blocked {
		t.Fatal("clean text was flagged")
	}
	if tc.callCount() != 0 {
		t.Errorf("classifier called %d times for clean text, want 0", tc.callCount())
	}
	if v.Toxicity != nil || v.Escalated {
		t.Errorf("clean verdict carries toxicity data: %+v", v)
	}
}

func TestScreen_NotInvokedForShortText(t *testing.T) {
	tc := &fakeClassifier{opinion: ToxicityOpinion{IsToxic: true, Confidence: 0.99}}
	f := newTestFilter(t, WithClassifier(tc))

	v := f.Screen(context.Background(), "хуй")
	if !v.Flagged() {
		t.Fatal("short profanity was not flagged")
	}
	if tc.callCount() != 0 {
		t.Errorf("classifier called for text under %d runes", DefaultMinEscalationLength)
	}
}

func TestScreen_AttachesOpinion(t *testing.T) {
	tc := &fakeClassifier{opinion: ToxicityOpinion{IsToxic: true, Confidence: 0.93}}
	f := newTestFilter(t, WithClassifier(tc))

	v := f.Screen(context.Background(), longFlagged)
	if !v.Flagged() || !v.Escalated {
		t.Fatalf("verdict = %+v, want flagged and escalated", v)
	}
	if v.Toxicity == nil || !v.Toxicity.IsToxic || v.Toxicity.Confidence != 0.93 {
		t.Errorf("Toxicity = %+v, want the classifier's opinion", v.Toxicity)
	}
	if tc.calls[0] != "это текст с хуём посередине" {
		t.Errorf("classifier got %q, want lowercased text", tc.calls[0])
	}
	if tc.lastThr != DefaultToxicityThreshold {
		t.Errorf("threshold = %v, want %v", tc.lastThr, DefaultToxicityThreshold)
	}
	if !tc.deadline {
		t.Error("classifier context has no deadline")
	}
}

func TestScreen_CleanOpinionNeverUnflags(t *testing.T) {
	tc := &fakeClassifier{opinion: ToxicityOpinion{IsToxic: false, Confidence: 0.1}}
	f := newTestFilter(t, WithClassifier(tc))

	v := f.Screen(context.Background(), longFlagged)
	if !v.Flagged() {
		t.Fatal("a clean opinion flipped the verdict")
	}
	if v.Toxicity == nil || v.Toxicity.IsToxic {
		t.Errorf("Toxicity = %+v, want a non-toxic opinion", v.Toxicity)
	}
}

func TestScreen_ClassifierError(t *testing.T) {
	tc := &fakeClassifier{err: errors.New("model offline")}
	f := newTestFilter(t, WithClassifier(tc))

	v := f.Screen(context.Background(), longFlagged)
	if !v.Flagged() {
		t.Fatal("classifier error flipped the verdict")
	}
	if v.Toxicity != nil {
		t.Errorf("Toxicity = %+v, want nil on error", v.Toxicity)
	}
	if !v.Escalated {
		t.Error("Escalated = false, the classifier was consulted")
	}
}

func TestScreen_Timeout(t *testing.T) {
	tc := &fakeClassifier{block: true}
	f := newTestFilter(t, WithClassifier(tc), WithEscalation(0, 0, 20*time.Millisecond))

	start := time.Now()
	v := f.Screen(context.Background(), longFlagged)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Screen took %v, the escalation timeout was not applied", elapsed)
	}
	if !v.Flagged() || v.Toxicity != nil {
		t.Errorf("verdict = %+v, want flagged without opinion", v)
	}
}

func TestScreen_NoClassifier(t *testing.T) {
	f := newTestFilter(t)

	v := f.Screen(context.Background(), longFlagged)
	if !v.Flagged() || v.Escalated || v.Toxicity != nil {
		t.Errorf("verdict = %+v, want flagged and not escalated", v)
	}
}

func TestScreen_MatchesCheck(t *testing.T) {
	f := newTestFilter(t, WithClassifier(&fakeClassifier{}))

	for _, text := range []string{"", "12345", "хуй", "хороший", longFlagged, "мразъ"} {
		if got, want := f.Screen(context.Background(), text).Blocked, f.IsProfanity(text); got != want {
			t.Errorf("Screen(%q).Blocked = %v, IsProfanity = %v", text, got, want)
		}
	}
}
