package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commentwatch/moderator/internal/moderation"
	"github.com/commentwatch/moderator/internal/stepik"
)

func TestMain(m *testing.M) {
	log.SetLevel(log.PanicLevel)
	m.Run()
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []*bot.SendMessageParams
	fail  map[int64]bool
	times []time.Time
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.times = append(f.times, time.Now())
	if f.fail[p.ChatID.(int64)] {
		return nil, errors.New("forbidden: bot was blocked by the user")
	}
	f.sent = append(f.sent, p)
	return &models.Message{}, nil
}

type staticOwners []int64

func (o staticOwners) OwnerIDs(context.Context) ([]int64, error) { return o, nil }

func flagged(opinion *moderation.ToxicityOpinion) moderation.Verdict {
	return moderation.Verdict{
		FilterResult: moderation.FilterResult{Blocked: true, Reason: moderation.StagePattern, Rule: "base_roots", Term: "хуй"},
		Escalated:    opinion != nil,
		Toxicity:     opinion,
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		name      string
		verdict   moderation.Verdict
		lowEffort bool
		want      string
	}{
		{"flagged, not escalated", flagged(nil), false, SeverityRemove},
		{"flagged, toxic", flagged(&moderation.ToxicityOpinion{IsToxic: true, Confidence: 0.9}), false, SeverityRemove},
		{"flagged, judged clean", flagged(&moderation.ToxicityOpinion{IsToxic: false, Confidence: 0.3}), false, SeverityReview},
		{"flagged beats low effort", flagged(nil), true, SeverityRemove},
		{"low effort", moderation.Verdict{}, true, SeverityLow},
		{"clean", moderation.Verdict{}, false, SeverityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Severity(tt.verdict, tt.lowEffort))
		})
	}
}

func sampleReport() Report {
	return Report{
		CourseID:    42,
		CourseTitle: "Go <basics>",
		Comment:     stepik.Comment{ID: 9, Thread: "discussion", Time: "2024-05-01T10:00:05Z"},
		User:        stepik.User{ID: 5, FullName: "Ann & Bob", Reputation: 12, ReputationRank: 300, SolvedStepsCount: 77},
		ProfileURL:  "https://stepik.org/users/5/profile",
		CommentURL:  "https://stepik.org/lesson/1/step/2?discussion=9",
		Text:        "текст",
	}
}

func TestFormat(t *testing.T) {
	r := sampleReport()
	out := Format(r)

	assert.True(t, strings.HasPrefix(out, "Коммент 🟢"))
	assert.Contains(t, out, "<b>Course:</b> Go &lt;basics&gt;")
	assert.Contains(t, out, ">Ann &amp; Bob</a>")
	assert.Contains(t, out, "<b>Reputation:</b> 12")
	assert.Contains(t, out, "<b>Count steps:</b> 77")
	assert.Contains(t, out, "<b>Comment time:</b> 2024-05-01 10:00:05")
	assert.Contains(t, out, `<a href="https://stepik.org/lesson/1/step/2?discussion=9">`)
	assert.NotContains(t, out, "<b>Reason:</b>")
	assert.True(t, strings.HasSuffix(out, "<b>Comment:</b> текст"))
}

func TestFormat_Headers(t *testing.T) {
	r := sampleReport()

	r.Comment.Thread = "solutions"
	r.LowEffort = true
	assert.True(t, strings.HasPrefix(Format(r), "Решения 🟡"))

	r.Verdict = flagged(&moderation.ToxicityOpinion{IsToxic: true, Confidence: 0.91})
	r.Offenses = 3
	out := Format(r)
	assert.True(t, strings.HasPrefix(out, "🚨 Удалить! 🚨"))
	assert.Contains(t, out, "<b>Reason:</b> pattern (base_roots)")
	assert.Contains(t, out, "<b>Toxicity:</b> 0.91")
	assert.Contains(t, out, "<b>Flagged comments:</b> 3")

	r.Verdict = flagged(&moderation.ToxicityOpinion{IsToxic: false, Confidence: 0.2})
	assert.True(t, strings.HasPrefix(Format(r), "Проверить 🟠"))
}

func TestNotify_AllOwners(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, staticOwners{1, 2, 3}, 20*time.Millisecond, nil)

	require.NoError(t, n.Notify(context.Background(), sampleReport()))
	require.Len(t, sender.sent, 3)
	for i, p := range sender.sent {
		assert.Equal(t, int64(i+1), p.ChatID)
		assert.Equal(t, models.ParseModeHTML, p.ParseMode)
	}
	for i := 1; i < len(sender.times); i++ {
		assert.GreaterOrEqual(t, sender.times[i].Sub(sender.times[i-1]), 20*time.Millisecond)
	}
}

func TestNotify_FailureDoesNotStopOthers(t *testing.T) {
	sender := &fakeSender{fail: map[int64]bool{2: true}}
	n := New(sender, staticOwners{1, 2, 3}, 0, nil)

	err := n.Notify(context.Background(), sampleReport())
	assert.Error(t, err)
	assert.Len(t, sender.sent, 2)
}

func TestNotify_ContextCancelled(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, staticOwners{1, 2}, time.Hour, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := n.Notify(ctx, sampleReport())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sender.sent, 1)
}
