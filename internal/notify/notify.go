// Package notify formats screened comments and delivers them to the bot
// owners over Telegram.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/commentwatch/moderator/internal/metrics"
	"github.com/commentwatch/moderator/internal/moderation"
	"github.com/commentwatch/moderator/internal/stepik"
)

// Severity bands shown to moderators.
const (
	SeverityRemove = "remove"
	SeverityReview = "review"
	SeverityLow    = "low"
	SeverityNormal = "normal"
)

// Severity bands a verdict. A flagged comment is marked for removal unless
// the classifier was consulted and judged it clean.
func Severity(v moderation.Verdict, lowEffort bool) string {
	switch {
	case v.Flagged() && (v.Toxicity == nil || v.Toxicity.IsToxic):
		return SeverityRemove
	case v.Flagged():
		return SeverityReview
	case lowEffort:
		return SeverityLow
	default:
		return SeverityNormal
	}
}

// Report is everything a notification shows about one comment.
type Report struct {
	CourseID    int
	CourseTitle string
	Comment     stepik.Comment
	User        stepik.User
	ProfileURL  string
	CommentURL  string
	// Text is the comment body, already escaped for Telegram HTML.
	Text      string
	Verdict   moderation.Verdict
	LowEffort bool
	// Offenses is the author's flagged-comment count including this one.
	Offenses int
}

// Severity bands the report.
func (r Report) Severity() string {
	return Severity(r.Verdict, r.LowEffort)
}

func header(r Report) string {
	kind := "Коммент"
	if r.Comment.Thread == "solutions" {
		kind = "Решения"
	}
	switch r.Severity() {
	case SeverityRemove:
		return "🚨 Удалить! 🚨"
	case SeverityReview:
		return "Проверить 🟠"
	case SeverityLow:
		return kind + " 🟡"
	default:
		return kind + " 🟢"
	}
}

// Format renders a report as Telegram HTML.
func Format(r Report) string {
	var b strings.Builder
	b.WriteString(header(r))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "<b>Course:</b> %s\n", html.EscapeString(r.CourseTitle))
	fmt.Fprintf(&b, "🧑‍🎓 <a href=\"%s\">%s</a>\n", r.ProfileURL, html.EscapeString(r.User.FullName))
	fmt.Fprintf(&b, "<b>Reputation:</b> %d\n", r.User.Reputation)
	fmt.Fprintf(&b, "<b>Reputation Rank:</b> %d\n", r.User.ReputationRank)
	fmt.Fprintf(&b, "<b>Count steps:</b> %d\n", r.User.SolvedStepsCount)
	fmt.Fprintf(&b, "<b>Course ID:</b> %d\n", r.CourseID)
	if ts, err := r.Comment.Timestamp(); err == nil {
		fmt.Fprintf(&b, "<b>Comment time:</b> %s\n", ts.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "<b>Comment ID:</b> %d\n", r.Comment.ID)

	if r.Verdict.Flagged() {
		fmt.Fprintf(&b, "<b>Reason:</b> %s", r.Verdict.Reason)
		if r.Verdict.Rule != "" {
			fmt.Fprintf(&b, " (%s)", r.Verdict.Rule)
		}
		b.WriteString("\n")
		if t := r.Verdict.Toxicity; t != nil {
			fmt.Fprintf(&b, "<b>Toxicity:</b> %.2f\n", t.Confidence)
		}
		if r.Offenses > 1 {
			fmt.Fprintf(&b, "<b>Flagged comments:</b> %d\n", r.Offenses)
		}
	}

	fmt.Fprintf(&b, "👉 <a href=\"%s\">Link to Comment</a>\n\n", r.CommentURL)
	fmt.Fprintf(&b, "<b>Comment:</b> %s", r.Text)
	return b.String()
}

// Sender is the part of *bot.Bot the notifier uses.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Owners lists the chats to notify.
type Owners interface {
	OwnerIDs(ctx context.Context) ([]int64, error)
}

// Notifier sends reports to every owner, pausing between messages to stay
// under Telegram's flood limits.
type Notifier struct {
	sender Sender
	owners Owners
	gap    time.Duration
	log    logrus.FieldLogger
}

// New creates a Notifier.
func New(sender Sender, owners Owners, gap time.Duration, log logrus.FieldLogger) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{
		sender: sender,
		owners: owners,
		gap:    gap,
		log:    log.WithField("component", "notify"),
	}
}

// Notify delivers r to every owner. A failed delivery to one owner does not
// stop delivery to the others; the last error is returned.
func (n *Notifier) Notify(ctx context.Context, r Report) error {
	ids, err := n.owners.OwnerIDs(ctx)
	if err != nil {
		return fmt.Errorf("notify: owners: %w", err)
	}

	text := Format(r)
	var lastErr error
	for i, id := range ids {
		if i > 0 && n.gap > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.gap):
			}
		}

		_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    id,
			Text:      text,
			ParseMode: models.ParseModeHTML,
		})
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			n.log.WithError(err).Warnf("[notify] send to %d failed", id)
			lastErr = err
			continue
		}
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}

	if r.Severity() == SeverityRemove {
		n.log.WithFields(logrus.Fields{
			"comment_id": r.Comment.ID,
			"reason":     r.Verdict.Reason,
			"term":       r.Verdict.Term,
		}).Warn("[notify] comment marked for removal")
	}
	return lastErr
}
