// Package bot implements the owner-only Telegram commands used to manage the
// watched courses and to try the filter by hand.
package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/commentwatch/moderator/internal/moderation"
	"github.com/commentwatch/moderator/internal/ratelimit"
	"github.com/commentwatch/moderator/internal/storage"
)

// Store is the state the commands manage. *storage.Store implements it.
type Store interface {
	AddCourse(ctx context.Context, courseID int) error
	RemoveCourse(ctx context.Context, courseID int) error
	Courses(ctx context.Context) ([]int, error)
	AddOwner(ctx context.Context, id int64, username string) error
	RemoveOwner(ctx context.Context, id int64) error
	IsOwner(ctx context.Context, id int64) (bool, error)
	Owners(ctx context.Context) ([]storage.Owner, error)
}

// Screener is the filter holder. *moderation.Screener implements it.
type Screener interface {
	Screen(ctx context.Context, text string) moderation.Verdict
	Reload() *moderation.Filter
}

// Poller runs a polling pass on demand.
type Poller interface {
	Poll(ctx context.Context) (int, error)
}

// Limiter throttles /check. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// TokenResetter drops the cached platform token.
type TokenResetter interface {
	ResetToken(ctx context.Context) error
}

const helpText = `<b>Commands</b>
/courses - watched courses
/addcourse &lt;id&gt; - watch a course
/delcourse &lt;id&gt; - stop watching a course
/owners - bot owners
/addowner &lt;tg_id&gt; [@name] - add an owner
/delowner &lt;tg_id&gt; - remove an owner
/check &lt;text&gt; - screen a text
/poll - poll comments now
/reload - reload word lists
/resettoken - drop the cached Stepik token`

const accessDenied = "⛔ Access denied"

// Handler answers owner commands.
type Handler struct {
	store    Store
	screener Screener
	poller   Poller
	tokens   TokenResetter
	limiter  Limiter
	log      logrus.FieldLogger
}

// New creates a Handler. poller and tokens may be nil.
func New(store Store, screener Screener, poller Poller, tokens TokenResetter, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		store:    store,
		screener: screener,
		poller:   poller,
		tokens:   tokens,
		log:      log.WithField("component", "bot"),
	}
}

// SetLimiter throttles /check per Telegram user.
func (h *Handler) SetLimiter(l Limiter) {
	h.limiter = l
}

// Register installs the handler on b.
func (h *Handler) Register(b *tgbot.Bot) {
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/", tgbot.MatchTypePrefix, h.OnMessage)
}

// OnMessage is the go-telegram/bot handler for command messages.
func (h *Handler) OnMessage(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message

	reply := h.Handle(ctx, msg.From.ID, msg.Text)
	if reply == "" {
		return
	}
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    msg.Chat.ID,
		Text:      reply,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		h.log.WithError(err).Warn("[bot] reply failed")
	}
}

// Handle runs a command for user and returns the HTML reply. An empty reply
// means nothing should be sent.
func (h *Handler) Handle(ctx context.Context, userID int64, text string) string {
	cmd, args := splitCommand(text)
	if cmd == "" {
		return ""
	}

	ok, err := h.store.IsOwner(ctx, userID)
	if err != nil {
		h.log.WithError(err).Error("[bot] owner check")
		return "Storage is unavailable, try again later"
	}
	if !ok {
		h.log.WithField("user_id", userID).Warnf("[bot] denied %s", cmd)
		return accessDenied
	}

	h.log.WithFields(logrus.Fields{"user_id": userID, "cmd": cmd}).Info("[bot] command")

	switch cmd {
	case "/start", "/help":
		return helpText
	case "/courses":
		return h.courses(ctx)
	case "/addcourse":
		return h.addCourse(ctx, args)
	case "/delcourse":
		return h.delCourse(ctx, args)
	case "/owners":
		return h.owners(ctx)
	case "/addowner":
		return h.addOwner(ctx, args)
	case "/delowner":
		return h.delOwner(ctx, userID, args)
	case "/check":
		if h.limiter != nil {
			if ok, _ := h.limiter.Allow(ctx, strconv.FormatInt(userID, 10), ratelimit.RuleBotCheck); !ok {
				return "Too many checks, try again in a minute"
			}
		}
		return h.check(ctx, commandText(text))
	case "/poll":
		return h.poll(ctx)
	case "/reload":
		h.screener.Reload()
		return "Word lists reloaded"
	case "/resettoken":
		return h.resetToken(ctx)
	default:
		return "Unknown command, see /help"
	}
}

// splitCommand splits "/cmd@botname a b" into "/cmd" and [a b].
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}

// commandText returns what follows the command word, line breaks kept, so
// /check sees a pasted comment as it was written.
func commandText(text string) string {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i:])
}

func parseCourseID(args []string) (int, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.Atoi(args[0])
	return id, err == nil && id > 0
}

func (h *Handler) courses(ctx context.Context) string {
	ids, err := h.store.Courses(ctx)
	if err != nil {
		h.log.WithError(err).Error("[bot] list courses")
		return "Could not load courses"
	}
	if len(ids) == 0 {
		return "No courses are watched yet, add one with /addcourse &lt;id&gt;"
	}
	var b strings.Builder
	b.WriteString("<b>Watched courses:</b>\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "• <a href=\"https://stepik.org/course/%d\">%d</a>\n", id, id)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) addCourse(ctx context.Context, args []string) string {
	id, ok := parseCourseID(args)
	if !ok {
		return "Usage: /addcourse &lt;course_id&gt;"
	}
	if err := h.store.AddCourse(ctx, id); err != nil {
		h.log.WithError(err).Error("[bot] add course")
		return "Could not add the course"
	}
	return fmt.Sprintf("Course %d is now watched", id)
}

func (h *Handler) delCourse(ctx context.Context, args []string) string {
	id, ok := parseCourseID(args)
	if !ok {
		return "Usage: /delcourse &lt;course_id&gt;"
	}
	if err := h.store.RemoveCourse(ctx, id); err != nil {
		h.log.WithError(err).Error("[bot] remove course")
		return "Could not remove the course"
	}
	return fmt.Sprintf("Course %d is no longer watched", id)
}

func (h *Handler) owners(ctx context.Context) string {
	owners, err := h.store.Owners(ctx)
	if err != nil {
		h.log.WithError(err).Error("[bot] list owners")
		return "Could not load owners"
	}
	var b strings.Builder
	b.WriteString("<b>Owners:</b>\n")
	for _, o := range owners {
		if o.Link != "" {
			fmt.Fprintf(&b, "• %d <a href=\"%s\">%s</a>\n", o.ID, o.Link, html.EscapeString(o.Username))
		} else {
			fmt.Fprintf(&b, "• %d\n", o.ID)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) addOwner(ctx context.Context, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "Usage: /addowner &lt;tg_id&gt; [@name]"
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return "Usage: /addowner &lt;tg_id&gt; [@name]"
	}
	name := ""
	if len(args) == 2 {
		name = args[1]
	}
	if err := h.store.AddOwner(ctx, id, name); err != nil {
		h.log.WithError(err).Error("[bot] add owner")
		return "Could not add the owner"
	}
	return fmt.Sprintf("Owner %d added", id)
}

func (h *Handler) delOwner(ctx context.Context, self int64, args []string) string {
	if len(args) != 1 {
		return "Usage: /delowner &lt;tg_id&gt;"
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Usage: /delowner &lt;tg_id&gt;"
	}
	if id == self {
		return "You cannot remove yourself"
	}
	if err := h.store.RemoveOwner(ctx, id); err != nil {
		h.log.WithError(err).Error("[bot] remove owner")
		return "Could not remove the owner"
	}
	return fmt.Sprintf("Owner %d removed", id)
}

func (h *Handler) check(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return "Usage: /check &lt;text&gt;"
	}
	v := h.screener.Screen(ctx, text)

	var b strings.Builder
	if v.Flagged() {
		b.WriteString("🚨 <b>Flagged</b>\n")
		fmt.Fprintf(&b, "<b>Stage:</b> %s\n", v.Reason)
		if v.Rule != "" {
			fmt.Fprintf(&b, "<b>Rule:</b> %s\n", v.Rule)
		}
		fmt.Fprintf(&b, "<b>Term:</b> %s", html.EscapeString(v.Term))
	} else {
		b.WriteString("✅ <b>Clean</b>")
		if v.Reason != "" {
			fmt.Fprintf(&b, "\n<b>Note:</b> %s", v.Reason)
		}
	}
	if v.Toxicity != nil {
		fmt.Fprintf(&b, "\n<b>Toxicity:</b> %.2f (toxic: %t)", v.Toxicity.Confidence, v.Toxicity.IsToxic)
	} else if v.Escalated {
		b.WriteString("\n<b>Toxicity:</b> classifier unavailable")
	}
	return b.String()
}

func (h *Handler) poll(ctx context.Context) string {
	if h.poller == nil {
		return "Polling is not running"
	}
	n, err := h.poller.Poll(ctx)
	if err != nil {
		h.log.WithError(err).Error("[bot] manual poll")
		return "Polling failed"
	}
	return fmt.Sprintf("Processed %d new comments", n)
}

func (h *Handler) resetToken(ctx context.Context) string {
	if h.tokens == nil {
		return "Stepik is not configured"
	}
	if err := h.tokens.ResetToken(ctx); err != nil {
		h.log.WithError(err).Error("[bot] reset token")
		return "Could not reset the token"
	}
	return "Stepik token cleared"
}
