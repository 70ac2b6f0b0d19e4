// Package poller periodically pulls new comments from the watched courses,
// screens them and hands the results to the notifier.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/commentwatch/moderator/internal/metrics"
	"github.com/commentwatch/moderator/internal/moderation"
	"github.com/commentwatch/moderator/internal/notify"
	"github.com/commentwatch/moderator/internal/stepik"
	"github.com/commentwatch/moderator/internal/textutil"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultPageSize = 100
)

// Source is the course platform. *stepik.Client implements it.
type Source interface {
	CourseTitle(ctx context.Context, courseID int) (string, error)
	Comments(ctx context.Context, courseID, limit int) ([]stepik.Comment, error)
	User(ctx context.Context, userID int) (stepik.User, error)
	CommentURL(ctx context.Context, commentID int) string
	ProfileURL(userID int) string
}

// State is the poller's persistent state. *storage.Store implements it.
type State interface {
	Courses(ctx context.Context) ([]int, error)
	LastCommentTime(ctx context.Context, courseID int, now time.Time) (time.Time, error)
	SetLastCommentTime(ctx context.Context, courseID int, t time.Time) error
	MarkSeen(ctx context.Context, commentID int) (bool, error)
	RecordOffense(ctx context.Context, userID int) (int, error)
}

// Screener screens comment text. *moderation.Screener implements it.
type Screener interface {
	Screen(ctx context.Context, text string) moderation.Verdict
}

// Notifier delivers a report. *notify.Notifier implements it.
type Notifier interface {
	Notify(ctx context.Context, r notify.Report) error
}

// Publisher announces flagged comments. *messaging.NATSClient implements it.
type Publisher interface {
	PublishFlagged(data []byte) error
}

// Config tunes the poller.
type Config struct {
	Interval time.Duration
	PageSize int
}

// Service is the background polling service.
type Service struct {
	src       Source
	state     State
	screener  Screener
	notifier  Notifier
	publisher Publisher // optional
	cfg       Config
	log       logrus.FieldLogger
	now       func() time.Time

	// mu keeps polling passes from overlapping when Poll is also triggered
	// by hand.
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a poller. publisher may be nil.
func NewService(src Source, state State, screener Screener, notifier Notifier, publisher Publisher, cfg Config, log logrus.FieldLogger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		src:       src,
		state:     state,
		screener:  screener,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		log:       log.WithField("component", "poller"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the polling loop in the background.
func (s *Service) Start() {
	go s.pollLoop()
	s.log.Infof("[poller] started, interval %s", s.cfg.Interval)
}

// Stop shuts the loop down. A pass in progress is cancelled.
func (s *Service) Stop() {
	s.cancel()
	s.log.Info("[poller] stopped")
}

func (s *Service) pollLoop() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.poll()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Service) poll() {
	n, err := s.Poll(s.ctx)
	if err != nil {
		s.log.WithError(err).Error("[poller] pass failed")
		return
	}
	if n > 0 {
		s.log.Infof("[poller] processed %d new comments", n)
	}
}

// Poll runs one pass over every watched course and returns the number of new
// comments processed. Failures on one course are logged and do not stop the
// others.
func (s *Service) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { metrics.PollDuration.Observe(time.Since(start).Seconds()) }()

	courses, err := s.state.Courses(ctx)
	if err != nil {
		return 0, fmt.Errorf("poller: courses: %w", err)
	}
	if len(courses) == 0 {
		s.log.Debug("[poller] no courses to watch")
		return 0, nil
	}

	total := 0
	for _, id := range courses {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := s.pollCourse(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("course_id", id).Warn("[poller] course skipped")
		}
		total += n
	}
	return total, nil
}

func (s *Service) pollCourse(ctx context.Context, courseID int) (int, error) {
	cursor, err := s.state.LastCommentTime(ctx, courseID, s.now())
	if err != nil {
		return 0, fmt.Errorf("cursor: %w", err)
	}
	comments, err := s.src.Comments(ctx, courseID, s.cfg.PageSize)
	if err != nil {
		return 0, fmt.Errorf("comments: %w", err)
	}

	fresh, newest := newComments(comments, cursor)
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.state.SetLastCommentTime(ctx, courseID, newest); err != nil {
		return 0, fmt.Errorf("set cursor: %w", err)
	}
	metrics.CommentsPolled.Add(float64(len(fresh)))

	title, err := s.src.CourseTitle(ctx, courseID)
	if err != nil {
		s.log.WithError(err).Warnf("[poller] course %d title", courseID)
		title = fmt.Sprintf("#%d", courseID)
	}

	processed := 0
	for _, c := range fresh {
		if s.process(ctx, courseID, title, c) {
			processed++
		}
	}
	return processed, nil
}

// newComments returns the comments newer than cursor, oldest first, and the
// newest timestamp among them.
func newComments(comments []stepik.Comment, cursor time.Time) ([]stepik.Comment, time.Time) {
	newest := cursor
	var fresh []stepik.Comment
	// The API returns newest first.
	for i := len(comments) - 1; i >= 0; i-- {
		c := comments[i]
		ts, err := c.Timestamp()
		if err != nil || !ts.After(cursor) {
			continue
		}
		fresh = append(fresh, c)
		if ts.After(newest) {
			newest = ts
		}
	}
	return fresh, newest
}

func (s *Service) process(ctx context.Context, courseID int, title string, c stepik.Comment) bool {
	log := s.log.WithFields(logrus.Fields{"course_id": courseID, "comment_id": c.ID})

	first, err := s.state.MarkSeen(ctx, c.ID)
	if err != nil {
		log.WithError(err).Warn("[poller] seen mark failed, processing anyway")
	} else if !first {
		log.Debug("[poller] already notified")
		return false
	}

	user, err := s.src.User(ctx, c.User)
	if err != nil {
		log.WithError(err).Warn("[poller] user lookup failed")
		user = stepik.User{ID: c.User}
	}

	plain := textutil.PlainText(c.Text)
	verdict := s.screener.Screen(ctx, plain)

	report := notify.Report{
		CourseID:    courseID,
		CourseTitle: title,
		Comment:     c,
		User:        user,
		ProfileURL:  s.src.ProfileURL(c.User),
		CommentURL:  s.src.CommentURL(ctx, c.ID),
		Text:        textutil.CleanHTML(c.Text),
		Verdict:     verdict,
		LowEffort:   moderation.IsLowEffort(plain),
	}

	if verdict.Flagged() {
		if n, err := s.state.RecordOffense(ctx, c.User); err != nil {
			log.WithError(err).Warn("[poller] offense counter")
		} else {
			report.Offenses = n
		}
		s.publishFlagged(report, plain)
	}

	if err := s.notifier.Notify(ctx, report); err != nil {
		log.WithError(err).Warn("[poller] notify failed")
	}
	return true
}

func (s *Service) publishFlagged(r notify.Report, plain string) {
	if s.publisher == nil {
		return
	}
	ev := moderation.FlaggedEvent{
		EventID:   uuid.New().String(),
		CourseID:  r.CourseID,
		CommentID: r.Comment.ID,
		UserID:    r.Comment.User,
		Text:      plain,
		Reason:    r.Verdict.Reason,
		Rule:      r.Verdict.Rule,
		Toxicity:  r.Verdict.Toxicity,
		Severity:  r.Severity(),
		Ts:        s.now().Unix(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.WithError(err).Error("[poller] marshal flagged event")
		return
	}
	if err := s.publisher.PublishFlagged(data); err != nil {
		s.log.WithError(err).Warn("[poller] publish flagged event")
	}
}
