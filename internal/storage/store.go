// Package storage keeps the bot's state in Redis:
//
//	bot:stepik_ids               set of watched course IDs
//	bot:owners                   set of owner Telegram IDs
//	bot:owner:<tg_id>            hash {tg_id, tg_username, tg_link}
//	<course_id>:time_last_comment newest comment time seen for a course
//	seen:comment:<id>            marks a notified comment, TTL SeenTTL
//	offenses:<stepik_user_id>    flagged comment counter, TTL OffenseTTL
//	stepik_token                 cached Stepik access token
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	CoursesKey     = "bot:stepik_ids"
	OwnersKey      = "bot:owners"
	OwnerPrefix    = "bot:owner:"
	SeenPrefix     = "seen:comment:"
	OffensesPrefix = "offenses:"
	TokenKey       = "stepik_token"

	// SeenTTL bounds how long a notified comment is remembered.
	SeenTTL = 72 * time.Hour

	// OffenseTTL is how long a user's offense counter lives without new
	// flagged comments.
	OffenseTTL = 30 * 24 * time.Hour

	// TimeLayout is the cursor format, shared with the Stepik API.
	TimeLayout = "2006-01-02T15:04:05Z"
)

// Owner is a Telegram user allowed to manage the bot.
type Owner struct {
	ID       int64
	Username string
	Link     string
}

// Store wraps a Redis client.
type Store struct {
	client *redis.Client
}

// NewStore creates a store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client returns the underlying Redis client.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ---------------------------------------------------------------------------
// Courses
// ---------------------------------------------------------------------------

// AddCourse starts watching a course.
func (s *Store) AddCourse(ctx context.Context, courseID int) error {
	return s.client.SAdd(ctx, CoursesKey, strconv.Itoa(courseID)).Err()
}

// RemoveCourse stops watching a course and forgets its cursor.
func (s *Store) RemoveCourse(ctx context.Context, courseID int) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, CoursesKey, strconv.Itoa(courseID))
	pipe.Del(ctx, cursorKey(courseID))
	_, err := pipe.Exec(ctx)
	return err
}

// Courses returns watched course IDs in ascending order.
func (s *Store) Courses(ctx context.Context) ([]int, error) {
	members, err := s.client.SMembers(ctx, CoursesKey).Result()
	if err != nil {
		return nil, err
	}
	return parseInts(members)
}

// ---------------------------------------------------------------------------
// Owners
// ---------------------------------------------------------------------------

// AddOwner registers an owner. username may be empty or start with "@".
func (s *Store) AddOwner(ctx context.Context, id int64, username string) error {
	key := OwnerPrefix + strconv.FormatInt(id, 10)
	fields := map[string]any{"tg_id": id}
	if username != "" {
		if !strings.HasPrefix(username, "@") {
			username = "@" + username
		}
		fields["tg_username"] = username
		fields["tg_link"] = "https://t.me/" + username[1:]
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, OwnersKey, strconv.FormatInt(id, 10))
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveOwner drops an owner.
func (s *Store) RemoveOwner(ctx context.Context, id int64) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, OwnerPrefix+strconv.FormatInt(id, 10))
	pipe.SRem(ctx, OwnersKey, strconv.FormatInt(id, 10))
	_, err := pipe.Exec(ctx)
	return err
}

// IsOwner reports whether id is a registered owner.
func (s *Store) IsOwner(ctx context.Context, id int64) (bool, error) {
	return s.client.SIsMember(ctx, OwnersKey, strconv.FormatInt(id, 10)).Result()
}

// OwnerIDs returns the IDs of all owners in ascending order.
func (s *Store) OwnerIDs(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, OwnersKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("storage: owner id %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Owners returns every owner with profile details.
func (s *Store) Owners(ctx context.Context) ([]Owner, error) {
	ids, err := s.OwnerIDs(ctx)
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, OwnerPrefix+strconv.FormatInt(id, 10))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	owners := make([]Owner, len(ids))
	for i, id := range ids {
		h := cmds[i].Val()
		owners[i] = Owner{ID: id, Username: h["tg_username"], Link: h["tg_link"]}
	}
	return owners, nil
}

// ---------------------------------------------------------------------------
// Poll cursor and seen marks
// ---------------------------------------------------------------------------

func cursorKey(courseID int) string {
	return strconv.Itoa(courseID) + ":time_last_comment"
}

// LastCommentTime returns the course cursor. A missing or malformed cursor
// yields now minus one hour.
func (s *Store) LastCommentTime(ctx context.Context, courseID int, now time.Time) (time.Time, error) {
	v, err := s.client.Get(ctx, cursorKey(courseID)).Result()
	if errors.Is(err, redis.Nil) {
		return now.Add(-time.Hour).UTC(), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(TimeLayout, v)
	if err != nil {
		return now.Add(-time.Hour).UTC(), nil
	}
	return t, nil
}

// SetLastCommentTime stores the course cursor.
func (s *Store) SetLastCommentTime(ctx context.Context, courseID int, t time.Time) error {
	return s.client.Set(ctx, cursorKey(courseID), t.UTC().Format(TimeLayout), 0).Err()
}

// MarkSeen records a comment as notified. It returns false when the comment
// was already marked.
func (s *Store) MarkSeen(ctx context.Context, commentID int) (bool, error) {
	return s.client.SetNX(ctx, SeenPrefix+strconv.Itoa(commentID), 1, SeenTTL).Result()
}

// ---------------------------------------------------------------------------
// Offense counters
// ---------------------------------------------------------------------------

// RecordOffense increments a user's flagged-comment counter and returns the
// new count. The counter expires OffenseTTL after the last offense.
func (s *Store) RecordOffense(ctx context.Context, userID int) (int, error) {
	key := OffensesPrefix + strconv.Itoa(userID)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, OffenseTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("storage: record offense: %w", err)
	}
	return int(incr.Val()), nil
}

// Offenses returns a user's current flagged-comment count.
func (s *Store) Offenses(ctx context.Context, userID int) (int, error) {
	n, err := s.client.Get(ctx, OffensesPrefix+strconv.Itoa(userID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// ---------------------------------------------------------------------------
// Stepik token cache
// ---------------------------------------------------------------------------

// StepikToken returns the cached token, or "" when absent.
func (s *Store) StepikToken(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, TokenKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// SetStepikToken caches a token for ttl.
func (s *Store) SetStepikToken(ctx context.Context, token string, ttl time.Duration) error {
	return s.client.Set(ctx, TokenKey, token, ttl).Err()
}

// ResetStepikToken drops the cached token.
func (s *Store) ResetStepikToken(ctx context.Context) error {
	return s.client.Del(ctx, TokenKey).Err()
}

func parseInts(members []string) ([]int, error) {
	out := make([]int, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("storage: id %q: %w", m, err)
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
