package stepik

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/h2non/gock"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://stepik.test"

func TestMain(m *testing.M) {
	log.SetLevel(log.PanicLevel)
	m.Run()
}

type memTokens struct {
	mu    sync.Mutex
	token string
	ttl   time.Duration
	sets  int
}

func (m *memTokens) StepikToken(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memTokens) SetStepikToken(_ context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.ttl = token, ttl
	m.sets++
	return nil
}

func (m *memTokens) ResetStepikToken(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

func newTestClient(tokens *memTokens) *Client {
	c := New(testBaseURL, "id", "secret", tokens, 5*time.Second, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestAccessToken_FetchedAndCached(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Post("/oauth2/token/").
		Reply(http.StatusOK).
		JSON(map[string]string{"access_token": "tok-1"})
	gock.New(testBaseURL).
		Get("/api/courses/7").
		MatchHeader("Authorization", "Bearer tok-1").
		Times(2).
		Reply(http.StatusOK).
		JSON(map[string]any{"courses": []map[string]any{{"id": 7, "title": "Go basics"}}})

	tokens := &memTokens{}
	c := newTestClient(tokens)

	for i := 0; i < 2; i++ {
		title, err := c.CourseTitle(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, "Go basics", title)
	}

	assert.Equal(t, 1, tokens.sets, "token must be requested once and then served from cache")
	assert.Equal(t, TokenTTL, tokens.ttl)
	assert.True(t, gock.IsDone())
}

func TestAccessToken_Error(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Post("/oauth2/token/").
		Reply(http.StatusUnauthorized).
		BodyString("invalid_client")

	_, err := newTestClient(&memTokens{}).User(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_client")
}

func TestComments(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/comments").
		MatchParam("course", "42").
		MatchParam("page_size", "20").
		MatchParam("order", "desc").
		Reply(http.StatusOK).
		JSON(map[string]any{"comments": []map[string]any{
			{"id": 2, "user": 10, "target": 100, "text": "<p>второй</p>", "time": "2024-05-01T10:00:05Z"},
			{"id": 1, "user": 11, "target": 100, "text": "первый", "time": "2024-05-01T10:00:00Z"},
		}})

	comments, err := newTestClient(&memTokens{token: "tok"}).Comments(context.Background(), 42, 20)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, 2, comments[0].ID)

	ts, err := comments[0].Timestamp()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC), ts)
}

func TestGet_NotFound(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/users/5").
		Reply(http.StatusNotFound)

	_, err := newTestClient(&memTokens{token: "tok"}).User(context.Background(), 5)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGet_EmptyEnvelopeIsNotFound(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/users/5").
		Reply(http.StatusOK).
		JSON(map[string]any{"users": []any{}})

	_, err := newTestClient(&memTokens{token: "tok"}).User(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_RateLimitedThenOK(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/users/5").
		Reply(http.StatusTooManyRequests).
		SetHeader("Retry-After", "1")
	gock.New(testBaseURL).
		Get("/api/users/5").
		Reply(http.StatusOK).
		JSON(map[string]any{"users": []map[string]any{{"id": 5, "full_name": "Ann", "reputation": 12}}})

	var waits []time.Duration
	c := newTestClient(&memTokens{token: "tok"})
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	u, err := c.User(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.FullName)
	assert.Equal(t, []time.Duration{time.Second}, waits)
}

func TestGet_RateLimitedGivesUp(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/users/5").
		Times(maxRetries + 1).
		Reply(http.StatusTooManyRequests)

	_, err := newTestClient(&memTokens{token: "tok"}).User(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestGet_UnauthorizedRefreshesToken(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/users/5").
		MatchHeader("Authorization", "Bearer stale").
		Reply(http.StatusUnauthorized)
	gock.New(testBaseURL).
		Post("/oauth2/token/").
		Reply(http.StatusOK).
		JSON(map[string]string{"access_token": "fresh"})
	gock.New(testBaseURL).
		Get("/api/users/5").
		MatchHeader("Authorization", "Bearer fresh").
		Reply(http.StatusOK).
		JSON(map[string]any{"users": []map[string]any{{"id": 5}}})

	tokens := &memTokens{token: "stale"}
	_, err := newTestClient(tokens).User(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tokens.token)
}

func TestGet_ServerError(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/steps/1").
		Reply(http.StatusBadGateway)

	_, err := newTestClient(&memTokens{token: "tok"}).Step(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestCommentURL(t *testing.T) {
	tests := []struct {
		name    string
		comment map[string]any
		want    string
	}{
		{
			name:    "root discussion",
			comment: map[string]any{"id": 9, "target": 100, "thread": "discussion"},
			want:    testBaseURL + "/lesson/300/step/2?discussion=9&unit=400",
		},
		{
			name:    "reply",
			comment: map[string]any{"id": 9, "target": 100, "parent": 8, "thread": "discussion"},
			want:    testBaseURL + "/lesson/300/step/2?discussion=8&reply=9&unit=400",
		},
		{
			name:    "solutions reply",
			comment: map[string]any{"id": 9, "target": 100, "parent": 8, "thread": "solutions"},
			want:    testBaseURL + "/lesson/300/step/2?discussion=8&reply=9&thread=solutions&unit=400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()

			gock.New(testBaseURL).
				Get("/api/comments/9").
				Reply(http.StatusOK).
				JSON(map[string]any{"comments": []map[string]any{tt.comment}})
			gock.New(testBaseURL).
				Get("/api/steps/100").
				Reply(http.StatusOK).
				JSON(map[string]any{"steps": []map[string]any{{"id": 100, "lesson": 300, "position": 2, "unit": 400}}})

			got := newTestClient(&memTokens{token: "tok"}).CommentURL(context.Background(), 9)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommentURL_Fallback(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/comments/9").
		Reply(http.StatusNotFound)

	got := newTestClient(&memTokens{token: "tok"}).CommentURL(context.Background(), 9)
	assert.Equal(t, testBaseURL+"/discussion/comments/9/", got)
}

func TestUser_HasCustomAvatar(t *testing.T) {
	assert.False(t, User{}.HasCustomAvatar())
	assert.False(t, User{Avatar: "https://stepik.org/users/1/avatar.svg"}.HasCustomAvatar())
	assert.True(t, User{Avatar: "https://cdn.stepik.net/media/users/1/avatar.png"}.HasCustomAvatar())
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, defaultRetryAfter, retryAfter(""))
	assert.Equal(t, defaultRetryAfter, retryAfter("soon"))
	assert.Equal(t, 3*time.Second, retryAfter("3"))
}
