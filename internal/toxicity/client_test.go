package toxicity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModelServer(t *testing.T, label string, score float64, got *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if got != nil {
			*got = req.Text
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]prediction{{Label: label, Score: score}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPredict(t *testing.T) {
	tests := []struct {
		name      string
		label     string
		score     float64
		threshold float64
		toxic     bool
	}{
		{"toxic above threshold", "toxic", 0.95, 0.82, true},
		{"toxic at threshold", "toxic", 0.82, 0.82, true},
		{"toxic below threshold", "toxic", 0.6, 0.82, false},
		{"numeric label", "LABEL_1", 0.9, 0.82, true},
		{"neutral", "neutral", 0.99, 0.82, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newModelServer(t, tt.label, tt.score, nil)
			c := New(srv.URL)

			op, err := c.Predict(context.Background(), "some text", tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.toxic, op.IsToxic)
			assert.Equal(t, tt.score, op.Confidence)
		})
	}
}

func TestPredict_CollapsesRepeats(t *testing.T) {
	var sent string
	srv := newModelServer(t, "neutral", 0.5, &sent)

	_, err := New(srv.URL).Predict(context.Background(), "ну дааааа", 0.5)
	require.NoError(t, err)
	assert.Equal(t, "ну да", sent)
}

func TestPredict_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Predict(context.Background(), "text", 0.5)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestPredict_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Predict(context.Background(), "text", 0.5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPredict_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL).Predict(ctx, "text", 0.5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPredict_BreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, WithBreaker(2, time.Minute))
	for i := 0; i < 5; i++ {
		_, err := c.Predict(context.Background(), "text", 0.5)
		assert.ErrorIs(t, err, ErrUnavailable)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker must short-circuit calls")
	assert.Equal(t, gobreaker.StateOpen, c.breaker.State())
}

func TestCollapseRepeats(t *testing.T) {
	assert.Equal(t, "", collapseRepeats(""))
	assert.Equal(t, "абв", collapseRepeats("аабббв"))
	assert.Equal(t, "a b", collapseRepeats("aa  bb"))
}
