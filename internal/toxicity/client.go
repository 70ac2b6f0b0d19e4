// Package toxicity is an HTTP client for the external toxicity classifier.
// The classifier is a text-classification model served behind a small JSON
// endpoint; this package treats it as a black box.
package toxicity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/commentwatch/moderator/internal/moderation"
)

// ErrUnavailable is returned when the classifier cannot be reached, answers
// with an error status, or the circuit breaker is open.
var ErrUnavailable = errors.New("toxicity: classifier unavailable")

// Labels the model emits for the toxic class.
const (
	LabelToxic  = "toxic"
	LabelToxic1 = "LABEL_1"
)

type predictRequest struct {
	Text string `json:"text"`
}

// prediction is one entry of the model's output.
type prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Client implements moderation.ToxicityClassifier over HTTP.
type Client struct {
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// WithBreaker tunes the circuit breaker: it opens after maxFailures
// consecutive failures and probes again after cooldown.
func WithBreaker(maxFailures uint32, cooldown time.Duration) Option {
	return func(c *Client) { c.breaker = newBreaker(maxFailures, cooldown) }
}

// New returns a classifier client posting to url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: newBreaker(5, 30*time.Second),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "toxicity")
	return c
}

func newBreaker(maxFailures uint32, cooldown time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "toxicity",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.Warnf("[toxicity] breaker %s: %s -> %s", name, from, to)
		},
	})
}

// Predict asks the model about text. The text is reported toxic only when the
// model picks the toxic label with at least threshold confidence.
func (c *Client) Predict(ctx context.Context, text string, threshold float64) (moderation.ToxicityOpinion, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.predict(ctx, collapseRepeats(text))
	})
	if err != nil {
		c.log.WithError(err).Debug("[toxicity] predict failed")
		return moderation.ToxicityOpinion{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p := res.(prediction)
	toxic := p.Label == LabelToxic || p.Label == LabelToxic1
	return moderation.ToxicityOpinion{
		IsToxic:    toxic && p.Score >= threshold,
		Confidence: p.Score,
	}, nil
}

func (c *Client) predict(ctx context.Context, text string) (prediction, error) {
	body, err := json.Marshal(predictRequest{Text: text})
	if err != nil {
		return prediction{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return prediction{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return prediction{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	// The model server answers with a list of predictions, best first.
	var preds []prediction
	if err := json.NewDecoder(resp.Body).Decode(&preds); err != nil {
		return prediction{}, fmt.Errorf("decode: %w", err)
	}
	if len(preds) == 0 {
		return prediction{}, errors.New("empty prediction")
	}
	return preds[0], nil
}

// collapseRepeats squeezes runs of the same rune, which the model was not
// trained on.
func collapseRepeats(s string) string {
	out := make([]rune, 0, len(s))
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			continue
		}
		out = append(out, r)
		prev = r
	}
	return string(out)
}

var _ moderation.ToxicityClassifier = (*Client)(nil)
