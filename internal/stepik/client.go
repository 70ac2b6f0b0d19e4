// Package stepik is a small client for the Stepik REST API: OAuth2
// client-credentials auth plus the handful of read endpoints the poller
// needs to describe a comment.
package stepik

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("stepik: not found")

// TokenTTL is how long an access token is cached. Stepik tokens live for
// ten hours; this stays a little under that.
const TokenTTL = 35000 * time.Second

const (
	maxRetries        = 3
	defaultRetryAfter = 5 * time.Second
)

// TokenCache stores the access token between process restarts.
type TokenCache interface {
	StepikToken(ctx context.Context) (string, error) // "" when absent
	SetStepikToken(ctx context.Context, token string, ttl time.Duration) error
	ResetStepikToken(ctx context.Context) error
}

// Client talks to one Stepik instance.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
	tokens       TokenCache
	log          logrus.FieldLogger

	// sleep waits between rate-limited retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a client for baseURL (e.g. https://stepik.org).
func New(baseURL, clientID, clientSecret string, tokens TokenCache, timeout time.Duration, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: timeout},
		tokens:       tokens,
		log:          log.WithField("component", "stepik"),
		sleep:        sleepCtx,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	tok, err := c.tokens.StepikToken(ctx)
	if err != nil {
		return "", fmt.Errorf("stepik: token cache: %w", err)
	}
	if tok != "" {
		return tok, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token/", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("stepik: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("stepik: token request: status %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("stepik: decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("stepik: token missing from response")
	}

	if err := c.tokens.SetStepikToken(ctx, tr.AccessToken, TokenTTL); err != nil {
		return "", fmt.Errorf("stepik: cache token: %w", err)
	}
	c.log.Info("[stepik] access token refreshed")
	return tr.AccessToken, nil
}

// ResetToken drops the cached token so the next request fetches a new one.
func (c *Client) ResetToken(ctx context.Context) error {
	return c.tokens.ResetStepikToken(ctx)
}

// get performs GET /api/<endpoint> and decodes the JSON body into out.
// A 401 resets the token once; a 429 waits for Retry-After and retries.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + "/api/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	reauthed := false
	for attempt := 0; ; attempt++ {
		tok, err := c.accessToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("stepik: GET %s: %w", endpoint, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("stepik: decode %s: %w", endpoint, err)
			}
			c.log.Debugf("[stepik] GET %s ok", endpoint)
			return nil

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return fmt.Errorf("%w: %s", ErrNotFound, endpoint)

		case resp.StatusCode == http.StatusUnauthorized && !reauthed:
			resp.Body.Close()
			reauthed = true
			if err := c.ResetToken(ctx); err != nil {
				return fmt.Errorf("stepik: reset token: %w", err)
			}
			continue

		case resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries:
			wait := retryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			c.log.Warnf("[stepik] rate limited on %s, waiting %s", endpoint, wait)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue

		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("stepik: GET %s: status %d: %s", endpoint, resp.StatusCode, body)
		}
	}
}

func retryAfter(h string) time.Duration {
	if h == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
