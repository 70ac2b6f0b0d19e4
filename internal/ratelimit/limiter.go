// Package ratelimit provides Redis-backed fixed-window rate limiting using
// INCR + EXPIRE. The screening endpoints use it to throttle callers per
// client IP or per Telegram user.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:check:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleCheck allows 60 HTTP screening requests per minute per client IP.
	RuleCheck = Rule{Key: "rl:check:", Limit: 60, Window: time.Minute}

	// RuleBotCheck allows 20 /check commands per minute per Telegram user.
	RuleBotCheck = Rule{Key: "rl:botcheck:", Limit: 20, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one request for identifier under rule and reports whether it
// is within the limit. The first increment in a window sets the expiry.
//
// On Redis errors Allow fails open: it returns true along with the error.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warnf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Warnf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// A key without TTL would throttle the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window. It returns the full limit when the key does not exist or
// Redis fails.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		log.Warnf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}
