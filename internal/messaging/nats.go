// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the moderation services. It handles connection lifecycle,
// subject-based subscriptions and the moderation subjects.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// NATS subjects used by the moderation services.
const (
	SubjectModerationCheck   = "moderation.check"
	SubjectModerationResult  = "moderation.result" // + .<request_id>
	SubjectModerationFlagged = "moderation.flagged"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "commentwatch",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("[nats] disconnected: %v", err)
			} else {
				log.Warn("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Infof("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Ping reports an error when the connection is down.
func (c *NATSClient) Ping(_ context.Context) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats: %s", c.conn.Status())
	}
	return nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishModerationRequest publishes a moderation check request.
func (c *NATSClient) PublishModerationRequest(data []byte) error {
	return c.Publish(SubjectModerationCheck, data)
}

// SubscribeModerationCheck subscribes to moderation check requests.
func (c *NATSClient) SubscribeModerationCheck(handler func(data []byte)) error {
	return c.Subscribe(SubjectModerationCheck, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishModerationResult publishes a result for a specific request.
func (c *NATSClient) PublishModerationResult(requestID string, data []byte) error {
	return c.Publish(SubjectModerationResult+"."+requestID, data)
}

// SubscribeModerationResult subscribes to the result of a specific request.
func (c *NATSClient) SubscribeModerationResult(requestID string, handler func(data []byte)) error {
	return c.Subscribe(SubjectModerationResult+"."+requestID, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeModerationResult drops the result subscription for a request.
func (c *NATSClient) UnsubscribeModerationResult(requestID string) error {
	return c.unsubscribe(SubjectModerationResult + "." + requestID)
}

// PublishFlagged announces a flagged comment.
func (c *NATSClient) PublishFlagged(data []byte) error {
	return c.Publish(SubjectModerationFlagged, data)
}

// SubscribeFlagged subscribes to flagged-comment announcements.
func (c *NATSClient) SubscribeFlagged(handler func(data []byte)) error {
	return c.Subscribe(SubjectModerationFlagged, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warnf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warnf("[nats] connection drain: %v", err)
	}

	log.Info("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
