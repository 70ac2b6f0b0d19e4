package messaging

import (
	"context"
	"testing"
	"time"
)

// newTestClient connects to a local NATS server. Tests that call this helper
// require nats-server on localhost:4222.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.Name = "messaging-test"
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	if cfg.URL != "nats://127.0.0.1:4222" {
		t.Errorf("URL = %q, want the nats default", cfg.URL)
	}
	if cfg.MaxReconnects != -1 {
		t.Errorf("MaxReconnects = %d, want -1", cfg.MaxReconnects)
	}
}

func TestModerationResultRoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 1)
	if err := c.SubscribeModerationResult("req-1", func(data []byte) { got <- data }); err != nil {
		t.Fatalf("SubscribeModerationResult() error: %v", err)
	}
	if err := c.PublishModerationResult("req-1", []byte(`{"blocked":true}`)); err != nil {
		t.Fatalf("PublishModerationResult() error: %v", err)
	}

	select {
	case data := <-got:
		if string(data) != `{"blocked":true}` {
			t.Errorf("received %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	if err := c.UnsubscribeModerationResult("req-1"); err != nil {
		t.Errorf("UnsubscribeModerationResult() error: %v", err)
	}
	if err := c.UnsubscribeModerationResult("req-1"); err == nil {
		t.Error("second unsubscribe should fail")
	}
}

func TestFlaggedRoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 1)
	if err := c.SubscribeFlagged(func(data []byte) { got <- data }); err != nil {
		t.Fatalf("SubscribeFlagged() error: %v", err)
	}
	if err := c.PublishFlagged([]byte("x")); err != nil {
		t.Fatalf("PublishFlagged() error: %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flagged event")
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() on a live connection: %v", err)
	}
}
