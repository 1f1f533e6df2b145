package messaging

import (
	"testing"
	"time"
)

// newTestClient connects to a local NATS server. Tests are skipped if it is
// unavailable.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()

	cfg := DefaultNATSConfig()
	cfg.Name = "santa-test"
	cfg.MaxReconnects = 0

	c, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestDrawResult_RoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 1)
	if err := c.SubscribeDrawResult("ev-1", "watcher-1", func(data []byte) {
		got <- data
	}); err != nil {
		t.Fatalf("SubscribeDrawResult: %v", err)
	}

	if err := c.PublishDrawResult("ev-1", []byte(`{"status":"complete"}`)); err != nil {
		t.Fatalf("PublishDrawResult: %v", err)
	}

	select {
	case data := <-got:
		if string(data) != `{"status":"complete"}` {
			t.Errorf("unexpected payload %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for draw result")
	}
}

func TestDrawRequest_QueueGroupDeliversOnce(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 4)
	for i := 0; i < 2; i++ {
		// Same key twice replaces, so subscribe through a second client.
		client := c
		if i == 1 {
			client = newTestClient(t)
		}
		if err := client.SubscribeDrawRequest(func(data []byte) { got <- data }); err != nil {
			t.Fatalf("SubscribeDrawRequest: %v", err)
		}
	}

	if err := c.PublishDrawRequest([]byte(`{"event_id":"ev-1"}`)); err != nil {
		t.Fatalf("PublishDrawRequest: %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for draw request")
	}
	select {
	case data := <-got:
		t.Errorf("draw request delivered twice: %s", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnsubscribeDrawResult_UnknownKey(t *testing.T) {
	c := newTestClient(t)

	if err := c.UnsubscribeDrawResult("nobody"); err == nil {
		t.Error("expected error for unknown subscription key")
	}
}
