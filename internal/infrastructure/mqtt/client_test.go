package mqtt

import (
	"context"
	"errors"
	"testing"
)

// disconnectedClient returns a client that has never connected.
// Validation paths run before any broker I/O, so no broker is needed.
func disconnectedClient() *Client {
	return &Client{
		subscriptions: make(map[string]subscription),
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		build    func() string
		expected string
	}{
		{
			name:     "StreamerState",
			build:    Topics{}.StreamerState,
			expected: "relaykvm/streamer/state",
		},
		{
			name:     "StreamerCommand",
			build:    Topics{}.StreamerCommand,
			expected: "relaykvm/streamer/command",
		},
		{
			name: "StreamerEvent",
			build: func() string {
				return Topics{}.StreamerEvent("process_exited")
			},
			expected: "relaykvm/streamer/event/process_exited",
		},
		{
			name:     "SystemStatus",
			build:    Topics{}.SystemStatus,
			expected: "relaykvm/system/status",
		},
		{
			name:     "AllStreamerEvents",
			build:    Topics{}.AllStreamerEvents,
			expected: "relaykvm/streamer/event/+",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPublishEmptyTopic(t *testing.T) {
	c := disconnectedClient()

	err := c.Publish("", []byte("payload"), 1, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishInvalidQoS(t *testing.T) {
	c := disconnectedClient()

	err := c.Publish("relaykvm/streamer/state", []byte("payload"), 3, false)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublishOversizePayload(t *testing.T) {
	c := disconnectedClient()

	payload := make([]byte, maxPayloadSize+1)
	err := c.Publish("relaykvm/streamer/state", payload, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	c := disconnectedClient()

	err := c.Publish("relaykvm/streamer/state", []byte("payload"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeEmptyTopic(t *testing.T) {
	c := disconnectedClient()

	err := c.Subscribe("", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribeInvalidQoS(t *testing.T) {
	c := disconnectedClient()

	err := c.Subscribe("relaykvm/streamer/command", 3, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	c := disconnectedClient()

	err := c.Subscribe("relaykvm/streamer/command", 1, nil)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestSubscribeDisconnected(t *testing.T) {
	c := disconnectedClient()

	err := c.Subscribe("relaykvm/streamer/command", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribeEmptyTopic(t *testing.T) {
	c := disconnectedClient()

	err := c.Unsubscribe("")
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestUnsubscribeDisconnected(t *testing.T) {
	c := disconnectedClient()

	err := c.Unsubscribe("relaykvm/streamer/command")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on never-connected client = %v, want nil", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := disconnectedClient()

	err := c.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := disconnectedClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.HealthCheck(ctx)
	if err == nil || errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want context error", err)
	}
}

func TestSubscriptionTracking(t *testing.T) {
	c := disconnectedClient()

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if c.HasSubscription("relaykvm/streamer/command") {
		t.Error("HasSubscription() = true for untracked topic")
	}
}
