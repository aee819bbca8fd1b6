package mqttclient

import (
	"errors"
	"testing"
	"time"

	"github.com/fissionlink/internal/testutil"
)

func TestPublishWithBrokerDownReturnsPromptly(t *testing.T) {
	c, err := New(Options{
		BrokerURL:      "tcp://127.0.0.1:1",
		ClientID:       "fissionlink-test",
		ConnectTimeout: 100 * time.Millisecond,
		Logger:         testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Publish("fissionlink/ch/1", []byte("x"), 0, false) }()
	err = testutil.RequireReceive(t, done, 2*time.Second, "Publish blocked with the broker down")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSubscribeWithBrokerDownIsDeferred(t *testing.T) {
	c, err := New(Options{
		BrokerURL:      "tcp://127.0.0.1:1",
		ClientID:       "fissionlink-test-sub",
		ConnectTimeout: 100 * time.Millisecond,
		Logger:         testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Subscribe("fissionlink/ch/1", 0, nil) }()
	if err := testutil.RequireReceive(t, done, 2*time.Second, "Subscribe blocked with the broker down"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
}
