package desk

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "user-3")
	defer otherCleanup()

	dispatcher.Publish(Event{UserID: "user-3", Kind: EventWindowClosed, WindowIDs: []string{"win-1"}})

	select {
	case <-userStream:
		t.Fatal("did not expect event for unrelated user")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case event := <-otherStream:
		if event.Kind != EventWindowClosed {
			t.Fatalf("unexpected event %s", event.Kind)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed user")
	}
}

func TestDispatcherCleanupOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx, "user-1")
	if dispatcher.SubscriberCount("user-1") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("user-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcherDropsWhenSubscriberIsSlow(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	for i := 0; i < dispatcher.bufferSize*2; i++ {
		dispatcher.Publish(Event{UserID: "user-1", Kind: EventWindowChanged})
	}
	if len(stream) != dispatcher.bufferSize {
		t.Fatalf("expected buffer to hold %d events, got %d", dispatcher.bufferSize, len(stream))
	}
}

func TestDispatcherEmptyUserGetsClosedStream(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()
	if _, ok := <-stream; ok {
		t.Fatalf("expected closed stream")
	}
}
