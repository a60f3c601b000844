// ABOUTME: Tests for the registry event broadcaster
// ABOUTME: Covers fan-out, slow subscribers, context cancellation and shutdown

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(kind EventKind, id string) Event {
	return Event{Kind: kind, Session: Info{ID: id}, At: time.Now()}
}

func TestBroadcaster_AllSubscribersReceiveEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx)
	ch2, _ := b.Subscribe(ctx)

	b.Publish(makeEvent(EventConnected, "h_u_1"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, "h_u_1", received.Session.ID, "subscriber %d got wrong event", i)
			assert.Equal(t, EventConnected, received.Kind)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()

	// Subscribe but never read from the first channel
	_, _ = b.Subscribe(ctx)
	ch2, _ := b.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range subscriberBufferSize * 3 {
			b.Publish(makeEvent(EventRemoved, "x"))
		}
	}()

	received := 0
	for {
		select {
		case <-ch2:
			received++
		case <-done:
			assert.Greater(t, received+len(ch2), 0, "fast consumer should receive events")
			return
		case <-time.After(2 * time.Second):
			t.Fatal("publisher blocked on a slow subscriber")
		}
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := b.Subscribe(ctx)

	b.mu.RLock()
	_, exists := b.subscribers[subID]
	b.mu.RUnlock()
	assert.True(t, exists, "subscription should exist before cancel")

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}

	b.mu.RLock()
	_, exists = b.subscribers[subID]
	b.mu.RUnlock()
	assert.False(t, exists, "subscription should be removed after context cancel")
}

func TestBroadcaster_UnsubscribeTwiceIsSafe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, subID := b.Subscribe(t.Context())
	b.Unsubscribe(subID)
	b.Unsubscribe(subID)
}

func TestBroadcaster_CloseEndsEverySubscription(t *testing.T) {
	b := NewBroadcaster(nil)
	ch1, _ := b.Subscribe(context.Background())
	ch2, _ := b.Subscribe(context.Background())

	b.Close()

	for _, ch := range []<-chan Event{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok)
	}

	// Subscribing after Close yields an already-closed channel.
	late, _ := b.Subscribe(context.Background())
	_, ok := <-late
	assert.False(t, ok)

	// Publishing after Close is a no-op.
	b.Publish(makeEvent(EventConnected, "h"))
}

func TestBroadcaster_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			ch, _ := b.Subscribe(ctx)
			cancel()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				b.Publish(makeEvent(EventConnected, "h"))
			}
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		require.Fail(t, "concurrent publish/subscribe deadlocked")
	}
}
