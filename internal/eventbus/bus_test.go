package eventbus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"pkt.systems/sessiondeck/schema"
)

func nextWithin(t *testing.T, sub *Subscription) schema.OutputEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	event, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	return event
}

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe("sess-1")
	defer sub.Close()

	bus.Publish(schema.OutputEvent{SessionID: "sess-1", Data: []byte("hi")})

	got := nextWithin(t, sub)
	if got.SessionID != "sess-1" || string(got.Data) != "hi" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestPublishIsolatesSessions(t *testing.T) {
	bus := New(nil)
	a := bus.Subscribe("a")
	defer a.Close()
	b := bus.Subscribe("b")
	defer b.Close()

	bus.Publish(schema.OutputEvent{SessionID: "a", Data: []byte("a1")})
	bus.Publish(schema.OutputEvent{SessionID: "b", Data: []byte("b1")})
	bus.Publish(schema.OutputEvent{SessionID: "a", Data: []byte("a2")})

	if got := nextWithin(t, a); string(got.Data) != "a1" {
		t.Fatalf("expected a1, got %q", got.Data)
	}
	if got := nextWithin(t, a); string(got.Data) != "a2" {
		t.Fatalf("expected a2, got %q", got.Data)
	}
	if got := nextWithin(t, b); string(got.Data) != "b1" {
		t.Fatalf("expected b1, got %q", got.Data)
	}
}

func TestPublishNeverBlocksOrDrops(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe("sess")
	defer sub.Close()

	const total = 5000
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			bus.Publish(schema.OutputEvent{SessionID: "sess", Data: []byte{byte(i)}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on slow subscriber")
	}
	for i := 0; i < total; i++ {
		got := nextWithin(t, sub)
		if got.Data[0] != byte(i) {
			t.Fatalf("expected event %d in order, got %d", byte(i), got.Data[0])
		}
	}
}

func TestBacklogReplayedToFirstSubscriber(t *testing.T) {
	bus := New(nil)
	bus.Publish(schema.OutputEvent{SessionID: "sess", Data: []byte("prompt$ ")})

	sub := bus.Subscribe("sess")
	defer sub.Close()
	if got := nextWithin(t, sub); string(got.Data) != "prompt$ " {
		t.Fatalf("expected backlog replay, got %q", got.Data)
	}

	late := bus.Subscribe("sess")
	defer late.Close()
	bus.Publish(schema.OutputEvent{SessionID: "sess", Data: []byte("x")})
	if got := nextWithin(t, late); string(got.Data) != "x" {
		t.Fatalf("expected live event only, got %q", got.Data)
	}
}

func TestBacklogIsBounded(t *testing.T) {
	bus := New(nil)
	bus.limit = 2
	for _, data := range []string{"1", "2", "3"} {
		bus.Publish(schema.OutputEvent{SessionID: "sess", Data: []byte(data)})
	}
	sub := bus.Subscribe("sess")
	defer sub.Close()
	if got := nextWithin(t, sub); string(got.Data) != "2" {
		t.Fatalf("expected oldest event trimmed, got %q", got.Data)
	}
}

func TestForgetDropsBacklog(t *testing.T) {
	bus := New(nil)
	bus.Publish(schema.OutputEvent{SessionID: "sess", Data: []byte("stale")})
	bus.Forget("sess")

	sub := bus.Subscribe("sess")
	defer sub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no events after forget, got %v", err)
	}
}

func TestCloseWakesNext(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe("sess")
	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	_ = sub.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("next did not return after close")
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	bus.Publish(schema.OutputEvent{SessionID: "sess", Data: []byte("after")})
	bus.mu.Lock()
	_, subscribed := bus.subs["sess"]
	bus.mu.Unlock()
	if subscribed {
		t.Fatalf("expected subscription removed from bus")
	}
}

func TestReplayStaysAheadOfConcurrentPublish(t *testing.T) {
	const backlog = 50
	const live = 50
	for iter := 0; iter < 200; iter++ {
		bus := New(nil)
		for i := 0; i < backlog; i++ {
			bus.Publish(schema.OutputEvent{SessionID: "sess", Data: []byte(strconv.Itoa(i))})
		}
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := backlog; i < backlog+live; i++ {
				bus.Publish(schema.OutputEvent{SessionID: "sess", Data: []byte(strconv.Itoa(i))})
			}
		}()
		close(start)
		sub := bus.Subscribe("sess")
		wg.Wait()

		for want := 0; want < backlog+live; want++ {
			got := nextWithin(t, sub)
			if string(got.Data) != strconv.Itoa(want) {
				t.Fatalf("iteration %d: expected event %d, got %q", iter, want, got.Data)
			}
		}
		_ = sub.Close()
	}
}
