package core

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pkt.systems/sessiondeck/internal/eventbus"
	"pkt.systems/sessiondeck/schema"
)

type fakeBackend struct {
	bus *eventbus.Bus

	mu            sync.Mutex
	sessionIDs    []schema.SessionID
	issued        int
	connects      []schema.BackendConnectRequest
	disconnects   []schema.SessionID
	inputs        [][]byte
	resizes       []schema.ResizeRequest
	connectErr    error
	disconnectErr error
	resizeErr     error
	inputErr      error
	// echo answers input synchronously; otherwise input is pushed through the bus.
	echo    bool
	inputFn func(data []byte) schema.InputResponse

	gate    chan struct{}
	entered chan struct{}
}

func newFakeBackend(sessionIDs ...schema.SessionID) *fakeBackend {
	return &fakeBackend{bus: eventbus.New(nil), sessionIDs: sessionIDs}
}

func (f *fakeBackend) Connect(ctx context.Context, req schema.BackendConnectRequest) (schema.BackendConnectResponse, error) {
	f.mu.Lock()
	f.connects = append(f.connects, req)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return schema.BackendConnectResponse{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return schema.BackendConnectResponse{}, f.connectErr
	}
	var id schema.SessionID
	if f.issued < len(f.sessionIDs) {
		id = f.sessionIDs[f.issued]
	} else {
		id = schema.SessionID(fmt.Sprintf("sess-auto-%d", f.issued))
	}
	f.issued++
	return schema.BackendConnectResponse{SessionID: id}, nil
}

func (f *fakeBackend) Disconnect(_ context.Context, sessionID schema.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, sessionID)
	return f.disconnectErr
}

func (f *fakeBackend) SendInput(_ context.Context, sessionID schema.SessionID, data []byte) (schema.InputResponse, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, append([]byte(nil), data...))
	echo, inputFn, inputErr := f.echo, f.inputFn, f.inputErr
	f.mu.Unlock()
	if inputErr != nil {
		return schema.InputResponse{}, inputErr
	}
	if inputFn != nil {
		return inputFn(data), nil
	}
	if echo {
		return schema.InputResponse{Data: append([]byte(nil), data...)}, nil
	}
	f.bus.Publish(schema.OutputEvent{SessionID: sessionID, Data: append([]byte(nil), data...)})
	return schema.InputResponse{}, nil
}

func (f *fakeBackend) Resize(_ context.Context, req schema.ResizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, req)
	return f.resizeErr
}

func (f *fakeBackend) Subscribe(sessionID schema.SessionID) Subscription {
	return f.bus.Subscribe(sessionID)
}

func (f *fakeBackend) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeBackend) disconnectCalls() []schema.SessionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.SessionID(nil), f.disconnects...)
}

func (f *fakeBackend) resizeCalls() []schema.ResizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.ResizeRequest(nil), f.resizes...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingSink struct {
	mu     sync.Mutex
	events []schema.TabEvent
}

func (s *recordingSink) OnTabEvent(event schema.TabEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) snapshot() []schema.TabEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.TabEvent(nil), s.events...)
}

func newTestDeck(t *testing.T, backend Backend, cfg schema.DeckConfig) *deck {
	t.Helper()
	d, err := NewDeck(cfg, DeckDeps{Backend: backend})
	if err != nil {
		t.Fatalf("new deck: %v", err)
	}
	return d.(*deck)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var prodWeb = schema.Server{ID: "s1", Name: "prod-web"}
