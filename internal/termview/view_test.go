package termview

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/sessiondeck/core"
	"pkt.systems/sessiondeck/internal/eventbus"
	"pkt.systems/sessiondeck/schema"
)

type echoBackend struct {
	bus *eventbus.Bus

	mu      sync.Mutex
	inputs  []string
	resizes []schema.ResizeRequest
}

func (b *echoBackend) Connect(context.Context, schema.BackendConnectRequest) (schema.BackendConnectResponse, error) {
	return schema.BackendConnectResponse{SessionID: "sess-1"}, nil
}

func (b *echoBackend) Disconnect(context.Context, schema.SessionID) error { return nil }

func (b *echoBackend) SendInput(_ context.Context, sessionID schema.SessionID, data []byte) (schema.InputResponse, error) {
	b.mu.Lock()
	b.inputs = append(b.inputs, string(data))
	b.mu.Unlock()
	b.bus.Publish(schema.OutputEvent{SessionID: sessionID, Data: data})
	if strings.Contains(string(data), "exit") {
		b.bus.Publish(schema.OutputEvent{SessionID: sessionID, Data: []byte("logout\r\n")})
		b.bus.Publish(schema.OutputEvent{SessionID: sessionID, EOF: true})
	}
	return schema.InputResponse{}, nil
}

func (b *echoBackend) Resize(_ context.Context, req schema.ResizeRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resizes = append(b.resizes, req)
	return nil
}

func (b *echoBackend) Subscribe(sessionID schema.SessionID) core.Subscription {
	return b.bus.Subscribe(sessionID)
}

func (b *echoBackend) resizeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.resizes)
}

type fakeTerminal struct {
	mu       sync.Mutex
	cols     int
	rows     int
	raw      bool
	restored bool
}

func (t *fakeTerminal) Size() (int, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols, t.rows, nil
}

func (t *fakeTerminal) MakeRaw() (func(), error) {
	t.mu.Lock()
	t.raw = true
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.restored = true
		t.mu.Unlock()
	}, nil
}

func (t *fakeTerminal) setSize(cols, rows int) {
	t.mu.Lock()
	t.cols, t.rows = cols, rows
	t.mu.Unlock()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func connectedDeck(t *testing.T) (core.Deck, *echoBackend, schema.SessionID) {
	t.Helper()
	backend := &echoBackend{bus: eventbus.New(nil)}
	deck, err := core.NewDeck(schema.DeckConfig{}, core.DeckDeps{Backend: backend})
	if err != nil {
		t.Fatalf("new deck: %v", err)
	}
	t.Cleanup(func() { _ = deck.Close(context.Background()) })
	resp, err := deck.Connect(context.Background(), schema.ConnectRequest{
		Server: schema.Server{ID: "s1", Name: "prod-web", Host: "10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return deck, backend, resp.SessionID
}

type viewRun struct {
	result Result
	err    error
}

func startView(view *View, deck core.Deck, sessionID schema.SessionID) <-chan viewRun {
	done := make(chan viewRun, 1)
	go func() {
		result, err := view.Run(context.Background(), deck, sessionID)
		done <- viewRun{result: result, err: err}
	}()
	return done
}

func waitRun(t *testing.T, done <-chan viewRun) viewRun {
	t.Helper()
	select {
	case run := <-done:
		return run
	case <-time.After(2 * time.Second):
		t.Fatal("view did not finish")
	}
	return viewRun{}
}

func TestViewEndsWhenRemoteCloses(t *testing.T) {
	deck, _, sessionID := connectedDeck(t)
	inR, inW := io.Pipe()
	defer inW.Close()
	out := &lockedBuffer{}
	term := &fakeTerminal{cols: 80, rows: 24}
	view := New(Options{In: inR, Out: out, Terminal: term})

	done := startView(view, deck, sessionID)
	if _, err := inW.Write([]byte("exit\r")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	run := waitRun(t, done)
	if run.err != nil {
		t.Fatalf("run: %v", run.err)
	}
	if !run.result.Ended || run.result.Detached {
		t.Fatalf("expected ended result, got %+v", run.result)
	}
	want := "exit\rlogout\r\n" + schema.DefaultClosedNotice
	if got := out.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	term.mu.Lock()
	defer term.mu.Unlock()
	if !term.raw || !term.restored {
		t.Fatalf("expected raw mode to be entered and restored, raw=%v restored=%v", term.raw, term.restored)
	}
}

func TestViewDetachKeyKeepsSession(t *testing.T) {
	deck, backend, sessionID := connectedDeck(t)
	inR, inW := io.Pipe()
	defer inW.Close()
	out := &lockedBuffer{}
	view := New(Options{In: inR, Out: out, Terminal: &fakeTerminal{cols: 80, rows: 24}})

	done := startView(view, deck, sessionID)
	if _, err := inW.Write([]byte{'l', 's', DefaultDetachKey, 'x'}); err != nil {
		t.Fatalf("write input: %v", err)
	}
	run := waitRun(t, done)
	if run.err != nil {
		t.Fatalf("run: %v", run.err)
	}
	if !run.result.Detached {
		t.Fatalf("expected detached result, got %+v", run.result)
	}
	backend.mu.Lock()
	inputs := append([]string(nil), backend.inputs...)
	backend.mu.Unlock()
	if len(inputs) != 1 || inputs[0] != "ls" {
		t.Fatalf("expected only bytes before the detach key, got %q", inputs)
	}
	state := deck.State()
	if len(state.Sessions) != 1 || !state.Sessions[0].Connected {
		t.Fatalf("expected session to stay connected, got %+v", state.Sessions)
	}
}

func TestViewResizesOnSignal(t *testing.T) {
	deck, backend, sessionID := connectedDeck(t)
	inR, inW := io.Pipe()
	defer inW.Close()
	term := &fakeTerminal{cols: 80, rows: 24}
	resize := make(chan struct{}, 1)
	view := New(Options{In: inR, Out: &lockedBuffer{}, Terminal: term, Resize: resize})

	done := startView(view, deck, sessionID)
	deadline := time.Now().Add(2 * time.Second)
	for backend.resizeCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("expected initial resize")
		}
		time.Sleep(5 * time.Millisecond)
	}
	term.setSize(132, 50)
	resize <- struct{}{}
	for backend.resizeCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("expected resize after signal")
		}
		time.Sleep(5 * time.Millisecond)
	}
	backend.mu.Lock()
	last := backend.resizes[len(backend.resizes)-1]
	backend.mu.Unlock()
	if last.Cols != 132 || last.Rows != 50 {
		t.Fatalf("expected 132x50, got %dx%d", last.Cols, last.Rows)
	}

	_ = inW.Close()
	run := waitRun(t, done)
	if run.err != nil || run.result.Ended {
		t.Fatalf("expected clean stop on input eof, got %+v %v", run.result, run.err)
	}
}

func TestViewRejectsUnknownSession(t *testing.T) {
	deck, _, _ := connectedDeck(t)
	view := New(Options{In: strings.NewReader(""), Out: &lockedBuffer{}, Terminal: &fakeTerminal{}})
	if _, err := view.Run(context.Background(), deck, "missing"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}
