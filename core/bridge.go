package core

import (
	"context"
	"errors"
	"io"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/schema"
)

type bridgeConfig struct {
	deck         *deck
	sessionID    schema.SessionID
	sub          Subscription
	backend      Backend
	sink         io.Writer
	notice       string
	onDisconnect func()
	log          pslog.Logger
}

// Bridge moves bytes between one session and its rendering sink. Output events
// are written in the order received; after EOF the closed notice is written once
// and nothing else reaches the sink.
type Bridge struct {
	deck         *deck
	sessionID    schema.SessionID
	sub          Subscription
	backend      Backend
	sink         io.Writer
	notice       string
	onDisconnect func()
	log          pslog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu makes each event and each synchronous echo atomic with respect to the sink.
	mu       sync.Mutex
	detached bool
	ended    bool

	detachOnce sync.Once
}

func newBridge(ctx context.Context, cfg bridgeConfig) *Bridge {
	runCtx, cancel := context.WithCancel(ctx)
	return &Bridge{
		deck:         cfg.deck,
		sessionID:    cfg.sessionID,
		sub:          cfg.sub,
		backend:      cfg.backend,
		sink:         cfg.sink,
		notice:       cfg.notice,
		onDisconnect: cfg.onDisconnect,
		log:          cfg.log,
		ctx:          runCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

func (b *Bridge) start() {
	go b.run()
}

// SessionID returns the session the bridge is attached to.
func (b *Bridge) SessionID() schema.SessionID {
	return b.sessionID
}

// Done is closed once the bridge has stopped reading events.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Ended reports whether the session reached EOF while attached.
func (b *Bridge) Ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

// SendInput forwards one batch of keystrokes. Bytes echoed synchronously by the
// backend are written to the sink. A NOT_FOUND rejection ends the session as if
// EOF had arrived.
func (b *Bridge) SendInput(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !b.live() {
		return schema.ErrSessionNotFound
	}
	resp, err := b.backend.SendInput(ctx, b.sessionID, data)
	if err != nil {
		if schema.BackendErrorCodeOf(err) == schema.BackendErrorNotFound {
			// The backend no longer knows the session; its EOF was never seen here.
			b.log.Info("bridge session gone", "err", err)
			if b.handle(schema.OutputEvent{SessionID: b.sessionID, EOF: true}) {
				b.Detach()
			}
			return err
		}
		b.log.Warn("bridge input failed", "err", err, "bytes", len(data))
		return err
	}
	if len(resp.Data) > 0 {
		b.mu.Lock()
		if !b.detached && !b.ended {
			b.writeLocked(resp.Data)
		}
		b.mu.Unlock()
	}
	if resp.EOF {
		if b.handle(schema.OutputEvent{SessionID: b.sessionID, EOF: true}) {
			b.Detach()
		}
	}
	return nil
}

// Resize forwards new terminal geometry. Failures are only logged.
func (b *Bridge) Resize(ctx context.Context, cols, rows int) {
	if cols <= 0 || rows <= 0 || !b.live() {
		return
	}
	if err := b.backend.Resize(ctx, schema.ResizeRequest{SessionID: b.sessionID, Cols: cols, Rows: rows}); err != nil {
		b.log.Warn("bridge resize failed", "err", err, "cols", cols, "rows", rows)
		return
	}
	b.log.Trace("bridge resized", "cols", cols, "rows", rows)
}

// Detach unsubscribes immediately. Later events and late input echoes are
// discarded. It is safe to call more than once and from the disconnect callback.
func (b *Bridge) Detach() {
	b.detachOnce.Do(func() {
		b.mu.Lock()
		b.detached = true
		b.mu.Unlock()
		b.cancel()
		if err := b.sub.Close(); err != nil {
			b.log.Debug("bridge unsubscribe failed", "err", err)
		}
		b.deck.forgetBridge(b)
		b.log.Debug("bridge detached")
	})
}

func (b *Bridge) run() {
	defer close(b.done)
	defer b.Detach()
	for {
		event, err := b.sub.Next(b.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				b.log.Debug("bridge stream stopped", "err", err)
			}
			return
		}
		if b.handle(event) {
			return
		}
	}
}

// handle applies one event and reports whether the bridge has finished.
func (b *Bridge) handle(event schema.OutputEvent) bool {
	if event.SessionID != b.sessionID {
		b.log.Warn("bridge foreign event dropped", "event_session", event.SessionID)
		return false
	}
	b.mu.Lock()
	if b.detached || b.ended {
		b.mu.Unlock()
		return true
	}
	if len(event.Data) > 0 {
		b.writeLocked(event.Data)
	}
	if !event.EOF {
		b.mu.Unlock()
		return false
	}
	b.ended = true
	b.writeLocked([]byte(b.notice))
	b.mu.Unlock()

	b.deck.sessionEnded(b.log, b.sessionID)
	if b.onDisconnect != nil {
		b.onDisconnect()
	}
	return true
}

func (b *Bridge) live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.detached && !b.ended
}

func (b *Bridge) writeLocked(data []byte) {
	if _, err := b.sink.Write(data); err != nil {
		b.log.Warn("bridge sink write failed", "err", err)
	}
}
