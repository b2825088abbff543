package eventbus

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/schema"
)

// ErrClosed is returned by Next once a subscription has been closed.
var ErrClosed = errors.New("subscription closed")

// DefaultBacklog bounds events held for a session nobody has subscribed to yet.
const DefaultBacklog = 1024

// Bus routes backend output events to per-session subscribers. Publishing never
// blocks and never drops events for a live subscriber.
type Bus struct {
	mu      sync.Mutex
	subs    map[schema.SessionID]map[*Subscription]struct{}
	backlog map[schema.SessionID][]schema.OutputEvent
	limit   int
	log     pslog.Logger
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:    make(map[schema.SessionID]map[*Subscription]struct{}),
		backlog: make(map[schema.SessionID][]schema.OutputEvent),
		limit:   DefaultBacklog,
		log:     logger,
	}
}

// Subscribe registers a subscriber for one session. Events that arrived before the
// first subscriber are replayed to it.
func (b *Bus) Subscribe(sessionID schema.SessionID) *Subscription {
	sub := &Subscription{
		bus:       b,
		sessionID: sessionID,
		notify:    make(chan struct{}, 1),
	}
	if b == nil {
		sub.closed = true
		return sub
	}
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if sessionSubs == nil {
		sessionSubs = make(map[*Subscription]struct{})
		b.subs[sessionID] = sessionSubs
	}
	sessionSubs[sub] = struct{}{}
	pending := b.backlog[sessionID]
	delete(b.backlog, sessionID)
	count := len(sessionSubs)
	// Replay before any Publish can reach the new subscriber.
	if len(pending) > 0 {
		sub.push(pending...)
	}
	b.mu.Unlock()
	b.log.With("session", sessionID).Debug("eventbus subscribe", "subs", count, "replayed", len(pending))
	return sub
}

// Publish delivers an event to every subscriber of its session.
func (b *Bus) Publish(event schema.OutputEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	sessionSubs := b.subs[event.SessionID]
	if len(sessionSubs) == 0 {
		queued := b.backlog[event.SessionID]
		if len(queued) >= b.limit {
			queued = queued[1:]
			b.log.With("session", event.SessionID).Trace("eventbus backlog trimmed", "limit", b.limit)
		}
		b.backlog[event.SessionID] = append(queued, event)
		b.mu.Unlock()
		return
	}
	for sub := range sessionSubs {
		sub.push(event)
	}
	b.mu.Unlock()
}

// Forget drops any backlog held for a session.
func (b *Bus) Forget(sessionID schema.SessionID) {
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.backlog, sessionID)
	b.mu.Unlock()
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if subs := b.subs[sub.sessionID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, sub.sessionID)
		}
	}
	b.mu.Unlock()
	b.log.With("session", sub.sessionID).Debug("eventbus unsubscribe")
}

// Subscription is an ordered, unbounded stream of events for one session.
type Subscription struct {
	bus       *Bus
	sessionID schema.SessionID

	mu     sync.Mutex
	queue  []schema.OutputEvent
	closed bool
	notify chan struct{}
}

// SessionID returns the session the subscription is bound to.
func (s *Subscription) SessionID() schema.SessionID {
	return s.sessionID
}

// Next blocks until an event is available, the subscription is closed or ctx ends.
func (s *Subscription) Next(ctx context.Context) (schema.OutputEvent, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return schema.OutputEvent{}, ErrClosed
		}
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue[0] = schema.OutputEvent{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return event, nil
		}
		s.mu.Unlock()
		select {
		case <-s.notify:
		case <-ctx.Done():
			return schema.OutputEvent{}, ctx.Err()
		}
	}
}

// Close unsubscribes and wakes any pending Next. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.wake()
	if s.bus != nil {
		s.bus.unsubscribe(s)
	}
	return nil
}

func (s *Subscription) push(events ...schema.OutputEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, events...)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
