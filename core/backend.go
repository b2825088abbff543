package core

import (
	"context"

	"pkt.systems/sessiondeck/schema"
)

// Backend is the privileged process that owns the network protocol. The deck is
// its only caller.
//
// A transport either echoes input synchronously through the SendInput response
// or pushes it through the session's event stream, never both.
type Backend interface {
	Connect(ctx context.Context, req schema.BackendConnectRequest) (schema.BackendConnectResponse, error)
	Disconnect(ctx context.Context, sessionID schema.SessionID) error
	SendInput(ctx context.Context, sessionID schema.SessionID, data []byte) (schema.InputResponse, error)
	Resize(ctx context.Context, req schema.ResizeRequest) error
	Subscribe(sessionID schema.SessionID) Subscription
}

// Subscription is an ordered stream of output events for a single session.
type Subscription interface {
	Next(ctx context.Context) (schema.OutputEvent, error)
	Close() error
}
