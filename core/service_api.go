package core

import (
	"context"
	"io"

	"pkt.systems/sessiondeck/schema"
)

// Deck is the transport-agnostic API used by renderers to manage remote
// sessions and their tabs.
type Deck interface {
	Connect(ctx context.Context, req schema.ConnectRequest) (schema.ConnectResponse, error)
	Disconnect(ctx context.Context, sessionID schema.SessionID)
	AttachTerminal(ctx context.Context, sessionID schema.SessionID, sink io.Writer, onDisconnect func()) (*Bridge, error)

	OpenTab(ctx context.Context, tab Tab) (schema.TabSnapshot, error)
	CloseTab(ctx context.Context, id schema.TabID) bool
	ActivateTab(ctx context.Context, id schema.TabID) bool
	ListTabs() []schema.TabSnapshot
	ActiveTabID() schema.TabID

	SetSidebarOpen(ctx context.Context, open bool)
	State() schema.StateSnapshot
	Close(ctx context.Context) error
}
