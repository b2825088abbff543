package core

import (
	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/internal/persist"
)

// DeckDeps captures optional dependencies for the deck.
type DeckDeps struct {
	Backend Backend
	TabSink TabSink
	// Store overrides the state store built from DeckConfig.StateDir.
	Store  *persist.Store
	Logger pslog.Logger
}
