package core

import "pkt.systems/sessiondeck/schema"

// TabSink receives tab lifecycle events from the deck. Events are delivered
// outside the deck lock, in the order the mutations happened for one caller.
type TabSink interface {
	OnTabEvent(event schema.TabEvent)
}
