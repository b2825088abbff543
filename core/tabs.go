package core

import "pkt.systems/sessiondeck/schema"

// TabManager is an insertion-ordered, id-deduplicated set of tabs with at most
// one active tab. It is not safe for concurrent use; the deck serializes access.
type TabManager struct {
	tabs   map[schema.TabID]Tab
	order  []schema.TabID
	active schema.TabID
}

// NewTabManager constructs an empty tab manager.
func NewTabManager() *TabManager {
	return &TabManager{tabs: make(map[schema.TabID]Tab)}
}

// Open appends and activates tab. If a tab with the same id exists it is
// activated instead and the new descriptor is discarded. It returns the tab
// that is now active and whether it was appended.
func (m *TabManager) Open(tab Tab) (Tab, bool) {
	if existing, ok := m.tabs[tab.ID()]; ok {
		m.active = existing.ID()
		return existing, false
	}
	m.tabs[tab.ID()] = tab
	m.order = append(m.order, tab.ID())
	m.active = tab.ID()
	return tab, true
}

// Close removes a tab. When the active tab is closed the last remaining tab
// becomes active, or none when the set is empty.
func (m *TabManager) Close(id schema.TabID) (Tab, bool) {
	tab, ok := m.tabs[id]
	if !ok {
		return nil, false
	}
	delete(m.tabs, id)
	m.order = removeTabID(m.order, id)
	if m.active == id {
		m.active = ""
		if n := len(m.order); n > 0 {
			m.active = m.order[n-1]
		}
	}
	return tab, true
}

// Activate points the active tab at id. Unknown ids leave the state unchanged.
func (m *TabManager) Activate(id schema.TabID) bool {
	if _, ok := m.tabs[id]; !ok {
		return false
	}
	m.active = id
	return true
}

// ClearActive points the active tab at none, showing the dashboard.
func (m *TabManager) ClearActive() {
	m.active = ""
}

// Get returns the tab with id.
func (m *TabManager) Get(id schema.TabID) (Tab, bool) {
	tab, ok := m.tabs[id]
	return tab, ok
}

// Active returns the active tab id, or empty for the dashboard.
func (m *TabManager) Active() schema.TabID {
	return m.active
}

// List returns tabs in insertion order.
func (m *TabManager) List() []Tab {
	out := make([]Tab, 0, len(m.order))
	for _, id := range m.order {
		if tab, ok := m.tabs[id]; ok {
			out = append(out, tab)
		}
	}
	return out
}

// Snapshots returns tab snapshots in insertion order.
func (m *TabManager) Snapshots() []schema.TabSnapshot {
	out := make([]schema.TabSnapshot, 0, len(m.order))
	for _, tab := range m.List() {
		out = append(out, tab.Snapshot(tab.ID() == m.active))
	}
	return out
}

// TerminalFor returns the terminal tab bound to serverID, if any.
func (m *TabManager) TerminalFor(serverID schema.ServerID) (TerminalTab, bool) {
	for _, id := range m.order {
		if term, ok := m.tabs[id].(TerminalTab); ok && term.ServerID() == serverID {
			return term, true
		}
	}
	return TerminalTab{}, false
}

// Len returns the number of open tabs.
func (m *TabManager) Len() int {
	return len(m.order)
}

func removeTabID(order []schema.TabID, id schema.TabID) []schema.TabID {
	for i, current := range order {
		if current == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
