package schema

// TabSnapshot is a read-only view of a tab for renderers and persistence.
type TabSnapshot struct {
	ID        TabID     `json:"id"`
	Kind      TabKind   `json:"kind"`
	Title     string    `json:"title"`
	ServerID  ServerID  `json:"server_id,omitempty"`
	SessionID SessionID `json:"session_id,omitempty"`
	Active    bool      `json:"active,omitempty"`
}

// SessionSnapshot is a read-only view of a session registry entry.
type SessionSnapshot struct {
	ID        SessionID `json:"id"`
	ServerID  ServerID  `json:"server_id"`
	Connected bool      `json:"connected"`
}

// StateSnapshot is a point-in-time copy of the deck state. It must not be held
// across a backend call.
type StateSnapshot struct {
	Tabs        []TabSnapshot     `json:"tabs"`
	ActiveTab   TabID             `json:"active_tab,omitempty"`
	Sessions    []SessionSnapshot `json:"sessions,omitempty"`
	Connecting  []ServerID        `json:"connecting,omitempty"`
	SidebarOpen bool              `json:"sidebar_open"`
}
