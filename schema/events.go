package schema

// OutputEvent is pushed by the backend for a session. Events are ordered within a
// session and unordered across sessions.
type OutputEvent struct {
	SessionID SessionID
	Data      []byte
	EOF       bool
}

// TabEventType describes a tab lifecycle change.
type TabEventType string

const (
	// TabEventOpened indicates a tab was appended.
	TabEventOpened TabEventType = "opened"
	// TabEventClosed indicates a tab was removed.
	TabEventClosed TabEventType = "closed"
	// TabEventActivated indicates the active pointer moved to an existing tab.
	TabEventActivated TabEventType = "activated"
)

// TabEvent notifies renderers about tab changes. ActiveTab is empty when the
// dashboard should be shown.
type TabEvent struct {
	Type      TabEventType
	Tab       TabSnapshot
	ActiveTab TabID
}
