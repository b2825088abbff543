package core

import (
	"fmt"
	"strings"

	"pkt.systems/sessiondeck/schema"
)

// Tab is one addressable view. The set of implementations is closed; only
// TerminalTab is bound to a session.
type Tab interface {
	ID() schema.TabID
	Kind() schema.TabKind
	Title() string
	ServerID() schema.ServerID
	Snapshot(active bool) schema.TabSnapshot
	isTab()
}

// view holds the fields every tab kind carries. Titles are fixed at creation.
type view struct {
	id       schema.TabID
	title    string
	serverID schema.ServerID
}

func (v view) ID() schema.TabID          { return v.id }
func (v view) Title() string             { return v.title }
func (v view) ServerID() schema.ServerID { return v.serverID }
func (v view) isTab()                    {}

func (v view) snapshot(kind schema.TabKind, active bool) schema.TabSnapshot {
	return schema.TabSnapshot{
		ID:       v.id,
		Kind:     kind,
		Title:    v.title,
		ServerID: v.serverID,
		Active:   active,
	}
}

// TerminalTab is an interactive shell bound to a live session.
type TerminalTab struct {
	view
	sessionID schema.SessionID
}

// NewTerminalTab builds the terminal tab for a session.
func NewTerminalTab(sessionID schema.SessionID, serverID schema.ServerID, title string) TerminalTab {
	return TerminalTab{
		view:      view{id: TerminalTabID(sessionID), title: title, serverID: serverID},
		sessionID: sessionID,
	}
}

// SessionID returns the bound session.
func (t TerminalTab) SessionID() schema.SessionID { return t.sessionID }

// Kind implements Tab.
func (TerminalTab) Kind() schema.TabKind { return schema.TabKindTerminal }

// Snapshot implements Tab.
func (t TerminalTab) Snapshot(active bool) schema.TabSnapshot {
	snap := t.snapshot(schema.TabKindTerminal, active)
	snap.SessionID = t.sessionID
	return snap
}

// FileTransferTab browses a server's files.
type FileTransferTab struct{ view }

// NewFileTransferTab builds the file browser tab for a server.
func NewFileTransferTab(server schema.Server) FileTransferTab {
	return FileTransferTab{view{id: FileTransferTabID(server.ID), title: "SFTP: " + server.DisplayName(), serverID: server.ID}}
}

// Kind implements Tab.
func (FileTransferTab) Kind() schema.TabKind { return schema.TabKindFileTransfer }

// Snapshot implements Tab.
func (t FileTransferTab) Snapshot(active bool) schema.TabSnapshot {
	return t.snapshot(schema.TabKindFileTransfer, active)
}

// ClusterTab shows a server's cluster resources.
type ClusterTab struct{ view }

// NewClusterTab builds the cluster tab for a server.
func NewClusterTab(server schema.Server) ClusterTab {
	return ClusterTab{view{id: ClusterTabID(server.ID), title: "Cluster: " + server.DisplayName(), serverID: server.ID}}
}

// Kind implements Tab.
func (ClusterTab) Kind() schema.TabKind { return schema.TabKindCluster }

// Snapshot implements Tab.
func (t ClusterTab) Snapshot(active bool) schema.TabSnapshot {
	return t.snapshot(schema.TabKindCluster, active)
}

// ServerDetailTab edits a server record.
type ServerDetailTab struct{ view }

// NewServerDetailTab builds the edit tab for a server.
func NewServerDetailTab(server schema.Server) ServerDetailTab {
	return ServerDetailTab{view{id: ServerDetailTabID(server.ID), title: "Edit: " + server.DisplayName(), serverID: server.ID}}
}

// Kind implements Tab.
func (ServerDetailTab) Kind() schema.TabKind { return schema.TabKindServerDetail }

// Snapshot implements Tab.
func (t ServerDetailTab) Snapshot(active bool) schema.TabSnapshot {
	return t.snapshot(schema.TabKindServerDetail, active)
}

// SettingsTab is the settings singleton.
type SettingsTab struct{ view }

// NewSettingsTab builds the settings tab.
func NewSettingsTab() SettingsTab {
	return SettingsTab{view{id: SettingsTabID, title: "Settings"}}
}

// Kind implements Tab.
func (SettingsTab) Kind() schema.TabKind { return schema.TabKindSettings }

// Snapshot implements Tab.
func (t SettingsTab) Snapshot(active bool) schema.TabSnapshot {
	return t.snapshot(schema.TabKindSettings, active)
}

// SecretsTab is the keychain singleton.
type SecretsTab struct{ view }

// NewSecretsTab builds the keychain tab.
func NewSecretsTab() SecretsTab {
	return SecretsTab{view{id: SecretsTabID, title: "Secrets"}}
}

// Kind implements Tab.
func (SecretsTab) Kind() schema.TabKind { return schema.TabKindSecrets }

// Snapshot implements Tab.
func (t SecretsTab) Snapshot(active bool) schema.TabSnapshot {
	return t.snapshot(schema.TabKindSecrets, active)
}

// TabFromSnapshot rebuilds a persisted tab. Terminal tabs cannot be restored
// because their sessions do not outlive the process.
func TabFromSnapshot(snap schema.TabSnapshot) (Tab, error) {
	title := strings.TrimSpace(snap.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: tab %q has no title", schema.ErrInvalidTab, snap.ID)
	}
	switch snap.Kind {
	case schema.TabKindFileTransfer, schema.TabKindCluster, schema.TabKindServerDetail:
		if snap.ServerID == "" {
			return nil, fmt.Errorf("%w: tab %q has no server", schema.ErrInvalidTab, snap.ID)
		}
	}
	switch snap.Kind {
	case schema.TabKindFileTransfer:
		return FileTransferTab{view{id: FileTransferTabID(snap.ServerID), title: title, serverID: snap.ServerID}}, nil
	case schema.TabKindCluster:
		return ClusterTab{view{id: ClusterTabID(snap.ServerID), title: title, serverID: snap.ServerID}}, nil
	case schema.TabKindServerDetail:
		return ServerDetailTab{view{id: ServerDetailTabID(snap.ServerID), title: title, serverID: snap.ServerID}}, nil
	case schema.TabKindSettings:
		return NewSettingsTab(), nil
	case schema.TabKindSecrets:
		return NewSecretsTab(), nil
	case schema.TabKindTerminal:
		return nil, fmt.Errorf("%w: terminal tab %q cannot be restored", schema.ErrInvalidTab, snap.ID)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", schema.ErrInvalidTab, snap.Kind)
	}
}
