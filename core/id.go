package core

import "pkt.systems/sessiondeck/schema"

// Singleton tab ids.
const (
	SettingsTabID schema.TabID = "settings"
	SecretsTabID  schema.TabID = "secrets"
)

// TerminalTabID derives the tab id of a session's terminal.
func TerminalTabID(sessionID schema.SessionID) schema.TabID {
	return schema.TabID("terminal-" + string(sessionID))
}

// FileTransferTabID derives the tab id of a server's file browser.
func FileTransferTabID(serverID schema.ServerID) schema.TabID {
	return schema.TabID("sftp-" + string(serverID))
}

// ClusterTabID derives the tab id of a server's cluster view.
func ClusterTabID(serverID schema.ServerID) schema.TabID {
	return schema.TabID("k8s-" + string(serverID))
}

// ServerDetailTabID derives the tab id of a server's edit page.
func ServerDetailTabID(serverID schema.ServerID) schema.TabID {
	return schema.TabID("server-" + string(serverID))
}
