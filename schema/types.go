package schema

// ServerID identifies a stored server record.
type ServerID string

// SessionID identifies a live backend session. It is opaque and assigned by the backend.
type SessionID string

// TabID identifies a tab.
type TabID string

// TabKind is the closed set of view kinds a tab can have.
type TabKind string

const (
	// TabKindTerminal is an interactive shell bound to a session.
	TabKindTerminal TabKind = "terminal"
	// TabKindFileTransfer is a file browser for a server.
	TabKindFileTransfer TabKind = "sftp"
	// TabKindCluster is a cluster view for a server.
	TabKindCluster TabKind = "k8s"
	// TabKindServerDetail is the edit page of a server record.
	TabKindServerDetail TabKind = "server"
	// TabKindSettings is the settings singleton.
	TabKindSettings TabKind = "settings"
	// TabKindSecrets is the keychain singleton.
	TabKindSecrets TabKind = "secrets"
)

// Protocol is the protocol a server record is reached with.
type Protocol string

const (
	// ProtocolSSH is an interactive shell over SSH.
	ProtocolSSH Protocol = "ssh"
	// ProtocolSFTP is file transfer over SSH.
	ProtocolSFTP Protocol = "sftp"
	// ProtocolFTP is plain FTP.
	ProtocolFTP Protocol = "ftp"
)

// DefaultSSHPort is used when a server record omits the port.
const DefaultSSHPort = 22

// Server is a stored server record. The core only reads it.
type Server struct {
	ID       ServerID
	Name     string
	Host     string
	Port     int
	Username string
	Protocol Protocol
	Tags     []string
}

// DisplayName returns the label used for tab titles.
func (s Server) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Host != "" {
		return s.Host
	}
	return string(s.ID)
}
