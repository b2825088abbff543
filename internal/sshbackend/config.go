package sshbackend

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultTermType is requested for every PTY unless configured otherwise.
	DefaultTermType = "xterm-256color"
	// DefaultCols is the initial PTY width.
	DefaultCols = 80
	// DefaultRows is the initial PTY height.
	DefaultRows = 24
	// DefaultKeepAlive is the interval between keepalive requests.
	DefaultKeepAlive = 30 * time.Second
	// DefaultDialTimeout bounds TCP connect plus handshake.
	DefaultDialTimeout = 15 * time.Second
	// DefaultEndedRetention is how long unread output of an ended session is kept.
	DefaultEndedRetention = 2 * time.Minute
)

// Config controls how sessions are dialed.
type Config struct {
	// KnownHostsPath is consulted for host key verification. Empty means ~/.ssh/known_hosts.
	KnownHostsPath string
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool
	// AgentSocket overrides SSH_AUTH_SOCK for agent authentication.
	AgentSocket string
	TermType    string
	Cols        int
	Rows        int
	KeepAlive   time.Duration
	DialTimeout time.Duration
	// EndedRetention bounds how long output of a session that reached EOF is held
	// for a subscriber that has not attached yet.
	EndedRetention time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.TermType) == "" {
		c.TermType = DefaultTermType
	}
	if c.Cols <= 0 {
		c.Cols = DefaultCols
	}
	if c.Rows <= 0 {
		c.Rows = DefaultRows
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.EndedRetention <= 0 {
		c.EndedRetention = DefaultEndedRetention
	}
	if strings.TrimSpace(c.KnownHostsPath) == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.KnownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	if strings.TrimSpace(c.AgentSocket) == "" {
		c.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}
	return c
}
