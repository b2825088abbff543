package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/sessiondeck/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	Deck          DeckConfig    `mapstructure:"deck" yaml:"deck"`
	Backend       BackendConfig `mapstructure:"backend" yaml:"backend"`
	Hosts         HostsConfig   `mapstructure:"hosts" yaml:"hosts"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// DeckConfig controls the session deck and its persisted UI state.
type DeckConfig struct {
	Profile      string `mapstructure:"profile" yaml:"profile"`
	ClosedNotice string `mapstructure:"closed_notice" yaml:"closed_notice"`
	SidebarOpen  bool   `mapstructure:"sidebar_open" yaml:"sidebar_open"`
}

// BackendConfig configures the privileged backend and its socket.
type BackendConfig struct {
	SocketPath               string `mapstructure:"socket_path" yaml:"socket_path"`
	KnownHostsPath           string `mapstructure:"known_hosts_path" yaml:"known_hosts_path"`
	InsecureIgnoreHostKey    bool   `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
	AgentSocket              string `mapstructure:"agent_socket" yaml:"agent_socket"`
	TermType                 string `mapstructure:"term_type" yaml:"term_type"`
	SSHKeepaliveSeconds      int    `mapstructure:"ssh_keepalive_seconds" yaml:"ssh_keepalive_seconds"`
	DialTimeoutSeconds       int    `mapstructure:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	KeepaliveIntervalSeconds int    `mapstructure:"keepalive_interval_seconds" yaml:"keepalive_interval_seconds"`
	KeepaliveMisses          int    `mapstructure:"keepalive_misses" yaml:"keepalive_misses"`
}

// HostsConfig locates the server record database.
type HostsConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// DeckSettings converts the deck section into schema.DeckConfig.
func (c Config) DeckSettings() schema.DeckConfig {
	return schema.DeckConfig{
		StateDir:     c.StateDir,
		Profile:      c.Deck.Profile,
		ClosedNotice: c.Deck.ClosedNotice,
		SidebarOpen:  c.Deck.SidebarOpen,
	}
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	base := filepath.Join(home, ".sessiondeck")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(base, "state"),
		Deck: DeckConfig{
			Profile:      schema.DefaultProfile,
			ClosedNotice: schema.DefaultClosedNotice,
			SidebarOpen:  true,
		},
		Backend: BackendConfig{
			SocketPath:               filepath.Join(base, "state", "backend.sock"),
			KnownHostsPath:           filepath.Join(home, ".ssh", "known_hosts"),
			InsecureIgnoreHostKey:    false,
			AgentSocket:              "",
			TermType:                 "xterm-256color",
			SSHKeepaliveSeconds:      30,
			DialTimeoutSeconds:       15,
			KeepaliveIntervalSeconds: 0,
			KeepaliveMisses:          3,
		},
		Hosts: HostsConfig{
			DBPath: filepath.Join(base, "hosts.db"),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sessiondeck", "config.yaml"), nil
}
