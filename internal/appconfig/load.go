package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("deck.profile", cfg.Deck.Profile)
	v.SetDefault("deck.closed_notice", cfg.Deck.ClosedNotice)
	v.SetDefault("deck.sidebar_open", cfg.Deck.SidebarOpen)
	v.SetDefault("backend.socket_path", cfg.Backend.SocketPath)
	v.SetDefault("backend.known_hosts_path", cfg.Backend.KnownHostsPath)
	v.SetDefault("backend.insecure_ignore_host_key", cfg.Backend.InsecureIgnoreHostKey)
	v.SetDefault("backend.agent_socket", cfg.Backend.AgentSocket)
	v.SetDefault("backend.term_type", cfg.Backend.TermType)
	v.SetDefault("backend.ssh_keepalive_seconds", cfg.Backend.SSHKeepaliveSeconds)
	v.SetDefault("backend.dial_timeout_seconds", cfg.Backend.DialTimeoutSeconds)
	v.SetDefault("backend.keepalive_interval_seconds", cfg.Backend.KeepaliveIntervalSeconds)
	v.SetDefault("backend.keepalive_misses", cfg.Backend.KeepaliveMisses)
	v.SetDefault("hosts.db_path", cfg.Hosts.DBPath)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		// IsSet is always true once a default exists; only the file counts here.
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Backend.SocketPath) == "" {
		return fmt.Errorf("backend.socket_path is required")
	}
	if strings.TrimSpace(cfg.Hosts.DBPath) == "" {
		return fmt.Errorf("hosts.db_path is required")
	}
	if cfg.Backend.SSHKeepaliveSeconds < 0 || cfg.Backend.DialTimeoutSeconds < 0 || cfg.Backend.KeepaliveIntervalSeconds < 0 {
		return fmt.Errorf("backend durations must not be negative")
	}
	if cfg.Backend.KeepaliveIntervalSeconds > 0 && cfg.Backend.KeepaliveMisses <= 0 {
		return fmt.Errorf("backend.keepalive_misses must be positive when backend.keepalive_interval_seconds is set")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Backend.SocketPath = expandEnv(cfg.Backend.SocketPath)
	cfg.Backend.KnownHostsPath = expandEnv(cfg.Backend.KnownHostsPath)
	cfg.Backend.AgentSocket = expandEnv(cfg.Backend.AgentSocket)
	cfg.Hosts.DBPath = expandEnv(cfg.Hosts.DBPath)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
