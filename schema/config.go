package schema

// DefaultClosedNotice is written to a terminal sink once the backend reports EOF.
const DefaultClosedNotice = "\r\n[Connection closed]\r\n"

// DefaultProfile names the persisted UI state used when no profile is set.
const DefaultProfile = "default"

// DeckConfig defines defaults for the session deck.
type DeckConfig struct {
	// StateDir enables UI state persistence when set.
	StateDir     string
	Profile      string
	ClosedNotice string
	// SidebarOpen is the initial sidebar state when nothing is persisted.
	SidebarOpen bool
}

// NormalizeDeckConfig applies defaults.
func NormalizeDeckConfig(cfg DeckConfig) (DeckConfig, error) {
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.ClosedNotice == "" {
		cfg.ClosedNotice = DefaultClosedNotice
	}
	return cfg, nil
}
