package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/schema"
)

// DefaultProfile names the UI state file used when no profile is given.
const DefaultProfile = schema.DefaultProfile

// UISnapshot captures UI preferences for persistence. Terminal tabs are not
// stored since their sessions do not survive a restart.
type UISnapshot struct {
	Tabs        []schema.TabSnapshot `json:"tabs"`
	ActiveTab   schema.TabID         `json:"active_tab,omitempty"`
	SidebarOpen bool                 `json:"sidebar_open"`
}

// Store persists UI snapshots to disk.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads a profile snapshot from disk. A missing file is not an error.
func (s *Store) Load(profile string) (UISnapshot, bool, error) {
	path := s.pathForProfile(profile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("state load miss", "profile", profile)
			return UISnapshot{}, false, nil
		}
		s.warn("state load failed", profile, err)
		return UISnapshot{}, false, err
	}
	var snapshot UISnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.warn("state load failed", profile, err)
		return UISnapshot{}, false, err
	}
	s.debug("state load ok", "profile", profile, "tabs", len(snapshot.Tabs))
	return snapshot, true, nil
}

// Save atomically writes a profile snapshot to disk.
func (s *Store) Save(profile string, snapshot UISnapshot) error {
	path := s.pathForProfile(profile)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		s.warn("state save failed", profile, err)
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.warn("state save failed", profile, err)
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		s.warn("state save failed", profile, err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "profile", profile, "tabs", len(snapshot.Tabs))
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) debug(msg string, keyvals ...any) {
	if s.log != nil {
		s.log.Debug(msg, keyvals...)
	}
}

func (s *Store) warn(msg, profile string, err error) {
	if s.log != nil {
		s.log.Warn(msg, "profile", profile, "err", err)
	}
}

func (s *Store) pathForProfile(profile string) string {
	name := sanitize(profile)
	if name == "" {
		name = DefaultProfile
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
