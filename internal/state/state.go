// Package state persists the small per-data-directory record describing the
// outcome of the previous run. The file is the only durable memory the
// lifecycle controller has across process restarts, so loading is deliberately
// forgiving: a missing or corrupt file degrades to first-run defaults instead
// of failing startup.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State mirrors the on-disk state.json record. Field names are stable so
// newer versions can add fields without breaking older readers; unknown
// fields are ignored on load and missing fields keep their defaults.
type State struct {
	SchemaVersion  int     `json:"schema_version"`
	LastRunVersion *string `json:"last_run_version"`
	LastRunOK      bool    `json:"last_run_ok"`
	LastStart      *string `json:"last_start"`
	LastShutdown   *string `json:"last_shutdown"`
	LastBackup     *string `json:"last_backup"`
	RollbackUsed   bool    `json:"rollback_used"`
	LastError      *string `json:"last_error"`
	LegacyMigrated bool    `json:"legacy_migrated"`
}

// Defaults returns the first-run state. last_run_ok starts true so a brand
// new data directory is not mistaken for a crashed one.
func Defaults() State {
	return State{
		SchemaVersion: 0,
		LastRunOK:     true,
	}
}

// Phase is the logical lifecycle phase reconstructed from the persisted
// flags. Only the between-runs phases are observable on disk; the in-process
// ones (prepared, migrating, running) live in the Manager.
type Phase int

const (
	// PhaseFresh means no run has ever recorded a start.
	PhaseFresh Phase = iota
	// PhaseClean means the previous run reached MarkShutdown.
	PhaseClean
	// PhaseCrashed means the previous run started but never shut down cleanly.
	PhaseCrashed
)

// String implements fmt.Stringer for log output.
func (p Phase) String() string {
	switch p {
	case PhaseFresh:
		return "fresh"
	case PhaseClean:
		return "clean"
	case PhaseCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Phase derives the lifecycle phase from the flag combination.
func (s State) Phase() Phase {
	if s.LastStart == nil {
		return PhaseFresh
	}
	if s.LastRunOK {
		return PhaseClean
	}
	return PhaseCrashed
}

// NowUTC returns the current instant formatted the way state timestamps are
// stored.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Str returns a pointer to v, for filling the nullable state fields.
func Str(v string) *string {
	return &v
}

// Store reads and writes the state file at a fixed path.
type Store struct {
	path string
}

// NewStore returns a Store for the given state file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (st *Store) Path() string {
	return st.path
}

// Load reads the state file. A missing file, unreadable file, or malformed
// content all yield Defaults; Load never fails.
func (st *Store) Load() State {
	data, err := os.ReadFile(st.path)
	if err != nil {
		return Defaults()
	}

	s := Defaults()
	if err := json.Unmarshal(data, &s); err != nil {
		return Defaults()
	}
	if s.SchemaVersion < 0 {
		s.SchemaVersion = 0
	}
	return s
}

// Save writes the full state as pretty JSON, creating parent directories as
// needed. The write goes to a temporary file in the same directory which is
// then renamed into place, so a crash mid-write cannot leave a truncated
// state file behind.
func (st *Store) Save(s State) error {
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(st.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state: %w", err)
	}

	if err := os.Rename(tmpName, st.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
