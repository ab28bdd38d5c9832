// Package backup snapshots the database file and uploads directory into
// timestamped, self-describing directories under the backups directory, and
// restores them back over the live files. Snapshots are immutable once
// written; only retention pruning ever deletes them.
package backup

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/interview-atlas/atlas/internal/paths"
)

// ErrNothingToBackUp is returned by Archive when neither the database file
// nor the uploads directory exists on disk.
var ErrNothingToBackUp = errors.New("nothing to back up")

// ManifestFileName is the snapshot manifest written next to the copied data.
const ManifestFileName = "manifest.json"

// DefaultKeep is the retention count applied when Engine.Keep is zero.
const DefaultKeep = 5

// Manifest describes a snapshot. It is written as manifest.json inside the
// snapshot directory.
type Manifest struct {
	CreatedAt     string `json:"created_at"`
	Reason        string `json:"reason"`
	AppVersion    string `json:"app_version"`
	SchemaVersion int    `json:"schema_version"`
	DBPath        string `json:"db_path"`
	UploadsDir    string `json:"uploads_dir"`
}

// Engine creates, restores, and prunes snapshots for one data directory.
// DBPath and UploadsDir are the effective live locations, which may differ
// from the defaults when the database URL or uploads directory is overridden.
type Engine struct {
	DBPath     string
	UploadsDir string
	BackupsDir string
	AppVersion string

	// Keep is the retention count; zero means DefaultKeep.
	Keep int

	// Logger receives best-effort failure notices (pruning). Nil falls
	// back to slog.Default().
	Logger *slog.Logger
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) keep() int {
	if e.Keep > 0 {
		return e.Keep
	}
	return DefaultKeep
}

// sanitizeReason restricts a backup reason to characters that are safe in a
// directory name.
func sanitizeReason(reason string) string {
	var b strings.Builder
	for _, r := range reason {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "backup"
	}
	return b.String()
}

// snapshotName builds the timestamped directory name. The UTC timestamp
// prefix makes lexicographic order chronological, which retention relies on.
func snapshotName(reason string, now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + sanitizeReason(reason)
}

// claimSnapshotDir creates a fresh directory for the named snapshot. Two
// snapshots taken within the same second would collide on the timestamped
// name, so a numeric suffix is appended until Mkdir succeeds; existing
// snapshots are never reused or overwritten.
func (e *Engine) claimSnapshotDir(name string) (string, error) {
	if err := os.MkdirAll(e.BackupsDir, 0o755); err != nil {
		return "", err
	}
	dir := filepath.Join(e.BackupsDir, name)
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
		dir = filepath.Join(e.BackupsDir, fmt.Sprintf("%s-%d", name, i))
	}
}

// Create snapshots the live data into a new directory under BackupsDir and
// returns its path. It returns "" and no error when neither the database
// file nor the uploads directory exists on disk. After a successful snapshot
// the retention pass runs.
func (e *Engine) Create(reason string, schemaVersion int) (string, error) {
	dbExists := FileExists(e.DBPath)
	uploadsExist := DirExists(e.UploadsDir)
	if !dbExists && !uploadsExist {
		return "", nil
	}

	dir, err := e.claimSnapshotDir(snapshotName(reason, time.Now()))
	if err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	if dbExists {
		dest := filepath.Join(dir, paths.DBFileName)
		if err := snapshotSQLite(e.DBPath, dest); err != nil {
			return "", fmt.Errorf("snapshot database: %w", err)
		}
	}

	if uploadsExist {
		dest := filepath.Join(dir, paths.UploadsDirName)
		if err := CopyTree(e.UploadsDir, dest); err != nil {
			return "", fmt.Errorf("copy uploads: %w", err)
		}
	}

	manifest := Manifest{
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Reason:        reason,
		AppVersion:    e.AppVersion,
		SchemaVersion: schemaVersion,
		DBPath:        e.DBPath,
		UploadsDir:    e.UploadsDir,
	}
	if err := writeManifest(filepath.Join(dir, ManifestFileName), manifest); err != nil {
		return "", err
	}

	e.Prune(e.keep())
	return dir, nil
}

// Restore copies a snapshot's database file over the live path and replaces
// the live uploads directory wholesale with the snapshot's uploads tree.
// Pieces absent from the snapshot leave the live side untouched. A missing
// snapshot directory is a no-op.
func (e *Engine) Restore(snapshotDir string) error {
	if !DirExists(snapshotDir) {
		return nil
	}

	backupDB := filepath.Join(snapshotDir, paths.DBFileName)
	if FileExists(backupDB) {
		if err := os.MkdirAll(filepath.Dir(e.DBPath), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
		if err := CopyFile(backupDB, e.DBPath); err != nil {
			return fmt.Errorf("restore database: %w", err)
		}
	}

	backupUploads := filepath.Join(snapshotDir, paths.UploadsDirName)
	if DirExists(backupUploads) {
		if err := os.RemoveAll(e.UploadsDir); err != nil {
			return fmt.Errorf("clear uploads: %w", err)
		}
		if err := CopyTree(backupUploads, e.UploadsDir); err != nil {
			return fmt.Errorf("restore uploads: %w", err)
		}
	}

	return nil
}

// Prune deletes snapshots beyond the newest keep, ordered by name. Snapshot
// directories and exported zip archives are retained as separate classes so
// an export burst cannot evict every directory snapshot. Deletion failures
// are logged and swallowed: retention is housekeeping and must never block a
// backup or restore.
func (e *Engine) Prune(keep int) {
	entries, err := os.ReadDir(e.BackupsDir)
	if err != nil {
		return
	}

	var dirs, archives []string
	for _, entry := range entries {
		switch {
		case entry.IsDir():
			dirs = append(dirs, entry.Name())
		case strings.HasSuffix(entry.Name(), ".zip"):
			archives = append(archives, entry.Name())
		}
	}
	e.pruneNames(dirs, keep)
	e.pruneNames(archives, keep)
}

func (e *Engine) pruneNames(names []string, keep int) {
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names[min(keep, len(names)):] {
		path := filepath.Join(e.BackupsDir, name)
		if err := os.RemoveAll(path); err != nil {
			e.logger().Debug("prune failed", "snapshot", path, "error", err)
		}
	}
}

// List returns the snapshot directory paths under BackupsDir, newest first.
func (e *Engine) List() ([]string, error) {
	entries, err := os.ReadDir(e.BackupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			out = append(out, filepath.Join(e.BackupsDir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// snapshotSQLite copies a SQLite database using VACUUM INTO, which produces
// a consistent point-in-time copy even while the live database has open
// connections. A raw file copy could capture a torn write.
func snapshotSQLite(source, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return err
	}

	db, err := sql.Open("sqlite", source)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec("VACUUM INTO ?", dest); err != nil {
		return err
	}
	return nil
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DirExists reports whether path names an existing directory.
func DirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
