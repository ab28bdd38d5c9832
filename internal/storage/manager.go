// Package storage orchestrates the data-directory lifecycle: startup
// preparation, legacy imports, crash rollback detection, versioned schema
// migrations with per-migration backups, and the clean-shutdown mark.
//
// A Manager is constructed explicitly by the process bootstrap and handed to
// whoever needs it; there is no process-wide singleton. Prepare and
// ApplyMigrations run once, sequentially, during startup and are not safe to
// call concurrently with themselves.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/interview-atlas/atlas/internal/backup"
	"github.com/interview-atlas/atlas/internal/migrate"
	"github.com/interview-atlas/atlas/internal/paths"
	"github.com/interview-atlas/atlas/internal/state"
)

// ErrNotPrepared is returned when a lifecycle operation runs before Prepare.
var ErrNotPrepared = errors.New("storage manager not prepared")

// MigrationError reports a failed schema migration. The process must treat
// it as fatal: the live data has been restored to the pre-migration snapshot,
// but serving against a schema the process does not fully understand is
// unsafe.
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration_failed:%d:%v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// runPhase tracks the in-process lifecycle position. Only the between-runs
// phases are persisted (through the state flags); these exist so transitions
// can be logged and asserted in tests.
type runPhase int

const (
	phaseUninitialized runPhase = iota
	phasePrepared
	phaseMigrating
	phaseRunning
	phaseShutDown
)

func (p runPhase) String() string {
	switch p {
	case phaseUninitialized:
		return "uninitialized"
	case phasePrepared:
		return "prepared"
	case phaseMigrating:
		return "migrating"
	case phaseRunning:
		return "running"
	case phaseShutDown:
		return "shut_down"
	default:
		return "unknown"
	}
}

// Manager owns one data directory for the lifetime of the process.
type Manager struct {
	appName    string
	appVersion string
	paths      paths.StoragePaths
	store      *state.Store
	registry   *migrate.Registry
	legacyDir  string
	keep       int
	logger     *slog.Logger

	// Set by Prepare.
	dbPath     string
	uploadsDir string
	engine     *backup.Engine
	st         state.State
	phase      runPhase
}

// Option configures a Manager.
type Option func(*Manager)

// WithPaths overrides the resolved storage paths. Tests use this to point a
// Manager at a temporary directory.
func WithPaths(p paths.StoragePaths) Option {
	return func(mgr *Manager) { mgr.paths = p }
}

// WithRegistry overrides the migration registry.
func WithRegistry(r *migrate.Registry) Option {
	return func(mgr *Manager) { mgr.registry = r }
}

// WithLegacyDir sets the predecessor-layout data directory checked by the
// one-time legacy import. Empty disables the import.
func WithLegacyDir(dir string) Option {
	return func(mgr *Manager) { mgr.legacyDir = dir }
}

// WithBackupKeep sets the snapshot retention count.
func WithBackupKeep(keep int) Option {
	return func(mgr *Manager) { mgr.keep = keep }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(mgr *Manager) { mgr.logger = logger }
}

// NewManager builds a Manager for the given application identity. Paths are
// resolved from the environment unless overridden; nothing is created on disk
// until Prepare.
func NewManager(appName, appVersion string, opts ...Option) (*Manager, error) {
	mgr := &Manager{
		appName:    appName,
		appVersion: appVersion,
		registry:   migrate.Default(),
		legacyDir:  "data",
		keep:       backup.DefaultKeep,
		logger:     slog.Default(),
		phase:      phaseUninitialized,
		st:         state.Defaults(),
	}
	for _, opt := range opts {
		opt(mgr)
	}

	if mgr.paths == (paths.StoragePaths{}) {
		p, err := paths.Resolve(appName)
		if err != nil {
			return nil, fmt.Errorf("resolve storage paths: %w", err)
		}
		mgr.paths = p
	}
	mgr.store = state.NewStore(mgr.paths.StatePath)
	return mgr, nil
}

// Paths returns the resolved storage paths.
func (mgr *Manager) Paths() paths.StoragePaths {
	return mgr.paths
}

// State returns a copy of the current persisted state.
func (mgr *Manager) State() state.State {
	return mgr.st
}

// DBPath returns the effective database file path, which differs from the
// default when the database URL points elsewhere. Empty until Prepare.
func (mgr *Manager) DBPath() string {
	return mgr.dbPath
}

// UploadsDir returns the effective uploads directory. Empty until Prepare.
func (mgr *Manager) UploadsDir() string {
	return mgr.uploadsDir
}

// resolveSQLitePath extracts a local database file path from a database URL.
// It returns "" when the URL does not reference an on-disk SQLite database
// (empty URL falls back to the default path; :memory: and foreign schemes
// have no file to back up).
func resolveSQLitePath(databaseURL string) (string, error) {
	if databaseURL == "" {
		return "", nil
	}

	var dbName string
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		// sqlite:///relative.db and sqlite:////abs.db, SQLAlchemy style.
		dbName = strings.TrimPrefix(databaseURL, "sqlite://")
		dbName = strings.TrimPrefix(dbName, "/")
	case strings.HasPrefix(databaseURL, "file:"):
		dbName = strings.TrimPrefix(databaseURL, "file:")
		if i := strings.IndexByte(dbName, '?'); i >= 0 {
			dbName = dbName[:i]
		}
	case strings.Contains(databaseURL, "://"):
		// Not a local SQLite database.
		return "", nil
	default:
		dbName = databaseURL
	}

	if dbName == "" || dbName == ":memory:" {
		return "", nil
	}
	return filepath.Abs(dbName)
}

// Prepare readies the data directory for this run: resolves effective paths,
// creates the base directories, imports legacy data once, reverts a crashed
// version upgrade, snapshots before a new upgrade, and finally marks the run
// dirty in persisted state. It must complete before any request serving.
func (mgr *Manager) Prepare(databaseURL, uploadsDir string) error {
	dbPath, err := resolveSQLitePath(databaseURL)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	if dbPath == "" {
		dbPath = mgr.paths.DBPath
	}
	if uploadsDir == "" {
		uploadsDir = mgr.paths.UploadsDir
	}
	mgr.dbPath = dbPath
	mgr.uploadsDir = uploadsDir

	for _, dir := range []string{mgr.paths.BaseDir, mgr.paths.BackupsDir, filepath.Dir(mgr.paths.MetricsPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	mgr.engine = &backup.Engine{
		DBPath:     mgr.dbPath,
		UploadsDir: mgr.uploadsDir,
		BackupsDir: mgr.paths.BackupsDir,
		AppVersion: mgr.appVersion,
		Keep:       mgr.keep,
		Logger:     mgr.logger,
	}

	st := mgr.store.Load()
	mgr.logger.Info("storage prepare",
		"data_dir", mgr.paths.BaseDir,
		"previous_phase", st.Phase().String(),
		"previous_version", strOrEmpty(st.LastRunVersion))

	if !st.LegacyMigrated {
		if err := mgr.importLegacyData(&st); err != nil {
			return err
		}
	}

	if err := mgr.maybeRollback(&st); err != nil {
		return err
	}

	if st.LastRunVersion != nil && *st.LastRunVersion != mgr.appVersion {
		b, err := mgr.engine.Create("pre_update", st.SchemaVersion)
		if err != nil {
			return fmt.Errorf("pre-update backup: %w", err)
		}
		if b != "" {
			st.LastBackup = state.Str(b)
			mgr.logger.Info("pre-update backup created", "snapshot", b,
				"from_version", *st.LastRunVersion, "to_version", mgr.appVersion)
		}
	}

	st.LastRunOK = false
	st.LastRunVersion = state.Str(mgr.appVersion)
	st.LastStart = state.Str(state.NowUTC())
	st.LastError = nil
	if err := mgr.store.Save(st); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	mgr.st = st
	mgr.phase = phasePrepared
	return nil
}

// importLegacyData performs the one-time copy from the predecessor storage
// layout. The legacy_migrated flag is set and persisted immediately so the
// import never repeats even if a later startup step fails.
func (mgr *Manager) importLegacyData(st *state.State) error {
	if mgr.legacyDir != "" {
		legacyDB := filepath.Join(mgr.legacyDir, paths.DBFileName)
		legacyUploads := filepath.Join(mgr.legacyDir, paths.UploadsDirName)

		if backup.FileExists(legacyDB) && !backup.FileExists(mgr.dbPath) {
			if err := os.MkdirAll(filepath.Dir(mgr.dbPath), 0o755); err != nil {
				return fmt.Errorf("create database directory: %w", err)
			}
			if err := backup.CopyFile(legacyDB, mgr.dbPath); err != nil {
				return fmt.Errorf("import legacy database: %w", err)
			}
			mgr.logger.Info("imported legacy database", "from", legacyDB)
		}

		if backup.DirExists(legacyUploads) && !backup.DirExists(mgr.uploadsDir) {
			if err := backup.CopyTree(legacyUploads, mgr.uploadsDir); err != nil {
				return fmt.Errorf("import legacy uploads: %w", err)
			}
			mgr.logger.Info("imported legacy uploads", "from", legacyUploads)
		}
	}

	st.LegacyMigrated = true
	if err := mgr.store.Save(*st); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// maybeRollback reverts the live data to the last recorded backup when the
// previous run crashed mid version-upgrade: last run not clean, a backup is
// recorded, and the version that crashed differs from the one now starting.
// A crash of the same version is deliberately left alone — reverting it would
// silently discard legitimate edits from that session.
func (mgr *Manager) maybeRollback(st *state.State) error {
	if st.LastRunOK || st.LastBackup == nil || st.LastRunVersion == nil {
		return nil
	}
	if *st.LastRunVersion == mgr.appVersion {
		return nil
	}

	mgr.logger.Warn("version upgrade crashed, restoring backup",
		"crashed_version", *st.LastRunVersion,
		"current_version", mgr.appVersion,
		"snapshot", *st.LastBackup)

	if err := mgr.engine.Restore(*st.LastBackup); err != nil {
		return fmt.Errorf("rollback restore: %w", err)
	}
	st.RollbackUsed = true
	return nil
}

// ApplyMigrations runs every pending schema migration in ascending order,
// each wrapped in its own backup. On failure the pre-migration snapshot is
// restored, the error is recorded in persisted state, and a *MigrationError
// is returned; the caller must abort startup. Partial progress survives: a
// later migration's failure does not undo earlier successful versions.
func (mgr *Manager) ApplyMigrations(db *sql.DB) error {
	if mgr.phase == phaseUninitialized {
		return ErrNotPrepared
	}

	current := mgr.st.SchemaVersion
	target := mgr.registry.SchemaVersion()
	if current >= target {
		mgr.phase = phaseRunning
		return nil
	}

	mgr.phase = phaseMigrating
	mgr.logger.Info("applying schema migrations", "from", current, "to", target)

	for _, migration := range mgr.registry.Pending(current) {
		snapshot, err := mgr.engine.Create(fmt.Sprintf("schema_v%d", migration.Version), current)
		if err != nil {
			return fmt.Errorf("backup before migration %d: %w", migration.Version, err)
		}

		if err := migration.Apply(db); err != nil {
			mErr := &MigrationError{Version: migration.Version, Err: err}
			mgr.st.LastError = state.Str(mErr.Error())
			if saveErr := mgr.store.Save(mgr.st); saveErr != nil {
				mgr.logger.Error("persist migration failure", "error", saveErr)
			}
			if snapshot != "" {
				if restoreErr := mgr.engine.Restore(snapshot); restoreErr != nil {
					mgr.logger.Error("restore after failed migration", "snapshot", snapshot, "error", restoreErr)
				}
			}
			return mErr
		}

		current = migration.Version
		mgr.st.SchemaVersion = current
		if snapshot != "" {
			mgr.st.LastBackup = state.Str(snapshot)
		}
		if err := mgr.store.Save(mgr.st); err != nil {
			return fmt.Errorf("persist state after migration %d: %w", migration.Version, err)
		}
		mgr.logger.Info("migration applied", "version", migration.Version, "name", migration.Name)
	}

	mgr.phase = phaseRunning
	return nil
}

// MarkShutdown records a clean shutdown. It is the only place last_run_ok
// becomes true; any abnormal termination skips it, and the next Prepare sees
// the crash.
func (mgr *Manager) MarkShutdown() error {
	if mgr.phase == phaseUninitialized {
		return ErrNotPrepared
	}

	mgr.st.LastRunOK = true
	mgr.st.LastShutdown = state.Str(state.NowUTC())
	if err := mgr.store.Save(mgr.st); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	mgr.phase = phaseShutDown
	return nil
}

// CreateBackup snapshots the live data for the given reason and records it
// as the last backup. It returns "" when there is nothing on disk to back up.
func (mgr *Manager) CreateBackup(reason string) (string, error) {
	if mgr.engine == nil {
		return "", ErrNotPrepared
	}
	dir, err := mgr.engine.Create(reason, mgr.st.SchemaVersion)
	if err != nil {
		return "", err
	}
	if dir != "" {
		mgr.st.LastBackup = state.Str(dir)
		if err := mgr.store.Save(mgr.st); err != nil {
			return "", fmt.Errorf("persist state: %w", err)
		}
	}
	return dir, nil
}

// CreateBackupArchive snapshots the live data and packages it as a single
// zip file. It fails with backup.ErrNothingToBackUp on an empty directory.
func (mgr *Manager) CreateBackupArchive(reason string) (string, error) {
	if mgr.engine == nil {
		return "", ErrNotPrepared
	}
	return mgr.engine.Archive(reason, mgr.st.SchemaVersion)
}

// RestoreBackup restores the given snapshot over the live data.
func (mgr *Manager) RestoreBackup(snapshotDir string) error {
	if mgr.engine == nil {
		return ErrNotPrepared
	}
	return mgr.engine.Restore(snapshotDir)
}

// ListBackups returns the snapshot directories, newest first.
func (mgr *Manager) ListBackups() ([]string, error) {
	if mgr.engine == nil {
		return nil, ErrNotPrepared
	}
	return mgr.engine.List()
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
