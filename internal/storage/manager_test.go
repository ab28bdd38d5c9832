package storage

import (
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/interview-atlas/atlas/internal/migrate"
	"github.com/interview-atlas/atlas/internal/paths"
	"github.com/interview-atlas/atlas/internal/state"
)

func testPaths(t *testing.T) paths.StoragePaths {
	t.Helper()
	base := t.TempDir()
	return paths.StoragePaths{
		BaseDir:     base,
		DBPath:      filepath.Join(base, "applications.db"),
		UploadsDir:  filepath.Join(base, "uploads"),
		BackupsDir:  filepath.Join(base, "backups"),
		StatePath:   filepath.Join(base, "state.json"),
		MetricsPath: filepath.Join(base, "metrics", "startup.json"),
	}
}

func newTestManager(t *testing.T, p paths.StoragePaths, version string, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithPaths(p),
		WithLegacyDir(""),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	mgr, err := NewManager("Interview Atlas", version, append(base, opts...)...)
	require.NoError(t, err)
	return mgr
}

func seedLiveDB(t *testing.T, path string, rows ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS notes (body TEXT NOT NULL)`)
	require.NoError(t, err)
	for _, row := range rows {
		_, err = db.Exec(`INSERT INTO notes (body) VALUES (?)`, row)
		require.NoError(t, err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveSQLitePath(t *testing.T) {
	abs := func(p string) string {
		out, err := filepath.Abs(p)
		require.NoError(t, err)
		return out
	}

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"empty falls back to default", "", ""},
		{"sqlalchemy relative", "sqlite:///apps.db", abs("apps.db")},
		{"sqlalchemy absolute", "sqlite:////var/data/apps.db", "/var/data/apps.db"},
		{"in-memory has no file", "sqlite:///:memory:", ""},
		{"bare scheme has no file", "sqlite://", ""},
		{"file dsn", "file:apps.db?cache=shared", abs("apps.db")},
		{"foreign scheme ignored", "postgres://localhost/db", ""},
		{"plain path", "/var/data/apps.db", "/var/data/apps.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSQLitePath(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrepare_FirstRun(t *testing.T) {
	p := testPaths(t)
	mgr := newTestManager(t, p, "1.0.0")

	require.NoError(t, mgr.Prepare("", ""))

	assert.DirExists(t, p.BackupsDir)
	assert.DirExists(t, filepath.Dir(p.MetricsPath))
	assert.Equal(t, p.DBPath, mgr.DBPath())
	assert.Equal(t, p.UploadsDir, mgr.UploadsDir())

	// The run is marked dirty on disk until MarkShutdown.
	st := state.NewStore(p.StatePath).Load()
	assert.False(t, st.LastRunOK)
	require.NotNil(t, st.LastRunVersion)
	assert.Equal(t, "1.0.0", *st.LastRunVersion)
	assert.NotNil(t, st.LastStart)
	assert.Nil(t, st.LastError)
	assert.Equal(t, 0, st.SchemaVersion)
	assert.True(t, st.LegacyMigrated)
}

func TestPrepare_EffectivePathOverrides(t *testing.T) {
	p := testPaths(t)
	other := t.TempDir()
	mgr := newTestManager(t, p, "1.0.0")

	dbURL := "sqlite:///" + filepath.Join(other, "elsewhere.db")
	uploads := filepath.Join(other, "attachments")
	require.NoError(t, mgr.Prepare(dbURL, uploads))

	assert.Equal(t, filepath.Join(other, "elsewhere.db"), mgr.DBPath())
	assert.Equal(t, uploads, mgr.UploadsDir())
}

func TestPrepare_LegacyImport(t *testing.T) {
	p := testPaths(t)
	legacy := t.TempDir()
	seedLiveDB(t, filepath.Join(legacy, "applications.db"), "legacy-row")
	writeFile(t, filepath.Join(legacy, "uploads", "old.txt"), "old upload")

	mgr := newTestManager(t, p, "1.0.0", WithLegacyDir(legacy))
	require.NoError(t, mgr.Prepare("", ""))

	assert.FileExists(t, p.DBPath)
	assert.FileExists(t, filepath.Join(p.UploadsDir, "old.txt"))
	assert.True(t, mgr.State().LegacyMigrated)
}

func TestPrepare_LegacyImportRunsOnce(t *testing.T) {
	p := testPaths(t)
	legacy := t.TempDir()
	writeFile(t, filepath.Join(legacy, "uploads", "old.txt"), "v1")

	mgr := newTestManager(t, p, "1.0.0", WithLegacyDir(legacy))
	require.NoError(t, mgr.Prepare("", ""))
	require.NoError(t, mgr.MarkShutdown())

	// The legacy source changes, and the imported copy diverges; a second
	// prepare must re-copy neither.
	writeFile(t, filepath.Join(legacy, "uploads", "old.txt"), "v2")
	writeFile(t, filepath.Join(p.UploadsDir, "old.txt"), "edited live")

	mgr2 := newTestManager(t, p, "1.0.0", WithLegacyDir(legacy))
	require.NoError(t, mgr2.Prepare("", ""))

	data, err := os.ReadFile(filepath.Join(p.UploadsDir, "old.txt"))
	require.NoError(t, err)
	assert.Equal(t, "edited live", string(data))
	assert.True(t, mgr2.State().LegacyMigrated)
}

func TestPrepare_LegacyImportSkipsWhenLiveExists(t *testing.T) {
	p := testPaths(t)
	legacy := t.TempDir()
	seedLiveDB(t, filepath.Join(legacy, "applications.db"), "legacy-row")
	seedLiveDB(t, p.DBPath, "live-row")

	mgr := newTestManager(t, p, "1.0.0", WithLegacyDir(legacy))
	require.NoError(t, mgr.Prepare("", ""))

	db, err := sql.Open("sqlite", p.DBPath)
	require.NoError(t, err)
	defer db.Close()
	var body string
	require.NoError(t, db.QueryRow(`SELECT body FROM notes`).Scan(&body))
	assert.Equal(t, "live-row", body)
}

// writeCrashState simulates the on-disk aftermath of a crashed run.
func writeCrashState(t *testing.T, p paths.StoragePaths, version, lastBackup string) {
	t.Helper()
	st := state.Defaults()
	st.LastRunOK = false
	st.LastRunVersion = state.Str(version)
	st.LastStart = state.Str("2026-03-01T10:00:00Z")
	st.LegacyMigrated = true
	if lastBackup != "" {
		st.LastBackup = state.Str(lastBackup)
	}
	require.NoError(t, state.NewStore(p.StatePath).Save(st))
}

func TestPrepare_VersionUpgradeCrashIsReverted(t *testing.T) {
	p := testPaths(t)

	// Snapshot recorded by the crashed 1.0.0 run, carrying marker A.
	snapshot := filepath.Join(p.BackupsDir, "20260301-100000-pre_update")
	writeFile(t, filepath.Join(snapshot, "uploads", "marker-a.txt"), "A")
	writeCrashState(t, p, "1.0.0", snapshot)

	// Live uploads as the crashed upgrade left them.
	writeFile(t, filepath.Join(p.UploadsDir, "marker-b.txt"), "B")

	mgr := newTestManager(t, p, "1.1.0")
	require.NoError(t, mgr.Prepare("", ""))

	assert.FileExists(t, filepath.Join(p.UploadsDir, "marker-a.txt"))
	assert.NoFileExists(t, filepath.Join(p.UploadsDir, "marker-b.txt"))
	assert.True(t, mgr.State().RollbackUsed)
}

func TestPrepare_SameVersionCrashIsNotReverted(t *testing.T) {
	p := testPaths(t)

	snapshot := filepath.Join(p.BackupsDir, "20260301-100000-pre_update")
	writeFile(t, filepath.Join(snapshot, "uploads", "marker-a.txt"), "A")
	writeCrashState(t, p, "1.0.0", snapshot)

	writeFile(t, filepath.Join(p.UploadsDir, "marker-b.txt"), "B")

	// Same version as the crashed run: live edits are kept.
	mgr := newTestManager(t, p, "1.0.0")
	require.NoError(t, mgr.Prepare("", ""))

	assert.NoFileExists(t, filepath.Join(p.UploadsDir, "marker-a.txt"))
	assert.FileExists(t, filepath.Join(p.UploadsDir, "marker-b.txt"))
	assert.False(t, mgr.State().RollbackUsed)
}

func TestPrepare_PreUpdateBackup(t *testing.T) {
	p := testPaths(t)
	seedLiveDB(t, p.DBPath, "user-data")

	// Clean shutdown of 1.0.0.
	st := state.Defaults()
	st.LastRunVersion = state.Str("1.0.0")
	st.LastStart = state.Str("2026-03-01T10:00:00Z")
	st.LastShutdown = state.Str("2026-03-01T18:00:00Z")
	st.LegacyMigrated = true
	require.NoError(t, state.NewStore(p.StatePath).Save(st))

	mgr := newTestManager(t, p, "1.1.0")
	require.NoError(t, mgr.Prepare("", ""))

	got := mgr.State()
	require.NotNil(t, got.LastBackup)
	assert.True(t, strings.HasSuffix(*got.LastBackup, "-pre_update"))
	assert.FileExists(t, filepath.Join(*got.LastBackup, "applications.db"))
}

func TestPrepare_NoBackupWhenVersionUnchanged(t *testing.T) {
	p := testPaths(t)
	seedLiveDB(t, p.DBPath, "user-data")

	st := state.Defaults()
	st.LastRunVersion = state.Str("1.0.0")
	st.LastStart = state.Str("2026-03-01T10:00:00Z")
	st.LegacyMigrated = true
	require.NoError(t, state.NewStore(p.StatePath).Save(st))

	mgr := newTestManager(t, p, "1.0.0")
	require.NoError(t, mgr.Prepare("", ""))

	assert.Nil(t, mgr.State().LastBackup)
}

func TestPrepare_ClearsLastError(t *testing.T) {
	p := testPaths(t)

	st := state.Defaults()
	st.LastError = state.Str("migration_failed:2:boom")
	st.LegacyMigrated = true
	require.NoError(t, state.NewStore(p.StatePath).Save(st))

	mgr := newTestManager(t, p, "1.0.0")
	require.NoError(t, mgr.Prepare("", ""))
	assert.Nil(t, mgr.State().LastError)
}

func countRows(t *testing.T, dbPath, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestApplyMigrations_Checkpointing(t *testing.T) {
	p := testPaths(t)
	seedLiveDB(t, p.DBPath)

	registry, err := migrate.NewRegistry([]migrate.Migration{
		{Version: 1, Name: "add_v1_marker", Apply: func(db *sql.DB) error {
			_, err := db.Exec(`INSERT INTO notes (body) VALUES ('v1')`)
			return err
		}},
		{Version: 2, Name: "broken", Apply: func(db *sql.DB) error {
			// Partially mutates before failing; the restore must undo it.
			if _, err := db.Exec(`INSERT INTO notes (body) VALUES ('v2-partial')`); err != nil {
				return err
			}
			return errors.New("boom")
		}},
	})
	require.NoError(t, err)

	mgr := newTestManager(t, p, "1.0.0", WithRegistry(registry))
	require.NoError(t, mgr.Prepare("", ""))

	db, err := sql.Open("sqlite", p.DBPath)
	require.NoError(t, err)

	applyErr := mgr.ApplyMigrations(db)
	db.Close()

	var mErr *MigrationError
	require.ErrorAs(t, applyErr, &mErr)
	assert.Equal(t, 2, mErr.Version)

	// v1 survived, v2 was rolled back.
	st := state.NewStore(p.StatePath).Load()
	assert.Equal(t, 1, st.SchemaVersion)
	require.NotNil(t, st.LastError)
	assert.Equal(t, "migration_failed:2:boom", *st.LastError)

	assert.Equal(t, 1, countRows(t, p.DBPath, "notes"))
}

func TestApplyMigrations_Success(t *testing.T) {
	p := testPaths(t)
	seedLiveDB(t, p.DBPath)

	registry, err := migrate.NewRegistry([]migrate.Migration{
		{Version: 1, Name: "one", Apply: func(db *sql.DB) error {
			_, err := db.Exec(`INSERT INTO notes (body) VALUES ('v1')`)
			return err
		}},
		{Version: 2, Name: "two", Apply: func(db *sql.DB) error {
			_, err := db.Exec(`INSERT INTO notes (body) VALUES ('v2')`)
			return err
		}},
	})
	require.NoError(t, err)

	mgr := newTestManager(t, p, "1.0.0", WithRegistry(registry))
	require.NoError(t, mgr.Prepare("", ""))

	db, err := sql.Open("sqlite", p.DBPath)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, mgr.ApplyMigrations(db))

	st := mgr.State()
	assert.Equal(t, 2, st.SchemaVersion)
	require.NotNil(t, st.LastBackup)
	assert.True(t, strings.HasSuffix(*st.LastBackup, "-schema_v2"))
	assert.Nil(t, st.LastError)
}

func TestApplyMigrations_FastPathWhenUpToDate(t *testing.T) {
	p := testPaths(t)
	seedLiveDB(t, p.DBPath)

	st := state.Defaults()
	st.SchemaVersion = 1
	st.LegacyMigrated = true
	require.NoError(t, state.NewStore(p.StatePath).Save(st))

	mgr := newTestManager(t, p, "1.0.0")
	require.NoError(t, mgr.Prepare("", ""))
	require.NoError(t, mgr.ApplyMigrations(nil))

	// No schema backups are taken on the fast path.
	entries, err := os.ReadDir(p.BackupsDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), "schema_v")
	}
}

func TestApplyMigrations_RequiresPrepare(t *testing.T) {
	mgr := newTestManager(t, testPaths(t), "1.0.0")
	assert.ErrorIs(t, mgr.ApplyMigrations(nil), ErrNotPrepared)
}

func TestMarkShutdown(t *testing.T) {
	p := testPaths(t)
	mgr := newTestManager(t, p, "1.0.0")
	require.NoError(t, mgr.Prepare("", ""))
	require.NoError(t, mgr.MarkShutdown())

	st := state.NewStore(p.StatePath).Load()
	assert.True(t, st.LastRunOK)
	assert.NotNil(t, st.LastShutdown)
	assert.Equal(t, state.PhaseClean, st.Phase())
}

func TestMarkShutdown_RequiresPrepare(t *testing.T) {
	mgr := newTestManager(t, testPaths(t), "1.0.0")
	assert.ErrorIs(t, mgr.MarkShutdown(), ErrNotPrepared)
}

func TestCreateBackup_RecordsLastBackup(t *testing.T) {
	p := testPaths(t)
	seedLiveDB(t, p.DBPath, "row")

	mgr := newTestManager(t, p, "1.0.0")
	require.NoError(t, mgr.Prepare("", ""))

	dir, err := mgr.CreateBackup("manual")
	require.NoError(t, err)
	require.NotEmpty(t, dir)

	st := state.NewStore(p.StatePath).Load()
	require.NotNil(t, st.LastBackup)
	assert.Equal(t, dir, *st.LastBackup)
}

func TestBackupOperations_RequirePrepare(t *testing.T) {
	mgr := newTestManager(t, testPaths(t), "1.0.0")

	_, err := mgr.CreateBackup("manual")
	assert.ErrorIs(t, err, ErrNotPrepared)

	_, err = mgr.CreateBackupArchive("manual")
	assert.ErrorIs(t, err, ErrNotPrepared)

	assert.ErrorIs(t, mgr.RestoreBackup("anywhere"), ErrNotPrepared)
}

func TestListBackups_NewestFirst(t *testing.T) {
	p := testPaths(t)
	seedLiveDB(t, p.DBPath)

	mgr := newTestManager(t, p, "1.0.0")
	require.NoError(t, mgr.Prepare("", ""))

	for _, reason := range []string{"r1", "r2", "r3"} {
		_, err := mgr.CreateBackup(reason)
		require.NoError(t, err)
	}

	got, err := mgr.ListBackups()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0] > got[1] && got[1] > got[2], "expected newest first: %v", got)
}
