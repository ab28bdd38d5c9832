package server

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interview-atlas/atlas/internal/paths"
	"github.com/interview-atlas/atlas/internal/settings"
	"github.com/interview-atlas/atlas/internal/sqlite"
	"github.com/interview-atlas/atlas/internal/storage"
	"github.com/interview-atlas/atlas/internal/update"
)

type testEnv struct {
	router  *gin.Engine
	manager *storage.Manager
	db      *sql.DB
	base    string
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithFeed(t, "")
}

func newTestEnvWithFeed(t *testing.T, feedURL string) *testEnv {
	t.Helper()

	base := t.TempDir()
	p := paths.StoragePaths{
		BaseDir:     base,
		DBPath:      filepath.Join(base, paths.DBFileName),
		UploadsDir:  filepath.Join(base, paths.UploadsDirName),
		BackupsDir:  filepath.Join(base, paths.BackupsDirName),
		StatePath:   filepath.Join(base, paths.StateFileName),
		MetricsPath: filepath.Join(base, paths.MetricsDirName, paths.MetricsFileName),
	}
	logger := slog.New(slog.DiscardHandler)

	mgr, err := storage.NewManager("Interview Atlas", "0.6.2",
		storage.WithPaths(p), storage.WithLegacyDir(""), storage.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, mgr.Prepare("", ""))

	db, err := sqlite.Open(mgr.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.EnsureSchema(db))

	srv := New(Config{
		Manager:     mgr,
		Settings:    settings.NewStore(db),
		Updates:     update.NewChecker("Interview Atlas", "0.6.2", feedURL, logger),
		FeedURL:     feedURL,
		CORSOrigins: []string{"http://localhost:1420"},
		Logger:      logger,
	})
	return &testEnv{router: srv.Router(), manager: mgr, db: db, base: base}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestStorageStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/storage", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	assert.Equal(t, env.base, doc["data_dir"])
	assert.Equal(t, env.manager.DBPath(), doc["db_path"])
	assert.Equal(t, env.manager.UploadsDir(), doc["uploads_dir"])
}

func TestUpdateStatusWithoutFeed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/update", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	assert.Equal(t, "0.6.2", doc["current_version"])
	assert.Equal(t, false, doc["update_available"])
	assert.Contains(t, doc["error"], "not configured")
}

func TestUpdateManifestNotFoundWithoutFeed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/update/manifest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/update/package", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateManifestFromLocalFeed(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "atlas.tar.gz")
	require.NoError(t, os.WriteFile(pkg, []byte("package-bytes"), 0o644))
	require.NoError(t, os.WriteFile(pkg+".sig", []byte("sig-data"), 0o644))

	feedPath := filepath.Join(dir, "latest.json")
	require.NoError(t, os.WriteFile(feedPath,
		[]byte(`{"version":"9.9.9","url":"file://`+pkg+`"}`), 0o644))

	env := newTestEnvWithFeed(t, "file://"+feedPath)

	rec := env.do(t, http.MethodGet, "/api/update/manifest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	assert.Equal(t, "9.9.9", doc["version"])
	platforms, ok := doc["platforms"].(map[string]any)
	require.True(t, ok)
	require.Len(t, platforms, 1)
	for _, raw := range platforms {
		entry := raw.(map[string]any)
		assert.Equal(t, "file://"+pkg, entry["url"])
		assert.Equal(t, "sig-data", entry["signature"])
	}
}

func TestUpdatePackageServesLocalFile(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "atlas.tar.gz")
	require.NoError(t, os.WriteFile(pkg, []byte("package-bytes"), 0o644))

	feedPath := filepath.Join(dir, "latest.json")
	require.NoError(t, os.WriteFile(feedPath,
		[]byte(`{"version":"9.9.9","url":"file://`+pkg+`"}`), 0o644))

	env := newTestEnvWithFeed(t, "file://"+feedPath)

	rec := env.do(t, http.MethodGet, "/api/update/package", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "package-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "atlas.tar.gz")
}

func TestUpdatePackageMissingLocalFile(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "latest.json")
	require.NoError(t, os.WriteFile(feedPath,
		[]byte(`{"version":"9.9.9","url":"file://`+dir+`/gone.tar.gz"}`), 0o644))

	env := newTestEnvWithFeed(t, "file://"+feedPath)

	rec := env.do(t, http.MethodGet, "/api/update/package", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeBody(t, rec)["settings"].(map[string]any)
	assert.Equal(t, "comfortable", doc["table_density"])

	rec = env.do(t, http.MethodPut, "/api/settings", map[string]any{
		"settings": map[string]any{"dark_mode": true},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	doc = decodeBody(t, rec)["settings"].(map[string]any)
	assert.Equal(t, true, doc["dark_mode"])
	assert.Equal(t, "comfortable", doc["table_density"])
}

func TestSettingsRejectsMissingEnvelope(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/settings", map[string]any{"dark_mode": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUIStateRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/ui-state", map[string]any{
		"state": map[string]any{"selected_tab": "board"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/ui-state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeBody(t, rec)["state"].(map[string]any)
	assert.Equal(t, "board", doc["selected_tab"])
}

func TestBackupExportReturnsZip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/backup/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".zip")

	reader, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)

	var names []string
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "manifest.json")
	assert.Contains(t, names, paths.DBFileName)
}

func TestListBackups(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/backups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["backups"])

	_, err := env.manager.CreateBackup("manual")
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/backups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	backups := decodeBody(t, rec)["backups"].([]any)
	require.Len(t, backups, 1)
	assert.True(t, strings.HasSuffix(backups[0].(string), "-manual"))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:1420")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:1420", rec.Header().Get("Access-Control-Allow-Origin"))

	// An origin outside the allow list gets no CORS headers.
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.invalid")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStateFileMarkedDirtyWhileServing(t *testing.T) {
	env := newTestEnv(t)

	payload, err := os.ReadFile(filepath.Join(env.base, paths.StateFileName))
	require.NoError(t, err)

	var st map[string]any
	require.NoError(t, json.Unmarshal(payload, &st))
	assert.Equal(t, false, st["last_run_ok"])
}
