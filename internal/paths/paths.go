// Package paths resolves the per-user application data directory and the
// canonical file locations inside it. Resolution is pure: nothing here
// touches the filesystem, so it is safe to call before any directory exists.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvDataDir overrides the data directory outright when set.
const EnvDataDir = "ATLAS_DATA_DIR"

// File and directory names inside the data directory.
const (
	DBFileName      = "applications.db"
	UploadsDirName  = "uploads"
	BackupsDirName  = "backups"
	StateFileName   = "state.json"
	MetricsDirName  = "metrics"
	MetricsFileName = "startup.json"
)

// StoragePaths holds every location the storage layer cares about, derived
// once per process from the application name and environment.
type StoragePaths struct {
	BaseDir     string
	DBPath      string
	UploadsDir  string
	BackupsDir  string
	StatePath   string
	MetricsPath string
}

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir func() (string, error)
	goos    func() string
}{
	homeDir: os.UserHomeDir,
	goos:    func() string { return runtime.GOOS },
}

// SafeAppDir sanitizes an application name for use as a directory name,
// replacing path separators with a hyphen. An empty result falls back to
// "AppData".
func SafeAppDir(name string) string {
	cleaned := strings.TrimSpace(name)
	for _, sep := range []string{"\\", "/"} {
		cleaned = strings.ReplaceAll(cleaned, sep, "-")
	}
	for strings.Contains(cleaned, "--") {
		cleaned = strings.ReplaceAll(cleaned, "--", "-")
	}
	if cleaned == "" {
		return "AppData"
	}
	return cleaned
}

// DataDir returns the data directory for the given application name following
// the precedence chain: ATLAS_DATA_DIR env > platform default.
//
// macOS:   ~/Library/Application Support/<name>
// Windows: %APPDATA% or %LOCALAPPDATA% (fallback ~/AppData/Roaming)/<name>
// other:   $XDG_DATA_HOME/<name> (fallback ~/.local/share/<name>)
func DataDir(appName string) (string, error) {
	if override := os.Getenv(EnvDataDir); override != "" {
		return filepath.Abs(override)
	}

	name := SafeAppDir(appName)
	switch platformDir.goos() {
	case "darwin":
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", name), nil
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = os.Getenv("LOCALAPPDATA")
		}
		if base == "" {
			home, err := platformDir.homeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, name), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, name), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", name), nil
	}
}

// FromBase derives the canonical file locations under an explicit base
// directory.
func FromBase(base string) StoragePaths {
	return StoragePaths{
		BaseDir:     base,
		DBPath:      filepath.Join(base, DBFileName),
		UploadsDir:  filepath.Join(base, UploadsDirName),
		BackupsDir:  filepath.Join(base, BackupsDirName),
		StatePath:   filepath.Join(base, StateFileName),
		MetricsPath: filepath.Join(base, MetricsDirName, MetricsFileName),
	}
}

// Resolve derives the full StoragePaths for the given application name.
func Resolve(appName string) (StoragePaths, error) {
	base, err := DataDir(appName)
	if err != nil {
		return StoragePaths{}, err
	}
	return FromBase(base), nil
}
