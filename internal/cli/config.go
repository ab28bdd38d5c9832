package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/interview-atlas/atlas/internal/backup"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	cfgKeyDatabaseURL = "database_url"
	cfgKeyUploadsDir  = "uploads_dir"
	cfgKeyListenAddr  = "listen_addr"
	cfgKeyCORSOrigins = "cors_origins"
	cfgKeyFeedURL     = "update_feed_url"
	cfgKeyNotify      = "update_notify"
	cfgKeyLogLevel    = "log_level"
	cfgKeyBackupKeep  = "backup_keep"

	defaultListenAddr = "127.0.0.1:8000"
	defaultCORS       = "http://localhost:5173,http://127.0.0.1:5173,tauri://localhost"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# Interview Atlas configuration

# Address the local API listens on
listen_addr: 127.0.0.1:8000

# Database URL (optional; defaults to applications.db in the data directory)
# database_url: sqlite:///path/to/applications.db

# Uploads directory (optional; defaults to uploads/ in the data directory)
# uploads_dir:

# Release feed checked at startup (optional)
# update_feed_url: https://example.com/releases/latest.json
# update_notify: true

# Number of backup snapshots kept per data directory
backup_keep: 5

# Log level: debug, info, warn, error
log_level: info
`

// loadConfig reads config.yaml from the config directory with Viper,
// creating the directory and a default file on first run. Environment
// variables override file values.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyListenAddr, defaultListenAddr)
	v.SetDefault(cfgKeyCORSOrigins, defaultCORS)
	v.SetDefault(cfgKeyNotify, true)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyBackupKeep, backup.DefaultKeep)

	// Environment overrides, matching the variables the desktop shell sets.
	bindings := map[string]string{
		cfgKeyDatabaseURL: "DATABASE_URL",
		cfgKeyUploadsDir:  "UPLOADS_DIR",
		cfgKeyListenAddr:  "ATLAS_LISTEN_ADDR",
		cfgKeyCORSOrigins: "CORS_ORIGINS",
		cfgKeyFeedURL:     "UPDATE_FEED_URL",
		cfgKeyNotify:      "UPDATE_NOTIFY",
		cfgKeyLogLevel:    "ATLAS_LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// corsOrigins splits the configured origin list, accepting both YAML lists
// and comma separated strings.
func corsOrigins(v *viper.Viper) []string {
	raw := v.GetStringSlice(cfgKeyCORSOrigins)
	if len(raw) == 1 {
		raw = strings.Split(raw[0], ",")
	}
	origins := make([]string, 0, len(raw))
	for _, origin := range raw {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func logLevel(v *viper.Viper) slog.Level {
	switch strings.ToLower(v.GetString(cfgKeyLogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
