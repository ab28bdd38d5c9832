// Package cli implements the atlas command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/interview-atlas/atlas/internal/paths"
	"github.com/interview-atlas/atlas/internal/storage"
	"github.com/interview-atlas/atlas/pkg/version"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// envConfigDir overrides the configuration directory when set.
const envConfigDir = "ATLAS_CONFIG_DIR"

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
}

var flags rootFlags

// NewRootCmd creates the top-level "atlas" command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "atlas",
		Short: "Local backend for the Interview Atlas desktop app",
		Long: "Atlas manages the application data directory, schema migrations,\n" +
			"and backups, and serves the local HTTP API the desktop shell talks to.",
		// Do not print usage on errors returned by subcommands.
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: data directory)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: per-user application data)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newBackupCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitUserError)
	}
}

// resolveStoragePaths returns the storage layout from flag, env, or the
// platform default.
func resolveStoragePaths() (paths.StoragePaths, error) {
	if flags.dataDir != "" {
		return paths.FromBase(flags.dataDir), nil
	}
	return paths.Resolve(version.AppName)
}

// resolveConfigDir returns the config directory from flag, env, or the data
// directory itself.
func resolveConfigDir(storagePaths paths.StoragePaths) string {
	if flags.configDir != "" {
		return flags.configDir
	}
	if v := os.Getenv(envConfigDir); v != "" {
		return v
	}
	return storagePaths.BaseDir
}

// newLogger builds the process logger writing to stderr.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newManager wires a storage manager from the resolved paths and config.
func newManager(storagePaths paths.StoragePaths, cfg *viper.Viper, logger *slog.Logger) (*storage.Manager, error) {
	return storage.NewManager(version.AppName, version.Version,
		storage.WithPaths(storagePaths),
		storage.WithBackupKeep(cfg.GetInt(cfgKeyBackupKeep)),
		storage.WithLogger(logger),
	)
}

// exitError prints the error to stderr and exits with the given code.
func exitError(code int, msg string) error {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(code)
	return nil // unreachable
}
