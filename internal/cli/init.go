package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/interview-atlas/atlas/internal/sqlite"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory",
		Long: "Create the data and configuration directories, run the storage\n" +
			"lifecycle once, and bring the database schema up to date.",
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	storagePaths, err := resolveStoragePaths()
	if err != nil {
		return exitError(exitSysError, fmt.Sprintf("resolve data directory: %s", err))
	}

	cfg, err := loadConfig(resolveConfigDir(storagePaths))
	if err != nil {
		return exitError(exitSysError, fmt.Sprintf("load config: %s", err))
	}

	logger := newLogger(logLevel(cfg))
	mgr, err := newManager(storagePaths, cfg, logger)
	if err != nil {
		return exitError(exitSysError, fmt.Sprintf("build storage manager: %s", err))
	}

	if err := mgr.Prepare(cfg.GetString(cfgKeyDatabaseURL), cfg.GetString(cfgKeyUploadsDir)); err != nil {
		return exitError(exitSysError, fmt.Sprintf("prepare storage: %s", err))
	}

	db, err := sqlite.Open(mgr.DBPath())
	if err != nil {
		return exitError(exitSysError, fmt.Sprintf("open database: %s", err))
	}
	defer db.Close()

	if err := sqlite.EnsureSchema(db); err != nil {
		return exitError(exitSysError, fmt.Sprintf("ensure schema: %s", err))
	}
	if err := mgr.ApplyMigrations(db); err != nil {
		return exitError(exitSysError, fmt.Sprintf("apply migrations: %s", err))
	}
	if err := mgr.MarkShutdown(); err != nil {
		return exitError(exitSysError, fmt.Sprintf("finalize state: %s", err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized data directory %s\n", storagePaths.BaseDir)
	return nil
}
