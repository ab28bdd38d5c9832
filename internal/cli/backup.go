package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/interview-atlas/atlas/internal/backup"
	"github.com/interview-atlas/atlas/internal/storage"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage backup snapshots",
	}
	cmd.AddCommand(newBackupCreateCmd())
	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupExportCmd())
	cmd.AddCommand(newBackupRestoreCmd())
	return cmd
}

// withPreparedManager runs fn against a prepared storage manager and marks
// the run complete afterwards, so a one-shot command never leaves the state
// file looking like a crash.
func withPreparedManager(fn func(mgr *storage.Manager) error) error {
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

	if err := fn(mgr); err != nil {
		return err
	}
	if err := mgr.MarkShutdown(); err != nil {
		return exitError(exitSysError, fmt.Sprintf("finalize state: %s", err))
	}
	return nil
}

func newBackupCreateCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backup snapshot of the database and uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPreparedManager(func(mgr *storage.Manager) error {
				snapshot, err := mgr.CreateBackup(reason)
				if err != nil {
					return exitError(exitSysError, fmt.Sprintf("create backup: %s", err))
				}
				if snapshot == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to back up")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", snapshot)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "label recorded in the snapshot name")
	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backup snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPreparedManager(func(mgr *storage.Manager) error {
				names, err := mgr.ListBackups()
				if err != nil {
					return exitError(exitSysError, fmt.Sprintf("list backups: %s", err))
				}
				if len(names) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No backups")
					return nil
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newBackupExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Create a backup snapshot and archive it as a zip file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPreparedManager(func(mgr *storage.Manager) error {
				archive, err := mgr.CreateBackupArchive("manual")
				if err != nil {
					return exitError(exitSysError, fmt.Sprintf("export backup: %s", err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s\n", archive)
				return nil
			})
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "Restore the database and uploads from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPreparedManager(func(mgr *storage.Manager) error {
				snapshot := args[0]
				if !filepath.IsAbs(snapshot) {
					snapshot = filepath.Join(mgr.Paths().BackupsDir, snapshot)
				}
				if !backup.DirExists(snapshot) {
					return exitError(exitUserError, fmt.Sprintf("snapshot not found: %s", snapshot))
				}
				if err := mgr.RestoreBackup(snapshot); err != nil {
					return exitError(exitSysError, fmt.Sprintf("restore backup: %s", err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", snapshot)
				return nil
			})
		},
	}
}
