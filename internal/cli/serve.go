package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/interview-atlas/atlas/internal/metrics"
	"github.com/interview-atlas/atlas/internal/server"
	"github.com/interview-atlas/atlas/internal/settings"
	"github.com/interview-atlas/atlas/internal/sqlite"
	"github.com/interview-atlas/atlas/internal/update"
	"github.com/interview-atlas/atlas/pkg/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local API server",
		Long: "Prepare the data directory, migrate the database, and serve the\n" +
			"HTTP API until interrupted. A clean exit marks the run successful\n" +
			"in persisted state.",
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
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

	total := metrics.StartTimer("startup")
	phases := map[string]float64{}

	phase := metrics.StartTimer("storage_prepare")
	if err := mgr.Prepare(cfg.GetString(cfgKeyDatabaseURL), cfg.GetString(cfgKeyUploadsDir)); err != nil {
		return exitError(exitSysError, fmt.Sprintf("prepare storage: %s", err))
	}
	phases[phase.Label] = phase.ElapsedMS()

	phase = metrics.StartTimer("db_init")
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
	phases[phase.Label] = phase.ElapsedMS()

	phase = metrics.StartTimer("update_check")
	checker := update.NewChecker(version.AppName, version.Version,
		cfg.GetString(cfgKeyFeedURL), logger)
	checker.StartBackgroundCheck(cfg.GetBool(cfgKeyNotify))
	phases[phase.Label] = phase.ElapsedMS()

	if err := metrics.WriteStartup(storagePaths.MetricsPath, phases, total.ElapsedMS()); err != nil {
		logger.Warn("write startup metrics failed", "error", err)
	}

	srv := server.New(server.Config{
		Manager:     mgr,
		Settings:    settings.NewStore(db),
		Updates:     checker,
		FeedURL:     cfg.GetString(cfgKeyFeedURL),
		CORSOrigins: corsOrigins(cfg),
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, cfg.GetString(cfgKeyListenAddr)); err != nil {
		return exitError(exitSysError, fmt.Sprintf("serve: %s", err))
	}

	if err := mgr.MarkShutdown(); err != nil {
		return exitError(exitSysError, fmt.Sprintf("finalize state: %s", err))
	}
	logger.Info("shutdown complete")
	return nil
}
