// Package server exposes the local HTTP API consumed by the desktop shell.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/interview-atlas/atlas/internal/settings"
	"github.com/interview-atlas/atlas/internal/storage"
	"github.com/interview-atlas/atlas/internal/update"
)

// Config carries the server wiring.
type Config struct {
	Manager     *storage.Manager
	Settings    *settings.Store
	Updates     *update.Checker
	FeedURL     string
	CORSOrigins []string
	Logger      *slog.Logger
}

// Server serves the application API over HTTP.
type Server struct {
	manager  *storage.Manager
	settings *settings.Store
	updates  *update.Checker
	feedURL  string
	origins  []string
	logger   *slog.Logger
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:  cfg.Manager,
		settings: cfg.Settings,
		updates:  cfg.Updates,
		feedURL:  cfg.FeedURL,
		origins:  cfg.CORSOrigins,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(s.cors())

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/storage", s.handleStorage)
		api.GET("/update", s.handleUpdate)
		api.POST("/update/refresh", s.handleUpdateRefresh)
		api.GET("/update/manifest", s.handleUpdateManifest)
		api.GET("/update/package", s.handleUpdatePackage)
		api.GET("/backup/export", s.handleBackupExport)
		api.GET("/backups", s.handleListBackups)
		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handlePutSettings)
		api.GET("/ui-state", s.handleGetUIState)
		api.PUT("/ui-state", s.handlePutUIState)
	}
	return r
}

// Run serves the API on addr until ctx is cancelled, then drains in-flight
// requests and returns.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("api listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
