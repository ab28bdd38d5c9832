package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/interview-atlas/atlas/internal/update"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStorage(c *gin.Context) {
	p := s.manager.Paths()
	c.JSON(http.StatusOK, gin.H{
		"data_dir":    p.BaseDir,
		"db_path":     s.manager.DBPath(),
		"uploads_dir": s.manager.UploadsDir(),
		"backups_dir": p.BackupsDir,
		"state_path":  p.StatePath,
		"update_feed": s.feedURL,
	})
}

func (s *Server) handleUpdate(c *gin.Context) {
	c.JSON(http.StatusOK, s.updates.Cached())
}

func (s *Server) handleUpdateRefresh(c *gin.Context) {
	c.JSON(http.StatusOK, s.updates.Refresh(false))
}

// handleUpdateManifest proxies the release feed in the shape the desktop
// updater expects, so the shell only ever talks to the local API.
func (s *Server) handleUpdateManifest(c *gin.Context) {
	payload, err := s.updates.Manifest()
	if err != nil {
		c.JSON(feedErrorStatus(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, payload)
}

// handleUpdatePackage serves the platform's update package: a local file://
// package directly off disk, a remote one streamed through.
func (s *Server) handleUpdatePackage(c *gin.Context) {
	pkgURL, err := s.updates.PackageURL()
	if err != nil {
		c.JSON(feedErrorStatus(err), gin.H{"detail": err.Error()})
		return
	}

	if localPath, ok := update.FileURLPath(pkgURL); ok {
		if _, err := os.Stat(localPath); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": "update package not found"})
			return
		}
		c.FileAttachment(localPath, filepath.Base(localPath))
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, pkgURL, nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"detail": err.Error()})
		return
	}
	req.Header.Set("User-Agent", s.updates.UserAgent())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"detail": err.Error()})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.JSON(http.StatusBadGateway,
			gin.H{"detail": fmt.Sprintf("package source returned status %d", resp.StatusCode)})
		return
	}

	filename := packageFileName(pkgURL)
	c.DataFromReader(http.StatusOK, resp.ContentLength, "application/gzip", resp.Body,
		map[string]string{"Content-Disposition": `attachment; filename=` + filename})
}

func feedErrorStatus(err error) int {
	switch {
	case errors.Is(err, update.ErrFeedNotConfigured),
		errors.Is(err, update.ErrFeedNotFound),
		errors.Is(err, update.ErrNoPackageURL):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func packageFileName(pkgURL string) string {
	if u, err := url.Parse(pkgURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "update.tar.gz"
}

func (s *Server) handleBackupExport(c *gin.Context) {
	archive, err := s.manager.CreateBackupArchive("manual")
	if err != nil {
		s.logger.Error("backup export failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.FileAttachment(archive, filepath.Base(archive))
}

func (s *Server) handleListBackups(c *gin.Context) {
	names, err := s.manager.ListBackups()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"backups": names})
}

// settingsEnvelope matches the payload shape used by the frontend: the
// document sits under a "settings" key.
type settingsEnvelope struct {
	Settings map[string]any `json:"settings" binding:"required"`
}

func (s *Server) handleGetSettings(c *gin.Context) {
	doc, err := s.settings.Get()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": doc})
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var payload settingsEnvelope
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := s.settings.Save(payload.Settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	doc, err := s.settings.Get()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": doc})
}

func (s *Server) handleGetUIState(c *gin.Context) {
	doc, err := s.settings.UIState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": doc})
}

func (s *Server) handlePutUIState(c *gin.Context) {
	var payload struct {
		State map[string]any `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := s.settings.SaveUIState(payload.State); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": payload.State})
}
