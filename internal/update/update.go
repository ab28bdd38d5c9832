// Package update checks a JSON release feed for newer application versions.
// Results are cached in memory so the API can serve them without blocking on
// the network; a background refresh fills the cache at startup.
package update

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"
)

const fetchTimeout = 6 * time.Second

// Info is the outcome of one feed check.
type Info struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	URL             string    `json:"url,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
	Error           string    `json:"error,omitempty"`
}

// Checker fetches and caches update information for one application version.
type Checker struct {
	appName string
	version string
	feedURL string
	client  *http.Client
	logger  *slog.Logger

	mu     sync.Mutex
	cached *Info
}

// NewChecker returns a Checker for the given feed. An empty feedURL disables
// network checks; every refresh then reports a configuration error.
func NewChecker(appName, version, feedURL string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		appName: appName,
		version: version,
		feedURL: feedURL,
		client:  &http.Client{Timeout: fetchTimeout},
		logger:  logger,
	}
}

// Cached returns the last check result, refreshing synchronously when no
// check has run yet.
func (c *Checker) Cached() Info {
	c.mu.Lock()
	cached := c.cached
	c.mu.Unlock()
	if cached != nil {
		return *cached
	}
	return c.Refresh(false)
}

// Refresh performs a feed check, caches the result, and returns it. With
// notify set, an available update raises a desktop notification.
func (c *Checker) Refresh(notify bool) Info {
	var info Info
	if c.feedURL == "" {
		info = Info{
			CurrentVersion: c.version,
			CheckedAt:      time.Now().UTC(),
			Error:          "update feed URL not configured",
		}
	} else {
		info = c.fetch()
	}

	c.mu.Lock()
	c.cached = &info
	c.mu.Unlock()

	if notify && info.UpdateAvailable {
		notifyDesktop(c.appName,
			fmt.Sprintf("New version available (%s).", info.LatestVersion))
	}
	return info
}

// StartBackgroundCheck refreshes the cache on a goroutine. It is a no-op
// when no feed is configured.
func (c *Checker) StartBackgroundCheck(notify bool) {
	if c.feedURL == "" {
		return
	}
	go func() {
		info := c.Refresh(notify)
		if info.Error != "" {
			c.logger.Debug("update check failed", "error", info.Error)
			return
		}
		c.logger.Debug("update check completed",
			"latest", info.LatestVersion, "available", info.UpdateAvailable)
	}()
}

func (c *Checker) fetch() Info {
	checkedAt := time.Now().UTC()
	fail := func(err error) Info {
		return Info{
			CurrentVersion: c.version,
			CheckedAt:      checkedAt,
			Error:          err.Error(),
		}
	}

	body, err := c.readFeed()
	if err != nil {
		return fail(err)
	}

	var payload feedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fail(fmt.Errorf("decode feed: %w", err))
	}

	latest, url, notes := payload.resolve(platformKey())
	return Info{
		CurrentVersion:  c.version,
		LatestVersion:   latest,
		UpdateAvailable: latest != "" && isNewer(latest, c.version),
		URL:             url,
		Notes:           notes,
		CheckedAt:       checkedAt,
	}
}

// readFeed returns the raw feed document. The feed URL may be a local
// file:// path, which release builds use to stage updates on disk.
func (c *Checker) readFeed() ([]byte, error) {
	if path, ok := FileURLPath(c.feedURL); ok {
		body, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrFeedNotFound
			}
			return nil, err
		}
		return body, nil
	}

	req, err := http.NewRequest(http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", c.appName, c.version))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// feedPayload accepts the common field spellings used by release feeds,
// including Tauri-style per-platform sections.
type feedPayload struct {
	Version     string `json:"version"`
	Latest      string `json:"latest"`
	Tag         string `json:"tag"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
	HTMLURL     string `json:"html_url"`
	Notes       string `json:"notes"`
	Changelog   string `json:"changelog"`

	Platforms map[string]struct {
		URL   string `json:"url"`
		Notes string `json:"notes"`
	} `json:"platforms"`
}

func (p feedPayload) resolve(platform string) (latest, url, notes string) {
	latest = firstNonEmpty(p.Version, p.Latest, p.Tag)
	url = firstNonEmpty(p.URL, p.DownloadURL, p.HTMLURL)
	notes = firstNonEmpty(p.Notes, p.Changelog)

	if entry, ok := p.Platforms[platform]; ok {
		url = firstNonEmpty(entry.URL, url)
		notes = firstNonEmpty(entry.Notes, notes)
	}
	return latest, url, notes
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func platformKey() string {
	arch := runtime.GOARCH
	switch runtime.GOOS {
	case "darwin":
		if arch == "arm64" {
			return "darwin-aarch64"
		}
		return "darwin-x86_64"
	case "windows":
		if arch == "386" {
			return "windows-i686"
		}
		return "windows-x86_64"
	case "linux":
		if arch == "arm64" {
			return "linux-aarch64"
		}
		return "linux-x86_64"
	}
	return ""
}
