package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Errors the API layer maps to not-found responses.
var (
	ErrFeedNotConfigured = errors.New("update feed URL not configured")
	ErrFeedNotFound      = errors.New("update feed not found")
	ErrNoPackageURL      = errors.New("update package URL missing")
)

// Manifest loads the release feed and reshapes it into the form the desktop
// updater consumes: a platforms section keyed by os-arch. A feed that only
// carries a top-level download URL gets the section synthesized for the
// current platform, picking up a detached .sig signature next to a local
// package file.
func (c *Checker) Manifest() (map[string]any, error) {
	if c.feedURL == "" {
		return nil, ErrFeedNotConfigured
	}
	body, err := c.readFeed()
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return ensurePlatforms(payload, platformKey()), nil
}

// PackageURL resolves the download URL for the current platform from the
// manifest, preferring the per-platform entry over the top-level URL.
func (c *Checker) PackageURL() (string, error) {
	payload, err := c.Manifest()
	if err != nil {
		return "", err
	}

	if platforms, ok := payload["platforms"].(map[string]any); ok {
		if entry, ok := platforms[platformKey()].(map[string]any); ok {
			if u, ok := entry["url"].(string); ok && u != "" {
				return u, nil
			}
		}
	}
	if u, ok := payload["url"].(string); ok && u != "" {
		return u, nil
	}
	return "", ErrNoPackageURL
}

// UserAgent returns the header value the checker sends on feed requests.
func (c *Checker) UserAgent() string {
	return fmt.Sprintf("%s/%s", c.appName, c.version)
}

func ensurePlatforms(payload map[string]any, platform string) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	if _, ok := payload["platforms"].(map[string]any); ok {
		return payload
	}

	pkgURL := firstStringField(payload, "url", "download_url", "html_url")
	if pkgURL == "" || platform == "" {
		return payload
	}

	entry := map[string]any{"url": pkgURL}
	if path, ok := FileURLPath(pkgURL); ok {
		if sig, err := os.ReadFile(path + ".sig"); err == nil {
			if s := strings.TrimSpace(string(sig)); s != "" {
				entry["signature"] = s
			}
		}
	}

	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["platforms"] = map[string]any{platform: entry}
	return out
}

func firstStringField(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// FileURLPath reports whether raw is a file:// URL and returns its local
// path.
func FileURLPath(raw string) (string, bool) {
	if !strings.HasPrefix(raw, "file://") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return strings.TrimPrefix(raw, "file://"), true
	}
	return u.Path, true
}
