// Package version holds the build-time identity of the Interview Atlas
// backend. The values are plain constants so they are available before any
// configuration or storage has been touched.
package version

const (
	// AppName is the user-visible application name. It doubles as the
	// per-OS data directory name, so changing it orphans existing data.
	AppName = "Interview Atlas"

	// Version is the application version recorded in persisted state and
	// backup manifests. The lifecycle controller compares it against the
	// version stored by the previous run to detect upgrades.
	Version = "0.6.2"
)
