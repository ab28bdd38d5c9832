package update

import (
	"os/exec"
	"runtime"
	"strings"
)

// notifyDesktop shows a native notification on macOS. Other platforms are
// silent; the API response still reports the available update.
func notifyDesktop(title, message string) {
	if runtime.GOOS != "darwin" {
		return
	}
	script := `display notification "` + escapeAppleScript(message) +
		`" with title "` + escapeAppleScript(title) + `"`
	_ = exec.Command("osascript", "-e", script).Run()
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
