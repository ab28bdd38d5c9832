// Package metrics records how long the startup phases took. The result is a
// small JSON file under the data directory, meant for support bundles rather
// than a metrics pipeline.
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Timer measures one startup phase.
type Timer struct {
	Label string
	start time.Time
}

// StartTimer begins timing a phase.
func StartTimer(label string) *Timer {
	return &Timer{Label: label, start: time.Now()}
}

// ElapsedMS returns the milliseconds since the timer started.
func (t *Timer) ElapsedMS() float64 {
	return float64(time.Since(t.start)) / float64(time.Millisecond)
}

// Startup is the document written after the application finishes booting.
type Startup struct {
	PhasesMS   map[string]float64 `json:"phases_ms"`
	TotalMS    float64            `json:"total_ms"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// WriteStartup writes the startup timings to path, creating parent
// directories as needed.
func WriteStartup(path string, phases map[string]float64, totalMS float64) error {
	doc := Startup{
		PhasesMS:   phases,
		TotalMS:    totalMS,
		RecordedAt: time.Now().UTC(),
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// ReadStartup loads a previously written startup document.
func ReadStartup(path string) (Startup, error) {
	var doc Startup
	payload, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	err = json.Unmarshal(payload, &doc)
	return doc, err
}
