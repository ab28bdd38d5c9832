// Package settings stores UI settings and transient UI state as JSON blobs
// in the settings table. Reads merge stored values over the defaults, so new
// settings keys appear automatically for existing users; writes merge the
// incoming payload over what is stored, so partial saves never erase
// unrelated keys.
package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Row keys in the settings table.
const (
	settingsKey = "settings"
	uiStateKey  = "ui_state"
)

// Defaults returns the built-in settings document.
func Defaults() map[string]any {
	return map[string]any{
		"stages":   []any{"Applied", "Screening", "HR", "Technical", "Final Interview", "Offer"},
		"outcomes": []any{"In Progress", "Offer", "Rejected", "On Hold"},
		"job_types": []any{
			"Internship", "Full-time", "Part-time", "Graduate Program",
		},
		"job_type_colors": map[string]any{
			"Internship":       "#BEE3F8",
			"Full-time":        "#C6F6D5",
			"Part-time":        "#FED7D7",
			"Graduate Program": "#FAF089",
		},
		"stage_colors": map[string]any{
			"Applied":         "#CBD5E0",
			"Screening":       "#63B3ED",
			"HR":              "#F6AD55",
			"Technical":       "#4FD1C5",
			"Final Interview": "#9F7AEA",
			"Offer":           "#68D391",
		},
		"outcome_colors": map[string]any{
			"In Progress": "#F6C453",
			"Offer":       "#2F855A",
			"Rejected":    "#C53030",
			"On Hold":     "#718096",
		},
		"score_scale": map[string]any{"min": 0.0, "max": 10.0},
		"table_columns": []any{
			"company_name", "position", "job_type", "location", "stage",
			"outcome", "application_date", "interview_datetime",
			"followup_date", "interview_rounds", "interview_type",
			"interviewers", "company_score", "contacts",
			"last_round_cleared", "total_rounds", "my_interview_score",
			"improvement_areas", "skill_to_upgrade", "job_description",
			"notes", "documents_links", "favorite",
		},
		"hidden_columns": []any{
			"job_description", "notes", "improvement_areas",
			"skill_to_upgrade", "documents_links",
		},
		"column_widths":     map[string]any{},
		"column_labels":     map[string]any{},
		"table_density":     "comfortable",
		"dark_mode":         false,
		"custom_properties": []any{},
		"page_configs":      map[string]any{},
		"brand_profile": map[string]any{
			"name":      "Tu Nombre",
			"role":      "Ingeniero Industrial IA",
			"avatarSrc": "/brand-avatar.svg",
			"avatarAlt": "Foto de perfil",
		},
	}
}

// Store reads and writes settings documents against the database.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the settings document: the defaults with the stored values
// merged over them. A missing or unparseable row yields the defaults.
func (s *Store) Get() (map[string]any, error) {
	merged := Defaults()

	stored, ok, err := s.loadDoc(settingsKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return merged, nil
	}
	for k, v := range stored {
		merged[k] = v
	}
	return merged, nil
}

// Save merges the incoming payload over the stored document and writes the
// result. page_configs entries are merged per page by their updated_at
// timestamp so a stale client cannot overwrite a newer config.
func (s *Store) Save(incoming map[string]any) error {
	current, _, err := s.loadDoc(settingsKey)
	if err != nil {
		return err
	}
	if current == nil {
		current = map[string]any{}
	}

	merged := make(map[string]any, len(current)+len(incoming))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	merged["page_configs"] = mergePageConfigs(current["page_configs"], incoming["page_configs"])

	return s.saveDoc(settingsKey, merged)
}

// UIState returns the stored UI state, or an empty document.
func (s *Store) UIState() (map[string]any, error) {
	doc, ok, err := s.loadDoc(uiStateKey)
	if err != nil {
		return nil, err
	}
	if !ok || doc == nil {
		return map[string]any{}, nil
	}
	return doc, nil
}

// SaveUIState overwrites the stored UI state.
func (s *Store) SaveUIState(doc map[string]any) error {
	return s.saveDoc(uiStateKey, doc)
}

func (s *Store) loadDoc(key string) (map[string]any, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// A corrupt row behaves like a missing one.
		return nil, false, nil
	}
	return doc, true, nil
}

func (s *Store) saveDoc(key string, doc map[string]any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(payload),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
