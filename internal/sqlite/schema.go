// Package sqlite opens the application database and keeps its schema in
// shape. Schema upkeep here is idempotent (create-if-missing, add missing
// columns, backfill defaults) and runs on every startup; the versioned
// migration registry sits on top of it for changes that must happen exactly
// once.
package sqlite

// Schema DDL for all tables.
const (
	createApplications = `CREATE TABLE IF NOT EXISTS applications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    application_id TEXT,
    company_name TEXT NOT NULL,
    position TEXT NOT NULL,
    job_type TEXT NOT NULL,
    location TEXT,
    stage TEXT NOT NULL,
    outcome TEXT NOT NULL,
    pipeline_order INTEGER,
    application_date TEXT,
    interview_datetime TEXT,
    followup_date TEXT,
    interview_rounds INTEGER,
    interview_type TEXT,
    interviewers TEXT,
    company_score REAL,
    last_round_cleared TEXT,
    total_rounds INTEGER,
    my_interview_score REAL,
    improvement_areas TEXT,
    skill_to_upgrade TEXT,
    job_description TEXT,
    notes TEXT,
    todo_items TEXT,
    documents_links TEXT,
    documents_files TEXT,
    contacts TEXT,
    favorite INTEGER DEFAULT 0,
    created_at TEXT,
    updated_at TEXT,
    last_viewed TEXT,
    created_by TEXT,
    properties_json TEXT
);`

	createViews = `CREATE TABLE IF NOT EXISTS views (
    view_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    view_type TEXT NOT NULL,
    config TEXT NOT NULL,
    created_at TEXT,
    updated_at TEXT
);`

	createSettings = `CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

	idxApplicationsApplicationID = `CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_application_id
    ON applications(application_id);`
)

// column pairs a column name with its SQLite type, for the add-missing-column
// pass over databases created by older versions.
type column struct {
	name    string
	sqlType string
}

// applicationColumns is the full current column set of the applications
// table, excluding the integer primary key.
var applicationColumns = []column{
	{"application_id", "TEXT"},
	{"company_name", "TEXT"},
	{"position", "TEXT"},
	{"job_type", "TEXT"},
	{"location", "TEXT"},
	{"stage", "TEXT"},
	{"outcome", "TEXT"},
	{"pipeline_order", "INTEGER"},
	{"application_date", "TEXT"},
	{"interview_datetime", "TEXT"},
	{"followup_date", "TEXT"},
	{"interview_rounds", "INTEGER"},
	{"interview_type", "TEXT"},
	{"interviewers", "TEXT"},
	{"company_score", "REAL"},
	{"last_round_cleared", "TEXT"},
	{"total_rounds", "INTEGER"},
	{"my_interview_score", "REAL"},
	{"improvement_areas", "TEXT"},
	{"skill_to_upgrade", "TEXT"},
	{"job_description", "TEXT"},
	{"notes", "TEXT"},
	{"todo_items", "TEXT"},
	{"documents_links", "TEXT"},
	{"documents_files", "TEXT"},
	{"contacts", "TEXT"},
	{"favorite", "INTEGER"},
	{"created_at", "TEXT"},
	{"updated_at", "TEXT"},
	{"last_viewed", "TEXT"},
	{"created_by", "TEXT"},
	{"properties_json", "TEXT"},
}

var viewColumns = []column{
	{"name", "TEXT"},
	{"view_type", "TEXT"},
	{"config", "TEXT"},
	{"created_at", "TEXT"},
	{"updated_at", "TEXT"},
}

var settingColumns = []column{
	{"value", "TEXT"},
}

// dateColumns are the applications columns that may carry 'NaT'-family
// sentinel strings from spreadsheet imports done by old versions.
var dateColumns = []string{"application_date", "interview_datetime", "followup_date"}
