package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Open opens the SQLite database at path, creating parent directories as
// needed. The special value ":memory:" opens an in-memory database.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; the desktop app is single-user and modernc's
	// driver serializes better with a single connection.
	db.SetMaxOpenConns(1)
	return db, nil
}

// EnsureSchema brings the database up to the current table shape. Every step
// is idempotent, so it runs unconditionally on startup before the versioned
// migrations.
func EnsureSchema(db *sql.DB) error {
	for _, ddl := range []string{createApplications, createViews, createSettings} {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}

	for _, t := range []struct {
		table   string
		columns []column
	}{
		{"applications", applicationColumns},
		{"views", viewColumns},
		{"settings", settingColumns},
	} {
		if err := ensureColumns(db, t.table, t.columns); err != nil {
			return fmt.Errorf("ensure columns on %s: %w", t.table, err)
		}
	}

	if _, err := db.Exec(idxApplicationsApplicationID); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	if err := backfillApplicationIDs(db); err != nil {
		return fmt.Errorf("backfill application ids: %w", err)
	}
	if err := backfillDefaults(db); err != nil {
		return fmt.Errorf("backfill defaults: %w", err)
	}
	if err := cleanupDateSentinels(db); err != nil {
		return fmt.Errorf("clean date sentinels: %w", err)
	}
	return nil
}

// ensureColumns adds any column from the declared set that the live table is
// missing. Columns are only ever added, never dropped or retyped.
func ensureColumns(db *sql.DB, table string, columns []column) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}

	for _, col := range columns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.sqlType)
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// backfillApplicationIDs assigns a UUID to every application row that has
// none, so rows created before stable identities exist get one exactly once.
func backfillApplicationIDs(db *sql.DB) error {
	rows, err := db.Query(`SELECT id FROM applications WHERE application_id IS NULL OR application_id = ''`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := db.Exec(`UPDATE applications SET application_id = ? WHERE id = ?`, uuid.NewString(), id); err != nil {
			return err
		}
	}
	return nil
}

// backfillDefaults fills timestamps and ownership left NULL by old versions.
func backfillDefaults(db *sql.DB) error {
	now := time.Now().UTC().Format(time.RFC3339)
	stmts := []struct {
		query string
		args  []any
	}{
		{`UPDATE applications SET created_at = COALESCE(created_at, ?)`, []any{now}},
		{`UPDATE applications SET updated_at = COALESCE(updated_at, ?)`, []any{now}},
		{`UPDATE applications SET created_by = COALESCE(created_by, 'local')`, nil},
	}
	for _, s := range stmts {
		if _, err := db.Exec(s.query, s.args...); err != nil {
			return err
		}
	}
	return nil
}

// cleanupDateSentinels nulls the 'NaT'/'NaN' strings that pandas-era
// spreadsheet imports wrote into date columns.
func cleanupDateSentinels(db *sql.DB) error {
	for _, col := range dateColumns {
		stmt := fmt.Sprintf(
			`UPDATE applications SET %s = NULL WHERE %s IN ('NaT', 'nat', 'NaN', 'nan')`,
			col, col,
		)
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
