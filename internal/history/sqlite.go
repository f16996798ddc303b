package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aint-no-code/reclaw-conformance/internal/report"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			report_id TEXT PRIMARY KEY,
			base_url TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			total INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			skipped INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_started ON reports(started_at)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			report_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			passed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			detail TEXT NOT NULL,
			payload TEXT,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (report_id, position),
			FOREIGN KEY (report_id) REFERENCES reports(report_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveReport stores a report and its outcomes in one transaction and returns its id.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *report.Report) (string, error) {
	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reports (report_id, base_url, started_at, total, failed, skipped) VALUES (?, ?, ?, ?, ?, ?)`,
		id, r.BaseURL, r.StartedAt.UTC(), r.Total, r.Failed, r.Skipped)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}

	for i, o := range r.Outcomes {
		var payload sql.NullString
		if len(o.Payload) > 0 {
			payload = sql.NullString{String: string(o.Payload), Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO outcomes (report_id, position, name, passed, skipped, detail, payload, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, o.Name, o.Passed, o.Skipped, o.Detail, payload, o.DurationMs)
		if err != nil {
			return "", fmt.Errorf("insert outcome %s: %w", o.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// ListReports returns the most recent reports first.
func (s *SQLiteStore) ListReports(ctx context.Context, limit int) ([]Summary, error) {
	query := `SELECT report_id, base_url, started_at, total, failed, skipped FROM reports ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.BaseURL, &sum.StartedAt, &sum.Total, &sum.Failed, &sum.Skipped); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// GetOutcomes returns the outcomes of a report in their original order.
func (s *SQLiteStore) GetOutcomes(ctx context.Context, reportID string) ([]report.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, passed, skipped, detail, payload, duration_ms FROM outcomes WHERE report_id = ? ORDER BY position ASC`,
		reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []report.Outcome
	for rows.Next() {
		var o report.Outcome
		var payload sql.NullString
		if err := rows.Scan(&o.Name, &o.Passed, &o.Skipped, &o.Detail, &payload, &o.DurationMs); err != nil {
			return nil, err
		}
		if payload.Valid {
			o.Payload = json.RawMessage(payload.String)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
