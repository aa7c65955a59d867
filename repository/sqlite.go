package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	_ "modernc.org/sqlite"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/schedule"
)

const schema = `
CREATE TABLE IF NOT EXISTS scheduled_reports (
	id             TEXT PRIMARY KEY,
	version        INTEGER NOT NULL,
	enabled        INTEGER NOT NULL,
	status         TEXT NOT NULL,
	next_execution INTEGER NOT NULL,
	document       TEXT NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS scheduled_reports_due ON scheduled_reports (enabled, status, next_execution);
`

// SQLite stores each scheduled report as a JSON document next to the
// columns needed to find due schedules.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeError("open database", err)
	}
	// a single connection keeps :memory: databases alive and serialises writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, storeError("migrate schema", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Save(ctx context.Context, sr schedule.ScheduledReport) error {
	doc, err := json.Marshal(sr)
	if err != nil {
		return storeError("encode scheduled report", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer tx.Rollback()

	var stored int
	err = tx.QueryRowContext(ctx, `SELECT version FROM scheduled_reports WHERE id = ?`, sr.ID).Scan(&stored)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
	case err != nil:
		return storeError("read version", err)
	case stored >= sr.Version:
		return conflict(sr.ID, stored, sr.Version)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO scheduled_reports (id, version, enabled, status, next_execution, document, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	version = excluded.version,
	enabled = excluded.enabled,
	status = excluded.status,
	next_execution = excluded.next_execution,
	document = excluded.document,
	updated_at = excluded.updated_at`,
		sr.ID, sr.Version, sr.Enabled, string(sr.Schedule.Status),
		sr.Schedule.NextExecution.UnixNano(), string(doc), sr.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return storeError("write scheduled report", err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (schedule.ScheduledReport, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM scheduled_reports WHERE id = ?`, id).Scan(&doc)
	if stderrors.Is(err, sql.ErrNoRows) {
		return schedule.ScheduledReport{}, notFound(id)
	}
	if err != nil {
		return schedule.ScheduledReport{}, storeError("read scheduled report", err)
	}
	return decode(doc)
}

func (s *SQLite) List(ctx context.Context) ([]schedule.ScheduledReport, error) {
	return s.query(ctx, `SELECT document FROM scheduled_reports ORDER BY next_execution, id`)
}

func (s *SQLite) ListDue(ctx context.Context, now time.Time) ([]schedule.ScheduledReport, error) {
	items, err := s.query(ctx, `
SELECT document FROM scheduled_reports
WHERE enabled = 1 AND status = ? AND next_execution <= ?
ORDER BY next_execution, id`, string(schedule.Active), now.UnixNano())
	if err != nil {
		return nil, err
	}
	due := items[:0]
	for _, sr := range items {
		if sr.IsDue(now) {
			due = append(due, sr)
		}
	}
	return due, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_reports WHERE id = ?`, id)
	if err != nil {
		return storeError("delete scheduled report", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]schedule.ScheduledReport, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeError("list scheduled reports", err)
	}
	defer rows.Close()

	var out []schedule.ScheduledReport
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, storeError("scan scheduled report", err)
		}
		sr, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list scheduled reports", err)
	}
	return out, nil
}

func decode(doc string) (schedule.ScheduledReport, error) {
	var sr schedule.ScheduledReport
	if err := json.Unmarshal([]byte(doc), &sr); err != nil {
		return schedule.ScheduledReport{}, storeError("decode scheduled report", err)
	}
	return sr, nil
}

func storeError(msg string, err error) error {
	return report.NewError(report.ErrStorageFailed, msg, err, nil)
}
