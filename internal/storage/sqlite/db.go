package sqlite

import (
	"database/sql"
	"strings"

	"blockerbot/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS detection_runs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		channel        TEXT NOT NULL,
		channel_id     TEXT DEFAULT '',
		run_date       TEXT NOT NULL,
		source         TEXT NOT NULL DEFAULT 'cli',
		issue_count    INTEGER NOT NULL DEFAULT 0,
		blocking_count INTEGER NOT NULL DEFAULT 0,
		critical_count INTEGER NOT NULL DEFAULT 0,
		resolved_count INTEGER NOT NULL DEFAULT 0,
		error          TEXT DEFAULT '',
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_channel ON detection_runs(channel, created_at);

	CREATE TABLE IF NOT EXISTS detected_issues (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id            INTEGER NOT NULL,
		severity          TEXT NOT NULL,
		ticket_keys       TEXT NOT NULL,
		text              TEXT DEFAULT '',
		message_ts        TEXT DEFAULT '',
		has_thread        INTEGER NOT NULL DEFAULT 0,
		permalink         TEXT DEFAULT '',
		resolution_text   TEXT DEFAULT '',
		hotfix_commitment INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_issues_run ON detected_issues(run_id);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	// Migration: add requested_by, duration_ms and run_uuid columns if missing.
	for _, col := range []struct{ name, ddl string }{
		{"requested_by", `ALTER TABLE detection_runs ADD COLUMN requested_by TEXT DEFAULT ''`},
		{"duration_ms", `ALTER TABLE detection_runs ADD COLUMN duration_ms INTEGER DEFAULT 0`},
		{"run_uuid", `ALTER TABLE detection_runs ADD COLUMN run_uuid TEXT DEFAULT ''`},
	} {
		var colCount int
		_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('detection_runs') WHERE name = ?`, col.name).Scan(&colCount)
		if colCount == 0 {
			_, _ = db.Exec(col.ddl)
		}
	}

	return db, nil
}

// InsertDetectionRun stores a run and its issues in one transaction and
// returns the run id.
func InsertDetectionRun(db *sql.DB, run domain.DetectionRun, issues []domain.Issue) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO detection_runs (run_uuid, channel, channel_id, run_date, source, requested_by, issue_count, blocking_count, critical_count, resolved_count, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunUUID, run.Channel, run.ChannelID, run.RunDate, run.Source, run.RequestedBy,
		run.IssueCount, run.BlockingCount, run.CriticalCount, run.ResolvedCount,
		run.Error, run.DurationMS,
	)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO detected_issues (run_id, severity, ticket_keys, text, message_ts, has_thread, permalink, resolution_text, hotfix_commitment)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, issue := range issues {
		if !issue.Emittable() {
			continue
		}
		_, err := stmt.Exec(
			runID, string(issue.Severity), strings.Join(issue.TicketKeys(), ","), issue.Text,
			issue.Timestamp, issue.HasThread, issue.Permalink, issue.ResolutionText, issue.HotfixCommitment,
		)
		if err != nil {
			return 0, err
		}
	}

	return runID, tx.Commit()
}

// GetRecentRuns lists the newest runs first. An empty channel lists runs for
// every channel.
func GetRecentRuns(db *sql.DB, channel string, limit int) ([]domain.DetectionRun, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, run_uuid, channel, channel_id, run_date, source, requested_by, issue_count, blocking_count, critical_count, resolved_count, error, duration_ms, created_at
		 FROM detection_runs`
	var args []any
	if channel != "" {
		query += ` WHERE channel = ? OR channel_id = ?`
		args = append(args, channel, channel)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.DetectionRun
	for rows.Next() {
		var r domain.DetectionRun
		err := rows.Scan(
			&r.ID, &r.RunUUID, &r.Channel, &r.ChannelID, &r.RunDate, &r.Source, &r.RequestedBy,
			&r.IssueCount, &r.BlockingCount, &r.CriticalCount, &r.ResolvedCount,
			&r.Error, &r.DurationMS, &r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func GetRunIssues(db *sql.DB, runID int64) ([]domain.Issue, error) {
	rows, err := db.Query(
		`SELECT severity, ticket_keys, text, message_ts, has_thread, permalink, resolution_text, hotfix_commitment
		 FROM detected_issues WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []domain.Issue
	for rows.Next() {
		var (
			issue    domain.Issue
			severity string
			keys     string
		)
		err := rows.Scan(
			&severity, &keys, &issue.Text, &issue.Timestamp, &issue.HasThread,
			&issue.Permalink, &issue.ResolutionText, &issue.HotfixCommitment,
		)
		if err != nil {
			return nil, err
		}
		issue.Severity = domain.Severity(severity)
		for _, key := range strings.Split(keys, ",") {
			if key = strings.TrimSpace(key); key != "" {
				issue.Tickets = append(issue.Tickets, domain.TicketReference{Key: key, Project: projectOf(key)})
			}
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func projectOf(key string) string {
	if i := strings.LastIndexByte(key, '-'); i > 0 {
		return key[:i]
	}
	return ""
}
