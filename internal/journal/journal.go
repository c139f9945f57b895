// Package journal keeps a SQLite history of sync passes.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	appLog "calsync/internal/log"
	"calsync/internal/reconcile"
	"calsync/internal/syncer"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run is one journaled pass.
type Run struct {
	ID         string    `json:"id"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	DryRun     bool      `json:"dry_run"`
	Scraped    int       `json:"scraped"`
	Remote     int       `json:"remote"`
	ParseDrops int       `json:"parse_drops"`
	Drops      int       `json:"drops"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Deleted    int       `json:"deleted"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`

	// Decisions is only filled by Get.
	Decisions []Decision `json:"decisions,omitempty"`
}

// Decision is one applied (or skipped) decision of a run.
type Decision struct {
	Position  int    `json:"position"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"`
	RemoteID  string `json:"remote_id,omitempty"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Applied   bool   `json:"applied"`
	CreatedID string `json:"created_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		scraped INTEGER NOT NULL DEFAULT 0,
		remote INTEGER NOT NULL DEFAULT 0,
		parse_drops INTEGER NOT NULL DEFAULT 0,
		drops INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at)`,
	`CREATE TABLE IF NOT EXISTS run_decisions (
		run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		remote_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		applied INTEGER NOT NULL DEFAULT 0,
		created_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, position)
	)`,
}

// Journal is a SQLite-backed run history.
type Journal struct {
	db *sql.DB

	// Keep, when positive, prunes the history to the newest Keep runs
	// after every Record.
	Keep int
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the server.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func migrate(db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("journal: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores rep and its decisions in one transaction.
func (j *Journal) Record(ctx context.Context, rep *syncer.Report) (err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	counts := rep.Counts()
	errText := ""
	if rep.Err != nil {
		errText = rep.Err.Error()
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, started_at, finished_at, dry_run, scraped, remote, parse_drops, drops, created, updated, deleted, skipped, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, formatTime(rep.Started), formatTime(rep.Finished), rep.DryRun,
		rep.Scraped, rep.Remote, len(rep.ParseDrops), len(rep.Plan.Drops),
		counts[reconcile.KindCreate], counts[reconcile.KindUpdate], counts[reconcile.KindDelete], counts[reconcile.KindSkip],
		errText)
	if err != nil {
		return fmt.Errorf("journal: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_decisions
		(run_id, position, kind, reason, remote_id, title, date, start_time, end_time, applied, created_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal: prepare: %w", err)
	}
	defer stmt.Close()

	for i, o := range rep.Outcomes {
		d := o.Decision
		oerr := ""
		if o.Err != nil {
			oerr = o.Err.Error()
		}
		_, err = stmt.ExecContext(ctx, rep.ID, i, string(d.Kind), string(d.Reason), d.RemoteID,
			d.Event.Title, d.Event.Date, d.Event.StartTime, d.Event.EndTime,
			o.Applied, o.CreatedID, oerr)
		if err != nil {
			return fmt.Errorf("journal: insert decision: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	if j.Keep > 0 {
		if _, perr := j.Prune(ctx, j.Keep); perr != nil {
			appLog.Error("journal prune failed", perr, "keep", j.Keep)
		}
	}
	return nil
}

const runColumns = `id, started_at, finished_at, dry_run, scraped, remote, parse_drops, drops, created, updated, deleted, skipped, error`

// Recent returns up to n runs, newest first, without their decisions.
func (j *Journal) Recent(ctx context.Context, n int) ([]Run, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := j.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns the run with its decisions in plan order.
func (j *Journal) Get(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx, `SELECT position, kind, reason, remote_id, title, date, start_time, end_time, applied, created_id, error
		FROM run_decisions WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("journal: query decisions: %w", err)
	}
	defer rows.Close()

	r.Decisions = make([]Decision, 0)
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.Position, &d.Kind, &d.Reason, &d.RemoteID, &d.Title, &d.Date, &d.StartTime, &d.EndTime,
			&d.Applied, &d.CreatedID, &d.Error); err != nil {
			return nil, fmt.Errorf("journal: scan decision: %w", err)
		}
		r.Decisions = append(r.Decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Prune deletes all but the newest keep runs. It returns the number removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM runs WHERE id NOT IN
		(SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r                 Run
		started, finished string
	)
	err := s.Scan(&r.ID, &started, &finished, &r.DryRun, &r.Scraped, &r.Remote, &r.ParseDrops, &r.Drops,
		&r.Created, &r.Updated, &r.Deleted, &r.Skipped, &r.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("journal: scan run: %w", err)
	}
	if r.Started, err = parseTime(started); err != nil {
		return r, err
	}
	if r.Finished, err = parseTime(finished); err != nil {
		return r, err
	}
	return r, nil
}

// Times are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("journal: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
