package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
)

const (
	sqlCreateJobsTable = `CREATE TABLE IF NOT EXISTS jobs(
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		data TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_run_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`
	sqlCreateJobsIndex = `CREATE INDEX IF NOT EXISTS idx_jobs_next_run_at ON jobs(next_run_at)`

	sqlInsertJob     = `INSERT OR IGNORE INTO jobs(id, name, data, attempts, next_run_at, created_at) VALUES (?, ?, ?, 0, ?, ?)`
	sqlSelectDueJobs = `SELECT id, name, data, attempts, next_run_at FROM jobs WHERE next_run_at <= ? ORDER BY next_run_at LIMIT ?`
	sqlDeleteJob     = `DELETE FROM jobs WHERE id = ?`
	sqlUpdateJob     = `UPDATE jobs SET attempts = ?, next_run_at = ? WHERE id = ?`
	sqlCountJobs     = `SELECT COUNT(*) FROM jobs`
)

// SQLTransport keeps jobs in the sqlite jobs table. Times are stored as unix
// milliseconds.
type SQLTransport struct {
	db *sql.DB
	*poller
}

func NewSQLTransport(ctx context.Context, db *sql.DB, opts PollOptions, logger *log.Logger) (*SQLTransport, error) {
	for _, stmt := range []string{sqlCreateJobsTable, sqlCreateJobsIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create jobs table: %w", err)
		}
	}
	t := &SQLTransport{db: db}
	t.poller = newPoller(t, opts, logger.WithPrefix("sqlqueue"))
	return t, nil
}

func (t *SQLTransport) Enqueue(ctx context.Context, msg domain.JobMessage) error {
	return t.enqueue(ctx, msg)
}

func (t *SQLTransport) Run(ctx context.Context, handle HandleFunc) error {
	return t.run(ctx, handle)
}

// Close leaves the shared *sql.DB open.
func (t *SQLTransport) Close() error {
	return nil
}

func (t *SQLTransport) Pending(ctx context.Context) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, sqlCountJobs).Scan(&n)
	return n, err
}

func (t *SQLTransport) insert(ctx context.Context, rec record) error {
	now := t.now().UnixMilli()
	_, err := t.db.ExecContext(ctx, sqlInsertJob, rec.Msg.Id, rec.Msg.Name, string(rec.Msg.Data), rec.NextRunAt.UnixMilli(), now)
	return err
}

func (t *SQLTransport) due(ctx context.Context, now time.Time, limit int) ([]record, error) {
	rows, err := t.db.QueryContext(ctx, sqlSelectDueJobs, now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []record
	for rows.Next() {
		var rec record
		var data string
		var next int64
		if err := rows.Scan(&rec.Msg.Id, &rec.Msg.Name, &data, &rec.Attempts, &next); err != nil {
			return nil, err
		}
		rec.Msg.Data = []byte(data)
		rec.NextRunAt = time.UnixMilli(next)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *SQLTransport) remove(ctx context.Context, id string) error {
	_, err := t.db.ExecContext(ctx, sqlDeleteJob, id)
	return err
}

func (t *SQLTransport) reschedule(ctx context.Context, id string, attempts int, next time.Time) error {
	_, err := t.db.ExecContext(ctx, sqlUpdateJob, attempts, next.UnixMilli(), id)
	return err
}
