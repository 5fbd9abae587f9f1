package queue

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"paperflow/internal/db"
	"paperflow/internal/textutil"
)

const (
	jobColumns = "id, kind, status, payload_json, result_json, log_path, error, created_at, updated_at, started_at, finished_at"

	// MaxErrorLength caps stored job error text.
	MaxErrorLength = 2000
)

// Store manages job persistence.
type Store struct {
	db        *db.DB
	jobLogDir string
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a job store on the shared database. Claimed jobs log to
// files under jobLogDir.
func NewStore(database *db.DB, jobLogDir string, opts ...Option) *Store {
	s := &Store{db: database, jobLogDir: strings.TrimRight(jobLogDir, "/"), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogPathFor returns the deterministic log file path for a job.
func (s *Store) LogPathFor(id int64, kind Kind) string {
	return fmt.Sprintf("%s/job_%d_%s.log", s.jobLogDir, id, kind)
}

// Enqueue inserts a queued job. An empty payload is stored as {}.
func (s *Store) Enqueue(ctx context.Context, kind Kind, payload json.RawMessage) (*Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	body, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}
	now := db.FormatTime(s.now())
	res, err := s.db.ExecRetry(ctx,
		`INSERT INTO jobs (kind, status, payload_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(kind), string(StatusQueued), body, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	return s.Get(ctx, id)
}

func normalizePayload(payload json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}", nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return string(trimmed), nil
}

// ClaimNext marks the oldest queued job running and returns it. It returns
// nil when nothing is queued. The select and the update happen in one
// statement inside an IMMEDIATE transaction, so concurrent claimers sharing
// the database never receive the same row.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	var job *Job
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		now := db.FormatTime(s.now())
		row := tx.QueryRowContext(ctx, `
UPDATE jobs
SET status = ?,
    started_at = COALESCE(started_at, ?),
    updated_at = ?,
    log_path = ? || '/job_' || id || '_' || kind || '.log'
WHERE id = (SELECT id FROM jobs WHERE status = ? ORDER BY id LIMIT 1)
  AND status = ?
RETURNING `+jobColumns,
			string(StatusRunning), now, now, s.jobLogDir, string(StatusQueued), string(StatusQueued),
		)
		claimed, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			job = nil
			return nil
		}
		if err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// ReapStale fails up to limit running jobs whose started_at is older than
// horizon and returns them.
func (s *Store) ReapStale(ctx context.Context, horizon time.Duration, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 5
	}
	now := s.now()
	cutoff := db.FormatTime(now.Add(-horizon))
	var reaped []*Job
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		reaped = reaped[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs
WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
ORDER BY id LIMIT ?`,
			string(StatusRunning), cutoff, limit,
		)
		if err != nil {
			return err
		}
		var stale []*Job
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return err
			}
			stale = append(stale, job)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		stamp := db.FormatTime(now)
		for _, job := range stale {
			msg := fmt.Sprintf("stale running job reaped by worker (started_at=%s)", db.FormatTime(job.StartedAt))
			if prev := strings.TrimSpace(job.Error); prev != "" {
				msg = prev + "\n" + msg
			}
			msg = textutil.Truncate(msg, MaxErrorLength)
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, error = ?, finished_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
				string(StatusFailed), msg, stamp, stamp, job.ID, string(StatusRunning),
			); err != nil {
				return err
			}
			job.Status = StatusFailed
			job.Error = msg
			job.FinishedAt = db.ParseTime(stamp)
			reaped = append(reaped, job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reap stale jobs: %w", err)
	}
	return reaped, nil
}

// Finish records a terminal status for a running job. Error text is
// truncated. A job that is no longer running is left as is and
// ErrNotRunning is returned.
func (s *Store) Finish(ctx context.Context, id int64, status Status, errText string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job %d: status %q is not terminal", id, status)
	}
	now := db.FormatTime(s.now())
	res, err := s.db.ExecRetry(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), db.NullableString(textutil.Truncate(errText, MaxErrorLength)), now, now, id, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("finish job %d: %w", id, ErrNotRunning)
	}
	return nil
}

// SetResult stores the handler's JSON summary.
func (s *Store) SetResult(ctx context.Context, id int64, result json.RawMessage) error {
	if !json.Valid(result) {
		return fmt.Errorf("set job %d result: invalid JSON", id)
	}
	res, err := s.db.ExecRetry(ctx,
		`UPDATE jobs SET result_json = ?, updated_at = ? WHERE id = ?`,
		string(result), db.FormatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("set job %d result: %w", id, err)
	}
	return requireRow(res, id)
}

// Cancel moves a queued job to canceled. Running jobs cannot be canceled.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	now := db.FormatTime(s.now())
	res, err := s.db.ExecRetry(ctx,
		`UPDATE jobs SET status = ?, finished_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusCanceled), now, now, id, string(StatusQueued),
	)
	if err != nil {
		return fmt.Errorf("cancel job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("cancel job %d: %w", id, ErrNotQueued)
	}
	return nil
}

// Get returns one job.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// Filter narrows List results.
type Filter struct {
	Statuses []Status
	Kinds    []Kind
	Limit    int
}

// List returns jobs newest first. Limit is clamped to 1..200, default 50.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = 50
	case limit > 200:
		limit = 200
	}

	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+db.Placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.Kinds) > 0 {
		clauses = append(clauses, "kind IN ("+db.Placeholders(len(filter.Kinds))+")")
		for _, k := range filter.Kinds {
			args = append(args, string(k))
		}
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns job counts per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanJob(scanner db.Scanner) (*Job, error) {
	var (
		job        Job
		kind       string
		status     string
		payload    sql.NullString
		result     sql.NullString
		logPath    sql.NullString
		errText    sql.NullString
		createdRaw string
		updatedRaw string
		startedRaw sql.NullString
		finished   sql.NullString
	)
	if err := scanner.Scan(&job.ID, &kind, &status, &payload, &result, &logPath, &errText,
		&createdRaw, &updatedRaw, &startedRaw, &finished); err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Status = Status(status)
	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.LogPath = logPath.String
	job.Error = errText.String
	job.CreatedAt = db.ParseTime(createdRaw)
	job.UpdatedAt = db.ParseTime(updatedRaw)
	job.StartedAt = db.ParseNullTime(startedRaw)
	job.FinishedAt = db.ParseNullTime(finished)
	return &job, nil
}
