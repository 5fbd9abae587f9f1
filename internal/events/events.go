package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"paperflow/internal/db"
	"paperflow/internal/textutil"
)

// Status is the outcome recorded by an event.
type Status string

const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// MaxErrorLength caps stored error text.
const MaxErrorLength = 2000

// LogPathEnv names the environment variable job handlers inherit with their
// job log location. Events recorded without an explicit log path use it.
const LogPathEnv = "PAPERFLOW_LOG_PATH"

const eventColumns = "id, item_id, stage, status, error, meta_json, log_path, created_at"

// Event is one immutable stage transition.
type Event struct {
	ID        int64
	ItemID    int64
	Stage     string
	Status    Status
	Error     string
	Meta      map[string]any
	LogPath   string
	CreatedAt time.Time
}

// Entry describes an event to append.
type Entry struct {
	ItemID  int64
	Stage   string
	Status  Status
	Error   string
	Meta    map[string]any
	LogPath string
}

// Log appends and queries events.
type Log struct {
	db  *db.DB
	now func() time.Time
}

// NewLog returns an event log on the shared database.
func NewLog(database *db.DB) *Log {
	return &Log{db: database, now: time.Now}
}

// Record appends one event and commits it.
func (l *Log) Record(ctx context.Context, e Entry) (*Event, error) {
	if e.ItemID <= 0 {
		return nil, errors.New("record event: item id is required")
	}
	if strings.TrimSpace(e.Stage) == "" {
		return nil, errors.New("record event: stage is required")
	}
	switch e.Status {
	case StatusStarted, StatusSuccess, StatusFailed, StatusSkipped:
	default:
		return nil, fmt.Errorf("record event: unsupported status %q", e.Status)
	}

	logPath := strings.TrimSpace(e.LogPath)
	if logPath == "" {
		logPath = strings.TrimSpace(os.Getenv(LogPathEnv))
	}
	var meta any
	if len(e.Meta) > 0 {
		raw, err := json.Marshal(e.Meta)
		if err != nil {
			return nil, fmt.Errorf("record event: encode meta: %w", err)
		}
		meta = string(raw)
	}
	errText := textutil.Truncate(e.Error, MaxErrorLength)
	created := db.FormatTime(l.now())

	res, err := l.db.ExecRetry(ctx,
		`INSERT INTO events (item_id, stage, status, error, meta_json, log_path, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ItemID, e.Stage, string(e.Status), db.NullableString(errText), meta, db.NullableString(logPath), created,
	)
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	return &Event{
		ID:        id,
		ItemID:    e.ItemID,
		Stage:     e.Stage,
		Status:    e.Status,
		Error:     errText,
		Meta:      e.Meta,
		LogPath:   logPath,
		CreatedAt: db.ParseTime(created),
	}, nil
}

// RecordSkip appends a skipped event unless the latest event for the pair
// is already a skip with the same reason. It reports whether a row was
// written.
func (l *Log) RecordSkip(ctx context.Context, itemID int64, stage, reason string, meta map[string]any) (bool, error) {
	latest, err := l.Latest(ctx, itemID, stage)
	if err != nil {
		return false, err
	}
	reason = textutil.Truncate(reason, MaxErrorLength)
	if latest != nil && latest.Status == StatusSkipped && latest.Error == reason {
		return false, nil
	}
	if _, err := l.Record(ctx, Entry{ItemID: itemID, Stage: stage, Status: StatusSkipped, Error: reason, Meta: meta}); err != nil {
		return false, err
	}
	return true, nil
}

// Latest returns the most recent event for (item, stage), or nil.
func (l *Log) Latest(ctx context.Context, itemID int64, stage string) (*Event, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE item_id = ? AND stage = ? ORDER BY id DESC LIMIT 1`,
		itemID, stage,
	)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest event: %w", err)
	}
	return ev, nil
}

// LatestByStage returns the effective state of every stage that has history
// for the item.
func (l *Log) LatestByStage(ctx context.Context, itemID int64) (map[string]*Event, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT `+eventColumns+` FROM events
WHERE id IN (SELECT MAX(id) FROM events WHERE item_id = ? GROUP BY stage)
ORDER BY stage`, itemID)
	if err != nil {
		return nil, fmt.Errorf("latest events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Event)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out[ev.Stage] = ev
	}
	return out, rows.Err()
}

// ForItem returns the item's events newest first. Limit <= 0 means 200.
func (l *Log) ForItem(ctx context.Context, itemID int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE item_id = ? ORDER BY id DESC LIMIT ?`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// HasAny reports whether the pair has any history.
func (l *Log) HasAny(ctx context.Context, itemID int64, stage string) (bool, error) {
	var n int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM events WHERE item_id = ? AND stage = ?`, itemID, stage,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("count events: %w", err)
	}
	return n > 0, nil
}

// Count returns how many events exist for the pair, optionally restricted to
// one status.
func (l *Log) Count(ctx context.Context, itemID int64, stage string, status Status) (int, error) {
	query := `SELECT COUNT(1) FROM events WHERE item_id = ? AND stage = ?`
	args := []any{itemID, stage}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	var n int
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Failure is a failed event joined with its item's external id.
type Failure struct {
	Event
	ExternalID string
}

// RecentFailures returns failed events newest first across all items.
// Limit <= 0 means 20.
func (l *Log) RecentFailures(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT e.id, e.item_id, e.stage, e.status, e.error, e.meta_json, e.log_path, e.created_at, i.external_id
FROM events e JOIN items i ON i.id = e.item_id
WHERE e.status = ?
ORDER BY e.id DESC LIMIT ?`, string(StatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		ev, err := scanEvent(scannerFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &f.ExternalID)...)
		}))
		if err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.Event = *ev
		out = append(out, f)
	}
	return out, rows.Err()
}

type scannerFunc func(dest ...any) error

func (f scannerFunc) Scan(dest ...any) error { return f(dest...) }

// StageSummary counts items per latest status for one stage.
func (l *Log) StageSummary(ctx context.Context, stage string) (map[Status]int, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT status, COUNT(1) FROM events
WHERE id IN (SELECT MAX(id) FROM events WHERE stage = ? GROUP BY item_id)
GROUP BY status`, stage)
	if err != nil {
		return nil, fmt.Errorf("stage summary: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan stage summary: %w", err)
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

func scanEvent(scanner db.Scanner) (*Event, error) {
	var (
		ev      Event
		status  string
		errText sql.NullString
		meta    sql.NullString
		logPath sql.NullString
		created string
	)
	if err := scanner.Scan(&ev.ID, &ev.ItemID, &ev.Stage, &status, &errText, &meta, &logPath, &created); err != nil {
		return nil, err
	}
	ev.Status = Status(status)
	ev.Error = errText.String
	ev.LogPath = logPath.String
	ev.CreatedAt = db.ParseTime(created)
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &ev.Meta)
	}
	return &ev, nil
}
