package items

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"paperflow/internal/db"
)

const itemColumns = "id, source, external_id, day, title, pdf_url, pdf_path, pdf_sha256, raw_text_path, one_liner_zh, one_liner_en, analysis_zh, analysis_en, captions_zh, captions_en, package_zh, package_en, meta_json, created_at, updated_at"

// ErrNotFound is returned when an item or asset does not exist.
var ErrNotFound = errors.New("item not found")

// Repository reads and writes items and assets.
type Repository struct {
	db  *db.DB
	now func() time.Time
}

// NewRepository returns a repository on the shared database.
func NewRepository(database *db.DB) *Repository {
	return &Repository{db: database, now: time.Now}
}

// NewItem describes an item to register.
type NewItem struct {
	Source     string          `json:"source"`
	ExternalID string          `json:"external_id"`
	Day        string          `json:"day"`
	Title      string          `json:"title"`
	PDFURL     string          `json:"pdf_url"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

// Upsert registers an item, or refreshes the descriptive fields of an
// existing one with the same (source, external_id). Stage outputs are never
// touched. It reports whether a new row was created.
func (r *Repository) Upsert(ctx context.Context, in NewItem) (*Item, bool, error) {
	in.Source = strings.TrimSpace(in.Source)
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.Day = strings.TrimSpace(in.Day)
	if in.Source == "" || in.ExternalID == "" {
		return nil, false, errors.New("upsert item: source and external_id are required")
	}
	if _, err := time.Parse("2006-01-02", in.Day); err != nil {
		return nil, false, fmt.Errorf("upsert item %s: day must be YYYY-MM-DD: %w", in.ExternalID, err)
	}
	var meta any
	if len(in.Meta) > 0 {
		if !json.Valid(in.Meta) {
			return nil, false, fmt.Errorf("upsert item %s: meta is not valid JSON", in.ExternalID)
		}
		meta = string(in.Meta)
	}

	existing, err := r.GetByExternalID(ctx, in.Source, in.ExternalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	now := db.FormatTime(r.now())
	if existing != nil {
		_, err := r.db.ExecRetry(ctx, `
UPDATE items SET
    day = ?,
    title = CASE WHEN ? != '' THEN ? ELSE title END,
    pdf_url = COALESCE(?, pdf_url),
    meta_json = COALESCE(?, meta_json),
    updated_at = ?
WHERE id = ?`,
			in.Day, in.Title, in.Title, db.NullableString(in.PDFURL), meta, now, existing.ID)
		if err != nil {
			return nil, false, fmt.Errorf("update item %s: %w", in.ExternalID, err)
		}
		item, err := r.Get(ctx, existing.ID)
		return item, false, err
	}

	res, err := r.db.ExecRetry(ctx, `
INSERT INTO items (source, external_id, day, title, pdf_url, meta_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Source, in.ExternalID, in.Day, in.Title, db.NullableString(in.PDFURL), meta, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert item %s: %w", in.ExternalID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	item, err := r.Get(ctx, id)
	return item, true, err
}

// Get returns one item by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	return item, nil
}

// GetByExternalID returns one item by its source-assigned id.
func (r *Repository) GetByExternalID(ctx context.Context, source, externalID string) (*Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE source = ? AND external_id = ?`, source, externalID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s/%s: %w", source, externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", externalID, err)
	}
	return item, nil
}

// Scope selects items. Exactly one of All, Day, or ExternalIDs is expected;
// when several are set ExternalIDs wins, then Day.
type Scope struct {
	Source      string
	All         bool
	Day         string
	ExternalIDs []string
}

// String renders the scope for logs and result summaries.
func (s Scope) String() string {
	switch {
	case len(s.ExternalIDs) > 0:
		return "ids:" + strings.Join(s.ExternalIDs, ",")
	case s.Day != "":
		return "day:" + s.Day
	case s.All:
		return "all"
	}
	return "none"
}

// Select returns the scoped items in id order.
func (r *Repository) Select(ctx context.Context, scope Scope) ([]*Item, error) {
	var (
		clauses []string
		args    []any
	)
	if scope.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, scope.Source)
	}
	switch {
	case len(scope.ExternalIDs) > 0:
		clauses = append(clauses, "external_id IN ("+db.Placeholders(len(scope.ExternalIDs))+")")
		for _, id := range scope.ExternalIDs {
			args = append(args, id)
		}
	case scope.Day != "":
		clauses = append(clauses, "day = ?")
		args = append(args, scope.Day)
	case scope.All:
	default:
		return nil, nil
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// LatestDay returns the most recent day with items for source, or "" when
// there are none.
func (r *Repository) LatestDay(ctx context.Context, source string) (string, error) {
	var day sql.NullString
	query := `SELECT MAX(day) FROM items`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&day); err != nil {
		return "", fmt.Errorf("latest day: %w", err)
	}
	return day.String, nil
}

// SetField writes one output column. An empty value clears it to NULL.
func (r *Repository) SetField(ctx context.Context, id int64, field Field, value string) error {
	if !field.Valid() {
		return fmt.Errorf("set field: unknown field %q", field)
	}
	res, err := r.db.ExecRetry(ctx,
		`UPDATE items SET `+string(field)+` = ?, updated_at = ? WHERE id = ?`,
		db.NullableString(value), db.FormatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("set %s on item %d: %w", field, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return nil
}

// ClearFields nulls the given output columns on one item.
func (r *Repository) ClearFields(ctx context.Context, id int64, fields ...Field) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(fields))
	for _, f := range fields {
		if !f.Valid() {
			return fmt.Errorf("clear fields: unknown field %q", f)
		}
		sets = append(sets, string(f)+" = NULL")
	}
	_, err := r.db.ExecRetry(ctx,
		`UPDATE items SET `+strings.Join(sets, ", ")+`, updated_at = ? WHERE id = ?`,
		db.FormatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("clear fields on item %d: %w", id, err)
	}
	return nil
}

// Count returns the number of items, optionally restricted to one day.
func (r *Repository) Count(ctx context.Context, day string) (int, error) {
	query := `SELECT COUNT(1) FROM items`
	var args []any
	if day != "" {
		query += ` WHERE day = ?`
		args = append(args, day)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// Coverage counts, per field, the items of source that have it set.
func (r *Repository) Coverage(ctx context.Context, source string, fields ...Field) (map[Field]int, error) {
	out := make(map[Field]int, len(fields))
	if len(fields) == 0 {
		return out, nil
	}
	sums := make([]string, 0, len(fields))
	for _, f := range fields {
		if !f.Valid() {
			return nil, fmt.Errorf("coverage: unknown field %q", f)
		}
		sums = append(sums, `COALESCE(SUM(CASE WHEN `+string(f)+` IS NOT NULL AND `+string(f)+` != '' THEN 1 ELSE 0 END), 0)`)
	}
	counts := make([]int, len(fields))
	dest := make([]any, len(fields))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(sums, ", ")+` FROM items WHERE source = ?`, source,
	).Scan(dest...); err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}
	for i, f := range fields {
		out[f] = counts[i]
	}
	return out, nil
}

func scanItem(scanner db.Scanner) (*Item, error) {
	var (
		item                    Item
		pdfURL, pdfPath, pdfSHA sql.NullString
		rawText                 sql.NullString
		oneLinerZH, oneLinerEN  sql.NullString
		analysisZH, analysisEN  sql.NullString
		captionsZH, captionsEN  sql.NullString
		packageZH, packageEN    sql.NullString
		meta                    sql.NullString
		createdRaw, updatedRaw  string
	)
	if err := scanner.Scan(&item.ID, &item.Source, &item.ExternalID, &item.Day, &item.Title,
		&pdfURL, &pdfPath, &pdfSHA, &rawText, &oneLinerZH, &oneLinerEN, &analysisZH, &analysisEN,
		&captionsZH, &captionsEN, &packageZH, &packageEN, &meta, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	item.PDFURL = pdfURL.String
	item.PDFPath = pdfPath.String
	item.PDFSHA256 = pdfSHA.String
	item.RawTextPath = rawText.String
	item.OneLinerZH = oneLinerZH.String
	item.OneLinerEN = oneLinerEN.String
	item.AnalysisZH = analysisZH.String
	item.AnalysisEN = analysisEN.String
	item.CaptionsZH = captionsZH.String
	item.CaptionsEN = captionsEN.String
	item.PackageZH = packageZH.String
	item.PackageEN = packageEN.String
	if meta.Valid {
		item.Meta = json.RawMessage(meta.String)
	}
	item.CreatedAt = db.ParseTime(createdRaw)
	item.UpdatedAt = db.ParseTime(updatedRaw)
	return &item, nil
}
