package items

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"paperflow/internal/db"
)

const assetColumns = "id, item_id, kind, provider, lang, position, status, enabled, prompt, local_path, sha256, error, meta_json, created_at, updated_at"

// PlanAsset creates the row for (item, kind, provider, lang, position) in
// planned state, or resets an existing row back to planned with the new
// prompt.
func (r *Repository) PlanAsset(ctx context.Context, a Asset) (*Asset, error) {
	if a.Kind == "" {
		a.Kind = AssetKindGenerated
	}
	now := db.FormatTime(r.now())
	var asset *Asset
	err := db.RetryOnBusy(ctx, func() error {
		row := r.db.QueryRowContext(ctx, `
INSERT INTO assets (item_id, kind, provider, lang, position, status, enabled, prompt, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
ON CONFLICT(item_id, kind, provider, lang, position) DO UPDATE SET
    status = excluded.status,
    enabled = 1,
    prompt = excluded.prompt,
    error = NULL,
    updated_at = excluded.updated_at
RETURNING `+assetColumns,
			a.ItemID, a.Kind, a.Provider, a.Lang, a.Position, AssetPlanned, db.NullableString(a.Prompt), now, now)
		var scanErr error
		asset, scanErr = scanAsset(row)
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("plan asset for item %d: %w", a.ItemID, err)
	}
	return asset, nil
}

// MarkAssetGenerated records a successful synthesis.
func (r *Repository) MarkAssetGenerated(ctx context.Context, id int64, localPath, sha string, meta map[string]any) error {
	var rawMeta any
	if len(meta) > 0 {
		encoded, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode asset meta: %w", err)
		}
		rawMeta = string(encoded)
	}
	_, err := r.db.ExecRetry(ctx,
		`UPDATE assets SET status = ?, local_path = ?, sha256 = ?, error = NULL, meta_json = COALESCE(?, meta_json), updated_at = ? WHERE id = ?`,
		AssetGenerated, localPath, db.NullableString(sha), rawMeta, db.FormatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("mark asset %d generated: %w", id, err)
	}
	return nil
}

// MarkAssetFailed records a failed synthesis.
func (r *Repository) MarkAssetFailed(ctx context.Context, id int64, errText string) error {
	_, err := r.db.ExecRetry(ctx,
		`UPDATE assets SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		AssetFailed, db.NullableString(errText), db.FormatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("mark asset %d failed: %w", id, err)
	}
	return nil
}

// CountGenerated returns enabled generated assets per provider.
func (r *Repository) CountGenerated(ctx context.Context, itemID int64, lang string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT provider, COUNT(1) FROM assets
WHERE item_id = ? AND lang = ? AND kind = ? AND enabled = 1 AND status = ?
GROUP BY provider`, itemID, lang, AssetKindGenerated, AssetGenerated)
	if err != nil {
		return nil, fmt.Errorf("count assets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			provider string
			n        int
		)
		if err := rows.Scan(&provider, &n); err != nil {
			return nil, fmt.Errorf("scan asset count: %w", err)
		}
		out[provider] = n
	}
	return out, rows.Err()
}

// Assets lists an item's assets for lang ordered by provider and position.
// An empty lang lists every language.
func (r *Repository) Assets(ctx context.Context, itemID int64, lang string) ([]*Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE item_id = ?`
	args := []any{itemID}
	if lang != "" {
		query += ` AND lang = ?`
		args = append(args, lang)
	}
	query += ` ORDER BY provider, lang, position`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAssets removes an item's generated rows for lang and returns them so
// the caller can remove files on disk.
func (r *Repository) DeleteAssets(ctx context.Context, itemID int64, lang string) ([]*Asset, error) {
	assets, err := r.Assets(ctx, itemID, lang)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.ExecRetry(ctx,
		`DELETE FROM assets WHERE item_id = ? AND lang = ? AND kind = ?`,
		itemID, lang, AssetKindGenerated); err != nil {
		return nil, fmt.Errorf("delete assets for item %d: %w", itemID, err)
	}
	out := assets[:0]
	for _, a := range assets {
		if a.Kind == AssetKindGenerated {
			out = append(out, a)
		}
	}
	return out, nil
}

func scanAsset(scanner db.Scanner) (*Asset, error) {
	var (
		a          Asset
		enabled    int
		prompt     sql.NullString
		localPath  sql.NullString
		sha        sql.NullString
		errText    sql.NullString
		meta       sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&a.ID, &a.ItemID, &a.Kind, &a.Provider, &a.Lang, &a.Position, &a.Status, &enabled,
		&prompt, &localPath, &sha, &errText, &meta, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	a.Enabled = enabled != 0
	a.Prompt = prompt.String
	a.LocalPath = localPath.String
	a.SHA256 = sha.String
	a.Error = errText.String
	if meta.Valid {
		a.Meta = json.RawMessage(meta.String)
	}
	a.CreatedAt = db.ParseTime(createdRaw)
	a.UpdatedAt = db.ParseTime(updatedRaw)
	return &a, nil
}
