package items_test

import (
	"context"
	"errors"
	"testing"

	"paperflow/internal/items"
	"paperflow/internal/testsupport"
)

func newRepo(t *testing.T) *items.Repository {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return items.NewRepository(testsupport.MustOpenDB(t, cfg))
}

func TestUpsertCreatesThenRefreshes(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	item, created, err := repo.Upsert(ctx, items.NewItem{Source: "hf_daily", ExternalID: "2601.00001", Day: "2026-01-05", Title: "First"})
	if err != nil || !created {
		t.Fatalf("Upsert: created=%v err=%v", created, err)
	}
	if err := repo.SetField(ctx, item.ID, items.FieldPDFPath, "/tmp/a.pdf"); err != nil {
		t.Fatalf("SetField: %v", err)
	}

	again, created, err := repo.Upsert(ctx, items.NewItem{Source: "hf_daily", ExternalID: "2601.00001", Day: "2026-01-06"})
	if err != nil || created {
		t.Fatalf("second Upsert: created=%v err=%v", created, err)
	}
	if again.ID != item.ID || again.Title != "First" || again.Day != "2026-01-06" {
		t.Fatalf("unexpected refreshed item %+v", again)
	}
	if again.PDFPath != "/tmp/a.pdf" {
		t.Fatalf("expected stage output untouched, got %q", again.PDFPath)
	}

	if _, _, err := repo.Upsert(ctx, items.NewItem{Source: "hf_daily", ExternalID: "x", Day: "yesterday"}); err == nil {
		t.Fatal("expected invalid day to fail")
	}
}

func TestSelectScopesAndLatestDay(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	for _, in := range []items.NewItem{
		{Source: "hf_daily", ExternalID: "a", Day: "2026-01-01"},
		{Source: "hf_daily", ExternalID: "b", Day: "2026-01-02"},
		{Source: "hf_daily", ExternalID: "c", Day: "2026-01-02"},
	} {
		if _, _, err := repo.Upsert(ctx, in); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	day, err := repo.LatestDay(ctx, "hf_daily")
	if err != nil || day != "2026-01-02" {
		t.Fatalf("LatestDay = %q, %v", day, err)
	}
	byDay, _ := repo.Select(ctx, items.Scope{Day: day})
	if len(byDay) != 2 {
		t.Fatalf("expected 2 items for day, got %d", len(byDay))
	}
	byID, _ := repo.Select(ctx, items.Scope{ExternalIDs: []string{"a", "c"}, Day: day})
	if len(byID) != 2 || byID[0].ExternalID != "a" {
		t.Fatalf("expected explicit ids to win, got %+v", byID)
	}
	all, _ := repo.Select(ctx, items.Scope{All: true})
	if len(all) != 3 {
		t.Fatalf("expected 3 items, got %d", len(all))
	}
	none, _ := repo.Select(ctx, items.Scope{})
	if len(none) != 0 {
		t.Fatalf("expected empty scope to select nothing, got %d", len(none))
	}
}

func TestSetFieldRejectsUnknownColumn(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	item, _, _ := repo.Upsert(ctx, items.NewItem{Source: "s", ExternalID: "a", Day: "2026-01-01"})

	if err := repo.SetField(ctx, item.ID, items.Field("title; DROP TABLE items"), "x"); err == nil {
		t.Fatal("expected unknown field to fail")
	}
	if err := repo.SetField(ctx, item.ID, items.FieldAnalysis("fr"), "x"); err == nil {
		t.Fatal("expected unsupported language field to fail")
	}
	if err := repo.SetField(ctx, 999, items.FieldPDFPath, "x"); !errors.Is(err, items.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := repo.SetField(ctx, item.ID, items.FieldAnalysis("en"), "text"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := repo.ClearFields(ctx, item.ID, items.FieldAnalysis("en")); err != nil {
		t.Fatalf("ClearFields: %v", err)
	}
	got, _ := repo.Get(ctx, item.ID)
	if got.Value(items.FieldAnalysis("en")) != "" {
		t.Fatal("expected analysis cleared")
	}

	if err := repo.SetField(ctx, item.ID, items.FieldOneLiner("zh"), "一句话"); err != nil {
		t.Fatalf("SetField one-liner: %v", err)
	}
	got, _ = repo.Get(ctx, item.ID)
	if got.OneLinerZH != "一句话" || got.Value(items.FieldOneLiner("en")) != "" {
		t.Fatalf("unexpected one-liners %q %q", got.OneLinerZH, got.OneLinerEN)
	}
}

func TestAssetLifecycle(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	item, _, _ := repo.Upsert(ctx, items.NewItem{Source: "s", ExternalID: "a", Day: "2026-01-01"})

	first, err := repo.PlanAsset(ctx, items.Asset{ItemID: item.ID, Provider: "seedream", Lang: "zh", Position: 0, Prompt: "p0"})
	if err != nil {
		t.Fatalf("PlanAsset: %v", err)
	}
	second, _ := repo.PlanAsset(ctx, items.Asset{ItemID: item.ID, Provider: "seedream", Lang: "zh", Position: 1})
	if first.Status != items.AssetPlanned || !first.Enabled {
		t.Fatalf("unexpected planned asset %+v", first)
	}

	if err := repo.MarkAssetGenerated(ctx, first.ID, "/tmp/0.png", "abc", map[string]any{"size": "1x1"}); err != nil {
		t.Fatalf("MarkAssetGenerated: %v", err)
	}
	if err := repo.MarkAssetFailed(ctx, second.ID, "boom"); err != nil {
		t.Fatalf("MarkAssetFailed: %v", err)
	}
	counts, err := repo.CountGenerated(ctx, item.ID, "zh")
	if err != nil || counts["seedream"] != 1 {
		t.Fatalf("CountGenerated = %v, %v", counts, err)
	}

	replanned, _ := repo.PlanAsset(ctx, items.Asset{ItemID: item.ID, Provider: "seedream", Lang: "zh", Position: 1, Prompt: "retry"})
	if replanned.ID != second.ID || replanned.Status != items.AssetPlanned || replanned.Error != "" {
		t.Fatalf("expected row reset to planned, got %+v", replanned)
	}

	deleted, err := repo.DeleteAssets(ctx, item.ID, "zh")
	if err != nil || len(deleted) != 2 {
		t.Fatalf("DeleteAssets = %d, %v", len(deleted), err)
	}
	left, _ := repo.Assets(ctx, item.ID, "")
	if len(left) != 0 {
		t.Fatalf("expected no assets left, got %d", len(left))
	}
}

func TestCaptionsDecode(t *testing.T) {
	it := &items.Item{ID: 1, CaptionsEN: `{"images/a.jpg":"A plot"}`}
	caps, err := it.Captions("en")
	if err != nil || caps["images/a.jpg"] != "A plot" {
		t.Fatalf("Captions = %v, %v", caps, err)
	}
	empty, err := it.Captions("zh")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty map, got %v %v", empty, err)
	}
}

func TestCoverageCountsSetFields(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	a, _, _ := repo.Upsert(ctx, items.NewItem{Source: "s", ExternalID: "a", Day: "2026-01-01"})
	repo.Upsert(ctx, items.NewItem{Source: "s", ExternalID: "b", Day: "2026-01-02"})
	other, _, _ := repo.Upsert(ctx, items.NewItem{Source: "t", ExternalID: "a", Day: "2026-01-02"})
	for _, id := range []int64{a.ID, other.ID} {
		if err := repo.SetField(ctx, id, items.FieldPDFPath, "/tmp/x.pdf"); err != nil {
			t.Fatalf("SetField: %v", err)
		}
	}

	got, err := repo.Coverage(ctx, "s", items.FieldPDFPath, items.FieldOneLiner("en"))
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if got[items.FieldPDFPath] != 1 || got[items.FieldOneLiner("en")] != 0 {
		t.Fatalf("unexpected coverage %v", got)
	}
	if _, err := repo.Coverage(ctx, "s", items.Field("bogus")); err == nil {
		t.Fatal("expected unknown field to fail")
	}
}
