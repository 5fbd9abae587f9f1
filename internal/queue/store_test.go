package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"paperflow/internal/queue"
	"paperflow/internal/testsupport"
)

func newStore(t *testing.T, opts ...queue.Option) (*queue.Store, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	database := testsupport.MustOpenDB(t, cfg)
	return queue.NewStore(database, cfg.Paths.JobLogDir, opts...), cfg.Paths.JobLogDir
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Enqueue(context.Background(), queue.Kind("paper_images_glm_backfill"), nil)
	if !errors.Is(err, queue.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := queue.ParseKind(" Parse_Fill "); err != nil {
		t.Fatalf("ParseKind: %v", err)
	}
}

func TestEnqueueValidatesPayload(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.KindAnalyzeFill, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if string(job.Payload) != "{}" {
		t.Fatalf("expected empty object payload, got %s", job.Payload)
	}
	if job.Status != queue.StatusQueued || !job.StartedAt.IsZero() {
		t.Fatalf("unexpected new job state: %+v", job)
	}

	if _, err := store.Enqueue(ctx, queue.KindAnalyzeFill, json.RawMessage(`[1,2]`)); !errors.Is(err, queue.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestClaimNextIsOldestFirstAndAssignsLog(t *testing.T) {
	store, logDir := newStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, queue.KindParseFill, json.RawMessage(`{"day":"2026-01-02"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Enqueue(ctx, queue.KindCaptionFill, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected job %d claimed, got %+v", first.ID, claimed)
	}
	if claimed.Status != queue.StatusRunning {
		t.Fatalf("expected running, got %s", claimed.Status)
	}
	if claimed.StartedAt.IsZero() {
		t.Fatal("expected started_at set at claim")
	}
	want := filepath.Join(logDir, "job_1_parse_fill.log")
	if claimed.LogPath != want || store.LogPathFor(claimed.ID, claimed.Kind) != want {
		t.Fatalf("unexpected log path %q, want %q", claimed.LogPath, want)
	}
}

func TestClaimNextReturnsNilWhenEmpty(t *testing.T) {
	store, _ := newStore(t)
	job, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no job, got %+v", job)
	}
}

func TestConcurrentClaimsNeverDuplicate(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	const total = 12
	for i := 0; i < total; i++ {
		if _, err := store.Enqueue(ctx, queue.KindFetchFill, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		claimed = map[int64]int{}
		wg      sync.WaitGroup
		errs    = make(chan error, 8)
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx)
				if err != nil {
					errs <- err
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("claim error: %v", err)
	}

	if len(claimed) != total {
		t.Fatalf("expected %d distinct claims, got %d", total, len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("job %d claimed %d times", id, n)
		}
	}
}

func TestReapStaleFailsOldRunningJobs(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }
	store, _ := newStore(t, queue.WithClock(clock))
	ctx := context.Background()

	stale, err := store.Enqueue(ctx, queue.KindImagesFill, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	now = base.Add(11 * time.Hour)
	fresh, err := store.Enqueue(ctx, queue.KindImagesFill, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	now = base.Add(13 * time.Hour)
	reaped, err := store.ReapStale(ctx, 12*time.Hour, 5)
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != stale.ID {
		t.Fatalf("expected only job %d reaped, got %+v", stale.ID, reaped)
	}

	got, err := store.Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != queue.StatusFailed || !strings.Contains(got.Error, "stale running job") {
		t.Fatalf("unexpected reaped job: %+v", got)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("expected finished_at on reaped job")
	}

	other, _ := store.Get(ctx, fresh.ID)
	if other.Status != queue.StatusRunning {
		t.Fatalf("expected fresh job still running, got %s", other.Status)
	}

	next, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if next != nil {
		t.Fatalf("expected reaped job never reclaimed, got %+v", next)
	}
}

func TestReapStaleHonoursLimit(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := base
	store, _ := newStore(t, queue.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		if _, err := store.Enqueue(ctx, queue.KindParseFill, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if _, err := store.ClaimNext(ctx); err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
	}
	now = base.Add(24 * time.Hour)
	reaped, err := store.ReapStale(ctx, 12*time.Hour, 5)
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if len(reaped) != 5 {
		t.Fatalf("expected 5 reaped, got %d", len(reaped))
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusFailed] != 5 || stats[queue.StatusRunning] != 2 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestFinishCancelAndList(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	a, _ := store.Enqueue(ctx, queue.KindFetchFill, nil)
	b, _ := store.Enqueue(ctx, queue.KindPackageFill, nil)

	if err := store.Cancel(ctx, b.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := store.Cancel(ctx, b.ID); !errors.Is(err, queue.ErrNotQueued) {
		t.Fatalf("expected ErrNotQueued, got %v", err)
	}
	if err := store.Cancel(ctx, 999); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	claimed, _ := store.ClaimNext(ctx)
	if claimed == nil || claimed.ID != a.ID {
		t.Fatalf("expected job %d, got %+v", a.ID, claimed)
	}
	long := strings.Repeat("x", 5000)
	if err := store.Finish(ctx, a.ID, queue.StatusFailed, long); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := store.SetResult(ctx, a.ID, json.RawMessage(`{"processed":1}`)); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	got, _ := store.Get(ctx, a.ID)
	if len([]rune(got.Error)) != queue.MaxErrorLength {
		t.Fatalf("expected truncated error, got %d runes", len([]rune(got.Error)))
	}
	if string(got.Result) != `{"processed":1}` {
		t.Fatalf("unexpected result %s", got.Result)
	}
	if err := store.Finish(ctx, a.ID, queue.StatusRunning, ""); err == nil {
		t.Fatal("expected non-terminal finish to fail")
	}

	failed, err := store.List(ctx, queue.Filter{Statuses: []queue.Status{queue.StatusFailed}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != a.ID {
		t.Fatalf("unexpected failed list %+v", failed)
	}
	all, _ := store.List(ctx, queue.Filter{})
	if len(all) != 2 || all[0].ID != b.ID {
		t.Fatalf("expected newest first, got %+v", all)
	}
}

func TestFinishLeavesReapedJobAlone(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := base
	store, _ := newStore(t, queue.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	job, _ := store.Enqueue(ctx, queue.KindFetchFill, nil)
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	now = base.Add(13 * time.Hour)
	if _, err := store.ReapStale(ctx, 12*time.Hour, 5); err != nil {
		t.Fatalf("ReapStale: %v", err)
	}

	err := store.Finish(ctx, job.ID, queue.StatusSuccess, "")
	if !errors.Is(err, queue.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != queue.StatusFailed || !strings.Contains(got.Error, "stale running job") {
		t.Fatalf("reaped job was overwritten: %+v", got)
	}

	queued, _ := store.Enqueue(ctx, queue.KindParseFill, nil)
	if err := store.Finish(ctx, queued.ID, queue.StatusFailed, "boom"); !errors.Is(err, queue.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning for queued job, got %v", err)
	}
	if err := store.Finish(ctx, 999, queue.StatusFailed, ""); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTailLogClampsWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.log")
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("line\n")
	}
	sb.WriteString("last\n")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	job := &queue.Job{LogPath: path}

	out, err := queue.TailLog(job, 1)
	if err != nil {
		t.Fatalf("TailLog: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 20 || lines[19] != "last" {
		t.Fatalf("expected 20 lines ending with last, got %d", len(lines))
	}

	empty, err := queue.TailLog(&queue.Job{LogPath: filepath.Join(dir, "missing.log")}, 100)
	if err != nil || empty != "" {
		t.Fatalf("expected empty tail for missing log, got %q %v", empty, err)
	}
	if queue.ClampTailLines(0) != 200 || queue.ClampTailLines(5000) != 2000 {
		t.Fatal("unexpected clamp bounds")
	}
}
