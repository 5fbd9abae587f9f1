package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"paperflow/internal/config"
	"paperflow/internal/events"
	"paperflow/internal/items"
	"paperflow/internal/logging"
	"paperflow/internal/services"
)

// Pipeline runs stages against the item store.
type Pipeline struct {
	cfg    *config.Config
	items  *items.Repository
	events *events.Log
	svc    Services
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the clock used for backup names and backfill stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New constructs a Pipeline.
func New(cfg *config.Config, repo *items.Repository, log *events.Log, svc Services, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		items:  repo,
		events: log,
		svc:    svc,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "pipeline")
	return p
}

// Request describes one stage run. Zero numeric fields fall back to the
// configured defaults for the stage.
type Request struct {
	Stage       StageName
	Mode        Mode
	Scope       items.Scope
	Langs       []string
	MaxItems    int
	PerItem     int
	MaxTasks    int
	Concurrency int
}

// Summary counts the outcome of a run. Counts are per item, except that
// caption and image runs count items rather than individual tasks as well.
type Summary struct {
	Stage     string   `json:"stage"`
	Mode      string   `json:"mode,omitempty"`
	Scope     string   `json:"scope,omitempty"`
	Langs     []string `json:"langs,omitempty"`
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Wiped     int      `json:"wiped,omitempty"`
}

// Add accumulates the counters of o.
func (s *Summary) Add(o Summary) {
	s.Processed += o.Processed
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Wiped += o.Wiped
}

// ResolveScope fills in the configured source and, when no selector is set,
// defaults to the most recent day present in the store. Day "latest" is
// resolved the same way.
func (p *Pipeline) ResolveScope(ctx context.Context, scope items.Scope) (items.Scope, error) {
	if strings.TrimSpace(scope.Source) == "" {
		scope.Source = p.cfg.Pipeline.Source
	}
	if len(scope.ExternalIDs) > 0 || scope.All {
		return scope, nil
	}
	if scope.Day == "" || strings.EqualFold(scope.Day, "latest") {
		day, err := p.items.LatestDay(ctx, scope.Source)
		if err != nil {
			return scope, err
		}
		scope.Day = day
	}
	return scope, nil
}

// ResolveLangs validates requested languages against the configured set.
// An empty request, or "both", selects every configured language.
func (p *Pipeline) ResolveLangs(requested []string) ([]string, error) {
	configured := p.cfg.Pipeline.Languages
	if len(requested) == 0 {
		return append([]string(nil), configured...), nil
	}
	out := make([]string, 0, len(requested))
	for _, raw := range requested {
		lang := strings.ToLower(strings.TrimSpace(raw))
		if lang == "both" || lang == "all" {
			return append([]string(nil), configured...), nil
		}
		if !slices.Contains(configured, lang) {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "resolve languages",
				fmt.Sprintf("language %q is not configured", lang), nil)
		}
		if !slices.Contains(out, lang) {
			out = append(out, lang)
		}
	}
	return out, nil
}

// Run executes one stage over the requested scope and languages.
func (p *Pipeline) Run(ctx context.Context, req Request) (Summary, error) {
	stage, ok := Lookup(req.Stage)
	if !ok {
		return Summary{}, services.Wrap(services.ErrValidation, "pipeline", "run", fmt.Sprintf("unknown stage %q", req.Stage), nil)
	}
	if req.Mode == "" {
		req.Mode = ModeFill
	}
	scope, err := p.ResolveScope(ctx, req.Scope)
	if err != nil {
		return Summary{}, err
	}
	req.Scope = scope
	langs := []string{""}
	if stage.PerLanguage {
		if langs, err = p.ResolveLangs(req.Langs); err != nil {
			return Summary{}, err
		}
	}

	sum := Summary{Stage: string(stage.Name), Mode: string(req.Mode), Scope: scope.String()}
	if stage.PerLanguage {
		sum.Langs = langs
	}
	scoped, err := p.items.Select(ctx, scope)
	if err != nil {
		return sum, err
	}

	runID := uuid.NewString()
	ctx = services.WithRequestID(services.WithStage(ctx, string(stage.Name)), runID)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("stage run started",
		logging.String(logging.FieldEventType, "stage_run_started"),
		logging.String("mode", string(req.Mode)),
		logging.String("scope", scope.String()),
		logging.Int("items", len(scoped)),
		logging.Any("langs", sum.Langs),
	)
	started := time.Now()

	for _, lang := range langs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		part, err := p.runStage(ctx, stage, lang, scoped, req)
		sum.Add(part)
		if err != nil {
			return sum, err
		}
	}

	logger.Info("stage run finished",
		logging.String(logging.FieldEventType, "stage_run_finished"),
		logging.Int("processed", sum.Processed),
		logging.Int("succeeded", sum.Succeeded),
		logging.Int("failed", sum.Failed),
		logging.Int("skipped", sum.Skipped),
		logging.Duration("duration", time.Since(started)),
	)
	return sum, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, lang string, scoped []*items.Item, req Request) (Summary, error) {
	switch stage.Name {
	case StageFetch:
		return p.runFetch(ctx, stage, scoped, req)
	case StageParse:
		return p.runParse(ctx, stage, scoped, req)
	case StageOneLiner:
		return p.runOneLiner(ctx, stage, lang, scoped, req)
	case StageAnalyze:
		return p.runAnalyze(ctx, stage, lang, scoped, req)
	case StageCaption:
		return p.runCaption(ctx, stage, lang, scoped, req)
	case StageImages:
		return p.runImages(ctx, stage, lang, scoped, req)
	case StagePackage:
		return p.runPackage(ctx, stage, lang, scoped, req)
	}
	return Summary{}, fmt.Errorf("stage %s has no runner", stage.Name)
}

// selection is the outcome of candidate selection for one stage and language.
type selection struct {
	items   []*items.Item
	skipped int
}

// selectCandidates applies the prerequisite predicate (recording a skip for
// each item that fails it), the completion predicate in fill mode, and the
// batch cap. In regen mode the selected items are wiped and reloaded.
func (p *Pipeline) selectCandidates(
	ctx context.Context,
	stage Stage,
	lang string,
	scoped []*items.Item,
	mode Mode,
	limit int,
	done func(*items.Item) (bool, error),
) (selection, int, error) {
	var sel selection
	eventStage := stage.EventStage(lang)
	for _, it := range scoped {
		if missing := stage.Missing(it, lang); missing != "" {
			if _, err := p.events.RecordSkip(ctx, it.ID, eventStage, "missing "+string(missing), nil); err != nil {
				return sel, 0, err
			}
			sel.skipped++
			continue
		}
		if limit > 0 && len(sel.items) >= limit {
			continue
		}
		if mode == ModeFill && done != nil {
			complete, err := done(it)
			if err != nil {
				return sel, 0, err
			}
			if complete {
				continue
			}
		}
		sel.items = append(sel.items, it)
	}
	if mode != ModeRegen || len(sel.items) == 0 {
		return sel, 0, nil
	}
	wiped := 0
	for i, it := range sel.items {
		if err := p.wipe(ctx, stage, lang, it); err != nil {
			return sel, wiped, err
		}
		fresh, err := p.items.Get(ctx, it.ID)
		if err != nil {
			return sel, wiped, err
		}
		sel.items[i] = fresh
		wiped++
	}
	return sel, wiped, nil
}

// fieldsDone is the completion predicate for stages whose output lives in
// item columns.
func fieldsDone(stage Stage, lang string) func(*items.Item) (bool, error) {
	return func(it *items.Item) (bool, error) {
		for _, f := range stage.Produces(lang) {
			if strings.TrimSpace(it.Value(f)) == "" {
				return false, nil
			}
		}
		return true, nil
	}
}

func (p *Pipeline) width(req Request) int {
	if req.Concurrency > 0 {
		return req.Concurrency
	}
	return max(p.cfg.Pipeline.Concurrency, 1)
}

func pick(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}

// itemOutput is what an item-level worker hands to the collector.
type itemOutput struct {
	Fields map[items.Field]string
	Meta   map[string]any
	// Events are appended before the outcome event.
	Events []events.Entry
}

type itemResult struct {
	out itemOutput
	err error
}

// runItems drives the one-task-per-item stages (fetch, parse, analyze,
// package). It records started events on submission and persists fields and
// the outcome event from the collector.
func (p *Pipeline) runItems(
	ctx context.Context,
	stage Stage,
	lang string,
	sel selection,
	width int,
	work func(context.Context, *items.Item) (itemOutput, error),
) Summary {
	sum := Summary{Skipped: sel.skipped}
	eventStage := stage.EventStage(lang)
	logger := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldStage, eventStage))

	start := func(it *items.Item) bool {
		meta := map[string]any{"concurrency": width}
		if _, err := p.events.Record(ctx, events.Entry{ItemID: it.ID, Stage: eventStage, Status: events.StatusStarted, Meta: meta}); err != nil {
			logger.Warn("record started event failed", logging.Int64(logging.FieldItemID, it.ID), logging.Error(err))
		}
		return true
	}
	run := func(ctx context.Context, it *items.Item) itemResult {
		ctx = services.WithItemID(ctx, it.ID)
		out, err := work(ctx, it)
		return itemResult{out: out, err: err}
	}
	collect := func(it *items.Item, res itemResult) bool {
		sum.Processed++
		for _, e := range res.out.Events {
			e.ItemID = it.ID
			if _, err := p.events.Record(ctx, e); err != nil {
				logger.Warn("record event failed", logging.String("event_stage", e.Stage), logging.Error(err))
			}
		}
		err := res.err
		if err == nil {
			for field, value := range res.out.Fields {
				if err = p.items.SetField(ctx, it.ID, field, value); err != nil {
					break
				}
			}
		}
		if err != nil {
			sum.Failed++
			p.recordFailure(ctx, logger, it, eventStage, err, res.out.Meta)
			return true
		}
		sum.Succeeded++
		if _, recErr := p.events.Record(ctx, events.Entry{ItemID: it.ID, Stage: eventStage, Status: events.StatusSuccess, Meta: res.out.Meta}); recErr != nil {
			logger.Warn("record success event failed", logging.Int64(logging.FieldItemID, it.ID), logging.Error(recErr))
		}
		logger.Info("stage item succeeded",
			logging.String(logging.FieldEventType, "stage_item_succeeded"),
			logging.Int64(logging.FieldItemID, it.ID),
			logging.String(logging.FieldExternalID, it.ExternalID),
		)
		return true
	}
	runPool(ctx, width, sel.items, start, run, collect)
	return sum
}

func (p *Pipeline) recordFailure(ctx context.Context, logger *slog.Logger, it *items.Item, eventStage string, err error, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["error_kind"] = services.Kind(err)
	if _, recErr := p.events.Record(ctx, events.Entry{ItemID: it.ID, Stage: eventStage, Status: events.StatusFailed, Error: err.Error(), Meta: meta}); recErr != nil {
		logger.Warn("record failed event failed", logging.Int64(logging.FieldItemID, it.ID), logging.Error(recErr))
	}
	logger.Warn("stage item failed",
		logging.String(logging.FieldEventType, "stage_item_failed"),
		logging.Int64(logging.FieldItemID, it.ID),
		logging.String(logging.FieldExternalID, it.ExternalID),
		logging.Error(err),
	)
}
