package pipeline

import (
	"context"

	"paperflow/internal/events"
	"paperflow/internal/items"
	"paperflow/internal/logging"
	"paperflow/internal/quality"
	"paperflow/internal/services"
)

const (
	defaultOCRFixItems = 200
	maxOCRFixItems     = 2000
)

// OCRFixRequest selects items whose parsed text should be replaced by an
// OCR parse.
type OCRFixRequest struct {
	Scope items.Scope
	// Overwrite processes every scoped item, not only those the gate flags.
	Overwrite bool
	MaxItems  int
	// Thresholds overrides the configured gate when non-nil.
	Thresholds   *quality.Thresholds
	RegenPackage bool
	Langs        []string
	Concurrency  int
}

// OCRFixSummary reports an OCR fix run. Package is set when packages were
// rebuilt for the fixed items.
type OCRFixSummary struct {
	Summary
	Package *Summary `json:"package,omitempty"`
}

type ocrFixResult struct {
	before quality.Metrics
	after  quality.Metrics
	merged any
	ocrMD  string
	err    error
}

// OCRFix re-parses flagged items with the OCR method and merges the result
// into their existing parse output.
func (p *Pipeline) OCRFix(ctx context.Context, req OCRFixRequest) (OCRFixSummary, error) {
	if p.svc.Parser == nil {
		return OCRFixSummary{}, services.Wrap(services.ErrConfiguration, "ocr_fix", "run", "no parser configured", nil)
	}
	limit := req.MaxItems
	if limit <= 0 {
		limit = defaultOCRFixItems
	}
	limit = min(max(limit, 1), maxOCRFixItems)
	gate := quality.FromConfig(p.cfg.Quality)
	if req.Thresholds != nil {
		gate = *req.Thresholds
	}

	scope, err := p.ResolveScope(ctx, req.Scope)
	if err != nil {
		return OCRFixSummary{}, err
	}
	scoped, err := p.items.Select(ctx, scope)
	if err != nil {
		return OCRFixSummary{}, err
	}
	mode := ModeFill
	if req.Overwrite {
		mode = ModeRegen
	}
	sum := OCRFixSummary{Summary: Summary{Stage: EventOCRFix, Mode: string(mode), Scope: scope.String()}}

	type candidate struct {
		item    *items.Item
		metrics quality.Metrics
	}
	var candidates []candidate
	for _, it := range scoped {
		if it.PDFPath == "" || it.RawTextPath == "" {
			continue
		}
		if len(candidates) >= limit {
			break
		}
		metrics, err := quality.MeasureFile(it.RawTextPath)
		if err != nil {
			if _, err := p.events.RecordSkip(ctx, it.ID, EventOCRFix, "missing markdown", nil); err != nil {
				return sum, err
			}
			sum.Skipped++
			continue
		}
		if !req.Overwrite {
			if flagged, _ := gate.Flagged(metrics); !flagged {
				continue
			}
		}
		candidates = append(candidates, candidate{item: it, metrics: metrics})
	}

	width := p.width(Request{Concurrency: req.Concurrency})
	logger := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldStage, EventOCRFix))
	logger.Info("ocr fix candidates selected",
		logging.String(logging.FieldEventType, "ocr_fix_selected"),
		logging.Int("candidates", len(candidates)),
		logging.Bool("overwrite", req.Overwrite),
		logging.Bool("regen_package", req.RegenPackage),
	)
	var fixed []string

	start := func(c candidate) bool {
		meta := map[string]any{"before": c.metrics.Meta(), "overwrite": req.Overwrite}
		if _, err := p.events.Record(ctx, events.Entry{ItemID: c.item.ID, Stage: EventOCRFix, Status: events.StatusStarted, Meta: meta}); err != nil {
			logger.Warn("record started event failed", logging.Error(err))
		}
		return true
	}
	work := func(ctx context.Context, c candidate) ocrFixResult {
		ctx = services.WithItemID(ctx, c.item.ID)
		dst := outputFor(c.item.RawTextPath)
		merged, err := p.ocrMerge(ctx, c.item.PDFPath, dst)
		if err != nil {
			return ocrFixResult{before: c.metrics, err: err}
		}
		after, err := quality.MeasureFile(dst.Markdown)
		if err != nil {
			return ocrFixResult{before: c.metrics, err: err}
		}
		return ocrFixResult{before: c.metrics, after: after, merged: merged, ocrMD: merged.Source}
	}
	collect := func(c candidate, r ocrFixResult) bool {
		sum.Processed++
		if r.err != nil {
			sum.Failed++
			p.recordFailure(ctx, logger, c.item, EventOCRFix, r.err, map[string]any{"before": r.before.Meta()})
			return true
		}
		// The merge rewrites the markdown in place; the field is set again so
		// that items parsed by older layouts point at the merged file.
		if err := p.items.SetField(ctx, c.item.ID, items.FieldRawTextPath, c.item.RawTextPath); err != nil {
			sum.Failed++
			p.recordFailure(ctx, logger, c.item, EventOCRFix, err, nil)
			return true
		}
		sum.Succeeded++
		meta := map[string]any{
			"before":      r.before.Meta(),
			"after":       r.after.Meta(),
			"merged":      r.merged,
			"ocr_md_path": r.ocrMD,
		}
		if _, err := p.events.Record(ctx, events.Entry{ItemID: c.item.ID, Stage: EventOCRFix, Status: events.StatusSuccess, Meta: meta}); err != nil {
			logger.Warn("record success event failed", logging.Error(err))
		}
		fixed = append(fixed, c.item.ExternalID)
		return true
	}
	runPool(ctx, width, candidates, start, work, collect)

	if req.RegenPackage && len(fixed) > 0 {
		pkg, err := p.Run(ctx, Request{
			Stage:       StagePackage,
			Mode:        ModeRegen,
			Scope:       items.Scope{Source: scope.Source, ExternalIDs: fixed},
			Langs:       req.Langs,
			Concurrency: req.Concurrency,
		})
		sum.Package = &pkg
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}
