package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"paperflow/internal/events"
	"paperflow/internal/fileutil"
	"paperflow/internal/items"
	"paperflow/internal/logging"
	"paperflow/internal/parser"
	"paperflow/internal/quality"
	"paperflow/internal/repair"
	"paperflow/internal/services"
)

// repairedRoot holds parse output produced from repaired PDF copies, so a
// failed re-parse never clobbers the output of the original.
const repairedRoot = "_repaired"

func (p *Pipeline) runParse(ctx context.Context, stage Stage, scoped []*items.Item, req Request) (Summary, error) {
	if p.svc.Parser == nil {
		return Summary{}, services.Wrap(services.ErrConfiguration, "parse", "run", "no parser configured", nil)
	}
	limit := pick(req.MaxItems, p.cfg.Pipeline.ParseMaxItems)
	sel, wiped, err := p.selectCandidates(ctx, stage, "", scoped, req.Mode, limit, fieldsDone(stage, ""))
	if err != nil {
		return Summary{}, err
	}
	sum := p.runItems(ctx, stage, "", sel, p.width(req), p.parseItem)
	sum.Wiped = wiped
	return sum, nil
}

// parseItem parses the item's PDF. When the parse fails, or succeeds with
// text the quality gate flags, a repaired copy is produced and parsed
// instead. With auto OCR fallback enabled, text still flagged afterwards is
// re-parsed via OCR and merged.
func (p *Pipeline) parseItem(ctx context.Context, it *items.Item) (itemOutput, error) {
	out := itemOutput{Meta: map[string]any{}}
	gate := quality.FromConfig(p.cfg.Quality)
	method := p.cfg.Parser.Method
	root := p.cfg.Paths.ParseOutRoot

	result, parseErr := p.svc.Parser.Parse(ctx, it.PDFPath, root, method)
	var (
		metrics quality.Metrics
		flagged bool
		reason  string
	)
	if parseErr == nil {
		if metrics, parseErr = quality.MeasureFile(result.Markdown); parseErr == nil {
			flagged, reason = gate.Flagged(metrics)
		}
	}

	if (parseErr != nil || flagged) && p.cfg.Repair.Enabled && p.svc.Repairer != nil {
		if errors.Is(parseErr, context.Canceled) || errors.Is(parseErr, context.DeadlineExceeded) {
			return out, parseErr
		}
		out.Meta["repair_trigger"] = repairTrigger(parseErr, reason)
		repaired, entries, repairErr := p.repairPDF(ctx, it.PDFPath)
		out.Events = append(out.Events, entries...)
		if repairErr == nil {
			retry, retryErr := p.svc.Parser.Parse(ctx, repaired, filepath.Join(root, repairedRoot), method)
			if retryErr == nil {
				retryMetrics, mErr := quality.MeasureFile(retry.Markdown)
				retryFlagged, retryReason := gate.Flagged(retryMetrics)
				// Prefer the repaired text when the original failed or it
				// reads cleaner than the original.
				if mErr == nil && (parseErr != nil || !retryFlagged || retryMetrics.QMarks < metrics.QMarks) {
					result, metrics, flagged, reason, parseErr = retry, retryMetrics, retryFlagged, retryReason, nil
					out.Meta["repaired"] = true
				}
			} else if parseErr != nil {
				parseErr = retryErr
			}
		}
	}
	if parseErr != nil {
		return out, parseErr
	}

	if flagged && p.cfg.Parser.AutoOCRFallback {
		summary, ocrErr := p.ocrMerge(ctx, it.PDFPath, result)
		entry := events.Entry{Stage: EventOCRFix, Meta: map[string]any{"trigger": "auto", "before": metrics.Meta()}}
		if ocrErr != nil {
			entry.Status, entry.Error = events.StatusFailed, ocrErr.Error()
		} else {
			entry.Status = events.StatusSuccess
			entry.Meta["merged"] = summary
			if after, err := quality.MeasureFile(result.Markdown); err == nil {
				entry.Meta["after"] = after.Meta()
				metrics = after
				flagged, reason = gate.Flagged(after)
			}
		}
		out.Events = append(out.Events, entry)
	}

	out.Fields = map[items.Field]string{items.FieldRawTextPath: result.Markdown}
	out.Meta["md_path"] = result.Markdown
	out.Meta["quality"] = metrics.Meta()
	out.Meta["flagged"] = flagged
	if reason != "" {
		out.Meta["quality_reason"] = reason
	}
	return out, nil
}

func repairTrigger(parseErr error, reason string) string {
	if parseErr != nil {
		return "parse_failed"
	}
	return "quality: " + reason
}

// repairPDF returns a repaired copy of pdfPath, reusing a cached copy when
// one of acceptable size was written after pdfPath last changed. It returns
// the pdf_repair events to append.
func (p *Pipeline) repairPDF(ctx context.Context, pdfPath string) (string, []events.Entry, error) {
	cached := p.svc.Repairer.OutputPath(pdfPath)
	if p.cachedRepairUsable(cached, pdfPath) {
		return cached, []events.Entry{{
			Stage:  EventPDFRepair,
			Status: events.StatusSuccess,
			Meta:   map[string]any{"tool": "cache", "output_pdf": cached, "cached": true},
		}}, nil
	}
	entries := []events.Entry{{
		Stage:  EventPDFRepair,
		Status: events.StatusStarted,
		Meta:   map[string]any{"input_pdf": pdfPath, "tools": p.cfg.Repair.Tools},
	}}
	res, err := p.svc.Repairer.Repair(ctx, pdfPath)
	meta := map[string]any{"output_pdf": cached}
	if res != nil {
		meta["attempts"] = res.Attempts
		if res.Tool != "" {
			meta["tool"] = res.Tool
		}
	}
	if err != nil {
		entries = append(entries, events.Entry{Stage: EventPDFRepair, Status: events.StatusFailed, Error: err.Error(), Meta: meta})
		return "", entries, err
	}
	meta["bytes"] = res.Bytes
	meta["source_sha256"] = res.SourceSHA256
	entries = append(entries, events.Entry{Stage: EventPDFRepair, Status: events.StatusSuccess, Meta: meta})
	return res.Output, entries, nil
}

func (p *Pipeline) cachedRepairUsable(cached, pdfPath string) bool {
	if fileutil.FileSize(cached) < p.cfg.Repair.MinOutputBytes {
		return false
	}
	cacheInfo, err := os.Stat(cached)
	if err != nil {
		return false
	}
	srcInfo, err := os.Stat(pdfPath)
	if err != nil {
		return false
	}
	return cacheInfo.ModTime().After(srcInfo.ModTime())
}

// repairCachePath is where the repaired copy of pdfPath lives.
func (p *Pipeline) repairCachePath(pdfPath string) string {
	if p.svc.Repairer != nil {
		return p.svc.Repairer.OutputPath(pdfPath)
	}
	return filepath.Join(p.cfg.Paths.RepairCacheDir, parser.Stem(pdfPath)+".pdf")
}

// ocrMerge re-parses pdfPath with the OCR method and merges the result into
// dst: the markdown is replaced (after a backup) and only images missing
// from dst are added.
func (p *Pipeline) ocrMerge(ctx context.Context, pdfPath string, dst parser.Output) (repair.MergeSummary, error) {
	ocr, err := p.svc.Parser.Parse(ctx, pdfPath, p.cfg.Paths.ParseOutRoot, p.cfg.Parser.OCRMethod)
	if err != nil {
		return repair.MergeSummary{}, err
	}
	summary, err := repair.MergeOCR(dst, ocr, p.now())
	if err != nil {
		return summary, err
	}
	logging.WithContext(ctx, p.logger).Info("ocr text merged",
		logging.String(logging.FieldEventType, "ocr_merged"),
		logging.String("markdown", dst.Markdown),
		logging.Int("copied_images", summary.CopiedImages),
	)
	return summary, nil
}

// outputFor rebuilds the parse layout around an existing markdown path.
func outputFor(markdown string) parser.Output {
	dir := filepath.Dir(markdown)
	return parser.Output{Dir: dir, Markdown: markdown, ImagesDir: filepath.Join(dir, "images")}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
