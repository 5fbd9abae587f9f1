package pipeline

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"paperflow/internal/items"
	"paperflow/internal/services"
)

func (p *Pipeline) runAnalyze(ctx context.Context, stage Stage, lang string, scoped []*items.Item, req Request) (Summary, error) {
	if p.svc.Analyzer == nil {
		return Summary{}, services.Wrap(services.ErrConfiguration, "analyze", "run", "no analysis model configured", nil)
	}
	limit := pick(req.MaxItems, p.cfg.Pipeline.AnalyzeMaxItems)
	sel, wiped, err := p.selectCandidates(ctx, stage, lang, scoped, req.Mode, limit, fieldsDone(stage, lang))
	if err != nil {
		return Summary{}, err
	}
	maxChars := p.cfg.Pipeline.AnalyzeInputChars
	sum := p.runItems(ctx, stage, lang, sel, p.width(req), func(ctx context.Context, it *items.Item) (itemOutput, error) {
		raw, err := os.ReadFile(it.RawTextPath)
		if err != nil {
			return itemOutput{}, services.Wrap(services.ErrNotFound, "analyze", "read text", it.RawTextPath, err)
		}
		text := string(raw)
		total := utf8.RuneCountInString(text)
		inputChars := total
		if maxChars > 0 && total > maxChars {
			text = string([]rune(text)[:maxChars])
			inputChars = maxChars
		}
		system, user := analysisPrompts(lang, it.Title, text)
		analysis, err := p.svc.Analyzer.Complete(ctx, system, user)
		if err != nil {
			return itemOutput{}, fmt.Errorf("analysis request: %w", err)
		}
		return itemOutput{
			Fields: map[items.Field]string{items.FieldAnalysis(lang): analysis},
			Meta: map[string]any{
				"text_chars":   total,
				"input_chars":  inputChars,
				"output_chars": utf8.RuneCountInString(analysis),
			},
		}, nil
	})
	sum.Wiped = wiped
	return sum, nil
}
