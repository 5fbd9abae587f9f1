package pipeline

import (
	"context"
	"strings"

	"paperflow/internal/items"
	"paperflow/internal/services"
)

// RetryStage reruns one stage for one item. Fetch is forced: the stored PDF
// is discarded and downloaded again. Every other stage runs in fill-missing
// mode, so a complete stage is left alone. eventStage
// is an event stage name such as "parse" or "caption_en"; a per-language
// stage given without a suffix runs for every configured language.
func (p *Pipeline) RetryStage(ctx context.Context, source, externalID, eventStage string) (Summary, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Summary{}, services.Wrap(services.ErrValidation, "retry", "parse request", "external_id is required", nil)
	}
	stage, lang, err := ParseEventStage(eventStage)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrValidation, "retry", "parse request", err.Error(), nil)
	}
	if strings.TrimSpace(source) == "" {
		source = p.cfg.Pipeline.Source
	}
	if _, err := p.items.GetByExternalID(ctx, source, externalID); err != nil {
		return Summary{}, services.Wrap(services.ErrNotFound, "retry", "lookup item", externalID, err)
	}
	mode := ModeFill
	if stage.Name == StageFetch {
		// A fetch retry always downloads again.
		mode = ModeRegen
	}
	req := Request{
		Stage: stage.Name,
		Mode:  mode,
		Scope: items.Scope{Source: source, ExternalIDs: []string{externalID}},
	}
	if lang != "" {
		req.Langs = []string{lang}
	}
	return p.Run(ctx, req)
}
