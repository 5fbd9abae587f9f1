package pipeline

import (
	"context"

	"paperflow/internal/items"
	"paperflow/internal/services"
)

func (p *Pipeline) runFetch(ctx context.Context, stage Stage, scoped []*items.Item, req Request) (Summary, error) {
	if p.svc.Fetcher == nil {
		return Summary{}, services.Wrap(services.ErrConfiguration, "fetch", "run", "no downloader configured", nil)
	}
	limit := pick(req.MaxItems, p.cfg.Pipeline.FetchMaxItems)
	sel, wiped, err := p.selectCandidates(ctx, stage, "", scoped, req.Mode, limit, fieldsDone(stage, ""))
	if err != nil {
		return Summary{}, err
	}
	sum := p.runItems(ctx, stage, "", sel, p.width(req), func(ctx context.Context, it *items.Item) (itemOutput, error) {
		res, err := p.svc.Fetcher.Download(ctx, it.ExternalID, it.PDFURL)
		if err != nil {
			return itemOutput{}, err
		}
		return itemOutput{
			Fields: map[items.Field]string{
				items.FieldPDFURL:    res.URL,
				items.FieldPDFPath:   res.Path,
				items.FieldPDFSHA256: res.SHA256,
			},
			Meta: map[string]any{
				"pdf_path": res.Path,
				"bytes":    res.Bytes,
				"pages":    res.Pages,
				"reused":   res.Reused,
			},
		}, nil
	})
	sum.Wiped = wiped
	return sum, nil
}
