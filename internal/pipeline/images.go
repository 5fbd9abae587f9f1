package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"paperflow/internal/events"
	"paperflow/internal/items"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/services/imagegen"
	"paperflow/internal/textutil"
)

type providerTally struct {
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
}

// imageItem tracks one item's synthesis progress. started is touched only
// by the submitting goroutine; every other field only by the collector.
type imageItem struct {
	item    *items.Item
	tally   map[string]*providerTally
	pending int
	lastErr error
	started bool
}

type imageTask struct {
	state    *imageItem
	provider imagegen.Provider
	asset    *items.Asset
	dir      string
}

type imageResult struct {
	res imagegen.Result
	err error
}

// ImageDir is where generated images for an item and language live. Chinese
// output uses the item directory itself; other languages a subdirectory.
func (p *Pipeline) ImageDir(it *items.Item, lang string) string {
	dir := filepath.Join(p.cfg.Paths.ImagesDir, textutil.FileStem(it.ExternalID))
	if lang != "zh" {
		dir = filepath.Join(dir, lang)
	}
	return dir
}

func (p *Pipeline) runImages(ctx context.Context, stage Stage, lang string, scoped []*items.Item, req Request) (Summary, error) {
	if len(p.svc.Providers) == 0 {
		return Summary{}, services.Wrap(services.ErrConfiguration, "images", "run", "no image providers with credentials", nil)
	}
	eventStage := stage.EventStage(lang)
	perItem := pick(req.PerItem, p.cfg.Pipeline.ImagesPerItem)
	limit := pick(req.MaxItems, p.cfg.Pipeline.ImagesMaxItems)

	done := func(it *items.Item) (bool, error) {
		counts, err := p.items.CountGenerated(ctx, it.ID, lang)
		if err != nil {
			return false, err
		}
		for _, prov := range p.svc.Providers {
			if counts[prov.Name()] < perItem {
				return false, nil
			}
		}
		return true, nil
	}
	sel, wiped, err := p.selectCandidates(ctx, stage, lang, scoped, req.Mode, limit, done)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Skipped: sel.skipped, Wiped: wiped}
	var tasks []imageTask
	for _, it := range sel.items {
		planned, err := p.planImages(ctx, it, lang, perItem)
		if err != nil {
			sum.Processed++
			sum.Failed++
			p.recordFailure(ctx, p.logger, it, eventStage, err, nil)
			continue
		}
		tasks = append(tasks, planned...)
	}

	width := p.width(req)
	logger := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldStage, eventStage))

	start := func(t imageTask) bool {
		if t.state.started {
			return true
		}
		t.state.started = true
		meta := map[string]any{"target_n": perItem, "planned": t.state.pending, "concurrency": width}
		if _, err := p.events.Record(ctx, events.Entry{ItemID: t.state.item.ID, Stage: eventStage, Status: events.StatusStarted, Meta: meta}); err != nil {
			logger.Warn("record started event failed", logging.Error(err))
		}
		return true
	}
	work := func(ctx context.Context, t imageTask) imageResult {
		ctx = services.WithItemID(ctx, t.state.item.ID)
		tmp := filepath.Join(t.dir, fmt.Sprintf("%02d-%s.tmp.png", t.asset.Position, t.provider.Name()))
		res, err := t.provider.Generate(ctx, imagegen.Request{Prompt: t.asset.Prompt, NegativePrompt: imageNegativePrompt}, tmp)
		if err != nil {
			_ = os.Remove(tmp)
			return imageResult{err: err}
		}
		final := filepath.Join(t.dir, fmt.Sprintf("%02d-%s-%s.png", t.asset.Position, t.provider.Name(), res.SHA256[:8]))
		if err := os.Rename(tmp, final); err != nil {
			_ = os.Remove(tmp)
			return imageResult{err: fmt.Errorf("rename generated image: %w", err)}
		}
		res.LocalPath = final
		return imageResult{res: res}
	}
	collect := func(t imageTask, r imageResult) bool {
		s := t.state
		s.pending--
		tally := s.tally[t.provider.Name()]
		err := r.err
		if err == nil {
			err = p.items.MarkAssetGenerated(ctx, t.asset.ID, r.res.LocalPath, r.res.SHA256, map[string]any{
				"remote_url": r.res.RemoteURL,
				"size":       r.res.Size,
				"bytes":      r.res.Bytes,
			})
		}
		if err != nil {
			tally.Failed++
			s.lastErr = err
			if markErr := p.items.MarkAssetFailed(ctx, t.asset.ID, err.Error()); markErr != nil {
				logger.Warn("mark asset failed", logging.Error(markErr))
			}
		} else {
			tally.Generated++
		}
		if s.pending > 0 {
			return true
		}
		sum.Processed++
		meta := map[string]any{"providers": s.tally, "target_n": perItem}
		ok := s.lastErr == nil
		for _, pt := range s.tally {
			if pt.Generated < perItem || pt.Failed > 0 {
				ok = false
			}
		}
		if !ok {
			sum.Failed++
			err := s.lastErr
			if err == nil {
				err = fmt.Errorf("generated fewer than %d images per provider", perItem)
			}
			p.recordFailure(ctx, logger, s.item, eventStage, err, meta)
			return true
		}
		sum.Succeeded++
		if _, err := p.events.Record(ctx, events.Entry{ItemID: s.item.ID, Stage: eventStage, Status: events.StatusSuccess, Meta: meta}); err != nil {
			logger.Warn("record success event failed", logging.Error(err))
		}
		return true
	}
	runPool(ctx, width, tasks, start, work, collect)
	return sum, nil
}

// planImages ensures planned asset rows exist for every missing position of
// every provider and returns one task per row.
func (p *Pipeline) planImages(ctx context.Context, it *items.Item, lang string, perItem int) ([]imageTask, error) {
	existing, err := p.items.Assets(ctx, it.ID, lang)
	if err != nil {
		return nil, err
	}
	generated := make(map[string]map[int]bool)
	for _, a := range existing {
		if a.Kind == items.AssetKindGenerated && a.Enabled && a.Status == items.AssetGenerated {
			if generated[a.Provider] == nil {
				generated[a.Provider] = map[int]bool{}
			}
			generated[a.Provider][a.Position] = true
		}
	}
	dir := p.ImageDir(it, lang)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	state := &imageItem{item: it, tally: map[string]*providerTally{}}
	analysis := it.Value(items.FieldAnalysis(lang))
	var tasks []imageTask
	for _, prov := range p.svc.Providers {
		state.tally[prov.Name()] = &providerTally{Generated: len(generated[prov.Name()])}
		for pos := range perItem {
			if generated[prov.Name()][pos] {
				continue
			}
			asset, err := p.items.PlanAsset(ctx, items.Asset{
				ItemID:   it.ID,
				Kind:     items.AssetKindGenerated,
				Provider: prov.Name(),
				Lang:     lang,
				Position: pos,
				Prompt:   imagePrompt(lang, it.Title, analysis, pos),
			})
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, imageTask{state: state, provider: prov, asset: asset, dir: dir})
		}
	}
	state.pending = len(tasks)
	return tasks, nil
}
