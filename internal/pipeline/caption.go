package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"paperflow/internal/events"
	"paperflow/internal/items"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/services/llm"
)

var captionExts = []string{".jpg", ".jpeg", ".png", ".webp"}

// captionItem tracks one item's progress. started is touched only by the
// submitting goroutine; every other field only by the collector.
type captionItem struct {
	item     *items.Item
	captions map[string]string
	total    int
	pending  int
	added    int
	failed   int
	firstErr error
	started  bool
}

type captionTask struct {
	state   *captionItem
	key     string
	path    string
	context string
}

type captionResult struct {
	text string
	err  error
}

func (p *Pipeline) runCaption(ctx context.Context, stage Stage, lang string, scoped []*items.Item, req Request) (Summary, error) {
	if p.svc.Captioner == nil {
		return Summary{}, services.Wrap(services.ErrConfiguration, "caption", "run", "no caption model configured", nil)
	}
	eventStage := stage.EventStage(lang)
	perItem := pick(req.PerItem, p.cfg.Pipeline.CaptionPerItem)
	maxTasks := pick(req.MaxTasks, p.cfg.Pipeline.CaptionMaxTasks)

	done := func(it *items.Item) (bool, error) {
		imgs, err := listImages(filepath.Join(filepath.Dir(it.RawTextPath), "images"))
		if err != nil {
			return false, err
		}
		if len(imgs) == 0 {
			_, err := p.events.RecordSkip(ctx, it.ID, eventStage, "no images in parsed output", nil)
			return true, err
		}
		existing, err := it.Captions(lang)
		if err != nil {
			// Undecodable captions are regenerated.
			return false, nil
		}
		for _, img := range imgs {
			if strings.TrimSpace(existing[img]) == "" {
				return false, nil
			}
		}
		return true, nil
	}
	sel, wiped, err := p.selectCandidates(ctx, stage, lang, scoped, req.Mode, pick(req.MaxItems, 0), done)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Skipped: sel.skipped, Wiped: wiped}
	var tasks []captionTask
	states := make([]*captionItem, 0, len(sel.items))
	for _, it := range sel.items {
		if maxTasks > 0 && len(tasks) >= maxTasks {
			break
		}
		state, planned, err := p.planCaptions(it, lang, perItem)
		if err != nil {
			sum.Processed++
			sum.Failed++
			p.recordFailure(ctx, p.logger, it, eventStage, err, nil)
			continue
		}
		if len(planned) == 0 {
			continue
		}
		if maxTasks > 0 {
			planned = planned[:min(len(planned), maxTasks-len(tasks))]
		}
		state.pending = len(planned)
		states = append(states, state)
		tasks = append(tasks, planned...)
	}

	width := p.width(req)
	system, _ := captionPrompts(lang, "")
	logger := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldStage, eventStage))

	start := func(t captionTask) bool {
		if t.state.started {
			return true
		}
		t.state.started = true
		meta := map[string]any{"images_total": t.state.total, "planned": t.state.pending, "concurrency": width}
		if _, err := p.events.Record(ctx, events.Entry{ItemID: t.state.item.ID, Stage: eventStage, Status: events.StatusStarted, Meta: meta}); err != nil {
			logger.Warn("record started event failed", logging.Error(err))
		}
		return true
	}
	work := func(ctx context.Context, t captionTask) captionResult {
		ctx = services.WithItemID(ctx, t.state.item.ID)
		_, prompt := captionPrompts(lang, t.state.item.Title)
		text, err := p.svc.Captioner.DescribeImage(ctx, system, llm.ImageRequest{
			Path:    t.path,
			Prompt:  prompt,
			Context: t.context,
		})
		return captionResult{text: text, err: err}
	}
	collect := func(t captionTask, res captionResult) bool {
		s := t.state
		s.pending--
		err := res.err
		if err == nil {
			s.captions[t.key] = res.text
			// Persist every caption as it lands.
			err = p.saveCaptions(ctx, s.item.ID, lang, s.captions)
			if err != nil {
				delete(s.captions, t.key)
			}
		}
		if err != nil {
			s.failed++
			if s.firstErr == nil {
				s.firstErr = err
			}
		} else {
			s.added++
		}
		if s.pending > 0 {
			return true
		}
		sum.Processed++
		meta := map[string]any{"added": s.added, "images_total": s.total}
		if s.failed > 0 {
			sum.Failed++
			meta["failed"] = s.failed
			p.recordFailure(ctx, logger, s.item, eventStage, s.firstErr, meta)
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

// planCaptions lists the item's images lacking a caption, up to perItem.
func (p *Pipeline) planCaptions(it *items.Item, lang string, perItem int) (*captionItem, []captionTask, error) {
	dir := filepath.Dir(it.RawTextPath)
	imgs, err := listImages(filepath.Join(dir, "images"))
	if err != nil {
		return nil, nil, err
	}
	existing, err := it.Captions(lang)
	if err != nil {
		existing = map[string]string{}
	}
	state := &captionItem{item: it, captions: existing, total: len(imgs)}

	var markdown string
	if raw, err := os.ReadFile(it.RawTextPath); err == nil {
		markdown = string(raw)
	}
	var tasks []captionTask
	for _, key := range imgs {
		if perItem > 0 && len(tasks) >= perItem {
			break
		}
		if strings.TrimSpace(existing[key]) != "" {
			continue
		}
		tasks = append(tasks, captionTask{
			state:   state,
			key:     key,
			path:    filepath.Join(dir, key),
			context: imageContext(markdown, key, p.cfg.Pipeline.CaptionContextChars),
		})
	}
	return state, tasks, nil
}

func (p *Pipeline) saveCaptions(ctx context.Context, itemID int64, lang string, captions map[string]string) error {
	encoded, err := json.Marshal(captions)
	if err != nil {
		return fmt.Errorf("encode captions: %w", err)
	}
	return p.items.SetField(ctx, itemID, items.FieldCaptions(lang), string(encoded))
}

// listImages returns "images/<name>" keys for the image files in dir,
// sorted by name. A missing directory yields no images.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(captionExts, strings.ToLower(filepath.Ext(e.Name()))) {
			out = append(out, "images/"+e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// imageContext extracts the heading breadcrumb and the paragraphs around the
// first markdown reference to key, within window characters.
func imageContext(markdown, key string, window int) string {
	if markdown == "" || window <= 0 {
		return ""
	}
	name := filepath.Base(key)
	lines := strings.Split(markdown, "\n")
	var crumbs [6]string
	ref := -1
	for i, line := range lines {
		if level, title := headingOf(line); level > 0 {
			crumbs[level-1] = title
			for j := level; j < len(crumbs); j++ {
				crumbs[j] = ""
			}
			continue
		}
		if strings.Contains(line, "](") && strings.Contains(line, name) {
			ref = i
			break
		}
	}
	if ref < 0 {
		return ""
	}

	half := window / 2
	var before []string
	used := 0
	for i := ref - 1; i >= 0 && used < half; i-- {
		line := strings.TrimSpace(lines[i])
		if level, _ := headingOf(line); level > 0 {
			break
		}
		if line == "" || strings.HasPrefix(line, "![") {
			continue
		}
		before = append([]string{line}, before...)
		used += len([]rune(line))
	}
	var after []string
	used = 0
	for i := ref + 1; i < len(lines) && used < half; i++ {
		line := strings.TrimSpace(lines[i])
		if level, _ := headingOf(line); level > 0 {
			break
		}
		if line == "" || strings.HasPrefix(line, "![") {
			continue
		}
		after = append(after, line)
		used += len([]rune(line))
	}

	var b strings.Builder
	var trail []string
	for _, c := range crumbs {
		if c != "" {
			trail = append(trail, c)
		}
	}
	if len(trail) > 0 {
		b.WriteString("Section: " + strings.Join(trail, " > ") + "\n\n")
	}
	b.WriteString(strings.Join(before, "\n"))
	if len(after) > 0 {
		b.WriteString("\n\n" + strings.Join(after, "\n"))
	}
	out := []rune(strings.TrimSpace(b.String()))
	if len(out) > window {
		out = out[:window]
	}
	return string(out)
}

func headingOf(line string) (int, string) {
	line = strings.TrimSpace(line)
	level := 0
	for level < len(line) && level < 6 && line[level] == '#' {
		level++
	}
	if level == 0 || level >= len(line) || line[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(line[level:])
}
