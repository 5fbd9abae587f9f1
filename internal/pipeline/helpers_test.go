package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"paperflow/internal/config"
	"paperflow/internal/events"
	"paperflow/internal/items"
	"paperflow/internal/parser"
	"paperflow/internal/repair"
	"paperflow/internal/services/fetch"
	"paperflow/internal/services/imagegen"
	"paperflow/internal/services/llm"
	"paperflow/internal/testsupport"
)

const testDay = "2026-01-05"

type harness struct {
	cfg    *config.Config
	repo   *items.Repository
	events *events.Log
	p      *Pipeline
}

func newHarness(t *testing.T, svc Services, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	database := testsupport.MustOpenDB(t, cfg)
	h := &harness{
		cfg:    cfg,
		repo:   items.NewRepository(database),
		events: events.NewLog(database),
	}
	h.p = New(cfg, h.repo, h.events, svc)
	return h
}

// addItem registers an item and sets the given fields.
func (h *harness) addItem(t *testing.T, externalID string, fields map[items.Field]string) *items.Item {
	t.Helper()
	ctx := context.Background()
	it, _, err := h.repo.Upsert(ctx, items.NewItem{
		Source:     h.cfg.Pipeline.Source,
		ExternalID: externalID,
		Day:        testDay,
		Title:      "Paper " + externalID,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	for f, v := range fields {
		if err := h.repo.SetField(ctx, it.ID, f, v); err != nil {
			t.Fatalf("SetField %s: %v", f, err)
		}
	}
	return h.reload(t, it)
}

func (h *harness) reload(t *testing.T, it *items.Item) *items.Item {
	t.Helper()
	fresh, err := h.repo.Get(context.Background(), it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return fresh
}

func (h *harness) count(t *testing.T, it *items.Item, stage string, status events.Status) int {
	t.Helper()
	n, err := h.events.Count(context.Background(), it.ID, stage, status)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

// writeParsed lays out a parse result for it under the parse root with the
// given markdown and image names, returning the markdown path.
func (h *harness) writeParsed(t *testing.T, externalID, markdown string, images ...string) string {
	t.Helper()
	out := parser.Layout(h.cfg.Paths.ParseOutRoot, filepath.Join(h.cfg.Paths.PDFDir, externalID+".pdf"), h.cfg.Parser.Method)
	writeOutput(t, out, markdown, images)
	return out.Markdown
}

func writeOutput(t testing.TB, out parser.Output, markdown string, images []string) {
	t.Helper()
	if err := os.MkdirAll(out.ImagesDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(out.Markdown, []byte(markdown), 0o644); err != nil {
		t.Fatalf("write markdown: %v", err)
	}
	for _, name := range images {
		if err := os.WriteFile(filepath.Join(out.ImagesDir, name), []byte("img:"+name), 0o644); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
}

type fakeCompleter struct {
	calls atomic.Int32
	err   error

	mu    sync.Mutex
	users []string
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.users = append(f.users, user)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	title, _, _ := strings.Cut(strings.TrimPrefix(user, "Title: "), "\n")
	return "# Analysis of " + title, nil
}

type fakeDescriber struct {
	calls atomic.Int32
	mu    sync.Mutex
	seen  []llm.ImageRequest
}

func (f *fakeDescriber) DescribeImage(_ context.Context, _ string, req llm.ImageRequest) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	return "caption for " + filepath.Base(req.Path), nil
}

// fakeParser writes markdown chosen by method, or repaired when the output
// root is the repaired root.
type fakeParser struct {
	byMethod map[string]string
	repaired string
	images   []string
	fail     error
	calls    atomic.Int32
}

func (f *fakeParser) Parse(_ context.Context, pdfPath, outRoot, method string) (parser.Output, error) {
	f.calls.Add(1)
	if f.fail != nil && filepath.Base(outRoot) != repairedRoot {
		return parser.Output{}, f.fail
	}
	out := parser.Layout(outRoot, pdfPath, method)
	text := f.byMethod[method]
	if filepath.Base(outRoot) == repairedRoot {
		text = f.repaired
	}
	images := append([]string(nil), f.images...)
	if method == "ocr" {
		images = append(images, "ocr-extra.png")
	}
	if err := os.MkdirAll(out.ImagesDir, 0o755); err != nil {
		return out, err
	}
	if err := os.WriteFile(out.Markdown, []byte(text), 0o644); err != nil {
		return out, err
	}
	for _, name := range images {
		if err := os.WriteFile(filepath.Join(out.ImagesDir, name), []byte(name), 0o644); err != nil {
			return out, err
		}
	}
	return out, nil
}

type fakeRepairer struct {
	dir   string
	calls atomic.Int32
}

func (f *fakeRepairer) OutputPath(input string) string {
	return filepath.Join(f.dir, parser.Stem(input)+".pdf")
}

func (f *fakeRepairer) Repair(_ context.Context, input string) (*repair.Result, error) {
	f.calls.Add(1)
	out := f.OutputPath(input)
	data := []byte(strings.Repeat("%", 2048))
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return nil, err
	}
	return &repair.Result{Tool: "qpdf", Output: out, Bytes: int64(len(data))}, nil
}

type fakeProvider struct {
	name  string
	fail  bool
	calls atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, req imagegen.Request, outPath string) (imagegen.Result, error) {
	f.calls.Add(1)
	if f.fail {
		return imagegen.Result{}, errors.New(f.name + ": upstream rejected prompt")
	}
	data := []byte(f.name + "|" + req.Prompt + "|" + outPath)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return imagegen.Result{}, err
	}
	sum := sha256.Sum256(data)
	return imagegen.Result{
		Provider:  f.name,
		RemoteURL: "https://example.test/" + f.name,
		LocalPath: outPath,
		SHA256:    hex.EncodeToString(sum[:]),
		Bytes:     int64(len(data)),
	}, nil
}

// fakeDownloader mimics the fetcher's reuse of a file already on disk.
type fakeDownloader struct {
	dir   string
	calls atomic.Int32
}

func (f *fakeDownloader) Download(_ context.Context, externalID, pdfURL string) (fetch.Result, error) {
	path := filepath.Join(f.dir, externalID+".pdf")
	if st, err := os.Stat(path); err == nil && st.Size() > 0 {
		return fetch.Result{URL: pdfURL, Path: path, Bytes: st.Size(), Reused: true}, nil
	}
	f.calls.Add(1)
	data := []byte("%PDF-1.4\n" + externalID)
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fetch.Result{}, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fetch.Result{}, err
	}
	sum := sha256.Sum256(data)
	return fetch.Result{URL: pdfURL, Path: path, SHA256: hex.EncodeToString(sum[:]), Bytes: int64(len(data))}, nil
}

func (f *fakeCompleter) prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.users...)
}
