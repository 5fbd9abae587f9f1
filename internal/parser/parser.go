package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"paperflow/internal/config"
	"paperflow/internal/deps"
	"paperflow/internal/logging"
	"paperflow/internal/services"
)

var commandContext = exec.CommandContext

// Output locates one parse result on disk.
type Output struct {
	Dir       string `json:"dir"`
	Markdown  string `json:"markdown"`
	ImagesDir string `json:"images_dir"`
}

// Stem returns the file stem used by the parser for pdfPath.
func Stem(pdfPath string) string {
	base := filepath.Base(pdfPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		return base
	}
	return stem
}

// Layout returns where the parser writes output for pdfPath and method.
func Layout(outRoot, pdfPath, method string) Output {
	stem := Stem(pdfPath)
	dir := filepath.Join(outRoot, stem, method)
	return Output{
		Dir:       dir,
		Markdown:  filepath.Join(dir, stem+".md"),
		ImagesDir: filepath.Join(dir, "images"),
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput copies the parser's stdout and stderr to w.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		if w != nil {
			r.output = w
		}
	}
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Runner wraps the parser CLI.
type Runner struct {
	binary      string
	backend     string
	lang        string
	modelSource string
	timeout     time.Duration
	output      io.Writer
	logger      *slog.Logger
}

// NewRunner constructs a Runner from the [parser] section.
func NewRunner(cfg config.Parser, opts ...Option) *Runner {
	r := &Runner{
		binary:      cfg.Binary,
		backend:     cfg.Backend,
		lang:        cfg.Lang,
		modelSource: cfg.ModelSource,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		output:      os.Stdout,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Args returns the command line used to parse pdfPath into outRoot.
func (r *Runner) Args(pdfPath, outRoot, method string) []string {
	return []string{
		"-p", pdfPath,
		"-o", outRoot,
		"-b", r.backend,
		"-m", method,
		"-l", r.lang,
		"--formula", "false",
		"--table", "false",
		"--source", r.modelSource,
	}
}

// Parse runs the parser on pdfPath with the given method and returns the
// resulting layout.
func (r *Runner) Parse(ctx context.Context, pdfPath, outRoot, method string) (Output, error) {
	if strings.TrimSpace(pdfPath) == "" {
		return Output{}, services.Wrap(services.ErrValidation, "parse", "run parser", "pdf path required", nil)
	}
	if _, err := os.Stat(pdfPath); err != nil {
		return Output{}, services.Wrap(services.ErrNotFound, "parse", "stat pdf", pdfPath, err)
	}
	if err := os.MkdirAll(outRoot, 0o755); err != nil {
		return Output{}, fmt.Errorf("create parse output root: %w", err)
	}
	binary, err := deps.Resolve(r.binary)
	if err != nil {
		return Output{}, services.Wrap(services.ErrConfiguration, "parse", "resolve parser", r.binary, err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := r.Args(pdfPath, outRoot, method)
	r.logger.Info("parser started",
		logging.String(logging.FieldEventType, "parser_started"),
		logging.String("pdf", pdfPath),
		logging.String("method", method),
	)
	started := time.Now()

	tail := &tailBuffer{limit: 4096}
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	cmd.Stdout = io.MultiWriter(r.output, tail)
	cmd.Stderr = cmd.Stdout
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Output{}, services.Wrap(services.ErrTimeout, "parse", "run parser", fmt.Sprintf("exceeded %s", r.timeout), err)
		}
		return Output{}, services.Wrap(services.ErrExternalTool, "parse", "run parser", tail.String(), err)
	}

	out := Layout(outRoot, pdfPath, method)
	if info, err := os.Stat(out.Markdown); err != nil || info.Size() == 0 {
		return Output{}, services.Wrap(services.ErrExternalTool, "parse", "locate output", "parser produced no markdown at "+out.Markdown, err)
	}
	r.logger.Info("parser finished",
		logging.String(logging.FieldEventType, "parser_finished"),
		logging.String("markdown", out.Markdown),
		logging.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
