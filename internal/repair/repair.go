package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"paperflow/internal/config"
	"paperflow/internal/deps"
	"paperflow/internal/fileutil"
	"paperflow/internal/logging"
	"paperflow/internal/parser"
	"paperflow/internal/services"
)

// ErrNoTool reports that no configured tool produced a usable PDF.
var ErrNoTool = errors.New("no repair tool produced a usable pdf")

// qpdfWarnings is qpdf's exit status for "succeeded with warnings".
const qpdfWarnings = 3

var (
	commandContext = exec.CommandContext
	optimizePDF    = optimizeWithPDFCPU
	pdfcpuOnce     sync.Once
)

func optimizeWithPDFCPU(in, out string) error {
	pdfcpuOnce.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(in, out, conf)
}

// Attempt records one tool's outcome.
type Attempt struct {
	Tool  string `json:"tool"`
	Error string `json:"error,omitempty"`
}

// Result describes a successful repair.
type Result struct {
	Tool         string    `json:"tool"`
	Output       string    `json:"output"`
	Bytes        int64     `json:"bytes"`
	SourceSHA256 string    `json:"source_sha256"`
	Attempts     []Attempt `json:"attempts"`
}

// Repairer runs the repair tool chain.
type Repairer struct {
	tools    []string
	cacheDir string
	timeout  time.Duration
	minBytes int64
	logger   *slog.Logger
}

// New constructs a Repairer writing into cacheDir.
func New(cfg config.Repair, cacheDir string, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Repairer{
		tools:    append([]string(nil), cfg.Tools...),
		cacheDir: cacheDir,
		timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		minBytes: cfg.MinOutputBytes,
		logger:   logger,
	}
}

// OutputPath is where a repaired copy of input is written.
func (r *Repairer) OutputPath(input string) string {
	return filepath.Join(r.cacheDir, parser.Stem(input)+".pdf")
}

// Repair writes a repaired copy of input into the cache directory. The
// returned error wraps ErrNoTool when every tool failed; the attempts are
// still reported in that case.
func (r *Repairer) Repair(ctx context.Context, input string) (*Result, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, services.Wrap(services.ErrNotFound, "repair", "stat input", input, err)
	}
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create repair cache: %w", err)
	}
	output := r.OutputPath(input)
	source := filepath.Join(r.cacheDir, parser.Stem(input)+".source.pdf")
	digest, err := fileutil.CopyFileVerified(input, source)
	if err != nil {
		return nil, fmt.Errorf("copy source into repair cache: %w", err)
	}
	defer os.Remove(source)

	result := &Result{SourceSHA256: digest}
	for _, tool := range r.tools {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = os.Remove(output)
		err := r.runTool(ctx, tool, source, output)
		if err == nil {
			if size := fileutil.FileSize(output); size < r.minBytes {
				err = fmt.Errorf("repair produced %d bytes, below %d", max(size, 0), r.minBytes)
			}
		}
		if err != nil {
			result.Attempts = append(result.Attempts, Attempt{Tool: tool, Error: err.Error()})
			r.logger.Debug("repair tool failed", logging.String("tool", tool), logging.Error(err))
			continue
		}
		result.Attempts = append(result.Attempts, Attempt{Tool: tool})
		result.Tool = tool
		result.Output = output
		result.Bytes = fileutil.FileSize(output)
		r.logger.Info("pdf repaired",
			logging.String(logging.FieldEventType, "pdf_repaired"),
			logging.String("tool", tool),
			logging.String("output", output),
			logging.Int64("bytes", result.Bytes),
		)
		return result, nil
	}
	_ = os.Remove(output)
	last := "no tools configured"
	if n := len(result.Attempts); n > 0 {
		last = result.Attempts[n-1].Error
	}
	return result, services.Wrap(services.ErrExternalTool, "repair", "repair pdf", last, ErrNoTool)
}

func (r *Repairer) runTool(ctx context.Context, tool, input, output string) error {
	if tool == "pdfcpu" {
		if err := optimizePDF(input, output); err != nil {
			return fmt.Errorf("pdfcpu optimize: %w", err)
		}
		return nil
	}
	args, err := toolArgs(tool, input, output)
	if err != nil {
		return err
	}
	binary, err := deps.Resolve(tool)
	if err != nil {
		return fmt.Errorf("%s not found", tool)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	combined, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if tool == "qpdf" && errors.As(err, &exitErr) && exitErr.ExitCode() == qpdfWarnings {
		return nil
	}
	detail := strings.TrimSpace(string(combined))
	if detail == "" {
		detail = err.Error()
	}
	return fmt.Errorf("%s: %s", tool, detail)
}

func toolArgs(tool, input, output string) ([]string, error) {
	switch tool {
	case "qpdf":
		return []string{"--linearize", "--object-streams=disable", input, output}, nil
	case "mutool":
		return []string{"clean", "-gg", "-o", output, input}, nil
	case "gs":
		return []string{"-sDEVICE=pdfwrite", "-dNOPAUSE", "-dBATCH", "-dSAFER", "-o", output, input}, nil
	default:
		return nil, fmt.Errorf("unknown tool: %s", tool)
	}
}
