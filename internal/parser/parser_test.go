package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"paperflow/internal/config"
	"paperflow/internal/services"
)

func setHelperCommand(t *testing.T, mode string) *[]string {
	t.Helper()
	var captured []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		captured = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"PARSER_HELPER_MODE="+mode,
			"PARSER_HELPER_ARGS="+strings.Join(args, "\x1f"),
		)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
	return &captured
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := strings.Split(os.Getenv("PARSER_HELPER_ARGS"), "\x1f")
	flag := func(name string) string {
		for i, a := range args {
			if a == name && i+1 < len(args) {
				return args[i+1]
			}
		}
		return ""
	}
	switch os.Getenv("PARSER_HELPER_MODE") {
	case "success":
		out := Layout(flag("-o"), flag("-p"), flag("-m"))
		_ = os.MkdirAll(out.ImagesDir, 0o755)
		_ = os.WriteFile(out.Markdown, []byte("# parsed\n"), 0o644)
		_ = os.WriteFile(filepath.Join(out.ImagesDir, "fig1.jpg"), []byte("jpg"), 0o644)
		fmt.Println("parse complete")
		os.Exit(0)
	case "empty":
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "PdfiumError: failed to load page")
		os.Exit(2)
	default:
		os.Exit(0)
	}
}

func newRunner(t *testing.T, out *bytes.Buffer) *Runner {
	cfg := config.Default().Parser
	cfg.Binary = os.Args[0]
	return NewRunner(cfg, WithOutput(out))
}

func TestLayout(t *testing.T) {
	out := Layout("/data/parsed", "/data/pdf/2401.00001.pdf", "txt")
	if out.Markdown != "/data/parsed/2401.00001/txt/2401.00001.md" {
		t.Fatalf("unexpected markdown path %q", out.Markdown)
	}
	if out.ImagesDir != "/data/parsed/2401.00001/txt/images" {
		t.Fatalf("unexpected images dir %q", out.ImagesDir)
	}
}

func TestParseSuccess(t *testing.T) {
	captured := setHelperCommand(t, "success")
	dir := t.TempDir()
	pdf := filepath.Join(dir, "2401.00001.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	out, err := newRunner(t, &logs).Parse(context.Background(), pdf, filepath.Join(dir, "parsed"), "txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := os.Stat(out.Markdown); err != nil {
		t.Fatalf("expected markdown: %v", err)
	}
	if !strings.Contains(logs.String(), "parse complete") {
		t.Fatalf("expected parser output forwarded, got %q", logs.String())
	}
	joined := strings.Join(*captured, " ")
	for _, want := range []string{"-m txt", "-b pipeline", "--source modelscope", "-l en"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in args %v", want, *captured)
		}
	}
}

func TestParseFailureCarriesOutputTail(t *testing.T) {
	setHelperCommand(t, "failure")
	dir := t.TempDir()
	pdf := filepath.Join(dir, "a.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	_, err := newRunner(t, &logs).Parse(context.Background(), pdf, filepath.Join(dir, "parsed"), "txt")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "PdfiumError") {
		t.Fatalf("expected output tail in error, got %v", err)
	}
}

func TestParseRequiresMarkdown(t *testing.T) {
	setHelperCommand(t, "empty")
	dir := t.TempDir()
	pdf := filepath.Join(dir, "a.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	_, err := newRunner(t, &logs).Parse(context.Background(), pdf, filepath.Join(dir, "parsed"), "ocr")
	if err == nil || !strings.Contains(err.Error(), "no markdown") {
		t.Fatalf("expected missing markdown error, got %v", err)
	}
}

func TestParseMissingPDF(t *testing.T) {
	var logs bytes.Buffer
	_, err := newRunner(t, &logs).Parse(context.Background(), filepath.Join(t.TempDir(), "none.pdf"), t.TempDir(), "txt")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tb := &tailBuffer{limit: 5}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defgh"))
	if tb.String() != "defgh" {
		t.Fatalf("unexpected tail %q", tb.String())
	}
}
