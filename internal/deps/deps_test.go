package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"paperflow/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}

	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
}

func TestResolveUsesFallbackDirs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs")
	}
	fallback := t.TempDir()
	stub := filepath.Join(fallback, "qpdf")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", "")
	previous := FallbackDirs
	FallbackDirs = []string{filepath.Join(fallback, "missing"), fallback}
	t.Cleanup(func() { FallbackDirs = previous })

	got, err := Resolve("qpdf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != stub {
		t.Fatalf("expected %q, got %q", stub, got)
	}
	if _, err := Resolve("mutool"); err == nil {
		t.Fatal("expected missing binary error")
	}
}

func TestRequirementsSkipInProcessRepair(t *testing.T) {
	cfg := config.Default()
	cfg.Repair.Tools = []string{"qpdf", "pdfcpu"}
	reqs := Requirements(&cfg)
	if len(reqs) != 2 {
		t.Fatalf("expected parser and qpdf, got %#v", reqs)
	}
	if reqs[0].Optional || !reqs[1].Optional {
		t.Fatalf("unexpected optional flags: %#v", reqs)
	}
	cfg.Repair.Enabled = false
	if got := Requirements(&cfg); len(got) != 1 {
		t.Fatalf("expected only the parser when repair is disabled, got %d", len(got))
	}
}
