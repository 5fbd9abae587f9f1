package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestItemsImportAddStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	imports := filepath.Join(env.baseDir, "items.json")
	writeJSONFile(t, imports, `[
		{"external_id":"2601.00001","day":"2026-01-05","title":"First"},
		{"external_id":"2601.00002","day":"2026-01-05","title":"Second"}
	]`)

	out, _, err := runCLI(t, []string{"items", "import", imports}, env.configPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "2 new, 0 updated") {
		t.Fatalf("unexpected import output %q", out)
	}
	out, _, err = runCLI(t, []string{"items", "import", imports}, env.configPath)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if !strings.Contains(out, "0 new, 2 updated") {
		t.Fatalf("unexpected re-import output %q", out)
	}

	out, _, err = runCLI(t, []string{"items", "add", "2601.00003", "--day", "2026-01-06", "--title", "Third"}, env.configPath)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.HasPrefix(out, "Added item 3") {
		t.Fatalf("unexpected add output %q", out)
	}
	if _, _, err := runCLI(t, []string{"items", "add", "2601.00004", "--day", "Jan 6"}, env.configPath); err == nil {
		t.Fatal("expected error for malformed day")
	}

	out, _, err = runCLI(t, []string{"items", "status", "2601.00001"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"2601.00001 (#1)", "fetch", "analyze_zh", "package_en"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	if _, _, err := runCLI(t, []string{"items", "status", "nope"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown item")
	}
}

func TestItemsEventsAfterBackfill(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"items", "add", "2601.00001", "--day", "2026-01-05"}, env.configPath); err != nil {
		t.Fatalf("add: %v", err)
	}
	out, _, err := runCLI(t, []string{"items", "events", "2601.00001"}, env.configPath)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, "No events") {
		t.Fatalf("unexpected events output %q", out)
	}

	payload := filepath.Join(env.baseDir, "payload.json")
	writeJSONFile(t, payload, `{"external_ids":"2601.00001"}`)
	if _, _, err := runCLI(t, []string{"handle", "--kind", "events_backfill", "--payload", payload}, env.configPath); err != nil {
		t.Fatalf("handle: %v", err)
	}

	out, _, err = runCLI(t, []string{"items", "events", "2601.00001"}, env.configPath)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, "missing pdf_path") {
		t.Fatalf("expected backfilled fetch reason, got:\n%s", out)
	}
}

func TestDoctorOffline(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"doctor", "--offline"}, env.configPath)
	// No LLM keys and no parser binary in the test environment.
	if err == nil {
		t.Fatal("expected doctor to report failures")
	}
	for _, want := range []string{"== Directories ==", "Data directory:", "[OK]", "LLM keys:", "[ERROR] no keys configured"} {
		if !strings.Contains(out, want) {
			t.Fatalf("doctor output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "== Endpoints ==") {
		t.Fatal("network section rendered with --offline")
	}
}
