package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestJobsEnqueueListShowCancel(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"jobs", "enqueue", "analyze_fill", "--day", "2026-01-05", "--lang", "en"}, env.configPath)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(out, "Queued job 1 (analyze_fill)") {
		t.Fatalf("unexpected enqueue output %q", out)
	}

	out, _, err = runCLI(t, []string{"jobs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "analyze_fill") || !strings.Contains(out, "queued") {
		t.Fatalf("unexpected list output %q", out)
	}

	out, _, err = runCLI(t, []string{"jobs", "show", "1", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var view struct {
		ID      int64          `json:"id"`
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, out)
	}
	if view.ID != 1 || view.Kind != "analyze_fill" || view.Payload["day"] != "2026-01-05" || view.Payload["lang"] != "en" {
		t.Fatalf("unexpected view %+v", view)
	}

	if _, _, err := runCLI(t, []string{"jobs", "cancel", "1"}, env.configPath); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := runCLI(t, []string{"jobs", "cancel", "1"}, env.configPath); err == nil || !strings.Contains(err.Error(), "not queued") {
		t.Fatalf("expected not queued error, got %v", err)
	}

	out, _, err = runCLI(t, []string{"jobs", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "canceled") {
		t.Fatalf("unexpected stats output %q", out)
	}
}

func TestJobsEnqueueRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)
	cases := [][]string{
		{"jobs", "enqueue", "bogus_kind"},
		{"jobs", "enqueue", "analyze_fill", "--day", "yesterday"},
		{"jobs", "enqueue", "item_retry_stage", "--payload", `{"external_id":"x"}`},
		{"jobs", "enqueue", "analyze_fill", "--payload", `{}`, "--day", "latest"},
	}
	for _, args := range cases {
		if _, _, err := runCLI(t, args, env.configPath); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
	out, _, err := runCLI(t, []string{"jobs", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("rejected jobs were queued: %q", out)
	}
}

func TestJobsLogWithoutOutput(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"jobs", "enqueue", "events_backfill", "--all"}, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	out, _, err := runCLI(t, []string{"jobs", "log", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(out, "No log output for job 1") {
		t.Fatalf("unexpected log output %q", out)
	}
	if _, _, err := runCLI(t, []string{"jobs", "show", "99"}, env.configPath); err == nil {
		t.Fatal("expected error for missing job")
	}
}

func TestHandleStoresResult(t *testing.T) {
	env := setupCLITestEnv(t)
	imports := filepath.Join(env.baseDir, "items.json")
	writeJSONFile(t, imports, `[{"external_id":"2601.00001","day":"2026-01-05","title":"First"}]`)
	if _, _, err := runCLI(t, []string{"items", "import", imports}, env.configPath); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, _, err := runCLI(t, []string{"jobs", "enqueue", "events_backfill", "--all"}, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	payload := filepath.Join(env.baseDir, "payload.json")
	writeJSONFile(t, payload, `{"scope":"all"}`)

	out, _, err := runCLI(t, []string{"handle", "--kind", "events_backfill", "--payload", payload, "--job-id", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("handle: %v\n%s", err, out)
	}

	out, _, err = runCLI(t, []string{"jobs", "show", "1", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var view struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if view.Result["items"] != float64(1) {
		t.Fatalf("unexpected result %v", view.Result)
	}
}

func TestHandleFailureStoresErrorKind(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"jobs", "enqueue", "item_retry_stage", "--payload", `{"external_id":"missing","stage":"parse"}`}, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	payload := filepath.Join(env.baseDir, "payload.json")
	writeJSONFile(t, payload, `{"external_id":"missing","stage":"parse"}`)

	if _, _, err := runCLI(t, []string{"handle", "--kind", "item_retry_stage", "--payload", payload, "--job-id", "1"}, env.configPath); err == nil {
		t.Fatal("expected handler error")
	}
	out, _, err := runCLI(t, []string{"jobs", "show", "1", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var view struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if view.Result["error_kind"] != "not_found" {
		t.Fatalf("unexpected result %v", view.Result)
	}
}
