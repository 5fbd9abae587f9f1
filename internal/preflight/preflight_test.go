package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paperflow/internal/config"
	"paperflow/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckLLM_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "OK"}}},
		})
	}))
	defer srv.Close()

	result := CheckLLM(context.Background(), config.LLM{BaseURL: srv.URL, APIKeys: []string{"bad", "good"}, AnalysisModel: "m"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLLM_AllKeysRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckLLM(context.Background(), config.LLM{BaseURL: srv.URL, APIKeys: []string{"a", "b"}, AnalysisModel: "m"})
	if result.Passed {
		t.Fatal("expected failure for rejected keys")
	}
	if !strings.HasPrefix(result.Detail, "no API key accepted") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckLLM_MissingKeys(t *testing.T) {
	if result := CheckLLM(context.Background(), config.LLM{BaseURL: "http://localhost"}); result.Passed {
		t.Fatal("expected failure without keys")
	}
}

func TestCheckCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLLMKeys("k1", "k2"))
	cfg.Pipeline.ImageProviders = []string{"seedream", "glm"}
	cfg.Providers.Seedream.APIKeys = []string{"s1"}
	cfg.Providers.GLM.APIKeys = nil

	results := CheckCredentials(cfg)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Passed || results[0].Detail != "2 key(s) pooled" {
		t.Fatalf("unexpected llm result %+v", results[0])
	}
	if !results[1].Passed || !results[1].Optional {
		t.Fatalf("unexpected seedream result %+v", results[1])
	}
	if results[2].Passed || !results[2].Optional {
		t.Fatalf("unexpected glm result %+v", results[2])
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("optional failures should not block: %+v", failed)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, Options{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_OfflineConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLLMKeys("k"), testsupport.WithStubbedBinaries("mineru"))
	cfg.Pipeline.ImageProviders = nil

	results := RunAll(context.Background(), cfg, Options{SkipNetwork: true})
	for _, r := range results {
		if r.Name == "LLM endpoint" {
			t.Fatal("network check ran despite SkipNetwork")
		}
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected blocking failures: %+v", failed)
	}
}

func TestRunAll_ReportsMissingParser(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Parser.Binary = "clearly-not-present-parser"

	failed := Failed(RunAll(context.Background(), cfg, Options{SkipNetwork: true}))
	var names []string
	for _, r := range failed {
		names = append(names, r.Name)
	}
	got := strings.Join(names, ",")
	if got != "Document parser,LLM keys" {
		t.Fatalf("unexpected blocking failures %q", got)
	}
}
