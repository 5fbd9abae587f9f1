package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	dataDir    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	for _, name := range []string{"PAPERFLOW_LLM_API_KEYS", "OPENAI_API_KEY", "SEEDREAM_API_KEYS", "SEEDREAM_API_KEY", "GLM_API_KEYS", "GLM_API_KEY"} {
		t.Setenv(name, "")
	}

	dataDir := filepath.Join(base, "data")
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, dataDir)
	return &cliTestEnv{baseDir: base, dataDir: dataDir, configPath: configPath}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path, dataDir string) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q

[logging]
format = "json"
level = "error"

[pipeline]
image_providers = []
`, dataDir)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeJSONFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
