package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"paperflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config whose paths all live in a per-test temp
// directory. Credential pools are empty unless an option fills them.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		DataDir:        base,
		DatabasePath:   filepath.Join(base, "paperflow.db"),
		LogDir:         filepath.Join(base, "logs"),
		JobLogDir:      filepath.Join(base, "logs", "jobs"),
		PDFDir:         filepath.Join(base, "pdf"),
		ParseOutRoot:   filepath.Join(base, "parsed"),
		RepairCacheDir: filepath.Join(base, "cache", "pdf_repair"),
		ImagesDir:      filepath.Join(base, "gen"),
		PackageDir:     filepath.Join(base, "epub"),
	}
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithLanguages overrides the configured pipeline languages.
func WithLanguages(langs ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Languages = langs
	}
}

// WithLLMKeys fills the analysis/caption credential pool.
func WithLLMKeys(keys ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.APIKeys = keys
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"mineru", "qpdf"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.DataDir
}
