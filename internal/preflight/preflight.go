package preflight

import (
	"context"

	"paperflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Options toggles the slower checks.
type Options struct {
	// SkipNetwork disables checks that call remote endpoints.
	SkipNetwork bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := CheckDirectories(cfg)
	results = append(results, CheckBinaries(cfg)...)
	results = append(results, CheckCredentials(cfg)...)

	if !opts.SkipNetwork && len(cfg.LLM.APIKeys) > 0 {
		results = append(results, CheckLLM(ctx, cfg.LLM))
	}
	return results
}

// CheckDirectories checks every configured working directory.
func CheckDirectories(cfg *config.Config) []Result {
	dirs := []struct{ name, path string }{
		{"Data directory", cfg.Paths.DataDir},
		{"Log directory", cfg.Paths.LogDir},
		{"Job log directory", cfg.Paths.JobLogDir},
		{"PDF directory", cfg.Paths.PDFDir},
		{"Parse output root", cfg.Paths.ParseOutRoot},
		{"Images directory", cfg.Paths.ImagesDir},
		{"Package directory", cfg.Paths.PackageDir},
	}
	results := make([]Result, 0, len(dirs))
	for _, d := range dirs {
		results = append(results, CheckDirectoryAccess(d.name, d.path))
	}
	return results
}

// Failed returns the results that block operation. Optional checks never
// block.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
