package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and database locations.
type Paths struct {
	DataDir        string `toml:"data_dir"`
	DatabasePath   string `toml:"database_path"`
	LogDir         string `toml:"log_dir"`
	JobLogDir      string `toml:"job_log_dir"`
	PDFDir         string `toml:"pdf_dir"`
	ParseOutRoot   string `toml:"parse_out_root"`
	RepairCacheDir string `toml:"repair_cache_dir"`
	ImagesDir      string `toml:"images_dir"`
	PackageDir     string `toml:"package_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Worker contains configuration for the job worker.
type Worker struct {
	MaxJobs    int    `toml:"max_jobs" validate:"gte=1,lte=100"`
	StaleHours int    `toml:"stale_hours" validate:"gte=1,lte=168"`
	ReapLimit  int    `toml:"reap_limit" validate:"gte=1,lte=100"`
	Schedule   string `toml:"schedule"`
	// Executable overrides the binary launched for isolated job execution.
	// Empty means the running paperflow executable.
	Executable string `toml:"executable"`
}

// Pipeline contains per-stage batch caps and concurrency defaults. Job
// payloads may override most of these per run.
type Pipeline struct {
	Source              string   `toml:"source"`
	Languages           []string `toml:"languages"`
	Concurrency         int      `toml:"concurrency" validate:"gte=1,lte=32"`
	FetchMaxItems       int      `toml:"fetch_max_items" validate:"gte=0"`
	ParseMaxItems       int      `toml:"parse_max_items" validate:"gte=0"`
	OneLinerMaxItems    int      `toml:"one_liner_max_items" validate:"gte=0"`
	OneLinerInputChars  int      `toml:"one_liner_input_chars" validate:"gte=1000"`
	AnalyzeMaxItems     int      `toml:"analyze_max_items" validate:"gte=0"`
	AnalyzeInputChars   int      `toml:"analyze_input_chars" validate:"gte=1000"`
	CaptionMaxTasks     int      `toml:"caption_max_tasks" validate:"gte=0"`
	CaptionPerItem      int      `toml:"caption_per_item" validate:"gte=1"`
	CaptionContextChars int      `toml:"caption_context_chars" validate:"gte=0"`
	ImagesMaxItems      int      `toml:"images_max_items" validate:"gte=0"`
	ImagesPerItem       int      `toml:"images_per_item" validate:"gte=1,lte=12"`
	ImageProviders      []string `toml:"image_providers"`
	PackageMaxItems     int      `toml:"package_max_items" validate:"gte=0"`
}

// Quality contains the corruption thresholds used by the parse quality gate.
type Quality struct {
	MinLength  int     `toml:"min_length" validate:"gte=0"`
	QMarks     int     `toml:"qmarks" validate:"gte=1"`
	QMarksPerK float64 `toml:"qmarks_per_k" validate:"gt=0"`
	QRuns      int     `toml:"qruns" validate:"gte=1"`
	MaxRun     int     `toml:"max_run" validate:"gte=2"`
}

// Repair contains configuration for PDF repair before a parse retry.
type Repair struct {
	Enabled        bool     `toml:"enabled"`
	Tools          []string `toml:"tools"`
	TimeoutSeconds int      `toml:"timeout_seconds" validate:"gte=1"`
	MinOutputBytes int64    `toml:"min_output_bytes" validate:"gte=1"`
}

// Parser contains configuration for the document parser CLI.
type Parser struct {
	Binary          string `toml:"binary"`
	Backend         string `toml:"backend"`
	Method          string `toml:"method"`
	OCRMethod       string `toml:"ocr_method"`
	Lang            string `toml:"lang"`
	ModelSource     string `toml:"model_source"`
	TimeoutSeconds  int    `toml:"timeout_seconds" validate:"gte=1"`
	AutoOCRFallback bool   `toml:"auto_ocr_fallback"`
}

// Fetch contains configuration for source asset downloads.
type Fetch struct {
	BaseURL        string `toml:"base_url"`
	UserAgent      string `toml:"user_agent"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=1"`
}

// LLM contains the OpenAI-compatible endpoint used for analysis and captions.
type LLM struct {
	BaseURL           string   `toml:"base_url"`
	APIKeys           []string `toml:"api_keys"`
	AnalysisModel     string   `toml:"analysis_model"`
	CaptionModel      string   `toml:"caption_model"`
	TimeoutSeconds    int      `toml:"timeout_seconds" validate:"gte=1"`
	RequestsPerSecond float64  `toml:"requests_per_second" validate:"gte=0"`
}

// Provider contains one image synthesis provider's endpoint and credential pool.
type Provider struct {
	Endpoint          string   `toml:"endpoint"`
	Model             string   `toml:"model"`
	APIKeys           []string `toml:"api_keys"`
	Size              string   `toml:"size"`
	Quality           string   `toml:"quality"`
	TimeoutSeconds    int      `toml:"timeout_seconds" validate:"gte=1"`
	RequestsPerSecond float64  `toml:"requests_per_second" validate:"gte=0"`
}

// Providers groups the image synthesis providers.
type Providers struct {
	Seedream Provider `toml:"seedream"`
	GLM      Provider `toml:"glm"`
}

// Package contains metadata stamped into packaged artifacts.
type Package struct {
	Publisher string `toml:"publisher"`
}

// Config encapsulates all configuration values for paperflow.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and artifact directories plus the database file
//   - Logging: log format and level
//   - Worker: batch size, stale job horizon, optional schedule
//   - Pipeline: languages, concurrency, per-stage caps
//   - Quality: parse corruption thresholds
//   - Repair: PDF repair tool chain
//   - Parser: document parser CLI settings
//   - Fetch: source asset download settings
//   - LLM: analysis and caption endpoint plus credential pool
//   - Providers: image synthesis endpoints plus credential pools
//   - Package: packaged artifact metadata
type Config struct {
	Paths     Paths     `toml:"paths"`
	Logging   Logging   `toml:"logging"`
	Worker    Worker    `toml:"worker"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Quality   Quality   `toml:"quality"`
	Repair    Repair    `toml:"repair"`
	Parser    Parser    `toml:"parser"`
	Fetch     Fetch     `toml:"fetch"`
	LLM       LLM       `toml:"llm"`
	Providers Providers `toml:"providers"`
	Package   Package   `toml:"package"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/paperflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("paperflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates every directory the worker and stages write to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.LogDir,
		c.Paths.JobLogDir,
		c.Paths.PDFDir,
		c.Paths.ParseOutRoot,
		c.Paths.RepairCacheDir,
		c.Paths.ImagesDir,
		c.Paths.PackageDir,
		filepath.Dir(c.Paths.DatabasePath),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WorkerLockPath returns the host-wide worker lock file location.
func (c *Config) WorkerLockPath() string {
	return filepath.Join(c.Paths.DataDir, "worker.lock")
}

// PayloadDir returns the directory job payload files are written to.
func (c *Config) PayloadDir() string {
	return filepath.Join(c.Paths.JobLogDir, "payloads")
}

// HasLanguage reports whether lang is one of the configured pipeline languages.
func (c *Config) HasLanguage(lang string) bool {
	for _, l := range c.Pipeline.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
