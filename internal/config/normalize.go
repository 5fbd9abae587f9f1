package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizePipeline(); err != nil {
		return err
	}
	c.normalizeRepair()
	c.normalizeParser()
	c.normalizeCredentials()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}

	derived := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.database_path", &c.Paths.DatabasePath, filepath.Join(c.Paths.DataDir, "paperflow.db")},
		{"paths.log_dir", &c.Paths.LogDir, filepath.Join(c.Paths.DataDir, "logs")},
		{"paths.pdf_dir", &c.Paths.PDFDir, filepath.Join(c.Paths.DataDir, "pdf")},
		{"paths.parse_out_root", &c.Paths.ParseOutRoot, filepath.Join(c.Paths.DataDir, "parsed")},
		{"paths.repair_cache_dir", &c.Paths.RepairCacheDir, filepath.Join(c.Paths.DataDir, "cache", "pdf_repair")},
		{"paths.images_dir", &c.Paths.ImagesDir, filepath.Join(c.Paths.DataDir, "gen")},
		{"paths.package_dir", &c.Paths.PackageDir, filepath.Join(c.Paths.DataDir, "epub")},
	}
	for _, d := range derived {
		if strings.TrimSpace(*d.value) == "" {
			*d.value = d.fallback
		}
		if *d.value, err = expandPath(*d.value); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	// The job log directory derives from the normalized log dir.
	if strings.TrimSpace(c.Paths.JobLogDir) == "" {
		c.Paths.JobLogDir = filepath.Join(c.Paths.LogDir, "jobs")
	}
	if c.Paths.JobLogDir, err = expandPath(c.Paths.JobLogDir); err != nil {
		return fmt.Errorf("paths.job_log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePipeline() error {
	c.Pipeline.Source = strings.TrimSpace(c.Pipeline.Source)
	if c.Pipeline.Source == "" {
		c.Pipeline.Source = defaultSource
	}

	langs := make([]string, 0, len(c.Pipeline.Languages))
	seen := make(map[string]struct{}, len(c.Pipeline.Languages))
	for _, raw := range c.Pipeline.Languages {
		code, err := NormalizeLanguage(raw)
		if err != nil {
			return fmt.Errorf("pipeline.languages: %w", err)
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		langs = append(langs, code)
	}
	c.Pipeline.Languages = langs

	providers := make([]string, 0, len(c.Pipeline.ImageProviders))
	seenProv := make(map[string]struct{}, len(c.Pipeline.ImageProviders))
	for _, raw := range c.Pipeline.ImageProviders {
		name := canonicalProvider(raw)
		if name == "" {
			continue
		}
		if _, ok := seenProv[name]; ok {
			continue
		}
		seenProv[name] = struct{}{}
		providers = append(providers, name)
	}
	c.Pipeline.ImageProviders = providers

	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = defaultConcurrency
	}
	if c.Pipeline.CaptionPerItem <= 0 {
		c.Pipeline.CaptionPerItem = defaultCaptionPerItem
	}
	if c.Pipeline.ImagesPerItem <= 0 {
		c.Pipeline.ImagesPerItem = defaultImagesPerItem
	}
	if c.Pipeline.AnalyzeInputChars <= 0 {
		c.Pipeline.AnalyzeInputChars = defaultAnalyzeInputChars
	}
	if c.Pipeline.OneLinerInputChars <= 0 {
		c.Pipeline.OneLinerInputChars = defaultOneLinerInputChars
	}
	return nil
}

func (c *Config) normalizeRepair() {
	tools := make([]string, 0, len(c.Repair.Tools))
	for _, tool := range c.Repair.Tools {
		tool = strings.ToLower(strings.TrimSpace(tool))
		if tool == "" {
			continue
		}
		if tool == "auto" {
			tools = append(tools, defaultRepairTools...)
			continue
		}
		tools = append(tools, tool)
	}
	c.Repair.Tools = tools
	if c.Repair.TimeoutSeconds <= 0 {
		c.Repair.TimeoutSeconds = defaultRepairTimeout
	}
	if c.Repair.MinOutputBytes <= 0 {
		c.Repair.MinOutputBytes = defaultRepairMinOutput
	}
}

func (c *Config) normalizeParser() {
	c.Parser.Binary = strings.TrimSpace(c.Parser.Binary)
	if c.Parser.Binary == "" {
		c.Parser.Binary = defaultParserBinary
	}
	c.Parser.Method = strings.ToLower(strings.TrimSpace(c.Parser.Method))
	if c.Parser.Method == "" {
		c.Parser.Method = defaultParserMethod
	}
	c.Parser.OCRMethod = strings.ToLower(strings.TrimSpace(c.Parser.OCRMethod))
	if c.Parser.OCRMethod == "" {
		c.Parser.OCRMethod = defaultParserOCRMethod
	}
	if c.Parser.TimeoutSeconds <= 0 {
		c.Parser.TimeoutSeconds = defaultParserTimeout
	}
}

// normalizeCredentials trims credential pools and falls back to comma
// separated environment variables when a pool is empty.
func (c *Config) normalizeCredentials() {
	c.LLM.APIKeys = keyPool(c.LLM.APIKeys, "PAPERFLOW_LLM_API_KEYS", "OPENAI_API_KEY")
	c.Providers.Seedream.APIKeys = keyPool(c.Providers.Seedream.APIKeys, "SEEDREAM_API_KEYS", "SEEDREAM_API_KEY")
	c.Providers.GLM.APIKeys = keyPool(c.Providers.GLM.APIKeys, "GLM_API_KEYS", "GLM_API_KEY")
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "auto":
		c.Logging.Format = "auto"
	case "console", "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// NormalizeLanguage reduces a BCP 47 tag such as "zh-CN" or "en_US" to its
// base language code.
func NormalizeLanguage(raw string) (string, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "_", "-")
	if raw == "" {
		return "", fmt.Errorf("empty language code")
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", raw, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

func canonicalProvider(raw string) string {
	switch name := strings.ToLower(strings.TrimSpace(raw)); name {
	case "seedream", "ark":
		return "seedream"
	case "glm", "glm-image", "glm_image":
		return "glm"
	default:
		return name
	}
}

func keyPool(keys []string, envNames ...string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, name := range envNames {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		for _, k := range strings.Split(value, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return out
}
