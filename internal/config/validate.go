package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var fieldValidator = newFieldValidator()

func newFieldValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFields(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRepair(); err != nil {
		return err
	}
	if err := c.validateParser(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateFields() error {
	err := fieldValidator.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate config: %w", err)
	}
	fe := verrs[0]
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	if fe.Param() != "" {
		return fmt.Errorf("%s must satisfy %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s failed %s validation", key, fe.Tag())
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		return errors.New("paths.database_path must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func (c *Config) validatePipeline() error {
	if len(c.Pipeline.Languages) == 0 {
		return errors.New("pipeline.languages must list at least one language")
	}
	for _, lang := range c.Pipeline.Languages {
		if !slices.Contains(SupportedLanguages, lang) {
			return fmt.Errorf("pipeline.languages: unsupported language %q (supported: %s)", lang, strings.Join(SupportedLanguages, ", "))
		}
	}
	for _, name := range c.Pipeline.ImageProviders {
		switch name {
		case "seedream", "glm":
		default:
			return fmt.Errorf("pipeline.image_providers: unsupported provider %q", name)
		}
	}
	return nil
}

func (c *Config) validateRepair() error {
	if !c.Repair.Enabled {
		return nil
	}
	if len(c.Repair.Tools) == 0 {
		return errors.New("repair.tools must list at least one tool when repair.enabled is true")
	}
	for _, tool := range c.Repair.Tools {
		switch tool {
		case "qpdf", "mutool", "gs", "pdfcpu":
		default:
			return fmt.Errorf("repair.tools: unsupported tool %q", tool)
		}
	}
	return nil
}

func (c *Config) validateParser() error {
	if c.Parser.Method == c.Parser.OCRMethod {
		return fmt.Errorf("parser.ocr_method must differ from parser.method (both %q)", c.Parser.Method)
	}
	return nil
}

func (c *Config) validateProviders() error {
	for _, name := range c.Pipeline.ImageProviders {
		p := c.Provider(name)
		if strings.TrimSpace(p.Endpoint) == "" {
			return fmt.Errorf("providers.%s.endpoint must be set", name)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("providers.%s.model must be set", name)
		}
	}
	return nil
}

// Provider returns the provider section for a canonical provider name.
func (c *Config) Provider(name string) Provider {
	switch canonicalProvider(name) {
	case "glm":
		return c.Providers.GLM
	default:
		return c.Providers.Seedream
	}
}
