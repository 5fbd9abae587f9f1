package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"paperflow/internal/config"
	"paperflow/internal/db"
	"paperflow/internal/events"
	"paperflow/internal/items"
	"paperflow/internal/logging"
	"paperflow/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configFile bool
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configFile = exists
	})
	return c.config, c.configErr
}

// explicitConfigPath is the config file child processes should load, or ""
// when defaults were used.
func (c *commandContext) explicitConfigPath() string {
	if !c.configFile {
		return ""
	}
	return c.configPath
}

func (c *commandContext) logger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.NewNop()
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// stores bundles the repositories sharing one database handle.
type stores struct {
	db     *db.DB
	jobs   *queue.Store
	items  *items.Repository
	events *events.Log
}

func (c *commandContext) withStores(cmd *cobra.Command, fn func(*stores) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	database, err := db.Open(cmd.Context(), cfg.Paths.DatabasePath)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(&stores{
		db:     database,
		jobs:   queue.NewStore(database, cfg.Paths.JobLogDir),
		items:  items.NewRepository(database),
		events: events.NewLog(database),
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
