package main

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"asr-datamodule/internal/checkpoint"
	"asr-datamodule/internal/config"
	"asr-datamodule/internal/db"
	"asr-datamodule/internal/logging"
)

type commandContext struct {
	envFlag      *string
	configFlag   *string
	logLevelFlag *string
	dataFlags    *config.DataFlags

	configOnce sync.Once
	config     *config.Config
	logger     *zap.Logger
	configErr  error

	dbOnce sync.Once
	db     *db.DB
	dbErr  error
}

func newCommandContext(envFlag, configFlag, logLevelFlag *string, dataFlags *config.DataFlags) *commandContext {
	return &commandContext{
		envFlag:      envFlag,
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		dataFlags:    dataFlags,
	}
}

// ensureConfig layers defaults, config file, environment and flags once.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.envFlag), strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		c.dataFlags.Apply(&cfg.Data)
		if lvl := strings.TrimSpace(*c.logLevelFlag); lvl != "" {
			cfg.Logging.Level = lvl
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func (c *commandContext) log() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

// database opens the configured database. It returns nil without error when
// no driver is configured.
func (c *commandContext) database() (*db.DB, error) {
	c.dbOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.dbErr = err
			return
		}
		if cfg.Database.Driver == "" {
			return
		}
		c.db, c.dbErr = db.Open(cfg.Database)
		if c.dbErr == nil {
			c.log().Info("Connected to database", zap.String("dialect", c.db.Dialect()))
		}
	})
	return c.db, c.dbErr
}

func (c *commandContext) checkpointStore() (checkpoint.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	switch cfg.Checkpoint.Backend {
	case "db":
		database, err := c.database()
		if err != nil {
			return nil, err
		}
		return checkpoint.NewDBStore(database), nil
	default:
		return checkpoint.NewFileStore(cfg.Checkpoint.Dir)
	}
}

func (c *commandContext) close() {
	if c.db != nil {
		c.db.Close()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}
