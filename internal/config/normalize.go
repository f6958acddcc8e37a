package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeAPI()
	c.normalizeEvents()
	c.normalizeNotifications()
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
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.IntakeDir, err = expandPath(strings.TrimSpace(c.Paths.IntakeDir)); err != nil {
		return fmt.Errorf("paths.intake_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ExportDir) == "" {
		c.Paths.ExportDir = filepath.Join(c.Paths.DataDir, "exports")
	}
	if c.Paths.ExportDir, err = expandPath(c.Paths.ExportDir); err != nil {
		return fmt.Errorf("paths.export_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "", "sqlite3":
		c.Store.Driver = DriverSQLite
	case "postgresql", "pgx":
		c.Store.Driver = DriverPostgres
	}
	if c.Store.DSN == "" {
		if value, ok := os.LookupEnv("CARDMINT_DB_DSN"); ok {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
	if c.Store.Driver == DriverSQLite {
		if strings.TrimSpace(c.Store.Path) == "" {
			c.Store.Path = filepath.Join(c.Paths.DataDir, defaultStoreFile)
		}
		var err error
		if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
			return fmt.Errorf("store.path: %w", err)
		}
	}
	if c.Store.MaxOpenConns <= 0 {
		c.Store.MaxOpenConns = defaultMaxOpenConns
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	c.Recovery.Policy = strings.ToLower(strings.TrimSpace(c.Recovery.Policy))
	if c.Recovery.Policy == "" {
		c.Recovery.Policy = defaultRecoveryPolicy
	}
	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = 1
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("CARDMINT_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	c.Classifier.URL = strings.TrimSpace(c.Classifier.URL)
	c.Classifier.PricingURL = strings.TrimSpace(c.Classifier.PricingURL)
	if c.Classifier.APIKey == "" {
		if value, ok := os.LookupEnv("CARDMINT_CLASSIFIER_API_KEY"); ok {
			c.Classifier.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeEvents() {
	if c.Events.RedisURL == "" {
		if value, ok := os.LookupEnv("CARDMINT_REDIS_URL"); ok {
			c.Events.RedisURL = strings.TrimSpace(value)
		}
	}
	if c.Events.AMQPURL == "" {
		if value, ok := os.LookupEnv("CARDMINT_AMQP_URL"); ok {
			c.Events.AMQPURL = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Events.RedisChannel) == "" {
		c.Events.RedisChannel = defaultRedisChannel
	}
	if strings.TrimSpace(c.Events.WakeChannel) == "" {
		c.Events.WakeChannel = defaultWakeChannel
	}
	if strings.TrimSpace(c.Events.AMQPExchange) == "" {
		c.Events.AMQPExchange = defaultAMQPExchange
	}
	if strings.TrimSpace(c.Events.AMQPRoutingKey) == "" {
		c.Events.AMQPRoutingKey = defaultAMQPRoutingKey
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = defaultEventBufferSize
	}
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("CARDMINT_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
