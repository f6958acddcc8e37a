package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateAdmission(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver. Set CARDMINT_DB_DSN or edit the config file")
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q (use sqlite or postgres)", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval < 0 {
		return errors.New("workflow.queue_poll_interval must be zero or positive")
	}
	if c.Workflow.ErrorRetryInterval < 0 {
		return errors.New("workflow.error_retry_interval must be zero or positive")
	}
	if c.Workflow.RetryBackoff < 0 {
		return errors.New("workflow.retry_backoff must be zero or positive")
	}
	if c.Workflow.LeaseTimeout <= 0 {
		return errors.New("workflow.lease_timeout must be positive")
	}
	if c.Workflow.MaxRetries <= 0 {
		return errors.New("workflow.max_retries must be positive")
	}
	if c.Workflow.MaxPptFailures <= 0 {
		return errors.New("workflow.max_ppt_failures must be positive")
	}
	if c.Workflow.UnmatchedThreshold < 0 || c.Workflow.UnmatchedThreshold > 1 {
		return errors.New("workflow.unmatched_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateRecovery() error {
	switch c.Recovery.Policy {
	case RecoveryResume, RecoveryDestructive:
		return nil
	default:
		return fmt.Errorf("recovery.policy: unsupported value %q (use resume or destructive)", c.Recovery.Policy)
	}
}

func (c *Config) validateAdmission() error {
	if c.Admission.MaxQueueDepth < 0 {
		return errors.New("admission.max_queue_depth must be zero (unlimited) or positive")
	}
	if c.Admission.RequestsPerSecond < 0 {
		return errors.New("admission.requests_per_second must be zero (unlimited) or positive")
	}
	if c.Admission.RequestsPerSecond > 0 && c.Admission.Burst <= 0 {
		return errors.New("admission.burst must be positive when a request rate is set")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be zero or positive")
	}
	if c.Notifications.DedupCapacity < 0 {
		return errors.New("notifications.dedup_capacity must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
