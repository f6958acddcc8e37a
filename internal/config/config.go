package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	IntakeDir string `toml:"intake_dir"`
	ExportDir string `toml:"export_dir"`
}

// Store selects and configures the job store backend.
type Store struct {
	Driver       string `toml:"driver"` // "sqlite" or "postgres"
	Path         string `toml:"path"`   // SQLite database file
	DSN          string `toml:"dsn"`    // PostgreSQL connection string
	MaxOpenConns int    `toml:"max_open_conns"`
}

// Workflow contains configuration for the worker pool.
type Workflow struct {
	WorkerCount        int     `toml:"worker_count"`
	QueuePollInterval  int     `toml:"queue_poll_interval"`
	ErrorRetryInterval int     `toml:"error_retry_interval"`
	RetryBackoff       int     `toml:"retry_backoff"`
	LeaseTimeout       int     `toml:"lease_timeout"`
	MaxRetries         int     `toml:"max_retries"`
	MaxPptFailures     int     `toml:"max_ppt_failures"`
	UnmatchedThreshold float64 `toml:"unmatched_threshold"`
}

// Recovery controls the startup reconciliation routine.
type Recovery struct {
	Policy string `toml:"policy"` // "resume" or "destructive"
	// KeepIntake stops destructive recovery from emptying the intake inbox.
	KeepIntake bool `toml:"keep_intake"`
}

// Admission contains backpressure limits for the ingestion API.
type Admission struct {
	MaxQueueDepth     int     `toml:"max_queue_depth"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// API contains HTTP server configuration.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Classifier contains the HTTP endpoints of the classification and pricing services.
type Classifier struct {
	URL            string `toml:"url"`
	PricingURL     string `toml:"pricing_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Events contains configuration for status event fanout and wake signals.
type Events struct {
	BufferSize     int    `toml:"buffer_size"`
	RedisURL       string `toml:"redis_url"`
	RedisChannel   string `toml:"redis_channel"`
	WakeChannel    string `toml:"wake_channel"`
	AMQPURL        string `toml:"amqp_url"`
	AMQPExchange   string `toml:"amqp_exchange"`
	AMQPRoutingKey string `toml:"amqp_routing_key"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	OperatorPending    bool   `toml:"operator_pending"`
	Failures           bool   `toml:"failures"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
	DedupCapacity      int    `toml:"dedup_capacity"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for CardMint.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Workflow      Workflow      `toml:"workflow"`
	Recovery      Recovery      `toml:"recovery"`
	Admission     Admission     `toml:"admission"`
	API           API           `toml:"api"`
	Classifier    Classifier    `toml:"classifier"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cardmint/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
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

	projectPath, err := filepath.Abs("cardmint.toml")
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

// loadDotEnv reads .env files next to the config file and in the working
// directory. Variables already present in the environment win.
func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load %s: %w", abs, err)
		}
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, c.CaptureDir()}
	if c.Paths.IntakeDir != "" {
		dirs = append(dirs, c.Paths.IntakeDir)
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
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

// LeaseTimeout returns the configured lease expiry as a duration.
func (c *Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Workflow.LeaseTimeout) * time.Second
}

// PollInterval returns the idle wait between claim attempts.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.QueuePollInterval) * time.Second
}

// RetryBackoff returns the base delay before a failed job may be claimed again.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Workflow.RetryBackoff) * time.Second
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "cardmint.lock")
}

// CaptureDir is where ingested intake images are kept once their job exists.
func (c *Config) CaptureDir() string {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.DataDir, "captures")
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
