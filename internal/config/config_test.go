package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cardmint/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "cardmint")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Store.Driver != config.DriverSQLite {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Store.Driver)
	}
	if cfg.Store.Path != filepath.Join(wantData, "cardmint.db") {
		t.Fatalf("unexpected store path: %q", cfg.Store.Path)
	}
	if cfg.Recovery.Policy != config.RecoveryResume {
		t.Fatalf("expected resume recovery by default, got %q", cfg.Recovery.Policy)
	}
	if cfg.Recovery.KeepIntake {
		t.Fatal("destructive recovery must empty the intake inbox by default")
	}
	if cfg.RetryBackoff() <= 0 {
		t.Fatalf("expected a positive retry backoff by default, got %v", cfg.RetryBackoff())
	}
	if cfg.Workflow.MaxRetries != config.Default().Workflow.MaxRetries {
		t.Fatalf("unexpected max retries: %d", cfg.Workflow.MaxRetries)
	}
	if cfg.LeaseTimeout().Seconds() != float64(config.Default().Workflow.LeaseTimeout) {
		t.Fatalf("unexpected lease timeout: %s", cfg.LeaseTimeout())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.IntakeDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "cardmint.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Workflow struct {
			WorkerCount  int `toml:"worker_count"`
			LeaseTimeout int `toml:"lease_timeout"`
			MaxRetries   int `toml:"max_retries"`
		} `toml:"workflow"`
		Recovery struct {
			Policy string `toml:"policy"`
		} `toml:"recovery"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Workflow.WorkerCount = 4
	custom.Workflow.LeaseTimeout = 5
	custom.Workflow.MaxRetries = 7
	custom.Recovery.Policy = "Destructive"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Workflow.WorkerCount != 4 {
		t.Fatalf("expected worker count 4, got %d", cfg.Workflow.WorkerCount)
	}
	if cfg.Workflow.MaxRetries != 7 {
		t.Fatalf("expected max retries 7, got %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Recovery.Policy != config.RecoveryDestructive {
		t.Fatalf("expected normalized destructive policy, got %q", cfg.Recovery.Policy)
	}
	if cfg.Store.Path != filepath.Join(tempDir, "data", "cardmint.db") {
		t.Fatalf("expected store path under data dir, got %q", cfg.Store.Path)
	}
}

func TestDotEnvFillsMissingSecrets(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "cardmint.toml")
	if err := os.WriteFile(configPath, []byte("[logging]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte("CARDMINT_NTFY_TOPIC=https://ntfy.example/cardmint\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	if _, ok := os.LookupEnv("CARDMINT_NTFY_TOPIC"); ok {
		t.Skip("CARDMINT_NTFY_TOPIC already set in environment")
	}
	t.Cleanup(func() { _ = os.Unsetenv("CARDMINT_NTFY_TOPIC") })

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/cardmint" {
		t.Fatalf("expected ntfy topic from .env, got %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Logging.Level)
	}
}

func TestEnvVarSuppliesPostgresDSN(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "cardmint.toml")
	if err := os.WriteFile(configPath, []byte("[store]\ndriver = \"postgresql\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CARDMINT_DB_DSN", "postgres://cardmint@localhost/cardmint")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.Driver != config.DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.Store.Driver)
	}
	if cfg.Store.DSN != "postgres://cardmint@localhost/cardmint" {
		t.Fatalf("expected DSN from env, got %q", cfg.Store.DSN)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Workflow.MaxRetries != config.Default().Workflow.MaxRetries {
		t.Fatalf("sample max_retries drifted from defaults: %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Recovery.Policy != config.RecoveryResume {
		t.Fatalf("sample recovery policy drifted: %q", cfg.Recovery.Policy)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"driver", func(c *config.Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres dsn", func(c *config.Config) { c.Store.Driver = config.DriverPostgres; c.Store.DSN = "" }, "store.dsn"},
		{"lease", func(c *config.Config) { c.Workflow.LeaseTimeout = 0 }, "lease_timeout"},
		{"retries", func(c *config.Config) { c.Workflow.MaxRetries = 0 }, "max_retries"},
		{"retry backoff", func(c *config.Config) { c.Workflow.RetryBackoff = -1 }, "retry_backoff"},
		{"threshold", func(c *config.Config) { c.Workflow.UnmatchedThreshold = 1.5 }, "unmatched_threshold"},
		{"policy", func(c *config.Config) { c.Recovery.Policy = "yolo" }, "recovery.policy"},
		{"burst", func(c *config.Config) { c.Admission.Burst = 0 }, "admission.burst"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store.Path = filepath.Join(t.TempDir(), "cardmint.db")
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}
