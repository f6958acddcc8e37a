package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"cardmint/internal/config"
)

// PostgresDSNEnv names the variable that enables PostgreSQL-backed tests.
const PostgresDSNEnv = "CARDMINT_TEST_POSTGRES_DSN"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.IntakeDir = filepath.Join(base, "intake")
	cfgVal.Paths.ExportDir = filepath.Join(base, "exports")
	cfgVal.Store.Path = filepath.Join(base, "data", "cardmint.db")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPostgres points the store at PostgreSQL using the DSN from
// CARDMINT_TEST_POSTGRES_DSN, skipping the test when it is unset.
func WithPostgres() ConfigOption {
	return func(b *configBuilder) {
		dsn := os.Getenv(PostgresDSNEnv)
		if dsn == "" {
			b.t.Skipf("%s not set", PostgresDSNEnv)
		}
		b.cfg.Store.Driver = config.DriverPostgres
		b.cfg.Store.DSN = dsn
	}
}

// WithWorkers sets the worker pool size.
func WithWorkers(count int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.WorkerCount = count
	}
}

// WithMaxRetries sets the retry cap enforced by the worker pool.
func WithMaxRetries(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxRetries = limit
	}
}

// WithRecoveryPolicy sets the startup recovery policy.
func WithRecoveryPolicy(policy string, keepIntake bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Recovery.Policy = policy
		b.cfg.Recovery.KeepIntake = keepIntake
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WriteImage writes a small placeholder image and returns its path.
func WriteImage(t testing.TB, dir, name string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	// JPEG SOI and EOI markers around a few filler bytes.
	data := []byte{0xFF, 0xD8, 0x42, 0x42, 0x42, 0xFF, 0xD9}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
