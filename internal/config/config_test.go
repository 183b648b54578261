package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 2, cfg.Worker.PollIntervalSecs)
	assert.Equal(t, 5, cfg.Breakers.Default.FailureThreshold)
	assert.Equal(t, 60, cfg.Breakers.Default.CooldownSecs)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 15, cfg.Retry.OffsetSecs)
	assert.Equal(t, 30, cfg.Retry.MaxJitterSecs)
	assert.Equal(t, 80, cfg.Dedupe.Threshold)
	assert.Equal(t, 95, cfg.Dedupe.AutoMergeThreshold)
	assert.False(t, cfg.Dedupe.ReviewEnabled)
	assert.InDelta(t, 10, cfg.Providers.PhoneIntel.RateLimit, 0.001)
	assert.InDelta(t, 5, cfg.Providers.EmailFinder.RateLimit, 0.001)
	assert.Equal(t, "AREACODE", cfg.Coverage.CodeField)
	assert.Equal(t, "NAME", cfg.Coverage.NameField)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 25, cfg.Monitoring.FailedJobThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
breakers:
  services:
    phone_intel:
      failure_threshold: 3
      cooldown_secs: 120
providers:
  phone_intel:
    key: pk-test
    rate_limit: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	require.Contains(t, cfg.Breakers.Services, "phone_intel")
	assert.Equal(t, 3, cfg.Breakers.Services["phone_intel"].FailureThreshold)
	assert.Equal(t, 120, cfg.Breakers.Services["phone_intel"].CooldownSecs)
	assert.Equal(t, "pk-test", cfg.Providers.PhoneIntel.Key)
	assert.InDelta(t, 2, cfg.Providers.PhoneIntel.RateLimit, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ENRICH_STORE_DRIVER", "postgres")
	t.Setenv("ENRICH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("ENRICH_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the defaults a Load of an empty
// environment would produce, for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Worker.Concurrency = 4
	cfg.Retry.MaxAttempts = 5
	cfg.Dedupe.Threshold = 80
	cfg.Dedupe.AutoMergeThreshold = 95
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	return cfg
}

func TestValidateServe_Valid(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidate_MissingDatabase(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateSync_MissingCredentials(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("sync")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "salesforce.client_id is required")
	assert.Contains(t, err.Error(), "salesforce.username is required")
	assert.Contains(t, err.Error(), "salesforce.key_path is required")
}

func TestValidateSync_Valid(t *testing.T) {
	cfg := validDefaults()
	cfg.Salesforce.ClientID = "client-id"
	cfg.Salesforce.Username = "sync@example.com"
	cfg.Salesforce.KeyPath = "/etc/sf/key.pem"

	assert.NoError(t, cfg.Validate("sync"))
}

func TestValidateReview_RequiresNotionAndAnthropic(t *testing.T) {
	cfg := validDefaults()
	cfg.Dedupe.ReviewEnabled = true

	err := cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notion.token is required")
	assert.Contains(t, err.Error(), "notion.review_db is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Notion.Token = "ntn_token"
	cfg.Notion.ReviewDB = "review-db-id"
	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("worker"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Worker.Concurrency = 0
	err := cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "worker.concurrency must be between 1 and 50")

	cfg.Worker.Concurrency = 51
	err = cfg.Validate("worker")
	assert.Error(t, err)

	cfg.Worker.Concurrency = 50
	assert.NoError(t, cfg.Validate("worker"))
}

func TestValidateDedupeThresholds(t *testing.T) {
	cfg := validDefaults()

	cfg.Dedupe.Threshold = 101
	err := cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dedupe.threshold must be between 0 and 100")

	cfg.Dedupe.Threshold = 90
	cfg.Dedupe.AutoMergeThreshold = 85
	err = cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "auto_merge_threshold must be >= dedupe.threshold")
}

func TestValidateMonitoring(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.Enabled = true
	cfg.Monitoring.CheckIntervalSecs = 0
	cfg.Monitoring.FailureRateThreshold = 1.5

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.check_interval_secs must be > 0")
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold must be in (0, 1]")

	cfg.Monitoring.CheckIntervalSecs = 300
	cfg.Monitoring.FailureRateThreshold = 0.25
	assert.NoError(t, cfg.Validate("serve"))
}
