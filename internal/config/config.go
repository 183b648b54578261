package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Breakers   BreakersConfig   `yaml:"breakers" mapstructure:"breakers"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Dedupe     DedupeConfig     `yaml:"dedupe" mapstructure:"dedupe"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Coverage   CoverageConfig   `yaml:"coverage" mapstructure:"coverage"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// WorkerConfig configures the job queue workers.
type WorkerConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// BreakerConfig is the per-service circuit breaker tuning.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// BreakersConfig holds the default plus per-service overrides keyed by
// breaker service name.
type BreakersConfig struct {
	Default  BreakerConfig            `yaml:"default" mapstructure:"default"`
	Services map[string]BreakerConfig `yaml:"services" mapstructure:"services"`
}

// RetryConfig configures job retry scheduling.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts" mapstructure:"max_attempts"`
	OffsetSecs    int `yaml:"offset_secs" mapstructure:"offset_secs"`
	MaxJitterSecs int `yaml:"max_jitter_secs" mapstructure:"max_jitter_secs"`
}

// DedupeConfig configures duplicate detection thresholds.
type DedupeConfig struct {
	Threshold          int  `yaml:"threshold" mapstructure:"threshold"`
	AutoMergeThreshold int  `yaml:"auto_merge_threshold" mapstructure:"auto_merge_threshold"`
	ReviewEnabled      bool `yaml:"review_enabled" mapstructure:"review_enabled"`
}

// ProviderConfig is one external enrichment API.
type ProviderConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ProvidersConfig holds the enrichment provider credentials. A provider with
// an empty key is simply not configured; its tasks are skipped.
type ProvidersConfig struct {
	PhoneIntel  ProviderConfig `yaml:"phone_intel" mapstructure:"phone_intel"`
	EmailFinder ProviderConfig `yaml:"email_finder" mapstructure:"email_finder"`
	DNC         ProviderConfig `yaml:"dnc" mapstructure:"dnc"`
	Places      ProviderConfig `yaml:"places" mapstructure:"places"`
	GeocodeKey  string         `yaml:"geocode_key" mapstructure:"geocode_key"`
}

// CoverageConfig points at the service-area shapefile.
type CoverageConfig struct {
	ShapefilePath string `yaml:"shapefile_path" mapstructure:"shapefile_path"`
	CodeField     string `yaml:"code_field" mapstructure:"code_field"`
	NameField     string `yaml:"name_field" mapstructure:"name_field"`
}

// NotionConfig holds Notion API credentials and the review database ID.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReviewDB string `yaml:"review_db" mapstructure:"review_db"`
}

// AnthropicConfig holds Anthropic API settings for borderline-duplicate
// review.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID         string  `yaml:"client_id" mapstructure:"client_id"`
	Username         string  `yaml:"username" mapstructure:"username"`
	KeyPath          string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL         string  `yaml:"login_url" mapstructure:"login_url"`
	DefaultAccountID string  `yaml:"default_account_id" mapstructure:"default_account_id"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MonitoringConfig configures the background health checker and its alert
// webhook. Alerts fire when the failed-contact ratio or the failed-job depth
// crosses a threshold, or when any circuit is open.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	FailedJobThreshold   int     `yaml:"failed_job_threshold" mapstructure:"failed_job_threshold"`
}

// CheckInterval returns the checker loop interval as a Duration.
func (m MonitoringConfig) CheckInterval() time.Duration {
	return time.Duration(m.CheckIntervalSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PollInterval returns the worker poll interval as a Duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval_secs", 2)
	v.SetDefault("breakers.default.failure_threshold", 5)
	v.SetDefault("breakers.default.cooldown_secs", 60)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.offset_secs", 15)
	v.SetDefault("retry.max_jitter_secs", 30)
	v.SetDefault("dedupe.threshold", 80)
	v.SetDefault("dedupe.auto_merge_threshold", 95)
	v.SetDefault("dedupe.review_enabled", false)
	v.SetDefault("providers.phone_intel.rate_limit", 10)
	v.SetDefault("providers.email_finder.rate_limit", 5)
	v.SetDefault("providers.dnc.rate_limit", 10)
	v.SetDefault("providers.places.rate_limit", 5)
	v.SetDefault("coverage.code_field", "AREACODE")
	v.SetDefault("coverage.name_field", "NAME")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.failed_job_threshold", 25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Validate checks that the configuration is sufficient for the given run
// mode. Modes: serve, worker, enrich, import, sync.
func (c *Config) Validate(mode string) error {
	var problems []string

	common := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 50 {
			problems = append(problems, "worker.concurrency must be between 1 and 50")
		}
		if c.Retry.MaxAttempts < 1 {
			problems = append(problems, "retry.max_attempts must be >= 1")
		}
		if c.Dedupe.Threshold < 0 || c.Dedupe.Threshold > 100 {
			problems = append(problems, "dedupe.threshold must be between 0 and 100")
		}
		if c.Dedupe.AutoMergeThreshold < c.Dedupe.Threshold {
			problems = append(problems, "dedupe.auto_merge_threshold must be >= dedupe.threshold")
		}
		if c.Dedupe.ReviewEnabled {
			if c.Notion.Token == "" {
				problems = append(problems, "notion.token is required when dedupe.review_enabled")
			}
			if c.Notion.ReviewDB == "" {
				problems = append(problems, "notion.review_db is required when dedupe.review_enabled")
			}
			if c.Anthropic.Key == "" {
				problems = append(problems, "anthropic.key is required when dedupe.review_enabled")
			}
		}
		if c.Monitoring.Enabled {
			if c.Monitoring.CheckIntervalSecs <= 0 {
				problems = append(problems, "monitoring.check_interval_secs must be > 0")
			}
			if c.Monitoring.FailureRateThreshold <= 0 || c.Monitoring.FailureRateThreshold > 1 {
				problems = append(problems, "monitoring.failure_rate_threshold must be in (0, 1]")
			}
		}
	}

	switch mode {
	case "serve":
		common()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "worker", "enrich", "import":
		common()
	case "sync":
		common()
		if c.Salesforce.ClientID == "" {
			problems = append(problems, "salesforce.client_id is required")
		}
		if c.Salesforce.Username == "" {
			problems = append(problems, "salesforce.username is required")
		}
		if c.Salesforce.KeyPath == "" {
			problems = append(problems, "salesforce.key_path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
