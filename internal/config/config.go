package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Plans      PlansConfig      `yaml:"plans" mapstructure:"plans"`
	Reddit     RedditConfig     `yaml:"reddit" mapstructure:"reddit"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Email      EmailConfig      `yaml:"email" mapstructure:"email"`
	Webhook    WebhookConfig    `yaml:"webhook" mapstructure:"webhook"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DiscoveryConfig configures the periodic lead discovery worker.
type DiscoveryConfig struct {
	BatchSize                 int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRetries                int    `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMs             int    `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	QualityThreshold          int    `yaml:"quality_threshold" mapstructure:"quality_threshold"`
	EnrichConcurrency         int    `yaml:"enrich_concurrency" mapstructure:"enrich_concurrency"`
	GlobalSearchIntervalHours int    `yaml:"global_search_interval_hours" mapstructure:"global_search_interval_hours"`
	Schedule                  string `yaml:"schedule" mapstructure:"schedule"`
}

// PlansConfig maps plan names to monthly quotas. Unknown plans use Default.
type PlansConfig struct {
	LeadLimits map[string]int            `yaml:"lead_limits" mapstructure:"lead_limits"`
	AILimits   map[string]map[string]int `yaml:"ai_limits" mapstructure:"ai_limits"`
	Default    string                    `yaml:"default" mapstructure:"default"`
}

// RedditConfig holds Reddit OAuth credentials and search settings.
type RedditConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	RefreshToken string  `yaml:"refresh_token" mapstructure:"refresh_token"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	AuthURL      string  `yaml:"auth_url" mapstructure:"auth_url"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	SearchWindow string  `yaml:"search_window" mapstructure:"search_window"`
}

// AnthropicConfig holds Anthropic API settings used for sentiment and intent.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EmailConfig selects and configures the digest email provider.
type EmailConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	BrevoAPIKey string `yaml:"brevo_api_key" mapstructure:"brevo_api_key"`
	FromAddr    string `yaml:"from_addr" mapstructure:"from_addr"`
	FromName    string `yaml:"from_name" mapstructure:"from_name"`
	AppURL      string `yaml:"app_url" mapstructure:"app_url"`
}

// WebhookConfig configures outbound webhook delivery.
type WebhookConfig struct {
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the operator HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinProcessed         int     `yaml:"min_processed" mapstructure:"min_processed"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("discovery.batch_size", 50)
	v.SetDefault("discovery.max_retries", 3)
	v.SetDefault("discovery.backoff_base_ms", 1000)
	v.SetDefault("discovery.quality_threshold", 70)
	v.SetDefault("discovery.enrich_concurrency", 5)
	v.SetDefault("discovery.global_search_interval_hours", 30)
	v.SetDefault("discovery.schedule", "*/15 * * * *")

	v.SetDefault("plans.default", "free")
	v.SetDefault("plans.lead_limits", map[string]int{
		"free":    25,
		"starter": 200,
		"pro":     1000,
	})
	v.SetDefault("plans.ai_limits", map[string]map[string]int{
		"free":    {"reply": 0, "intent": 0, "competitor": 0},
		"starter": {"reply": 75, "intent": 200, "competitor": 0},
		"pro":     {"reply": 300, "intent": 1000, "competitor": 100},
	})

	v.SetDefault("reddit.base_url", "https://oauth.reddit.com")
	v.SetDefault("reddit.auth_url", "https://www.reddit.com/api/v1/access_token")
	v.SetDefault("reddit.user_agent", "leadwatch/1.0")
	v.SetDefault("reddit.rate_limit", 1.0)
	v.SetDefault("reddit.search_window", "week")

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 16)

	v.SetDefault("email.provider", "log")
	v.SetDefault("email.from_name", "Leadwatch")

	v.SetDefault("webhook.timeout_secs", 10)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.failure_threshold", 5)
	v.SetDefault("webhook.reset_timeout_secs", 300)

	v.SetDefault("server.port", 8080)

	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_processed", 5)
}

// Validate checks the settings a command needs. Mode is one of "run"
// (discovery passes: run, schedule, serve) or "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "migrate":
	case "run":
		if c.Reddit.ClientID == "" {
			errs = append(errs, "reddit.client_id is required")
		}
		if c.Reddit.ClientSecret == "" {
			errs = append(errs, "reddit.client_secret is required")
		}
		if c.Reddit.RefreshToken == "" {
			errs = append(errs, "reddit.refresh_token is required")
		}
		if c.Email.Provider == "brevo" && (c.Email.BrevoAPIKey == "" || c.Email.FromAddr == "") {
			errs = append(errs, "email.brevo_api_key and email.from_addr are required for brevo")
		}
		if c.Discovery.BatchSize < 1 || c.Discovery.BatchSize > 500 {
			errs = append(errs, "discovery.batch_size must be between 1 and 500")
		}
		if c.Discovery.MaxRetries < 1 {
			errs = append(errs, "discovery.max_retries must be >= 1")
		}
		if c.Discovery.QualityThreshold < 0 || c.Discovery.QualityThreshold > 100 {
			errs = append(errs, "discovery.quality_threshold must be between 0 and 100")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
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
