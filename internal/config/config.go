package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/underwrite-cli/internal/datasource"
)

// Config holds the full application configuration.
type Config struct {
	API        APIConfig        `yaml:"api" mapstructure:"api"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Gate       GateConfig       `yaml:"gate" mapstructure:"gate"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// APIConfig configures the underwriting API client.
type APIConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Token       string  `yaml:"token" mapstructure:"token"`
	TokenFile   string  `yaml:"token_file" mapstructure:"token_file"`
	TokenEnv    string  `yaml:"token_env" mapstructure:"token_env"`
	WorkspaceID string  `yaml:"workspace_id" mapstructure:"workspace_id"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// RetryConfig configures retry with exponential backoff for API calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the circuit breaker guarding the API.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// SourceConfig selects where runs are read from.
type SourceConfig struct {
	Policy       string `yaml:"policy" mapstructure:"policy"`
	FixturesPath string `yaml:"fixtures_path" mapstructure:"fixtures_path"`
}

// StoreConfig configures the local run cache backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GateConfig tunes the gate evaluator.
type GateConfig struct {
	RequiredPassCount int `yaml:"required_pass_count" mapstructure:"required_pass_count"`
}

// ServerConfig configures the local HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the gate watcher and its webhook alerts.
type MonitoringConfig struct {
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	NotifyAdvance       bool   `yaml:"notify_advance" mapstructure:"notify_advance"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("UNDERWRITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api.base_url", "http://localhost:8000/v1")
	v.SetDefault("api.token", "")
	v.SetDefault("api.token_file", "")
	v.SetDefault("api.token_env", "")
	v.SetDefault("api.workspace_id", "")
	v.SetDefault("api.timeout_secs", 30)
	v.SetDefault("api.rate_per_sec", 10.0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("source.policy", string(datasource.PolicyPreferRemote))
	v.SetDefault("source.fixtures_path", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "underwrite.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("gate.required_pass_count", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.notify_advance", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the fields the given command mode depends on. Modes are
// "api" (commands that call the underwriting API), "serve" and "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "api":
		errs = append(errs, c.validateAPI()...)
	case "serve":
		errs = append(errs, c.validateAPI()...)
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.validateMonitoring()...)
	case "store":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Gate.RequiredPassCount < 1 {
		errs = append(errs, "gate.required_pass_count must be >= 1")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) validateAPI() []string {
	var errs []string
	policy, err := datasource.ParsePolicy(c.Source.Policy)
	if err != nil {
		errs = append(errs, "source.policy must be one of remote, local, prefer-remote")
	}
	if policy == datasource.PolicyLocal {
		return errs
	}
	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "api.base_url must be an absolute URL")
	}
	var sources int
	for _, s := range []string{c.API.Token, c.API.TokenFile, c.API.TokenEnv} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, "api.token, api.token_file and api.token_env are mutually exclusive")
	}
	if c.API.TimeoutSecs <= 0 {
		errs = append(errs, "api.timeout_secs must be > 0")
	}
	if c.API.RatePerSec < 0 {
		errs = append(errs, "api.rate_per_sec must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		errs = append(errs, "retry.max_attempts must be between 1 and 10")
	}
	if c.Circuit.FailureThreshold < 1 {
		errs = append(errs, "circuit.failure_threshold must be >= 1")
	}
	return errs
}

func (c *Config) validateMonitoring() []string {
	var errs []string
	if c.Monitoring.WebhookURL != "" {
		if u, err := url.Parse(c.Monitoring.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "monitoring.webhook_url must be an absolute URL")
		}
	}
	if c.Monitoring.CheckIntervalSecs < 0 {
		errs = append(errs, "monitoring.check_interval_secs must be >= 0")
	}
	return errs
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
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
