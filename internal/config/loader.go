package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigLoader reads a YAML config file and overlays environment-sourced
// secrets on top of it. Secrets never live in the YAML file (see SPEC_FULL.md
// §1 Configuration).
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// LoadConfig reads filename, applies defaults, then loads secrets from the
// environment (optionally seeded by a local .env file via godotenv).
func (cl *ConfigLoader) LoadConfig(filename string) (*Config, error) {
	// Best effort: a missing .env file is normal in production where secrets
	// come from the platform's own secret manager.
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	loadSecrets(&cfg)

	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Postgres.MigrationsPath == "" {
		execPath, _ := os.Executable()
		c.Postgres.MigrationsPath = filepath.Join(filepath.Dir(execPath), "migrations")
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Thresholds.FinalizeGraceSec == 0 {
		c.Thresholds.FinalizeGraceSec = 120
	}
	if c.Thresholds.NewsLookbackSec == 0 {
		c.Thresholds.NewsLookbackSec = 1800
	}
	if c.Thresholds.SocialLookbackSec == 0 {
		c.Thresholds.SocialLookbackSec = 3600
	}
	if c.Thresholds.JoinThresholdPct == 0 {
		c.Thresholds.JoinThresholdPct = 0.25
	}
	if c.Thresholds.CandleAlertThresholdPct == 0 {
		c.Thresholds.CandleAlertThresholdPct = 0.9
	}
	if c.Thresholds.FusedAlertSeverityMin == 0 {
		c.Thresholds.FusedAlertSeverityMin = 35
	}
	if c.Evidence.MaxItems == 0 {
		c.Evidence.MaxItems = 50
	}
	if c.Evidence.RetentionSec == 0 {
		c.Evidence.RetentionSec = 7 * 24 * 3600
	}
	if c.Thresholds.CandleTTLSec == 0 {
		c.Thresholds.CandleTTLSec = 3 * 3600
	}
	if c.Alerting.CandleCooldownSec == 0 {
		c.Alerting.CandleCooldownSec = 180
	}
	if c.Alerting.FusedCooldownSec == 0 {
		c.Alerting.FusedCooldownSec = 300
	}
	if c.Alerting.PushTimeoutSec == 0 {
		c.Alerting.PushTimeoutSec = 10
	}
	if c.Oracle.TimeoutSec == 0 {
		c.Oracle.TimeoutSec = 30
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RateLimitRPS == 0 {
		c.HTTP.RateLimitRPS = 50
	}
	if c.HTTP.RateLimitBurst == 0 {
		c.HTTP.RateLimitBurst = 100
	}
	if c.Metrics.Port == "" {
		c.Metrics.Port = "9090"
	}
	if c.News.DedupTTLSec == 0 {
		c.News.DedupTTLSec = 24 * 3600
	}
	if c.Social.DedupTTLSec == 0 {
		c.Social.DedupTTLSec = 24 * 3600
	}
	if c.Chatbot.RequestTimeoutSec == 0 {
		c.Chatbot.RequestTimeoutSec = 15
	}
}

// loadSecrets overlays the environment on top of the parsed config. Required
// secrets are validated by each service's own boot sequence (fail hard at
// startup per SPEC_FULL.md's error-handling section), not here.
func loadSecrets(c *Config) {
	c.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.LINEChannelToken = os.Getenv("LINE_CHANNEL_TOKEN")
	c.OracleAPIKey = os.Getenv("ORACLE_API_KEY")
	c.TelegramSecretTok = os.Getenv("TELEGRAM_WEBHOOK_SECRET")
	c.FinnhubAPIKey = os.Getenv("FINNHUB_API_KEY")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
}

// RequireEnv fetches an environment variable and fails hard if it is empty,
// matching the "configuration missing" error kind in SPEC_FULL.md §1.
func RequireEnv(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return v, nil
}
