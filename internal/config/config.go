// Package config loads the YAML + environment configuration shared by every
// service binary in the engine.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the root configuration document. It is unmarshalled from YAML and
// then overlaid with secrets loaded from the environment (see loader.go).
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Evidence   EvidenceConfig   `yaml:"evidence"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Oracle     OracleConfig     `yaml:"oracle"`
	HTTP       HTTPConfig       `yaml:"http"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	News       NewsConfig       `yaml:"news"`
	Social     SocialConfig     `yaml:"social"`
	Chatbot    ChatbotConfig    `yaml:"chatbot"`
	Watchlist  []string         `yaml:"watch_symbols"`

	// Secrets — never set from YAML, populated from the environment by LoadConfig.
	TelegramBotToken  string `yaml:"-"`
	LINEChannelToken  string `yaml:"-"`
	OracleAPIKey      string `yaml:"-"`
	TelegramSecretTok string `yaml:"-"`
	FinnhubAPIKey     string `yaml:"-"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	PoolSize int    `yaml:"pool_size"`
}

type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrationsPath string `yaml:"migrations_path"`
}

// ThresholdsConfig mirrors the normative configuration table in §6 of the spec.
type ThresholdsConfig struct {
	CandleTTLSec            int     `yaml:"candle_ttl_sec"`
	FinalizeGraceSec        int     `yaml:"finalize_grace_sec"`
	NewsLookbackSec         int     `yaml:"news_lookback_sec"`
	SocialLookbackSec       int     `yaml:"social_lookback_sec"`
	JoinThresholdPct        float64 `yaml:"join_threshold_pct"`
	CandleAlertThresholdPct float64 `yaml:"candle_alert_threshold_pct"`
	FusedAlertSeverityMin   int     `yaml:"fused_alert_severity_min"`
}

type EvidenceConfig struct {
	MaxItems     int `yaml:"max_items"`
	RetentionSec int `yaml:"retention_sec"`
}

type AlertingConfig struct {
	CandleCooldownSec int    `yaml:"candle_cooldown_sec"`
	FusedCooldownSec  int    `yaml:"fused_cooldown_sec"`
	PushTimeoutSec    int    `yaml:"push_timeout_sec"`
	TelegramChatID    string `yaml:"telegram_chat_id"`
	LINETo            string `yaml:"line_to"`
}

type OracleConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Enabled    bool   `yaml:"enabled"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type MetricsConfig struct {
	Port string `yaml:"port"`
}

// NewsConfig configures the news poller, mirroring news-collector's Settings
// (RSS feed list + Finnhub category feed + dedup TTL).
type NewsConfig struct {
	RSSFeedURLs []string `yaml:"rss_feed_urls"`
	DedupTTLSec int      `yaml:"dedup_ttl_sec"`
}

// SocialConfig configures the social poller, mirroring social-worker's
// Reddit adapter (the only platform that needs no API credential).
type SocialConfig struct {
	Subreddits  []string `yaml:"subreddits"`
	DedupTTLSec int      `yaml:"dedup_ttl_sec"`
}

// ChatbotConfig configures the chat-bot's two fan-in calls into the core
// (spec.md §1 "the chat-bot command grammar beyond its two fan-in calls"):
// the KV-backed watchlist and the analysis responder's HTTP endpoint.
type ChatbotConfig struct {
	AnalysisResponderURL string `yaml:"analysis_responder_url"`
	RequestTimeoutSec    int    `yaml:"request_timeout_sec"`
}

type HTTPConfig struct {
	Host         string  `yaml:"host"`
	Port         int     `yaml:"port"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int   `yaml:"rate_limit_burst"`
}

// RedisAddr returns the host:port dial target for the KV store and bus.
func (c *Config) RedisAddr() string {
	host := c.Redis.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Redis.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FinalizeGrace is the minimum age of a minute before it is eligible for
// finalization, as a time.Duration.
func (c *Config) FinalizeGrace() time.Duration {
	return time.Duration(c.Thresholds.FinalizeGraceSec) * time.Second
}
