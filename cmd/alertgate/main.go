// Command alertgate subscribes to both candle_1m and fused_event envelopes
// on events.normalized and runs internal/alert's cooldown-gated push
// decision against Telegram and LINE (spec.md §4.5). Exposes POST /pubsub as
// an HTTP push-style delivery fallback (spec.md §6).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketfusion/internal/alert"
	"marketfusion/internal/bus"
	"marketfusion/internal/config"
	"marketfusion/internal/httpserver"
	"marketfusion/internal/kv"
	"marketfusion/internal/logging"
	"marketfusion/internal/metrics"
	"marketfusion/internal/push"
	"marketfusion/pkg/events"
)

func main() {
	logger, err := logging.New("alertgate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("alertgate exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rdb, err := kv.New(kv.Config{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB, PoolSize: cfg.Redis.PoolSize}, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	b := bus.New(rdb.Raw(), logger)

	m := metrics.New(logger)
	m.Start(cfg.Metrics.Port)
	defer m.Stop()
	go m.RunUptimeLoop(ctx, "alertgate", 10*time.Second)

	pushTimeout := time.Duration(cfg.Alerting.PushTimeoutSec) * time.Second
	channels := buildChannels(cfg, pushTimeout, logger)

	gate := alert.New(rdb, channels, logger, alert.Config{
		CandleAlertThresholdPct: cfg.Thresholds.CandleAlertThresholdPct,
		FusedAlertSeverityMin:   cfg.Thresholds.FusedAlertSeverityMin,
		CandleCooldown:          time.Duration(cfg.Alerting.CandleCooldownSec) * time.Second,
		FusedCooldown:           time.Duration(cfg.Alerting.FusedCooldownSec) * time.Second,
	})

	raw, unsubscribe, err := b.Subscribe(ctx, bus.TopicEventsNormalized)
	if err != nil {
		return fmt.Errorf("subscribe to events.normalized: %w", err)
	}
	defer unsubscribe()

	go consumeEnvelopes(ctx, raw, gate, m, logger)

	e := httpserver.New(logger, httpserver.RateLimitConfig{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	e.POST("/pubsub", pubsubHandler(gate, m, logger))

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		if err := e.Start(addr); err != nil {
			logger.Info("http server stopped", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()
	return httpserver.Shutdown(e, 10*time.Second)
}

func buildChannels(cfg *config.Config, timeout time.Duration, logger *zap.Logger) []push.Channel {
	var channels []push.Channel
	tg := push.NewTelegramChannel(cfg.TelegramBotToken, cfg.Alerting.TelegramChatID, timeout, logger)
	if tg.Configured() {
		channels = append(channels, tg)
	}
	ln := push.NewLINEChannel(cfg.LINEChannelToken, cfg.Alerting.LINETo, timeout, logger)
	if ln.Configured() {
		channels = append(channels, ln)
	}
	return channels
}

func consumeEnvelopes(ctx context.Context, raw <-chan *redis.Message, gate *alert.Gate, m *metrics.Metrics, logger *zap.Logger) {
	for msg := range raw {
		handleEnvelope(ctx, []byte(msg.Payload), gate, m, logger)
	}
}

func handleEnvelope(ctx context.Context, payload []byte, gate *alert.Gate, m *metrics.Metrics, logger *zap.Logger) {
	var env events.NormalizedEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn("dropping malformed normalized envelope", zap.Error(err))
		return
	}

	switch env.EventKind {
	case events.EventKindCandle1m:
		var candle events.FinalizedCandle
		if err := json.Unmarshal(env.Payload, &candle); err != nil {
			logger.Warn("dropping malformed candle payload", zap.Error(err))
			return
		}
		sent, err := gate.HandleCandle(ctx, candle)
		recordOutcome(m, "candle", candle.Symbol, sent, err, logger)

	case events.EventKindFusedEvent:
		var fused events.FusedEvent
		if err := json.Unmarshal(env.Payload, &fused); err != nil {
			logger.Warn("dropping malformed fused event payload", zap.Error(err))
			return
		}
		sent, err := gate.HandleFusedEvent(ctx, fused)
		recordOutcome(m, "fused", fused.Symbol, sent, err, logger)
	}
}

// recordOutcome maps a gate decision onto the shared metrics set. The gate
// reports only whether a push was attempted, not which channels succeeded,
// so per-channel breakdowns are not available here — channel is recorded as
// "dispatch" rather than broken out.
func recordOutcome(m *metrics.Metrics, kind, symbol string, sent bool, err error, logger *zap.Logger) {
	if err != nil {
		logger.Warn("alert gate handling failed", zap.String("kind", kind), zap.String("symbol", symbol), zap.Error(err))
		m.PushFailures.WithLabelValues("dispatch").Inc()
		return
	}
	if sent {
		m.AlertsSent.WithLabelValues(kind, "dispatch").Inc()
	} else {
		m.AlertsSuppressed.WithLabelValues(kind, symbol).Inc()
	}
}

func pubsubHandler(gate *alert.Gate, m *metrics.Metrics, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil || len(body) == 0 {
			return httpserver.Dropped(c)
		}
		handleEnvelope(c.Request().Context(), body, gate, m, logger)
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		execPath, _ := os.Executable()
		path = filepath.Join(filepath.Dir(execPath), "configs", "config.yaml")
	}
	return config.NewConfigLoader().LoadConfig(path)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
}
