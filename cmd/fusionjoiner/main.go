// Command fusionjoiner subscribes to finalized candles on events.normalized
// and runs internal/fusion's join-with-evidence operation, publishing scored
// fused events back onto the bus (spec.md §4.4). Exposes POST /pubsub as an
// HTTP push-style delivery fallback for bus backends that prefer webhook
// delivery over native subscription (spec.md §6).
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
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketfusion/internal/bus"
	"marketfusion/internal/config"
	"marketfusion/internal/evidence"
	"marketfusion/internal/fusion"
	"marketfusion/internal/httpserver"
	"marketfusion/internal/kv"
	"marketfusion/internal/logging"
	"marketfusion/internal/metrics"
	"marketfusion/pkg/events"
)

func main() {
	logger, err := logging.New("fusionjoiner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("fusionjoiner exited with error", zap.Error(err))
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
	ev := evidence.New(rdb, logger, cfg.Evidence.MaxItems)

	m := metrics.New(logger)
	m.Start(cfg.Metrics.Port)
	defer m.Stop()
	go m.RunUptimeLoop(ctx, "fusionjoiner", 10*time.Second)

	joiner := fusion.New(rdb, ev, b, logger, fusion.Config{
		JoinThresholdPct: cfg.Thresholds.JoinThresholdPct,
		NewsLookback:     time.Duration(cfg.Thresholds.NewsLookbackSec) * time.Second,
		SocialLookback:   time.Duration(cfg.Thresholds.SocialLookbackSec) * time.Second,
		Watchlist:        watchSet(cfg.Watchlist),
	})

	raw, unsubscribe, err := b.Subscribe(ctx, bus.TopicEventsNormalized)
	if err != nil {
		return fmt.Errorf("subscribe to events.normalized: %w", err)
	}
	defer unsubscribe()

	go consumeCandles(ctx, raw, joiner, m, logger)

	e := httpserver.New(logger, httpserver.RateLimitConfig{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	e.POST("/pubsub", pubsubHandler(ctx, joiner, m, logger))

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

// consumeCandles drains the native bus subscription, filtering for
// candle_1m envelopes and running the join operation for each.
func consumeCandles(ctx context.Context, raw <-chan *redis.Message, joiner *fusion.Joiner, m *metrics.Metrics, logger *zap.Logger) {
	for msg := range raw {
		handleEnvelope(ctx, []byte(msg.Payload), joiner, m, logger)
	}
}

func handleEnvelope(ctx context.Context, payload []byte, joiner *fusion.Joiner, m *metrics.Metrics, logger *zap.Logger) {
	var env events.NormalizedEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn("dropping malformed normalized envelope", zap.Error(err))
		return
	}
	if env.EventKind != events.EventKindCandle1m {
		return
	}

	var candle events.FinalizedCandle
	if err := json.Unmarshal(env.Payload, &candle); err != nil {
		logger.Warn("dropping malformed candle payload", zap.Error(err))
		return
	}

	m.FusionJoinsEvaluated.WithLabelValues(candle.Symbol).Inc()
	fused, err := joiner.HandleFinalizedCandle(ctx, candle)
	if err != nil {
		logger.Warn("fusion join failed", zap.String("symbol", candle.Symbol), zap.Error(err))
		return
	}
	if fused != nil {
		m.FusionEventsEmitted.WithLabelValues(fused.Symbol, string(fused.Direction)).Inc()
		m.FusionSeverity.WithLabelValues(fused.Symbol).Observe(float64(fused.Severity))
	}
}

// pubsubHandler implements the HTTP push-style delivery fallback: a bus
// backend configured for webhook delivery posts the raw normalized envelope
// body instead of relying on native subscription (spec.md §6 "each exposes
// POST /pubsub for bus-push delivery").
func pubsubHandler(ctx context.Context, joiner *fusion.Joiner, m *metrics.Metrics, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := readBody(c)
		if err != nil {
			return httpserver.Dropped(c)
		}
		handleEnvelope(c.Request().Context(), body, joiner, m, logger)
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return body, nil
}

func watchSet(symbols []string) map[string]struct{} {
	if len(symbols) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		out[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return out
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
