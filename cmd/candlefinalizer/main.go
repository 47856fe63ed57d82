// Command candlefinalizer subscribes to trades.raw, applies each trade to
// its OpenCandle via internal/aggregator, and runs internal/finalizer's
// periodic tick to publish FinalizedCandles (spec.md §4.2, §4.3). Exposes
// POST /flush for an on-demand finalization pass (spec.md §6, §4.3
// "may also be invoked on demand by an operator").
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"marketfusion/internal/aggregator"
	"marketfusion/internal/bus"
	"marketfusion/internal/candlestore"
	"marketfusion/internal/config"
	"marketfusion/internal/finalizer"
	"marketfusion/internal/httpserver"
	"marketfusion/internal/kv"
	"marketfusion/internal/logging"
	"marketfusion/internal/metrics"
	"marketfusion/pkg/events"
)

func main() {
	logger, err := logging.New("candlefinalizer")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("candlefinalizer exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dsn, err := config.RequireEnv("POSTGRES_DSN")
	if err != nil {
		return err
	}
	cfg.Postgres.DSN = dsn

	if err := candlestore.Migrate(cfg.Postgres.DSN, cfg.Postgres.MigrationsPath); err != nil {
		return fmt.Errorf("apply candle table migrations: %w", err)
	}

	rdb, err := kv.New(kv.Config{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB, PoolSize: cfg.Redis.PoolSize}, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	candles, err := candlestore.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer candles.Close()

	b := bus.New(rdb.Raw(), logger)

	m := metrics.New(logger)
	m.Start(cfg.Metrics.Port)
	defer m.Stop()
	go m.RunUptimeLoop(ctx, "candlefinalizer", 10*time.Second)

	agg := aggregator.New(rdb, logger, time.Duration(cfg.Thresholds.CandleTTLSec)*time.Second)
	fin := finalizer.New(rdb, candles, b, logger, cfg.FinalizeGrace(), 30*time.Second)

	tradeCh, unsubscribe, err := subscribeTrades(ctx, b, logger)
	if err != nil {
		return fmt.Errorf("subscribe to trades.raw: %w", err)
	}
	defer unsubscribe()

	go agg.Run(ctx, tradeCh)
	go fin.Run(ctx)

	e := httpserver.New(logger, httpserver.RateLimitConfig{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	e.POST("/flush", func(c echo.Context) error {
		finalized, errored := fin.Tick(c.Request().Context())
		return c.JSON(http.StatusOK, map[string]int{"finalized": finalized, "errored": errored})
	})

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

// subscribeTrades bridges the bus's raw []byte pub/sub channel into a typed
// events.Trade channel the aggregator consumes.
func subscribeTrades(ctx context.Context, b *bus.Bus, logger *zap.Logger) (<-chan events.Trade, func() error, error) {
	raw, closeFn, err := b.Subscribe(ctx, bus.TopicTradesRaw)
	if err != nil {
		return nil, nil, err
	}

	tradeCh := make(chan events.Trade, 20000)
	go func() {
		defer close(tradeCh)
		for msg := range raw {
			var trade events.Trade
			if err := json.Unmarshal([]byte(msg.Payload), &trade); err != nil {
				logger.Warn("dropping malformed trade message", zap.Error(err))
				continue
			}
			select {
			case tradeCh <- trade:
			case <-ctx.Done():
				return
			}
		}
	}()
	return tradeCh, closeFn, nil
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
