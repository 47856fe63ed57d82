// Command priceingestor connects to the upstream trade websocket and
// republishes every tick onto trades.raw (spec.md §1, §6), adapted from the
// teacher's cmd/main.go initialize/start/shutdown sequencing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"marketfusion/internal/backoff"
	"marketfusion/internal/bus"
	"marketfusion/internal/config"
	"marketfusion/internal/exchanges"
	"marketfusion/internal/httpserver"
	"marketfusion/internal/kv"
	"marketfusion/internal/logging"
	"marketfusion/internal/metrics"
	"marketfusion/internal/supervisor"
)

func main() {
	logger, err := logging.New("priceingestor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("priceingestor exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	feedURL, err := config.RequireEnv("TRADE_FEED_WS_URL")
	if err != nil {
		return err
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
	go m.RunUptimeLoop(ctx, "priceingestor", 10*time.Second)

	sup := supervisor.New(logger)
	if err := sup.AddWorker(supervisor.WorkerConfig{
		Name:           "trade-feed",
		Labels:         map[string]string{"feed": "trades"},
		MaxRetries:     0, // run forever
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}, tradeFeedWorker(feedURL, b, m, logger)); err != nil {
		return fmt.Errorf("register trade feed worker: %w", err)
	}
	if err := sup.Start(); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	e := httpserver.New(logger, httpserver.RateLimitConfig{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		if err := e.Start(addr); err != nil {
			logger.Info("http server stopped", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()
	_ = sup.Stop()
	return httpserver.Shutdown(e, 10*time.Second)
}

func tradeFeedWorker(feedURL string, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) supervisor.WorkerFunc {
	attempt := 0
	return func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			delay := backoff.Delay(attempt, time.Second, 30*time.Second)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
		}

		conn := exchanges.NewTradeFeedConnector(feedURL, logger)
		if err := conn.Start(); err != nil {
			return fmt.Errorf("start trade feed connector: %w", err)
		}
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				return nil
			case trade := <-conn.Trades():
				if trade.IsHeartbeat() {
					continue
				}
				if err := b.PublishRaw(ctx, bus.TopicTradesRaw, trade); err != nil {
					logger.Warn("failed to publish trade", zap.String("symbol", trade.Symbol), zap.Error(err))
					continue
				}
				m.TradesIngested.WithLabelValues(trade.Symbol, trade.SourceTag).Inc()
			case err := <-conn.Errors():
				return err
			case <-conn.Closed():
				return fmt.Errorf("trade feed connection closed")
			}
		}
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
