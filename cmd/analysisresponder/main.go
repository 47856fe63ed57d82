// Command analysisresponder serves on-demand analysis requests: reads the
// durable candle history plus the evidence buffer, optionally consults a
// reasoning oracle, and returns a valid answer whenever the candle history
// can be read; a candle-store failure is answered with a retryable 503
// (spec.md §4.6).
// Exposes POST /analyze with body {symbol, timeframe}.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"marketfusion/internal/analysis"
	"marketfusion/internal/candlestore"
	"marketfusion/internal/config"
	"marketfusion/internal/evidence"
	"marketfusion/internal/httpserver"
	"marketfusion/internal/kv"
	"marketfusion/internal/logging"
	"marketfusion/internal/metrics"
	"marketfusion/internal/oracle"
)

func main() {
	logger, err := logging.New("analysisresponder")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("analysisresponder exited with error", zap.Error(err))
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

	ev := evidence.New(rdb, logger, cfg.Evidence.MaxItems)

	m := metrics.New(logger)
	m.Start(cfg.Metrics.Port)
	defer m.Stop()
	go m.RunUptimeLoop(ctx, "analysisresponder", 10*time.Second)

	var reasoner oracle.Reasoner
	if cfg.Oracle.Enabled {
		reasoner = oracle.NewClient(cfg.OracleAPIKey, cfg.Oracle.Endpoint, time.Duration(cfg.Oracle.TimeoutSec)*time.Second, logger)
	}

	responder := analysis.New(candles, ev, reasoner, m, logger)

	e := httpserver.New(logger, httpserver.RateLimitConfig{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	e.POST("/analyze", analyzeHandler(responder, m))

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

type analyzeRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

func analyzeHandler(responder *analysis.Responder, m *metrics.Metrics) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req analyzeRequest
		if err := c.Bind(&req); err != nil || req.Symbol == "" {
			return httpserver.Dropped(c)
		}
		if req.Timeframe == "" {
			req.Timeframe = "1m"
		}

		m.AnalysisRequests.WithLabelValues(req.Symbol).Inc()
		start := time.Now()

		answer, err := responder.Analyze(c.Request().Context(), req.Symbol, req.Timeframe)
		m.AnalysisLatency.WithLabelValues(req.Symbol).Observe(time.Since(start).Seconds())
		if err != nil {
			return httpserver.Retryable(c, err)
		}
		return c.JSON(http.StatusOK, answer)
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
