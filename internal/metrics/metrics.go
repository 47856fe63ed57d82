// Package metrics holds the Prometheus metric surface shared across every
// service binary, grounded on the teacher's internal/metrics package.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds every counter/histogram/gauge the pipeline exposes.
type Metrics struct {
	// Ingestion
	TradesIngested   *prometheus.CounterVec
	NewsIngested      *prometheus.CounterVec
	SocialIngested    *prometheus.CounterVec
	IngestReconnects  *prometheus.CounterVec

	// Aggregation / finalization
	CandleUpserts     *prometheus.CounterVec
	CandlesFinalized  *prometheus.CounterVec
	FinalizeErrors    *prometheus.CounterVec
	FinalizeLatency   *prometheus.HistogramVec

	// Fusion
	FusionJoinsEvaluated *prometheus.CounterVec
	FusionEventsEmitted  *prometheus.CounterVec
	FusionSeverity       *prometheus.HistogramVec

	// Alerting
	AlertsSent       *prometheus.CounterVec
	AlertsSuppressed *prometheus.CounterVec
	PushFailures     *prometheus.CounterVec

	// Analysis
	AnalysisRequests     *prometheus.CounterVec
	AnalysisOracleCalls  *prometheus.CounterVec
	AnalysisFallbacks    *prometheus.CounterVec
	AnalysisLatency      *prometheus.HistogramVec

	// Service health, common to every binary
	ServiceUptime   *prometheus.GaugeVec
	RedisOperations *prometheus.CounterVec

	server *http.Server
	logger *zap.Logger
}

// New builds and registers every metric. Call once per process.
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger: logger,

		TradesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_trades_ingested_total", Help: "Total number of trade ticks ingested"},
			[]string{"symbol", "source_tag"},
		),
		NewsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_news_ingested_total", Help: "Total number of news articles ingested"},
			[]string{"source"},
		),
		SocialIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_social_ingested_total", Help: "Total number of social posts ingested"},
			[]string{"platform"},
		),
		IngestReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_ingest_reconnects_total", Help: "Total number of feed reconnections"},
			[]string{"feed", "reason"},
		),

		CandleUpserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_candle_upserts_total", Help: "Total number of OHLCV bucket upserts"},
			[]string{"symbol"},
		),
		CandlesFinalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_candles_finalized_total", Help: "Total number of 1m candles finalized"},
			[]string{"symbol"},
		),
		FinalizeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_finalize_errors_total", Help: "Total number of finalization errors"},
			[]string{"stage"},
		),
		FinalizeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mf_finalize_tick_seconds",
				Help:    "Duration of each finalizer tick",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{},
		),

		FusionJoinsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_fusion_joins_evaluated_total", Help: "Total number of finalized candles evaluated for fusion"},
			[]string{"symbol"},
		),
		FusionEventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_fusion_events_emitted_total", Help: "Total number of fused events published"},
			[]string{"symbol", "direction"},
		),
		FusionSeverity: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mf_fusion_severity",
				Help:    "Distribution of fused event severity scores",
				Buckets: []float64{10, 20, 35, 50, 70, 85, 100},
			},
			[]string{"symbol"},
		),

		AlertsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_alerts_sent_total", Help: "Total number of alerts dispatched"},
			[]string{"kind", "channel"},
		),
		AlertsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_alerts_suppressed_total", Help: "Total number of alerts suppressed by cooldown"},
			[]string{"kind", "symbol"},
		),
		PushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_push_failures_total", Help: "Total number of failed push deliveries"},
			[]string{"channel"},
		),

		AnalysisRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_analysis_requests_total", Help: "Total number of analyze() requests"},
			[]string{"symbol"},
		),
		AnalysisOracleCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_analysis_oracle_calls_total", Help: "Total number of oracle reasoning calls"},
			[]string{"status"},
		),
		AnalysisFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_analysis_fallbacks_total", Help: "Total number of deterministic fallback answers used"},
			[]string{"reason"},
		),
		AnalysisLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mf_analysis_latency_seconds",
				Help:    "Analyze request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"symbol"},
		),

		ServiceUptime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mf_service_uptime_seconds", Help: "Service uptime in seconds"},
			[]string{"service"},
		),
		RedisOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mf_redis_operations_total", Help: "Total number of Redis operations"},
			[]string{"operation", "status"},
		),
	}

	prometheus.MustRegister(
		m.TradesIngested, m.NewsIngested, m.SocialIngested, m.IngestReconnects,
		m.CandleUpserts, m.CandlesFinalized, m.FinalizeErrors, m.FinalizeLatency,
		m.FusionJoinsEvaluated, m.FusionEventsEmitted, m.FusionSeverity,
		m.AlertsSent, m.AlertsSuppressed, m.PushFailures,
		m.AnalysisRequests, m.AnalysisOracleCalls, m.AnalysisFallbacks, m.AnalysisLatency,
		m.ServiceUptime, m.RedisOperations,
	)

	return m
}

// Start serves /metrics on the given port.
func (m *Metrics) Start(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	m.server = &http.Server{Addr: ":" + port, Handler: mux}

	m.logger.Info("starting metrics server", zap.String("port", port))
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (m *Metrics) Stop() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}

// RunUptimeLoop sets ServiceUptime every tick until ctx is canceled.
func (m *Metrics) RunUptimeLoop(ctx context.Context, service string, tick time.Duration) {
	start := time.Now()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ServiceUptime.WithLabelValues(service).Set(time.Since(start).Seconds())
		}
	}
}
