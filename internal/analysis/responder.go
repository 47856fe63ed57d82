// Package analysis implements the analysis responder: on an
// analyze(symbol, timeframe) request, assembles a structured decision-support
// answer from candle history, evidence, and (optionally) a reasoning oracle
// (spec.md §4.6).
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketfusion/internal/candlestore"
	"marketfusion/internal/evidence"
	"marketfusion/internal/metrics"
	"marketfusion/internal/oracle"
	"marketfusion/pkg/events"
)

const skillContract = "trade-analysis-v1" // opaque identifier; prompt text is out of scope

// Responder is the analysis-responder stage.
type Responder struct {
	candles  *candlestore.Store
	evidence *evidence.Buffer
	reasoner oracle.Reasoner // nil when no oracle is configured
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func New(candles *candlestore.Store, ev *evidence.Buffer, reasoner oracle.Reasoner, m *metrics.Metrics, logger *zap.Logger) *Responder {
	return &Responder{candles: candles, evidence: ev, reasoner: reasoner, metrics: m, logger: logger}
}

// Analyze implements the full procedure in spec.md §4.6.
func (r *Responder) Analyze(ctx context.Context, symbol, timeframe string) (oracle.Answer, error) {
	candles, err := r.loadCandles(ctx, symbol, timeframe)
	if err != nil {
		return oracle.Answer{}, err
	}

	window := last(candles, 60)
	support, resistance := supportResistance(window)
	trend := trendLabel(window)
	vol := volatilityRegime(window)

	var latestPrice float64
	if len(candles) > 0 {
		latestPrice = candles[len(candles)-1].Close
	}

	news := r.evidence.RecentNews(ctx, symbol, time.Hour)
	social := r.evidence.RecentSocial(ctx, symbol, time.Hour)

	fallback := buildFallback(symbol, timeframe, latestPrice, trend, vol, support, resistance, news, social)

	if r.reasoner == nil {
		r.metrics.AnalysisFallbacks.WithLabelValues("no_oracle").Inc()
		return fallback, nil
	}

	contextDoc := buildContextDocument(symbol, timeframe, candles, news, social)
	answer, err := r.reasoner.Reason(ctx, skillContract, contextDoc)
	if err != nil {
		r.logger.Warn("oracle call failed, using fallback", zap.String("symbol", symbol), zap.Error(err))
		r.metrics.AnalysisOracleCalls.WithLabelValues("error").Inc()
		r.metrics.AnalysisFallbacks.WithLabelValues("oracle_error").Inc()
		return fallback, nil
	}
	if err := oracle.Validate(answer); err != nil {
		r.logger.Warn("oracle answer failed validation, using fallback", zap.String("symbol", symbol), zap.Error(err))
		r.metrics.AnalysisOracleCalls.WithLabelValues("invalid").Inc()
		r.metrics.AnalysisFallbacks.WithLabelValues("invalid_answer").Inc()
		return fallback, nil
	}
	r.metrics.AnalysisOracleCalls.WithLabelValues("ok").Inc()
	return answer, nil
}

// loadCandles implements spec.md §4.6 step 1 for the default timeframe (the
// last 120 finalized candles) and widens it via ByTimeRange for a longer
// requested timeframe, so an operator asking for "/analyze SYMBOL 1d" gets a
// day of history rather than the default ~2-hour window.
func (r *Responder) loadCandles(ctx context.Context, symbol, timeframe string) ([]events.FinalizedCandle, error) {
	lookback, ok := timeframeLookback(timeframe)
	if !ok {
		return r.candles.Latest(ctx, symbol, 120)
	}
	end := time.Now()
	start := end.Add(-lookback)
	return r.candles.ByTimeRange(ctx, symbol, start.UnixMilli(), end.UnixMilli())
}

func timeframeLookback(timeframe string) (time.Duration, bool) {
	switch strings.ToLower(timeframe) {
	case "4h":
		return 4 * time.Hour, true
	case "1d", "24h":
		return 24 * time.Hour, true
	case "1w", "7d":
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func last(candles []events.FinalizedCandle, n int) []events.FinalizedCandle {
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

// supportResistance computes the singleton support/resistance set from the
// window's global min(low)/max(high) (spec.md §4.6 step 2).
func supportResistance(window []events.FinalizedCandle) (support, resistance []float64) {
	if len(window) == 0 {
		return nil, nil
	}
	minLow := window[0].Low
	maxHigh := window[0].High
	for _, c := range window[1:] {
		if c.Low < minLow {
			minLow = c.Low
		}
		if c.High > maxHigh {
			maxHigh = c.High
		}
	}
	return []float64{minLow}, []float64{maxHigh}
}

// trendLabel compares first-close to last-close with a +-1% dead-band
// (spec.md §4.6 step 2).
func trendLabel(window []events.FinalizedCandle) string {
	if len(window) < 20 {
		return "range"
	}
	first := window[0].Close
	last := window[len(window)-1].Close
	if last > first*1.01 {
		return "up"
	}
	if last < first*0.99 {
		return "down"
	}
	return "range"
}

// volatilityRegime classifies (max(close)-min(close))/min(close) with
// cutoffs 1% and 3% (spec.md §4.6 step 2).
func volatilityRegime(window []events.FinalizedCandle) string {
	if len(window) < 20 {
		return "normal"
	}
	minClose := window[0].Close
	maxClose := window[0].Close
	for _, c := range window {
		if c.Close < minClose {
			minClose = c.Close
		}
		if c.Close > maxClose {
			maxClose = c.Close
		}
	}
	if minClose <= 0 {
		return "normal"
	}
	rng := (maxClose - minClose) / minClose
	switch {
	case rng > 0.03:
		return "high"
	case rng < 0.01:
		return "low"
	default:
		return "normal"
	}
}

func buildFallback(symbol, timeframe string, latestPrice float64, trend, vol string, support, resistance []float64, news []events.NewsEvidenceItem, social []events.SocialEvidenceItem) oracle.Answer {
	return oracle.Answer{
		Snapshot: oracle.Snapshot{Symbol: symbol, Timeframe: timeframe, LatestPrice: latestPrice, VolatilityRegime: vol},
		Catalysts: oracle.Catalysts{
			NewsTop3:   headlines(news, 3),
			SocialTop3: titles(social, 3),
		},
		MarketStructure: oracle.MarketStructure{
			Trend: trend, Support: support, Resistance: resistance,
			VolumeNote: "volume analysis derived from the last 60 finalized candles",
		},
		Scenarios: oracle.Scenarios{
			Base: oracle.Scenario{Narrative: "continue current regime with mean reversion near key levels", Probability: 55},
			Bull: oracle.Scenario{Narrative: "break above resistance with volume confirmation", Probability: 25},
			Bear: oracle.Scenario{Narrative: "lose support and accelerate downside", Probability: 20},
		},
		SuggestedAction: oracle.SuggestedAction{
			Action:       "WATCH",
			TimingWindow: "next 1-4h",
			Confidence:   55,
			InvalidationRules: []string{
				"price breaks below support with rising volume",
				"a major negative catalyst breaks for the symbol",
			},
			RiskFlags: []string{"uncertainty"},
		},
		Disclosures: []string{
			"this is informational decision support, not financial advice",
			"high volatility can cause rapid losses",
		},
	}
}

func headlines(items []events.NewsEvidenceItem, n int) []string {
	out := make([]string, 0, n)
	for _, it := range items {
		if len(out) >= n {
			break
		}
		if it.Headline != "" {
			out = append(out, it.Headline)
		}
	}
	return out
}

func titles(items []events.SocialEvidenceItem, n int) []string {
	out := make([]string, 0, n)
	for _, it := range items {
		if len(out) >= n {
			break
		}
		if it.Title != "" {
			out = append(out, it.Title)
		}
	}
	return out
}

// buildContextDocument renders the candle/news/social context handed to the
// reasoning oracle alongside the skill contract. The document format is an
// implementation detail of this responder, not a normative wire contract.
func buildContextDocument(symbol, timeframe string, candles []events.FinalizedCandle, news []events.NewsEvidenceItem, social []events.SocialEvidenceItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "symbol: %s\ntimeframe: %s\n\n", symbol, timeframe)

	b.WriteString("recent candles (oldest first):\n")
	for _, c := range last(candles, 30) {
		fmt.Fprintf(&b, "- bucket=%d open=%.4f high=%.4f low=%.4f close=%.4f volume=%.2f\n",
			c.MinuteBucketMs, c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	b.WriteString("\nrecent news:\n")
	for _, n := range news {
		fmt.Fprintf(&b, "- %s (%s)\n", n.Headline, n.Source)
	}

	b.WriteString("\nrecent social:\n")
	for _, s := range social {
		fmt.Fprintf(&b, "- %s (%s)\n", s.Title, s.Platform)
	}

	return b.String()
}
