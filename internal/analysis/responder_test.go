package analysis

import (
	"strings"
	"testing"

	"marketfusion/pkg/events"
)

func candleSeries(closes []float64) []events.FinalizedCandle {
	out := make([]events.FinalizedCandle, len(closes))
	for i, c := range closes {
		out[i] = events.FinalizedCandle{
			Symbol: "AAPL", MinuteBucketMs: int64(i) * 60000,
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100,
		}
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestTrendLabelShortWindowIsRange(t *testing.T) {
	window := candleSeries([]float64{1, 2, 3})
	if got := trendLabel(window); got != "range" {
		t.Errorf("expected range for short window, got %s", got)
	}
}

func TestTrendLabelUp(t *testing.T) {
	closes := flat(25, 100)
	closes[len(closes)-1] = 103
	window := candleSeries(closes)
	if got := trendLabel(window); got != "up" {
		t.Errorf("expected up, got %s", got)
	}
}

func TestTrendLabelDown(t *testing.T) {
	closes := flat(25, 100)
	closes[len(closes)-1] = 97
	window := candleSeries(closes)
	if got := trendLabel(window); got != "down" {
		t.Errorf("expected down, got %s", got)
	}
}

func TestVolatilityRegimeClassification(t *testing.T) {
	low := candleSeries(flat(25, 100))
	if got := volatilityRegime(low); got != "low" {
		t.Errorf("expected low volatility for flat series, got %s", got)
	}

	highCloses := flat(25, 100)
	highCloses[10] = 105
	high := candleSeries(highCloses)
	if got := volatilityRegime(high); got != "high" {
		t.Errorf("expected high volatility for 5%% range, got %s", got)
	}
}

func TestSupportResistanceUsesGlobalExtremes(t *testing.T) {
	window := candleSeries([]float64{100, 105, 95, 102})
	support, resistance := supportResistance(window)
	if len(support) != 1 || support[0] != 94 {
		t.Errorf("expected support at low-1=94, got %v", support)
	}
	if len(resistance) != 1 || resistance[0] != 106 {
		t.Errorf("expected resistance at high+1=106, got %v", resistance)
	}
}

func TestSupportResistanceEmptyWindow(t *testing.T) {
	support, resistance := supportResistance(nil)
	if support != nil || resistance != nil {
		t.Error("expected nil support/resistance for empty window")
	}
}

func TestBuildFallbackProbabilitiesSumTo100(t *testing.T) {
	a := buildFallback("AAPL", "1m", 100, "up", "normal", []float64{90}, []float64{110}, nil, nil)
	sum := a.Scenarios.Base.Probability + a.Scenarios.Bull.Probability + a.Scenarios.Bear.Probability
	if sum != 100 {
		t.Errorf("expected fallback probabilities to sum to 100, got %d", sum)
	}
	if len(a.SuggestedAction.InvalidationRules) < 2 {
		t.Error("expected fallback to carry >=2 invalidation rules")
	}
	if len(a.Disclosures) == 0 {
		t.Error("expected fallback to carry disclosures")
	}
}

func TestBuildContextDocumentIncludesSymbolAndCandles(t *testing.T) {
	candles := candleSeries([]float64{100, 101})
	doc := buildContextDocument("AAPL", "1m", candles, nil, nil)
	if !strings.Contains(doc, "AAPL") {
		t.Error("expected symbol in context document")
	}
	if !strings.Contains(doc, "open=100.0000") {
		t.Error("expected candle data in context document")
	}
}
