package alert

import (
	"strings"
	"testing"

	"marketfusion/pkg/events"
)

func TestFormatCandleMessageIsPureFunction(t *testing.T) {
	candle := events.FinalizedCandle{Symbol: "AAPL", Open: 100, High: 101, Low: 99, Close: 100.9, Volume: 1000, FinalizedAtMs: 1700000200000}
	a := FormatCandleMessage(candle, candle.ChangePct())
	b := FormatCandleMessage(candle, candle.ChangePct())
	if a != b {
		t.Error("format must be deterministic for the same input")
	}
	if !strings.Contains(a, "AAPL") {
		t.Error("expected symbol in message")
	}
}

func TestFormatFusedMessageIncludesSeverityAndDirection(t *testing.T) {
	ev := events.FusedEvent{
		Symbol: "NVDA", Severity: 42, Direction: events.DirectionPositive,
		Price: events.PriceBlock{ChangePct: 1.2},
		News:  []events.NewsEvidenceItem{{Headline: "NVDA announces new chip", Source: "reuters"}},
	}
	msg := FormatFusedMessage(ev)
	if !strings.Contains(msg, "NVDA") || !strings.Contains(msg, "42") {
		t.Errorf("expected symbol and severity in message, got: %s", msg)
	}
}
