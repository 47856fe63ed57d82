package alert

import (
	"fmt"
	"strings"
	"time"

	"marketfusion/pkg/events"
)

// FormatCandleMessage builds the candle_1m push message: a pure function of
// the event (spec.md §4.5), grounded on alert-engine's format_candle_message.
func FormatCandleMessage(candle events.FinalizedCandle, changePct float64) string {
	direction := "📈 up"
	if changePct < 0 {
		direction = "📉 down"
	}
	emoji := "⚠️"
	if abs(changePct) > 2 {
		emoji = "🔥"
	}

	finalizedAt := time.UnixMilli(candle.FinalizedAtMs).UTC().Format("15:04:05")

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>[ALERT] %s</b>\n", emoji, candle.Symbol)
	b.WriteString("――――――――――――――\n")
	b.WriteString("1m candle move\n")
	fmt.Fprintf(&b, "• direction: %s <b>%+.2f%%</b>\n", direction, changePct)
	fmt.Fprintf(&b, "• O/H/L/C: %.2f/%.2f/%.2f/%.2f\n", candle.Open, candle.High, candle.Low, candle.Close)
	fmt.Fprintf(&b, "• volume: %.0f\n", candle.Volume)
	fmt.Fprintf(&b, "• bucket: %d\n", candle.MinuteBucketMs)
	b.WriteString("――――――――――――――\n")
	fmt.Fprintf(&b, "⏰ %s", finalizedAt)
	return b.String()
}

// FormatFusedMessage builds the fused_event push message with up to 3 news
// headlines, grounded on alert-engine's format_fused_message.
func FormatFusedMessage(ev events.FusedEvent) string {
	var directionLabel, emoji string
	switch ev.Direction {
	case events.DirectionPositive:
		directionLabel, emoji = "📈 bullish", "🟢"
	case events.DirectionNegative:
		directionLabel, emoji = "📉 bearish", "🔴"
	case events.DirectionMixed:
		directionLabel, emoji = "🔀 mixed", "🟡"
	default:
		directionLabel, emoji = "➡️ neutral", "🟡"
	}

	severityEmoji := ""
	switch {
	case ev.Severity >= 70:
		severityEmoji = "🔥🔥🔥"
	case ev.Severity >= 50:
		severityEmoji = "🔥🔥"
	case ev.Severity >= 35:
		severityEmoji = "🔥"
	}

	var newsLines []string
	for i, n := range ev.News {
		if i >= 3 {
			break
		}
		headline := strings.TrimSpace(n.Headline)
		if headline == "" {
			continue
		}
		source := strings.TrimSpace(n.Source)
		if source != "" {
			newsLines = append(newsLines, fmt.Sprintf("• %s (%s)", headline, source))
		} else {
			newsLines = append(newsLines, fmt.Sprintf("• %s", headline))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>[FUSED] %s</b> %s\n", emoji, ev.Symbol, severityEmoji)
	b.WriteString("――――――――――――――\n")
	fmt.Fprintf(&b, "• direction: %s\n", directionLabel)
	fmt.Fprintf(&b, "• severity: %d/100\n", ev.Severity)
	fmt.Fprintf(&b, "• change: %+.2f%%\n", ev.Price.ChangePct)
	if len(newsLines) > 0 {
		b.WriteString("• news:\n")
		for _, line := range newsLines {
			b.WriteString("  " + line + "\n")
		}
	}
	if len(ev.Social) > 0 {
		fmt.Fprintf(&b, "• social mentions: %d\n", len(ev.Social))
	}
	b.WriteString("――――――――――――――")
	return b.String()
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
