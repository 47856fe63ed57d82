// Package fusion implements the fusion joiner: for each finalized candle
// exhibiting a meaningful move, look up recent evidence and publish a scored
// fused event (spec.md §4.4).
package fusion

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketfusion/internal/bus"
	"marketfusion/internal/evidence"
	"marketfusion/internal/kv"
	"marketfusion/pkg/events"
)

// tickerPattern matches 1-5 uppercase letter runs, the symbol-extraction
// heuristic for headlines lacking a provider symbol list (spec.md §4.4).
var tickerPattern = regexp.MustCompile(`\b[A-Z]{1,5}\b`)

const schemaVersion = "1.3.0"

// Config holds the tunable thresholds the joiner needs (subset of
// config.ThresholdsConfig so this package has no config-package dependency).
type Config struct {
	JoinThresholdPct  float64
	NewsLookback      time.Duration
	SocialLookback    time.Duration
	LatestCloseTTL    time.Duration
	Watchlist         map[string]struct{}
}

// Joiner is the fusion joiner stage.
type Joiner struct {
	store    *kv.Store
	evidence *evidence.Buffer
	bus      *bus.Bus
	logger   *zap.Logger
	cfg      Config
}

func New(store *kv.Store, ev *evidence.Buffer, b *bus.Bus, logger *zap.Logger, cfg Config) *Joiner {
	if cfg.LatestCloseTTL <= 0 {
		cfg.LatestCloseTTL = 6 * time.Hour
	}
	return &Joiner{store: store, evidence: ev, bus: b, logger: logger, cfg: cfg}
}

// HandleFinalizedCandle implements the full fusion operation (spec.md §4.4
// steps 1-8). Returns (nil, nil) when the move is below the join threshold —
// this is the documented "drop silently" path, not an error.
func (j *Joiner) HandleFinalizedCandle(ctx context.Context, candle events.FinalizedCandle) (*events.FusedEvent, error) {
	changePct := candle.ChangePct()

	if math.Abs(changePct) < j.cfg.JoinThresholdPct {
		return nil, nil
	}

	if err := j.store.SetLatestClose(ctx, candle.Symbol, candle.Close, candle.MinuteBucketMs, j.cfg.LatestCloseTTL); err != nil {
		j.logger.Warn("failed to cache latest close", zap.String("symbol", candle.Symbol), zap.Error(err))
	}

	news := j.evidence.RecentNews(ctx, candle.Symbol, j.cfg.NewsLookback)
	social := j.evidence.RecentSocial(ctx, candle.Symbol, j.cfg.SocialLookback)

	severity := Severity(changePct, len(news), len(social))
	direction := Direction(changePct)

	fused := &events.FusedEvent{
		SchemaVersion:  schemaVersion,
		Symbol:         candle.Symbol,
		MinuteBucketMs: candle.MinuteBucketMs,
		Price: events.PriceBlock{
			Open: candle.Open, High: candle.High, Low: candle.Low,
			Close: candle.Close, Volume: candle.Volume, ChangePct: changePct,
		},
		News:      capNews(news, 5),
		Social:    capSocial(social, 5),
		Severity:      severity,
		Direction:     direction,
		FusedAtMs:     time.Now().UnixMilli(),
		CorrelationID: uuid.NewString(),
	}

	if err := j.bus.PublishNormalized(ctx, events.EventKindFusedEvent, fused); err != nil {
		j.logger.Warn("fused event publish failed, dropping",
			zap.String("symbol", candle.Symbol), zap.Error(err))
		return fused, nil
	}

	return fused, nil
}

// Severity computes the deterministic 0-100 score (spec.md §4.4 step 5):
// clamp(0,100, round(15*|change_pct|) + min(50,8*news_count) + min(30,5*social_count)).
func Severity(changePct float64, newsCount, socialCount int) int {
	base := int(math.Round(15 * math.Abs(changePct)))
	newsBoost := min(50, 8*newsCount)
	socialBoost := min(30, 5*socialCount)
	return clamp(0, 100, base+newsBoost+socialBoost)
}

// Direction classifies a price move (spec.md §4.4 step 6). The core never
// produces DirectionMixed (reserved for a future sentiment classifier).
func Direction(changePct float64) events.Direction {
	switch {
	case changePct > 0:
		return events.DirectionPositive
	case changePct < 0:
		return events.DirectionNegative
	default:
		return events.DirectionNeutral
	}
}

// ExtractSymbols implements the news symbol-extraction rule (spec.md §4.4):
// prefer the provider-supplied list verbatim; otherwise match ticker-like
// runs in the headline. The result is filtered against watch (if non-empty)
// and capped at 10 symbols.
func ExtractSymbols(providerList []string, headline string, watch map[string]struct{}) []string {
	var symbols []string
	if len(providerList) > 0 {
		symbols = make([]string, 0, len(providerList))
		for _, s := range providerList {
			s = strings.TrimSpace(strings.ToUpper(s))
			if s != "" {
				symbols = append(symbols, s)
			}
		}
	} else {
		symbols = dedupe(tickerPattern.FindAllString(headline, -1))
	}

	if len(watch) > 0 {
		filtered := symbols[:0:0]
		for _, s := range symbols {
			if _, ok := watch[s]; ok {
				filtered = append(filtered, s)
			}
		}
		symbols = filtered
	}

	if len(symbols) > 10 {
		symbols = symbols[:10]
	}
	return symbols
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; !ok {
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

func capNews(items []events.NewsEvidenceItem, n int) []events.NewsEvidenceItem {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func capSocial(items []events.SocialEvidenceItem, n int) []events.SocialEvidenceItem {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clamp(lo, hi, v int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
