// Package finalizer detects minutes that will no longer receive updates and
// publishes them exactly once per the state machine in spec.md §4.3.
package finalizer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketfusion/internal/bus"
	"marketfusion/internal/candlestore"
	"marketfusion/internal/kv"
	"marketfusion/pkg/events"
)

// Finalizer runs the periodic tick that turns stale OpenCandles into
// FinalizedCandle rows + bus publications.
type Finalizer struct {
	store       *kv.Store
	candles     *candlestore.Store
	bus         *bus.Bus
	logger      *zap.Logger
	grace       time.Duration
	tickPeriod  time.Duration
}

func New(store *kv.Store, candles *candlestore.Store, b *bus.Bus, logger *zap.Logger, grace, tickPeriod time.Duration) *Finalizer {
	if tickPeriod <= 0 {
		tickPeriod = 30 * time.Second
	}
	return &Finalizer{store: store, candles: candles, bus: b, logger: logger, grace: grace, tickPeriod: tickPeriod}
}

// Run ticks every tickPeriod until ctx is cancelled.
func (f *Finalizer) Run(ctx context.Context) {
	ticker := time.NewTicker(f.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}

// Tick runs one finalization pass (spec.md §4.3 algorithm). It is also the
// handler behind POST /flush for on-demand operator invocation.
func (f *Finalizer) Tick(ctx context.Context) (finalized int, errored int) {
	now := time.Now().UnixMilli()
	currentMinute := (now / 60000) * 60000
	staleThreshold := currentMinute - f.grace.Milliseconds()

	keys, err := f.store.ScanCandleKeys(ctx)
	if err != nil {
		f.logger.Error("finalizer scan failed", zap.Error(err))
		return 0, 0
	}

	for _, key := range keys {
		symbol, minuteBucket, ok := parseCandleKey(key)
		if !ok {
			continue
		}
		if minuteBucket >= currentMinute {
			continue // still the live minute
		}

		hash, err := f.store.GetCandleHash(ctx, key)
		if err != nil {
			f.logger.Warn("finalizer hash read failed, leaving for next tick",
				zap.String("key", key), zap.Error(err))
			continue
		}
		if hash == nil {
			continue
		}

		lastUpdateMs, _ := strconv.ParseInt(hash["last_update_ms"], 10, 64)
		if lastUpdateMs > staleThreshold {
			continue // might still receive late trades
		}

		candle, err := parseCandleHash(symbol, minuteBucket, hash)
		if err != nil {
			f.logger.Warn("finalizer dropping unparsable candle",
				zap.String("key", key), zap.Error(err))
			_ = f.store.DeleteKey(ctx, key)
			errored++
			continue
		}
		candle.FinalizedAtMs = now

		if err := f.finalizeOne(ctx, key, candle); err != nil {
			f.logger.Warn("finalizer upsert failed, leaving for next tick",
				zap.String("symbol", symbol), zap.Int64("minute_bucket_ms", minuteBucket), zap.Error(err))
			continue
		}
		finalized++
	}

	return finalized, errored
}

// finalizeOne implements the ordered sequence in spec.md §4.3 step 5:
// upsert -> publish -> delete. If upsert fails the key is left for the next
// tick. If publish fails after upsert succeeded, the key is still deleted —
// an accepted at-most-once-per-restart gap (SPEC_FULL.md §4 Open Question
// decisions; spec.md §9).
func (f *Finalizer) finalizeOne(ctx context.Context, key string, candle events.FinalizedCandle) error {
	if err := f.candles.Upsert(ctx, candle); err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}

	if err := f.bus.PublishNormalized(ctx, events.EventKindCandle1m, candle); err != nil {
		f.logger.Warn("finalized candle publish failed, deleting key anyway",
			zap.String("symbol", candle.Symbol), zap.Int64("minute_bucket_ms", candle.MinuteBucketMs), zap.Error(err))
	}

	if err := f.store.DeleteKey(ctx, key); err != nil {
		f.logger.Error("failed to delete finalized open-candle key", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func parseCandleKey(key string) (symbol string, minuteBucketMs int64, ok bool) {
	// candle:1m:{symbol}:{minute_bucket_ms}
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		return "", 0, false
	}
	bucket, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], bucket, true
}

func parseCandleHash(symbol string, minuteBucketMs int64, hash map[string]string) (events.FinalizedCandle, error) {
	open, err1 := strconv.ParseFloat(hash["open"], 64)
	high, err2 := strconv.ParseFloat(hash["high"], 64)
	low, err3 := strconv.ParseFloat(hash["low"], 64)
	close_, err4 := strconv.ParseFloat(hash["close"], 64)
	volume, err5 := strconv.ParseFloat(hash["volume"], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return events.FinalizedCandle{}, fmt.Errorf("malformed OHLCV fields in candle hash")
	}
	return events.FinalizedCandle{
		Symbol:         symbol,
		MinuteBucketMs: minuteBucketMs,
		Open:           open,
		High:           high,
		Low:            low,
		Close:          close_,
		Volume:         volume,
	}, nil
}
