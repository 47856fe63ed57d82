// Package aggregator maintains the mutable OpenCandle for each
// (symbol, current_minute_bucket) and applies trades atomically via the KV
// store's Lua script (spec.md §4.2).
package aggregator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"marketfusion/internal/kv"
	"marketfusion/internal/model"
	"marketfusion/pkg/events"
)

// Aggregator applies trades to OpenCandles. It holds no in-process state:
// all state lives in the KV store, so multiple aggregator instances can run
// concurrently without coordination (spec.md §5).
type Aggregator struct {
	store  *kv.Store
	logger *zap.Logger
	ttl    time.Duration
}

func New(store *kv.Store, logger *zap.Logger, candleTTL time.Duration) *Aggregator {
	if candleTTL <= 0 {
		candleTTL = 3 * time.Hour
	}
	return &Aggregator{store: store, logger: logger, ttl: candleTTL}
}

// Apply applies a single trade to its OpenCandle (spec.md §4.2 operation).
// Heartbeats and zero-timestamp records are dropped silently; everything
// else is a single atomic compound update against the KV store.
func (a *Aggregator) Apply(ctx context.Context, trade events.Trade) error {
	if trade.IsHeartbeat() {
		return nil
	}

	bucket := model.MinuteBucket(trade.TimestampMs)
	if err := a.store.UpsertCandle(ctx, trade.Symbol, bucket, trade.Price, trade.Volume, trade.TimestampMs, a.ttl); err != nil {
		a.logger.Error("failed to apply trade",
			zap.String("symbol", trade.Symbol), zap.Int64("minute_bucket_ms", bucket), zap.Error(err))
		return err
	}
	return nil
}

// Run consumes trades from tradeCh until ctx is cancelled or the channel
// closes, applying each one. Failures are logged and do not stop the loop —
// an individual trade is never worth blocking the whole feed over.
func (a *Aggregator) Run(ctx context.Context, tradeCh <-chan events.Trade) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-tradeCh:
			if !ok {
				return
			}
			_ = a.Apply(ctx, trade)
		}
	}
}
