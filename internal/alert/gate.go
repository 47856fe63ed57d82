// Package alert implements the alert gate: turns selected candles and fused
// events into push notifications with per-kind, per-symbol cooldowns
// (spec.md §4.5).
package alert

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"marketfusion/internal/kv"
	"marketfusion/internal/push"
	"marketfusion/pkg/events"
)

const (
	kindCandle = "candle"
	kindFused  = "fused"
)

// Config holds the alert gate's thresholds and cooldowns (spec.md §6).
type Config struct {
	CandleAlertThresholdPct float64
	FusedAlertSeverityMin   int
	CandleCooldown          time.Duration
	FusedCooldown           time.Duration
}

// Gate is the alert-gate stage.
type Gate struct {
	store    *kv.Store
	channels []push.Channel
	logger   *zap.Logger
	cfg      Config
}

func New(store *kv.Store, channels []push.Channel, logger *zap.Logger, cfg Config) *Gate {
	return &Gate{store: store, channels: channels, logger: logger, cfg: cfg}
}

// HandleCandle implements the candle branch of spec.md §4.5's per-message
// decision. Returns true if a push was attempted (regardless of per-channel
// outcome) so callers/tests can assert on gate behavior.
func (g *Gate) HandleCandle(ctx context.Context, candle events.FinalizedCandle) (sent bool, err error) {
	changePct := candle.ChangePct()
	if math.Abs(changePct) < g.cfg.CandleAlertThresholdPct {
		return false, nil
	}

	active, err := g.store.CooldownActive(ctx, kindCandle, candle.Symbol)
	if err != nil {
		return false, fmt.Errorf("check candle cooldown: %w", err)
	}
	if active {
		return false, nil
	}

	text := FormatCandleMessage(candle, changePct)
	anySuccess := g.dispatch(ctx, text)
	if anySuccess {
		if _, err := g.store.TrySetCooldown(ctx, kindCandle, candle.Symbol, g.cfg.CandleCooldown); err != nil {
			return true, fmt.Errorf("set candle cooldown: %w", err)
		}
	}
	return true, nil
}

// HandleFusedEvent implements the fused-event branch of spec.md §4.5.
func (g *Gate) HandleFusedEvent(ctx context.Context, fused events.FusedEvent) (sent bool, err error) {
	if fused.Severity < g.cfg.FusedAlertSeverityMin {
		return false, nil
	}

	active, err := g.store.CooldownActive(ctx, kindFused, fused.Symbol)
	if err != nil {
		return false, fmt.Errorf("check fused cooldown: %w", err)
	}
	if active {
		return false, nil
	}

	text := FormatFusedMessage(fused)
	anySuccess := g.dispatch(ctx, text)
	if anySuccess {
		if _, err := g.store.TrySetCooldown(ctx, kindFused, fused.Symbol, g.cfg.FusedCooldown); err != nil {
			return true, fmt.Errorf("set fused cooldown: %w", err)
		}
	}
	return true, nil
}

// dispatch calls every configured channel in parallel (spec.md §4.5
// "called in parallel") and reports whether any channel succeeded — the
// condition under which a cooldown is set.
func (g *Gate) dispatch(ctx context.Context, text string) bool {
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		anySuccess bool
		errs       *multierror.Error
	)

	for _, ch := range g.channels {
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := ch.Send(ctx, text)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				anySuccess = true
			} else {
				errs = multierror.Append(errs, fmt.Errorf("%s: delivery failed", ch.Name()))
			}
		}()
	}
	wg.Wait()

	if errs.ErrorOrNil() != nil && !anySuccess {
		g.logger.Warn("all push channels failed", zap.Error(errs))
	}
	return anySuccess
}
