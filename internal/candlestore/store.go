// Package candlestore is the durable candles_1m table: the canonical,
// last-writer-wins record of every finalized candle (spec.md §6, §3
// Ownership). Grounded on masonrs2-tterminal's repositories/candle_repository.go
// pgx/v5 query style, generalized from its per-interval "candles" table to
// the fixed 1-minute candles_1m table this spec requires.
package candlestore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketfusion/pkg/events"
)

// Store wraps a pgxpool.Pool with the candle upsert/query operations the
// finalizer and analysis responder need.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using dsn and verifies connectivity.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Upsert writes a FinalizedCandle with last-writer-wins semantics on
// (symbol, minute_bucket_ms) (spec.md §4.3 step 4c, §3 invariant).
func (s *Store) Upsert(ctx context.Context, c events.FinalizedCandle) error {
	const query = `
		INSERT INTO candles_1m (symbol, minute_bucket_ms, open, high, low, close, volume, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, minute_bucket_ms) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			finalized_at = EXCLUDED.finalized_at
	`
	_, err := s.pool.Exec(ctx, query,
		c.Symbol, c.MinuteBucketMs, c.Open, c.High, c.Low, c.Close, c.Volume,
		time.UnixMilli(c.FinalizedAtMs),
	)
	if err != nil {
		return fmt.Errorf("upsert candle %s/%d: %w", c.Symbol, c.MinuteBucketMs, err)
	}
	return nil
}

// Latest returns the most recent n FinalizedCandles for symbol, ordered
// chronologically ascending — the shape the analysis responder consumes
// (spec.md §4.6 step 1).
func (s *Store) Latest(ctx context.Context, symbol string, n int) ([]events.FinalizedCandle, error) {
	const query = `
		SELECT symbol, minute_bucket_ms, open, high, low, close, volume, finalized_at
		FROM candles_1m
		WHERE symbol = $1
		ORDER BY minute_bucket_ms DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("query latest candles for %s: %w", symbol, err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	reverse(candles)
	return candles, nil
}

// ByTimeRange returns candles for symbol within [start, end], ascending.
func (s *Store) ByTimeRange(ctx context.Context, symbol string, start, end int64) ([]events.FinalizedCandle, error) {
	const query = `
		SELECT symbol, minute_bucket_ms, open, high, low, close, volume, finalized_at
		FROM candles_1m
		WHERE symbol = $1 AND minute_bucket_ms >= $2 AND minute_bucket_ms <= $3
		ORDER BY minute_bucket_ms ASC
	`
	rows, err := s.pool.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query candles by range for %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func scanCandles(rows pgx.Rows) ([]events.FinalizedCandle, error) {
	var candles []events.FinalizedCandle
	for rows.Next() {
		var c events.FinalizedCandle
		var finalizedAt time.Time
		if err := rows.Scan(&c.Symbol, &c.MinuteBucketMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &finalizedAt); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.FinalizedAtMs = finalizedAt.UnixMilli()
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}

func reverse(c []events.FinalizedCandle) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}
