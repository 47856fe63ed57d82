// Package kv wraps go-redis/v9 into the store abstraction the rest of the
// engine depends on: per-key atomic candle upserts via a Lua script, bounded
// evidence lists, cooldown TTL marks, and watchlist sets. This is the only
// mutable shared resource in the system (SPEC_FULL.md §5 / spec.md §5).
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// upsertCandleScript is the atomic per-key compound update behind the candle
// aggregator (spec.md §4.2 step 2). Grounded verbatim on the Python source's
// LUA_UPSERT_CANDLE: first trade in a minute seeds O=H=L=C=price, later
// trades only ever widen high/low, always move close, and accumulate volume.
const upsertCandleScript = `
local key = KEYS[1]
local price = tonumber(ARGV[1])
local vol = tonumber(ARGV[2])
local ts_ms = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local exists = redis.call("EXISTS", key)
if exists == 0 then
  redis.call("HSET", key,
    "open", price,
    "high", price,
    "low", price,
    "close", price,
    "volume", vol,
    "last_update_ms", ts_ms
  )
  redis.call("EXPIRE", key, ttl)
else
  local high = tonumber(redis.call("HGET", key, "high"))
  local low  = tonumber(redis.call("HGET", key, "low"))
  if price > high then
    redis.call("HSET", key, "high", price)
  end
  if price < low then
    redis.call("HSET", key, "low", price)
  end
  redis.call("HSET", key, "close", price)
  redis.call("HINCRBYFLOAT", key, "volume", vol)
  redis.call("HSET", key, "last_update_ms", ts_ms)
end
return 1
`

// Store is the KV abstraction used by every stage of the fusion engine.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
	script *redis.Script
}

// Config configures the underlying Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// New dials Redis and verifies connectivity, mirroring pkg/redis/client.go's
// NewClient boot-time ping.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("kv store connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	return &Store{
		rdb:    rdb,
		logger: logger,
		script: redis.NewScript(upsertCandleScript),
	}, nil
}

// CandleKey builds the candle:1m:{symbol}:{minute_bucket_ms} key (§6).
func CandleKey(symbol string, minuteBucketMs int64) string {
	return fmt.Sprintf("candle:1m:%s:%d", symbol, minuteBucketMs)
}

// UpsertCandle atomically applies one trade to the OpenCandle at key, via the
// Lua script — the "only per-key serialization" the aggregator relies on
// (spec.md §5).
func (s *Store) UpsertCandle(ctx context.Context, symbol string, minuteBucketMs int64, price, volume float64, tsMs int64, ttl time.Duration) error {
	key := CandleKey(symbol, minuteBucketMs)
	if err := s.script.Run(ctx, s.rdb, []string{key}, price, volume, tsMs, int(ttl.Seconds())).Err(); err != nil {
		return fmt.Errorf("upsert candle %s: %w", key, err)
	}
	return nil
}

// ScanCandleKeys enumerates every OpenCandle key (finalizer step §4.3.2).
func (s *Store) ScanCandleKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, "candle:1m:*", 2000).Result()
		if err != nil {
			return nil, fmt.Errorf("scan candle keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// GetCandleHash reads the full hash for an OpenCandle key. Returns (nil, nil)
// if the key does not exist.
func (s *Store) GetCandleHash(ctx context.Context, key string) (map[string]string, error) {
	data, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// DeleteKey removes a key, used to retire an OpenCandle after finalization.
func (s *Store) DeleteKey(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// PushEvidence prepends a JSON-serialized item to a list, truncates it to
// maxItems, and refreshes its TTL — all in one pipeline round trip so
// concurrent appends cannot exceed the bound nor lose items (spec.md §4.1).
func (s *Store) PushEvidence(ctx context.Context, key string, item interface{}, maxItems int, ttl time.Duration) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal evidence item: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(maxItems-1))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push evidence %s: %w", key, err)
	}
	return nil
}

// RecentEvidenceRaw returns up to maxItems raw JSON entries, newest first.
func (s *Store) RecentEvidenceRaw(ctx context.Context, key string, maxItems int) ([]string, error) {
	raw, err := s.rdb.LRange(ctx, key, 0, int64(maxItems-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return raw, nil
}

// SetLatestClose caches a symbol's most recent close with a TTL (§4.4 step 3).
func (s *Store) SetLatestClose(ctx context.Context, symbol string, close float64, minuteBucketMs int64, ttl time.Duration) error {
	key := fmt.Sprintf("fusion:latest_close:%s", symbol)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"close":            close,
		"minute_bucket_ms": minuteBucketMs,
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set latest close %s: %w", key, err)
	}
	return nil
}

// TrySetCooldown sets alert:cooldown:{kind}:{symbol} with the given TTL only
// if it is not already set. Returns true if the cooldown was newly set.
func (s *Store) TrySetCooldown(ctx context.Context, kind, symbol string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("alert:cooldown:%s:%s", kind, symbol)
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// CooldownActive reports whether a cooldown mark currently exists.
func (s *Store) CooldownActive(ctx context.Context, kind, symbol string) (bool, error) {
	key := fmt.Sprintf("alert:cooldown:%s:%s", kind, symbol)
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Dedupe marks a raw-ingestion item (by content hash) as seen, returning true
// only the first time a given hash is marked within ttl. Grounded on
// news-collector's redis_dedup.py Deduper.seen/mark pair, generalized to
// cover both news and social ingestion.
func (s *Store) Dedupe(ctx context.Context, namespace, hash string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("dedup:%s:%s", namespace, hash)
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// AddWatch adds a symbol to a chat's watchlist set.
func (s *Store) AddWatch(ctx context.Context, chatID, symbol string) error {
	key := fmt.Sprintf("watch:%s", chatID)
	if err := s.rdb.SAdd(ctx, key, symbol).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

// Watchlist returns the symbols a chat is watching.
func (s *Store) Watchlist(ctx context.Context, chatID string) ([]string, error) {
	key := fmt.Sprintf("watch:%s", chatID)
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return members, nil
}

// HealthCheck pings the underlying Redis connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kv health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		s.logger.Error("failed to close kv store", zap.Error(err))
		return err
	}
	return nil
}

// Raw exposes the underlying *redis.Client for components (bus) that need
// pub/sub primitives the Store does not wrap directly.
func (s *Store) Raw() *redis.Client {
	return s.rdb
}
