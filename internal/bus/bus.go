// Package bus wraps Redis Pub/Sub into the typed message-bus abstraction the
// engine's stages communicate over. Delivery is at-least-once and ordering
// per topic is not assumed (spec.md §5), matching the teacher's
// pkg/redis/client.go Publish/Subscribe pair.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketfusion/pkg/events"
)

const (
	TopicTradesRaw        = "trades.raw"
	TopicNewsRaw          = "news.raw"
	TopicSocialRaw        = "social.raw"
	TopicEventsNormalized = "events.normalized"
)

// Bus is a thin typed wrapper over a *redis.Client's pub/sub primitives.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{rdb: rdb, logger: logger}
}

// PublishRaw publishes an arbitrary JSON-marshalable payload to topic.
func (b *Bus) PublishRaw(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	if err := b.rdb.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishNormalized wraps payload in a NormalizedEnvelope tagged with kind and
// publishes it to events.normalized (§6).
func (b *Bus) PublishNormalized(ctx context.Context, kind events.EventKind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal normalized payload: %w", err)
	}
	env := events.NormalizedEnvelope{EventKind: kind, Payload: raw}
	return b.PublishRaw(ctx, TopicEventsNormalized, env)
}

// Subscribe subscribes to one or more topics and returns the delivery
// channel, confirming the subscription before returning (mirrors the
// teacher's Subscribe).
func (b *Bus) Subscribe(ctx context.Context, topics ...string) (<-chan *redis.Message, func() error, error) {
	pubsub := b.rdb.Subscribe(ctx, topics...)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, nil, fmt.Errorf("subscribe to %v: %w", topics, err)
	}
	b.logger.Info("subscribed to topics", zap.Strings("topics", topics))
	return pubsub.Channel(), pubsub.Close, nil
}

// DecodeNormalized unmarshals a raw pub/sub message into a NormalizedEnvelope.
func DecodeNormalized(raw []byte) (events.NormalizedEnvelope, error) {
	var env events.NormalizedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return events.NormalizedEnvelope{}, fmt.Errorf("decode normalized envelope: %w", err)
	}
	return env, nil
}
