// Package evidence implements the per-symbol, time-windowed, bounded FIFO of
// news and social evidence (spec.md §4.1), built on top of internal/kv.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketfusion/internal/kv"
	"marketfusion/pkg/events"
)

// Kind discriminates the two evidence lists.
type Kind string

const (
	KindNews   Kind = "news"
	KindSocial Kind = "social"
)

// Buffer is the evidence-buffer abstraction: append is atomic
// (prepend+truncate+expiry-refresh in one pipeline) and read applies
// application-side lookback filtering, matching the Python FusionStore this
// is grounded on.
type Buffer struct {
	store    *kv.Store
	logger   *zap.Logger
	maxItems int
}

func New(store *kv.Store, logger *zap.Logger, maxItems int) *Buffer {
	if maxItems <= 0 {
		maxItems = 50
	}
	return &Buffer{store: store, logger: logger, maxItems: maxItems}
}

func key(kind Kind, symbol string) string {
	return fmt.Sprintf("fusion:%s:%s", kind, symbol)
}

// AppendNews buffers a news item. KV unavailability is a logged no-op, never
// an error surfaced to the caller — ingestion must keep flowing (§4.1).
func (b *Buffer) AppendNews(ctx context.Context, symbol string, item events.NewsEvidenceItem, retention time.Duration) {
	b.append(ctx, KindNews, symbol, item, retention)
}

// AppendSocial buffers a social item, same contract as AppendNews.
func (b *Buffer) AppendSocial(ctx context.Context, symbol string, item events.SocialEvidenceItem, retention time.Duration) {
	b.append(ctx, KindSocial, symbol, item, retention)
}

func (b *Buffer) append(ctx context.Context, kind Kind, symbol string, item interface{}, retention time.Duration) {
	if err := b.store.PushEvidence(ctx, key(kind, symbol), item, b.maxItems, retention); err != nil {
		b.logger.Warn("evidence append failed, dropping",
			zap.String("kind", string(kind)), zap.String("symbol", symbol), zap.Error(err))
	}
}

// RecentNews returns up to maxItems news items for symbol whose
// ingested_at_unix is within lookback, newest first. KV failure returns an
// empty slice, never an error (§4.1, §4.4 failure semantics).
func (b *Buffer) RecentNews(ctx context.Context, symbol string, lookback time.Duration) []events.NewsEvidenceItem {
	raw, err := b.store.RecentEvidenceRaw(ctx, key(KindNews, symbol), b.maxItems)
	if err != nil {
		b.logger.Warn("evidence read failed, treating as empty", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}

	now := time.Now().Unix()
	cutoff := int64(lookback.Seconds())
	out := make([]events.NewsEvidenceItem, 0, len(raw))
	for _, s := range raw {
		var item events.NewsEvidenceItem
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			continue
		}
		if item.IngestedAtUnix != 0 && now-item.IngestedAtUnix <= cutoff {
			out = append(out, item)
		}
	}
	return out
}

// RecentSocial is the social-evidence analogue of RecentNews.
func (b *Buffer) RecentSocial(ctx context.Context, symbol string, lookback time.Duration) []events.SocialEvidenceItem {
	raw, err := b.store.RecentEvidenceRaw(ctx, key(KindSocial, symbol), b.maxItems)
	if err != nil {
		b.logger.Warn("evidence read failed, treating as empty", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}

	now := time.Now().Unix()
	cutoff := int64(lookback.Seconds())
	out := make([]events.SocialEvidenceItem, 0, len(raw))
	for _, s := range raw {
		var item events.SocialEvidenceItem
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			continue
		}
		if item.IngestedAtUnix != 0 && now-item.IngestedAtUnix <= cutoff {
			out = append(out, item)
		}
	}
	return out
}
