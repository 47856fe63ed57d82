// Package events defines the wire-level records that flow across the
// message bus: inbound raw trade/news/social records and the outbound
// polymorphic events.normalized stream.
package events

import (
	"encoding/json"
	"time"
)

// EventKind discriminates payloads published to events.normalized so
// subscribers can filter without deserializing every message (§6).
type EventKind string

const (
	EventKindCandle1m    EventKind = "candle_1m"
	EventKindFusedEvent  EventKind = "fused_event"
)

// Direction classifies the price move backing a FusedEvent.
type Direction string

const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
	DirectionNeutral  Direction = "neutral"
	// DirectionMixed is reserved for a future sentiment classifier; the core
	// never emits it but consumers must accept it (spec §9 Open Questions).
	DirectionMixed Direction = "mixed"
)

// Event is the common interface implemented by every payload carried on
// events.normalized, mirroring the teacher's Event interface shape.
type Event interface {
	Kind() EventKind
	GetSymbol() string
	GetTimestamp() time.Time
}

// Trade is a single tick-level fill consumed from trades.raw.
type Trade struct {
	Symbol      string  `json:"symbol"`
	TimestampMs int64   `json:"timestamp_ms"`
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume"`
	SourceTag   string  `json:"source_tag"`
}

// IsHeartbeat reports whether this record carries no trade data and should be
// ignored by the aggregator (§4.2 "not-a-trade messages").
func (t *Trade) IsHeartbeat() bool {
	return t.TimestampMs == 0
}

// NewsRaw is a single article consumed from news.raw.
type NewsRaw struct {
	Headline           string   `json:"headline"`
	URL                string   `json:"url"`
	Source             string   `json:"source"`
	Summary            string   `json:"summary"`
	IngestedAtISO      string   `json:"ingested_at_iso"`
	ProviderSymbolList []string `json:"provider_symbol_list,omitempty"`
	ProviderCategory   string   `json:"provider_category,omitempty"`
}

// SocialRaw is a single post consumed from social.raw.
type SocialRaw struct {
	Title         string            `json:"title"`
	Text          string            `json:"text"`
	Platform      string            `json:"platform"`
	URL           string            `json:"url"`
	Engagement    map[string]int64  `json:"engagement"`
	IngestedAtISO string            `json:"ingested_at_iso"`
}

// FinalizedCandle is the immutable OHLCV summary of a closed minute bucket.
type FinalizedCandle struct {
	Symbol         string  `json:"symbol"`
	MinuteBucketMs int64   `json:"minute_bucket_ms"`
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         float64 `json:"volume"`
	FinalizedAtMs  int64   `json:"finalized_at_ms"`
}

func (c *FinalizedCandle) Kind() EventKind        { return EventKindCandle1m }
func (c *FinalizedCandle) GetSymbol() string       { return c.Symbol }
func (c *FinalizedCandle) GetTimestamp() time.Time { return time.UnixMilli(c.FinalizedAtMs) }

// ChangePct is (close-open)/open*100, defined as 0 when open<=0 (§4.4 step 1).
func (c *FinalizedCandle) ChangePct() float64 {
	if c.Open <= 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

// NewsEvidenceItem is a buffered news item attached to a FusedEvent.
type NewsEvidenceItem struct {
	Symbol         string `json:"symbol"`
	Headline       string `json:"headline"`
	URL            string `json:"url"`
	Source         string `json:"source"`
	Summary        string `json:"summary"`
	IngestedAtUnix int64  `json:"ingested_at_unix"`
}

// SocialEvidenceItem is a buffered social item attached to a FusedEvent.
type SocialEvidenceItem struct {
	Symbol         string           `json:"symbol"`
	Title          string           `json:"title"`
	Platform       string           `json:"platform"`
	URL            string           `json:"url"`
	Engagement     map[string]int64 `json:"engagement"`
	IngestedAtUnix int64            `json:"ingested_at_unix"`
}

// PriceBlock is the OHLCV + change_pct summary embedded in a FusedEvent.
type PriceBlock struct {
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	ChangePct  float64 `json:"change_pct"`
}

// FusedEvent is the scored, directional join of a finalized candle with its
// symbol's recent evidence window.
type FusedEvent struct {
	SchemaVersion  string               `json:"schema_version"`
	Symbol         string               `json:"symbol"`
	MinuteBucketMs int64                `json:"minute_bucket_ms"`
	Price          PriceBlock           `json:"price"`
	News           []NewsEvidenceItem   `json:"news"`
	Social         []SocialEvidenceItem `json:"social"`
	Severity       int                  `json:"severity"`
	Direction      Direction            `json:"direction"`
	FusedAtMs      int64                `json:"fused_at_ms"`
	CorrelationID  string               `json:"correlation_id"`
}

func (f *FusedEvent) Kind() EventKind        { return EventKindFusedEvent }
func (f *FusedEvent) GetSymbol() string       { return f.Symbol }
func (f *FusedEvent) GetTimestamp() time.Time { return time.UnixMilli(f.FusedAtMs) }

// NormalizedEnvelope is the wire shape of every message on events.normalized:
// an event_kind attribute plus the raw JSON payload, so subscribers can
// filter on kind before deserializing the payload.
type NormalizedEnvelope struct {
	EventKind EventKind       `json:"event_kind"`
	Payload   json.RawMessage `json:"payload"`
}
