// Package model holds OpenCandle, the mutable aggregator working state that
// lives in the KV store, and the MinuteBucket helper. Cooldown marks and
// watchlists are plain KV keys managed by internal/kv and have no type here.
package model

// OpenCandle is the mutable per-(symbol,minute) aggregation state owned
// solely by the candle aggregator (§3 Ownership).
type OpenCandle struct {
	Symbol        string  `json:"symbol"`
	MinuteBucketMs int64  `json:"minute_bucket_ms"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	LastUpdateMs  int64   `json:"last_update_ms"`
}

// MinuteBucket computes floor(ts_ms/60000)*60000, the canonical key for a
// one-minute interval (GLOSSARY).
func MinuteBucket(tsMs int64) int64 {
	const minuteMs = 60000
	return (tsMs / minuteMs) * minuteMs
}
