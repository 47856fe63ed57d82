package finalizer

import "testing"

func TestParseCandleKey(t *testing.T) {
	symbol, bucket, ok := parseCandleKey("candle:1m:AAPL:1700000000000")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if symbol != "AAPL" || bucket != 1700000000000 {
		t.Errorf("got symbol=%s bucket=%d", symbol, bucket)
	}
}

func TestParseCandleKeyRejectsMalformed(t *testing.T) {
	if _, _, ok := parseCandleKey("not:a:candle:key:extra"); ok {
		t.Error("expected ok=false for malformed key")
	}
	if _, _, ok := parseCandleKey("candle:1m:AAPL:notanumber"); ok {
		t.Error("expected ok=false for non-numeric bucket")
	}
}

func TestParseCandleHash(t *testing.T) {
	hash := map[string]string{
		"open": "100", "high": "110", "low": "95", "close": "105", "volume": "42",
		"last_update_ms": "1700000055000",
	}
	c, err := parseCandleHash("TSLA", 1700000000000, hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Open != 100 || c.High != 110 || c.Low != 95 || c.Close != 105 || c.Volume != 42 {
		t.Errorf("unexpected parsed candle: %+v", c)
	}
}

func TestParseCandleHashRejectsMissingField(t *testing.T) {
	hash := map[string]string{"open": "100", "high": "110", "low": "95"}
	if _, err := parseCandleHash("TSLA", 1700000000000, hash); err == nil {
		t.Error("expected error for missing close/volume fields")
	}
}
