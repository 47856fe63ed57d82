package model

import "testing"

func TestMinuteBucket(t *testing.T) {
	cases := []struct {
		tsMs int64
		want int64
	}{
		{1700000015000, 1699999980000},
		{1700000039999, 1699999980000},
		{1700000040000, 1700000040000},
		{0, 0},
	}
	for _, c := range cases {
		if got := MinuteBucket(c.tsMs); got != c.want {
			t.Errorf("MinuteBucket(%d) = %d, want %d", c.tsMs, got, c.want)
		}
	}
}

func TestMinuteBucketIdempotent(t *testing.T) {
	ts := int64(1700000123456)
	once := MinuteBucket(ts)
	twice := MinuteBucket(once)
	if once != twice {
		t.Errorf("MinuteBucket not idempotent: %d != %d", once, twice)
	}
}
