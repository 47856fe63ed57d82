package backoff

import "testing"
import "time"

func TestDelayBounds(t *testing.T) {
	min := 500 * time.Millisecond
	max := 30 * time.Second

	cases := []int{1, 2, 3, 10, 100}
	for _, attempt := range cases {
		for i := 0; i < 50; i++ {
			d := Delay(attempt, min, max)
			if d < 0 {
				t.Fatalf("attempt %d: negative delay %v", attempt, d)
			}
			if d > max {
				t.Fatalf("attempt %d: delay %v exceeds max %v", attempt, d, max)
			}
		}
	}
}

func TestDelayGrowsWithAttempt(t *testing.T) {
	min := 500 * time.Millisecond
	max := 30 * time.Second

	// Compare base (pre-jitter) growth indirectly: attempt 5 should, on
	// average across samples, produce a larger delay than attempt 1 until
	// max_delay saturates.
	var sum1, sum5 time.Duration
	const n = 200
	for i := 0; i < n; i++ {
		sum1 += Delay(1, min, max)
		sum5 += Delay(5, min, max)
	}
	if sum5 <= sum1 {
		t.Fatalf("expected attempt 5 average delay to exceed attempt 1: %v vs %v", sum5, sum1)
	}
}

func TestDelaySaturatesAtMax(t *testing.T) {
	min := 500 * time.Millisecond
	max := 2 * time.Second
	for i := 0; i < 50; i++ {
		d := Delay(20, min, max)
		if d > max {
			t.Fatalf("delay %v exceeds max %v at high attempt count", d, max)
		}
	}
}
