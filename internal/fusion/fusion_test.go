package fusion

import (
	"testing"

	"marketfusion/pkg/events"
)

func TestSeverityBounds(t *testing.T) {
	for _, pct := range []float64{-50, -1, 0, 1, 50, 1000} {
		for _, news := range []int{0, 1, 10, 100} {
			for _, social := range []int{0, 1, 10, 100} {
				s := Severity(pct, news, social)
				if s < 0 || s > 100 {
					t.Fatalf("severity out of bounds: pct=%v news=%d social=%d -> %d", pct, news, social, s)
				}
			}
		}
	}
}

func TestSeverityExampleFromSpec(t *testing.T) {
	// Scenario 5: change_pct=+1.2%, news_count=2 -> severity = round(15*1.2) + min(50,8*2) = 18+16 = 34
	got := Severity(1.2, 2, 0)
	if got != 34 {
		t.Errorf("got %d, want 34", got)
	}
}

func TestSeverityExampleFromSpecWithThirdNews(t *testing.T) {
	// Scenario 6: third news item -> severity = 18 + 24 = 42
	got := Severity(1.2, 3, 0)
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestSeverityMonotoneNonDecreasing(t *testing.T) {
	base := Severity(1.0, 2, 2)
	if Severity(1.5, 2, 2) < base {
		t.Error("severity should not decrease as |change_pct| increases")
	}
	if Severity(1.0, 3, 2) < base {
		t.Error("severity should not decrease as news_count increases")
	}
	if Severity(1.0, 2, 3) < base {
		t.Error("severity should not decrease as social_count increases")
	}
}

func TestDirection(t *testing.T) {
	if Direction(1.0) != events.DirectionPositive {
		t.Error("expected positive")
	}
	if Direction(-1.0) != events.DirectionNegative {
		t.Error("expected negative")
	}
	if Direction(0) != events.DirectionNeutral {
		t.Error("expected neutral")
	}
}

func TestExtractSymbolsPrefersProviderList(t *testing.T) {
	got := ExtractSymbols([]string{"aapl", " MSFT "}, "ignored headline", nil)
	want := []string{"AAPL", "MSFT"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractSymbolsFallsBackToHeadline(t *testing.T) {
	got := ExtractSymbols(nil, "CEO of NVDA announces new plant", nil)
	found := false
	for _, s := range got {
		if s == "NVDA" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected NVDA to be extracted, got %v", got)
	}
}

func TestExtractSymbolsFiltersByWatchlist(t *testing.T) {
	watch := map[string]struct{}{"NVDA": {}}
	got := ExtractSymbols(nil, "CEO of NVDA and AMD announce deal", watch)
	if len(got) != 1 || got[0] != "NVDA" {
		t.Errorf("got %v, want [NVDA]", got)
	}
}

func TestExtractSymbolsCapsAtTen(t *testing.T) {
	list := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L"}
	got := ExtractSymbols(list, "", nil)
	if len(got) != 10 {
		t.Errorf("got %d symbols, want 10", len(got))
	}
}
