package push

import "testing"

func TestStripMarkupRemovesBoldAndLinks(t *testing.T) {
	in := `<b>AAPL</b> moved: see <a href="https://example.com">source</a>`
	out := StripMarkup(in)
	if out == in {
		t.Error("expected markup to be stripped")
	}
	for _, tag := range []string{"<b>", "</b>", "<a href=", "</a>"} {
		if contains(out, tag) {
			t.Errorf("output still contains tag %q: %q", tag, out)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
