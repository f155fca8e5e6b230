package tokens

import (
	"strings"
	"testing"
)

func TestEstimator_Count(t *testing.T) {
	c := Estimator()
	if n := c.Count(strings.Repeat("a", 400)); n != 100 {
		t.Fatalf("expected 100 tokens, got %d", n)
	}
	if n := c.Count(""); n != 0 {
		t.Fatalf("expected 0 tokens, got %d", n)
	}
}

func TestCounter_NilIsEstimate(t *testing.T) {
	var c *Counter
	if n := c.Count("abcdefgh"); n != 2 {
		t.Fatalf("expected 2 tokens, got %d", n)
	}
}

func TestTruncate(t *testing.T) {
	c := Estimator()

	t.Run("fits", func(t *testing.T) {
		text := strings.Repeat("x", 80)
		if got := c.Truncate(text, 20); got != text {
			t.Fatalf("expected unchanged text, got %q", got)
		}
	})

	t.Run("over budget", func(t *testing.T) {
		text := strings.Repeat("y", 4000) // 1000 tokens
		got := c.Truncate(text, 100)

		if !strings.HasSuffix(got, "[TRUNCATED - Original response was 1000 tokens, truncated to ~100 tokens]") {
			t.Fatalf("missing marker: %q", got[len(got)-80:])
		}
		// 4000 * 0.1 * 0.8
		prefix := strings.Repeat("y", 320) + "..."
		if !strings.HasPrefix(got, prefix) || strings.HasPrefix(got, prefix[:len(prefix)-3]+"y") {
			t.Fatal("expected a 320-character prefix")
		}
		if c.Count(got) > 100 {
			t.Fatalf("truncated output still over budget: %d tokens", c.Count(got))
		}
	})

	t.Run("zero budget disables", func(t *testing.T) {
		text := strings.Repeat("z", 400)
		if got := c.Truncate(text, 0); got != text {
			t.Fatal("expected unchanged text for zero budget")
		}
	})

	t.Run("multibyte safe", func(t *testing.T) {
		text := strings.Repeat("é", 1000)
		got := c.Truncate(text, 50)
		if !strings.Contains(got, "[TRUNCATED") {
			t.Fatal("expected truncation")
		}
		if strings.ContainsRune(got, '�') {
			t.Fatal("truncation split a rune")
		}
	})
}
