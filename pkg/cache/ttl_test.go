package cache

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestTTLExpiry(t *testing.T) {
	mock := clock.NewMock()
	c := NewTTL[int](5*time.Second, mock)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	mock.Add(4 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry expired too early")
	}

	mock.Add(time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry should expire at its deadline")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be evicted on read, len=%d", c.Len())
	}
}

func TestTTLWithoutExpiry(t *testing.T) {
	mock := clock.NewMock()
	c := NewTTL[string](0, mock)
	c.Set("k", "v")
	mock.Add(24 * time.Hour)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected persistent entry, got %q %v", v, ok)
	}
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after delete")
	}
	c.Set("x", "1")
	c.Set("y", "2")
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after purge, len=%d", c.Len())
	}
}
