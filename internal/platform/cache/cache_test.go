package cache

import (
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t)

	c.Set("token", "abc", time.Minute)

	got, ok := c.GetString("token")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "abc" {
		t.Errorf("expected abc, got %s", got)
	}
}

func TestExpiry(t *testing.T) {
	c := newTestCache(t)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("token", "abc", time.Minute)

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("token"); ok {
		t.Fatal("expected expired entry to miss")
	}

	// Expired entry should have been evicted, not returned on later reads.
	c.now = func() time.Time { return base }
	if _, ok := c.Get("token"); ok {
		t.Fatal("expected expired entry to be removed")
	}
}

func TestNoTTL(t *testing.T) {
	c := newTestCache(t)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("cert", "pem", 0)

	c.now = func() time.Time { return base.Add(24 * time.Hour) }
	if _, ok := c.Get("cert"); !ok {
		t.Fatal("expected entry without TTL to persist")
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)

	c.Set("token", "abc", time.Minute)
	c.Delete("token")

	if _, ok := c.Get("token"); ok {
		t.Fatal("expected deleted entry to miss")
	}

	// Deleting again is a no-op.
	c.Delete("token")
}

func TestGetString_WrongType(t *testing.T) {
	c := newTestCache(t)

	c.Set("ctx", 42, time.Minute)
	if _, ok := c.GetString("ctx"); ok {
		t.Fatal("expected GetString to reject non-string value")
	}
}
