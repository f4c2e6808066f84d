package ttlcache

import (
	"sync"
	"testing"
	"time"
)

func TestGetPut(t *testing.T) {
	c := New[string]()
	c.Put("k", "v", time.Minute)

	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get = (%q, %v), want (v, true)", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("missing key should miss")
	}
}

func TestLazyExpiry(t *testing.T) {
	c := New[int]()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("k", 42, time.Second)

	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should be live before expiry")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should expire")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted, Len = %d", c.Len())
	}
}

func TestPutNonPositiveTTL(t *testing.T) {
	c := New[string]()
	c.Put("k", "v", 0)
	if c.Len() != 0 {
		t.Error("zero TTL should store nothing")
	}
}

func TestOverwriteRefreshesExpiry(t *testing.T) {
	c := New[string]()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("k", "old", time.Second)
	now = now.Add(500 * time.Millisecond)
	c.Put("k", "new", time.Second)
	now = now.Add(700 * time.Millisecond)

	got, ok := c.Get("k")
	if !ok || got != "new" {
		t.Fatalf("Get = (%q, %v), want (new, true)", got, ok)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			c.Put("shared", n, time.Minute)
		}(i)
		go func() {
			defer wg.Done()
			c.Get("shared")
		}()
	}
	wg.Wait()

	if _, ok := c.Get("shared"); !ok {
		t.Error("value missing after concurrent writes")
	}
}
