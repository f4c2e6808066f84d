package credentials

import (
	"sync"
	"testing"
)

func TestAcquireRoundRobin(t *testing.T) {
	p := NewPool()
	p.Register("openai", []string{"k1", "k2", "k3"})

	got := []string{
		p.Acquire("openai"),
		p.Acquire("openai"),
		p.Acquire("openai"),
		p.Acquire("openai"),
	}
	want := []string{"k1", "k2", "k3", "k1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("acquire %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegisterDropsEmptySecrets(t *testing.T) {
	p := NewPool()
	p.Register("weather", []string{"", "key", ""})

	stats := p.Stats()
	if stats["weather"].Count != 1 {
		t.Errorf("count = %d, want 1", stats["weather"].Count)
	}
	if got := p.Acquire("weather"); got != "key" {
		t.Errorf("acquire = %q, want %q", got, "key")
	}
}

func TestRegisterAllEmptyIsNoop(t *testing.T) {
	p := NewPool()
	p.Register("ghost", []string{"", ""})

	if p.Has("ghost") {
		t.Error("provider with no usable secrets should not be registered")
	}
	if got := p.Acquire("ghost"); got != "" {
		t.Errorf("acquire = %q, want empty", got)
	}
}

func TestAcquireUnknownProvider(t *testing.T) {
	p := NewPool()
	if got := p.Acquire("missing"); got != "" {
		t.Errorf("acquire = %q, want empty", got)
	}
}

func TestStatsCountsAcquires(t *testing.T) {
	p := NewPool()
	p.Register("ipfs", []string{"a", "b"})
	for i := 0; i < 5; i++ {
		p.Acquire("ipfs")
	}

	stats := p.Stats()
	if stats["ipfs"].Acquires != 5 {
		t.Errorf("acquires = %d, want 5", stats["ipfs"].Acquires)
	}
	if stats["ipfs"].Count != 2 {
		t.Errorf("count = %d, want 2", stats["ipfs"].Count)
	}
}

// Every secret must remain reachable under concurrent acquires.
func TestAcquireConcurrent(t *testing.T) {
	p := NewPool()
	p.Register("rpc", []string{"a", "b", "c"})

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := p.Acquire("rpc")
			mu.Lock()
			seen[s]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 3 {
		t.Errorf("expected all 3 secrets used, got %v", seen)
	}
	if p.Stats()["rpc"].Acquires != 30 {
		t.Errorf("acquires = %d, want 30", p.Stats()["rpc"].Acquires)
	}
}
