package credentials

import (
	"sync"
	"sync/atomic"
)

// Pool rotates over per-provider API secrets. Registration happens once at
// startup; after that the pool is read-only apart from the rotation index.
type Pool struct {
	mu        sync.Mutex
	providers map[string]*providerState
}

type providerState struct {
	secrets  []string
	next     int
	acquires atomic.Int64
}

// ProviderStats reports pool state for one provider.
type ProviderStats struct {
	Count    int   `json:"count"`
	Acquires int64 `json:"acquires"`
}

// NewPool creates an empty credential pool.
func NewPool() *Pool {
	return &Pool{providers: make(map[string]*providerState)}
}

// Register adds secrets for a provider. Empty strings are dropped; if
// nothing remains the provider is not registered at all, so Acquire
// returns "" and the caller surfaces an unconfigured-provider error.
func (p *Pool) Register(tag string, secrets []string) {
	filtered := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.providers[tag] = &providerState{secrets: filtered}
}

// Acquire returns the next secret for a provider in round-robin order,
// or "" if the provider is unknown. Exact fairness under contention is not
// required; every secret stays reachable.
func (p *Pool) Acquire(tag string) string {
	p.mu.Lock()
	state, ok := p.providers[tag]
	if !ok {
		p.mu.Unlock()
		return ""
	}
	secret := state.secrets[state.next]
	state.next = (state.next + 1) % len(state.secrets)
	p.mu.Unlock()

	state.acquires.Add(1)
	return secret
}

// Has reports whether a provider has at least one secret.
func (p *Pool) Has(tag string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.providers[tag]
	return ok
}

// Stats returns per-provider secret counts and acquire totals.
func (p *Pool) Stats() map[string]ProviderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]ProviderStats, len(p.providers))
	for tag, state := range p.providers {
		out[tag] = ProviderStats{
			Count:    len(state.secrets),
			Acquires: state.acquires.Load(),
		}
	}
	return out
}
