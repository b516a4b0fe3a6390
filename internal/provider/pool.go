// Package provider is the Provider Pool (C2): an ordered, rotating list
// of remote mirrors. It hands out the current primary and advances past
// providers that have failed, the way internal/provider/manager.go's
// Manager sorted and iterated NNTP servers by priority, generalized to a
// single current index rather than a full priority sort.
package provider

import (
	"strings"
	"sync"

	"github.com/flexo-cache/flexo/internal/domain"
)

// Pool is the process-wide ordered mirror list.
type Pool struct {
	mu                  sync.Mutex
	providers           []domain.Provider
	current             int
	uncacheableSuffixes []string
}

// NewPool builds a Pool from a non-empty, already-ordered provider list.
func NewPool(providers []domain.Provider, uncacheableSuffixes []string) *Pool {
	cp := make([]domain.Provider, len(providers))
	copy(cp, providers)
	return &Pool{providers: cp, uncacheableSuffixes: uncacheableSuffixes}
}

// Primary returns the current best provider. Callers must check Len() > 0
// first; Primary panics on an empty pool, matching spec.md §6's "no
// providers at startup" fatal-exit policy (the pool is never constructed
// empty in practice).
func (p *Pool) Primary() domain.Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.providers[p.current]
}

// Len reports the number of configured providers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.providers)
}

// List returns a snapshot of the provider order.
func (p *Pool) List() []domain.Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Provider, len(p.providers))
	copy(out, p.providers)
	return out
}

// RotateOnFailure advances the current index by one, wrapping back to
// the first provider after the last, when the current provider's URI
// matches failedURI. Any other URI leaves the index unchanged.
func (p *Pool) RotateOnFailure(failedURI string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.providers) == 0 {
		return
	}
	if p.providers[p.current].URI == failedURI {
		p.current = (p.current + 1) % len(p.providers)
	}
}

// Next returns the provider at position i modulo the pool size, for
// workers that need to walk the full rotation during failover without
// mutating the shared current index.
func (p *Pool) Next(i int) domain.Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := p.current
	idx := (start + i) % len(p.providers)
	return p.providers[idx]
}

// IsUncacheable reports whether reqPath matches one of the
// policy-excluded suffixes (e.g. pacman repo database files that must
// always be fetched fresh).
func (p *Pool) IsUncacheable(reqPath string) bool {
	for _, suffix := range p.uncacheableSuffixes {
		if strings.HasSuffix(reqPath, suffix) {
			return true
		}
	}
	return false
}
