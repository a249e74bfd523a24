package arbitrage

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the scanners of each strategy by name, so the scheduler can
// start one loop per enabled strategy.
type Registry struct {
	scanners map[string]Scanner
	mu       sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add scanners.
func NewRegistry() *Registry {
	return &Registry{scanners: make(map[string]Scanner)}
}

// Register adds a scanner under its own name.
func (r *Registry) Register(s Scanner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanners[s.Name()] = s
}

// Get returns the scanner by name, or an error if not found.
func (r *Registry) Get(name string) (Scanner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scanners[name]
	if !ok {
		return nil, fmt.Errorf("arbitrage: scanner %q not found", name)
	}
	return s, nil
}

// List returns all registered scanner names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scanners))
	for n := range r.scanners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
