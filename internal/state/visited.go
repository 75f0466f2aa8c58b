// Package state holds per-dive visited tracking and the site map cache.
package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// VisitedSet records normalized URLs a dive has analyzed. A Bloom filter
// answers most misses; an exact map settles possible false positives.
type VisitedSet struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// NewVisitedSet sizes the filter for estimatedItems URLs.
func NewVisitedSet(estimatedItems int) *VisitedSet {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}

	return &VisitedSet{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// Add marks url visited and reports whether it was new.
func (v *VisitedSet) Add(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.exact[url]; exists {
		return false
	}
	v.filter.AddString(url)
	v.exact[url] = struct{}{}
	return true
}

// Has reports whether url was visited.
func (v *VisitedSet) Has(url string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.filter.TestString(url) {
		return false
	}
	_, exists := v.exact[url]
	return exists
}

// Len returns the number of visited URLs.
func (v *VisitedSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.exact)
}
