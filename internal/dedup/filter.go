// Package dedup suppresses re-processing of transaction signatures.
package dedup

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is sized well above the number of signatures a busy pair
// produces within any plausible notification redelivery window.
const DefaultCapacity = 100_000

// Filter remembers recently seen signatures in a fixed-capacity LRU.
// Signatures never come back after their notification window closes, so
// evicting the least recently seen ones is safe.
type Filter struct {
	seen *lru.Cache[string, struct{}]
}

// NewFilter creates a filter retaining up to capacity signatures.
func NewFilter(capacity int) (*Filter, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Filter{seen: cache}, nil
}

// ShouldProcess records signature and reports whether it was new.
// The membership test and insert are a single atomic step.
func (f *Filter) ShouldProcess(signature string) bool {
	if signature == "" {
		return false
	}
	found, _ := f.seen.ContainsOrAdd(signature, struct{}{})
	return !found
}

// Len returns the number of retained signatures.
func (f *Filter) Len() int {
	return f.seen.Len()
}
