package distribution

import (
	"sort"
	"sync"
	"time"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// Groups maps each (launcher, pool, direction) to its candidates, ascending
// by delta.
// A Groups value is never mutated after it is published.
type Groups map[types.TradeKey][]types.TradeCandidate

// Book is the executor's copy of the latest candidate list
type Book struct {
	mu      sync.RWMutex
	groups  Groups
	updated time.Time
	version uint64
}

// NewBook creates an empty book
func NewBook() *Book {
	return &Book{groups: Groups{}}
}

// Replace swaps the whole book for candidates
func (b *Book) Replace(candidates []types.TradeCandidate) {
	groups := GroupCandidates(candidates)

	b.mu.Lock()
	b.groups = groups
	b.updated = time.Now()
	b.version++
	b.mu.Unlock()
}

// Snapshot returns the current groups. Callers must not modify them.
func (b *Book) Snapshot() Groups {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.groups
}

// Version counts replacements since start
func (b *Book) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Updated returns when the book was last replaced
func (b *Book) Updated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// GroupCandidates groups by Key and sorts each group by delta
func GroupCandidates(candidates []types.TradeCandidate) Groups {
	groups := make(Groups)
	for _, c := range candidates {
		groups[c.Key()] = append(groups[c.Key()], c)
	}
	for _, list := range groups {
		sort.SliceStable(list, func(i, j int) bool {
			return types.BigOrZero(list[i].Delta).Cmp(types.BigOrZero(list[j].Delta)) < 0
		})
	}
	return groups
}
