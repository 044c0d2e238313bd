package state

import (
	"math/big"
	"sync"
)

// PriceTable holds the latest sqrtPriceX96 per pool index.
// The event decoder is the only writer.
type PriceTable struct {
	mu     sync.RWMutex
	prices []*big.Int
}

// NewPriceTable creates a table with n zero-valued slots
func NewPriceTable(n int) *PriceTable {
	prices := make([]*big.Int, n)
	for i := range prices {
		prices[i] = new(big.Int)
	}
	return &PriceTable{prices: prices}
}

// Set replaces one pool slot
func (t *PriceTable) Set(pool int, sqrtPriceX96 *big.Int) {
	v := new(big.Int).Set(sqrtPriceX96)
	t.mu.Lock()
	if pool >= 0 && pool < len(t.prices) {
		t.prices[pool] = v
	}
	t.mu.Unlock()
}

// Get returns a copy of one pool slot
func (t *PriceTable) Get(pool int) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if pool < 0 || pool >= len(t.prices) {
		return new(big.Int)
	}
	return new(big.Int).Set(t.prices[pool])
}

// Snapshot returns a copy of every slot
func (t *PriceTable) Snapshot() []*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*big.Int, len(t.prices))
	for i, p := range t.prices {
		out[i] = new(big.Int).Set(p)
	}
	return out
}

// Len returns the number of pools tracked
func (t *PriceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prices)
}
