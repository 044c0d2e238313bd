package chain

import (
	"math/big"
	"sync"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// HeadStore holds the latest ChainHead. One writer role, many readers.
type HeadStore struct {
	mu   sync.RWMutex
	head types.ChainHead
}

// NewHeadStore creates an empty store
func NewHeadStore() *HeadStore {
	return &HeadStore{head: types.ChainHead{BaseFee: new(big.Int), NextBaseFee: new(big.Int)}}
}

// Snapshot returns a copy of the current head
func (s *HeadStore) Snapshot() types.ChainHead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head.Copy()
}

// Replace overwrites the head wholesale
func (s *HeadStore) Replace(head types.ChainHead) {
	head = head.Copy()
	s.mu.Lock()
	s.head = head
	s.mu.Unlock()
}

// MergeBase moves the head to the block a flashblock base opens when the
// timestamp is new, and reports whether the store was written. That block is
// still being built, so GasUsed and NextBaseFee are reset to zero until a
// confirmed header replaces the head.
func (s *HeadStore) MergeBase(base *types.PartialBase) bool {
	if base == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.head.Timestamp == uint64(base.Timestamp) {
		return false
	}
	s.head.Number = uint64(base.BlockNumber)
	s.head.GasLimit = uint64(base.GasLimit)
	s.head.Timestamp = uint64(base.Timestamp)
	s.head.BaseFee = new(big.Int).Set(types.BigOrZero(base.BaseFeePerGas))
	s.head.GasUsed = 0
	s.head.NextBaseFee = new(big.Int)
	return true
}

// HeadFromHeader converts a confirmed header into a ChainHead
func HeadFromHeader(h *ethtypes.Header) types.ChainHead {
	baseFee := new(big.Int)
	if h.BaseFee != nil {
		baseFee.Set(h.BaseFee)
	}
	return types.ChainHead{
		Number:      h.Number.Uint64(),
		GasUsed:     h.GasUsed,
		GasLimit:    h.GasLimit,
		BaseFee:     baseFee,
		NextBaseFee: NextBaseFee(baseFee, h.GasUsed, h.GasLimit),
		Timestamp:   h.Time,
	}
}
