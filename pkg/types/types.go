package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// PoolType identifies the swap event layout emitted by a pool
type PoolType uint8

const (
	PoolTypeUniswapV3 PoolType = iota
	PoolTypePancakeV3
	PoolTypeAerodrome
	PoolTypeUniswapV4
)

// ParsePoolType converts the registry discriminant into a PoolType
func ParsePoolType(v uint8) (PoolType, error) {
	if v > uint8(PoolTypeUniswapV4) {
		return 0, fmt.Errorf("unknown pool type %d", v)
	}
	return PoolType(v), nil
}

func (p PoolType) String() string {
	switch p {
	case PoolTypeUniswapV3:
		return "uniswap_v3"
	case PoolTypePancakeV3:
		return "pancake_v3"
	case PoolTypeAerodrome:
		return "aerodrome"
	case PoolTypeUniswapV4:
		return "uniswap_v4"
	}
	return fmt.Sprintf("pool_type(%d)", uint8(p))
}

// Pool is a registered pool, immutable after startup
type Pool struct {
	Index      int
	Address    common.Address
	Type       PoolType
	Decimals0  uint8
	Decimals1  uint8
	ZeroForOne bool // price quoted as token1 per token0
}

// ChainHead is a snapshot of the chain tip. After a confirmed header every
// field describes that block; after a flashblock base GasUsed and NextBaseFee
// are zero because the block is still open.
type ChainHead struct {
	Number      uint64
	GasUsed     uint64
	GasLimit    uint64
	BaseFee     *big.Int
	NextBaseFee *big.Int
	Timestamp   uint64
}

// Copy returns a deep copy of the head
func (h ChainHead) Copy() ChainHead {
	out := h
	if h.BaseFee != nil {
		out.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	if h.NextBaseFee != nil {
		out.NextBaseFee = new(big.Int).Set(h.NextBaseFee)
	}
	return out
}

// PartialBlockUpdate is one flashblock frame from the sequencer feed
type PartialBlockUpdate struct {
	Index    uint64          `json:"index"`
	Base     *PartialBase    `json:"base,omitempty"`
	Diff     PartialDiff     `json:"diff"`
	Metadata PartialMetadata `json:"metadata"`
}

// Sequence returns the composite ordering key of the update
func (u *PartialBlockUpdate) Sequence() uint64 {
	return u.Index + uint64(u.Metadata.BlockNumber)*100
}

// PartialBase carries the header fields sent with the first frame of a block
type PartialBase struct {
	BlockNumber   hexutil.Uint64 `json:"block_number"`
	GasLimit      hexutil.Uint64 `json:"gas_limit"`
	Timestamp     hexutil.Uint64 `json:"timestamp"`
	BaseFeePerGas *hexutil.Big   `json:"base_fee_per_gas"`
}

// PartialDiff holds the transactions added by a frame
type PartialDiff struct {
	Transactions []hexutil.Bytes `json:"transactions"`
}

// PartialMetadata holds the block number and the raw receipts bundle.
// Receipts are keyed by tx hash, then by receipt kind, and decoded lazily.
type PartialMetadata struct {
	BlockNumber hexutil.Uint64                        `json:"block_number"`
	Receipts    map[string]map[string]json.RawMessage `json:"receipts"`
}

// ReceiptLogs is the part of a receipt the engine reads
type ReceiptLogs struct {
	Logs []LogItem `json:"logs"`
}

// LogItem is a log emitted by a transaction in a partial block
type LogItem struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// TradeCandidate is one simulated trade point produced by the optimizer
type TradeCandidate struct {
	Launcher      common.Address `json:"launcher_addr"`
	PoolIndex     int            `json:"pool_index"`
	SellBaseToken bool           `json:"sell_base_token"`
	StartDelta    *hexutil.Big   `json:"start_delta"`
	Delta         *hexutil.Big   `json:"delta"`
	SqrtPriceX96  *hexutil.Big   `json:"sqrt_price_x96"`
	TradePrice    *hexutil.Big   `json:"trade_price"`
	DeviationBps  *hexutil.Big   `json:"deviation_bps"`
	SwapAmount    *hexutil.Big   `json:"swap_amount"`
	Profit        *hexutil.Big   `json:"profit"`
	GasUsed       *hexutil.Big   `json:"gas_used"`
}

// Key groups candidates by launcher, pool and direction
func (c TradeCandidate) Key() TradeKey {
	return TradeKey{Launcher: c.Launcher, PoolIndex: c.PoolIndex, SellBaseToken: c.SellBaseToken}
}

// TradeKey identifies a (launcher, pool, direction) search. Pool indices are
// only unique within one launcher.
type TradeKey struct {
	Launcher      common.Address
	PoolIndex     int
	SellBaseToken bool
}

// Decision is the detector output for one evaluation cycle
type Decision struct {
	BidPrices []*big.Int // per pool, zero when no bid is actionable
	AskPrices []*big.Int // per pool, zero when no ask is actionable
	MaxProfit *big.Int
}

// Venue names an execution relay
type Venue string

const (
	VenueSequencer Venue = "sequencer"
	VenueBundle    Venue = "bundle"
)

// ExecutionRequest is an unsigned transaction with its routing metadata.
// The nonce is filled in by the executor.
type ExecutionRequest struct {
	Tx          *ethtypes.DynamicFeeTx
	Venues      []Venue
	TargetBlock uint64
	TargetPools []common.Address // pools with a non-zero bid or ask
	Profit      *big.Int
}

// BigOrZero returns the wrapped integer, or zero when nil
func BigOrZero(b *hexutil.Big) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b.ToInt()
}

// Big wraps an integer for JSON transport
func Big(v *big.Int) *hexutil.Big {
	if v == nil {
		v = new(big.Int)
	}
	return (*hexutil.Big)(new(big.Int).Set(v))
}
