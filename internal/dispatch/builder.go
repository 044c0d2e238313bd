package dispatch

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// priceBytes is how many low-order bytes of each boundary price are encoded
const priceBytes = 12

// Builder turns a decision into an unsigned launcher transaction
type Builder struct {
	pools        []types.Pool
	chainID      *big.Int
	launcher     common.Address
	gasLimit     uint64
	divisor      *big.Int
	targetOffset uint64
	venues       []types.Venue
}

// NewBuilder creates a builder for the registered pools
func NewBuilder(pools []types.Pool, chainID *big.Int, launcher common.Address, cfg config.DispatchConfig) (*Builder, error) {
	if cfg.ProfitGasDivisor <= 0 {
		return nil, fmt.Errorf("profit gas divisor must be positive, got %d", cfg.ProfitGasDivisor)
	}
	venues, err := ParseVenues(cfg.Venues)
	if err != nil {
		return nil, err
	}
	return &Builder{
		pools:        pools,
		chainID:      chainID,
		launcher:     launcher,
		gasLimit:     cfg.GasLimit,
		divisor:      big.NewInt(cfg.ProfitGasDivisor),
		targetOffset: cfg.TargetBlockOffset,
		venues:       venues,
	}, nil
}

// Build creates the execution request for d on top of head
func (b *Builder) Build(d types.Decision, head types.ChainHead) *types.ExecutionRequest {
	gasPrice := GasPrice(d.MaxProfit, head.BaseFee, b.divisor)

	var targets []common.Address
	for _, pool := range b.pools {
		if at(d.BidPrices, pool.Index).Sign() > 0 || at(d.AskPrices, pool.Index).Sign() > 0 {
			targets = append(targets, pool.Address)
		}
	}

	to := b.launcher
	return &types.ExecutionRequest{
		Tx: &ethtypes.DynamicFeeTx{
			ChainID:   new(big.Int).Set(b.chainID),
			GasTipCap: gasPrice,
			GasFeeCap: new(big.Int).Set(gasPrice),
			Gas:       b.gasLimit,
			To:        &to,
			Value:     new(big.Int),
			Data:      Calldata(len(b.pools), d.BidPrices, d.AskPrices),
		},
		Venues:      b.venues,
		TargetBlock: head.Number + b.targetOffset,
		TargetPools: targets,
		Profit:      new(big.Int).Set(d.MaxProfit),
	}
}

// Calldata packs, for each of n pools, the low 12 bytes of the bid followed
// by the low 12 bytes of the ask. Missing entries encode as zero.
func Calldata(n int, bids, asks []*big.Int) []byte {
	out := make([]byte, 0, n*2*priceBytes)
	for i := 0; i < n; i++ {
		out = append(out, low12(at(bids, i))...)
		out = append(out, low12(at(asks, i))...)
	}
	return out
}

// GasPrice is max(maxProfit/divisor, 1.5 × baseFee)
func GasPrice(maxProfit, baseFee, divisor *big.Int) *big.Int {
	price := new(big.Int)
	if maxProfit != nil {
		price.Quo(maxProfit, divisor)
	}
	if baseFee == nil {
		return price
	}
	floor := new(big.Int).Mul(baseFee, big.NewInt(3))
	floor.Quo(floor, big.NewInt(2))
	if price.Cmp(floor) < 0 {
		return floor
	}
	return price
}

// ParseVenues validates configured venue names
func ParseVenues(names []string) ([]types.Venue, error) {
	out := make([]types.Venue, 0, len(names))
	for _, name := range names {
		switch v := types.Venue(name); v {
		case types.VenueSequencer, types.VenueBundle:
			out = append(out, v)
		default:
			return nil, fmt.Errorf("unknown venue %q", name)
		}
	}
	return out, nil
}

func at(v []*big.Int, i int) *big.Int {
	if i < len(v) && v[i] != nil {
		return v[i]
	}
	return new(big.Int)
}

func low12(v *big.Int) []byte {
	word := common.BigToHash(v)
	return word[common.HashLength-priceBytes:]
}
