package arbitrage

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/dex"
	"github.com/devlongs/mev-searcher/internal/distribution"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// TestModeProfit is the profit forced onto test-mode decisions (0.001 ether)
var TestModeProfit = big.NewInt(1_000_000_000_000_000)

var bpsDenominator = big.NewInt(10_000)

// Detector turns one launcher's live pool prices and its share of the
// candidate book into a decision
type Detector struct {
	launcher        common.Address
	pools           []types.Pool
	maxDeviationBps *big.Int
	testMode        bool
}

// NewDetector creates a detector over the pools registered on launcher
func NewDetector(launcher common.Address, pools []types.Pool, maxDeviationBps int64, testMode bool) *Detector {
	return &Detector{
		launcher:        launcher,
		pools:           pools,
		maxDeviationBps: big.NewInt(maxDeviationBps),
		testMode:        testMode,
	}
}

// Evaluate selects one bid and one ask boundary per pool.
// prices is indexed by pool; ref is the reference price scaled by 10^8, or
// nil to disable the deviation filter.
func (d *Detector) Evaluate(prices []*big.Int, groups distribution.Groups, ref *big.Int) types.Decision {
	decision := types.Decision{
		BidPrices: zeros(len(d.pools)),
		AskPrices: zeros(len(d.pools)),
		MaxProfit: new(big.Int),
	}

	for _, pool := range d.pools {
		if pool.Index >= len(prices) || prices[pool.Index] == nil || prices[pool.Index].Sign() == 0 {
			continue
		}
		poolPrice := prices[pool.Index]

		for _, sellBase := range []bool{true, false} {
			list := groups[types.TradeKey{Launcher: d.launcher, PoolIndex: pool.Index, SellBaseToken: sellBase}]
			if len(list) == 0 {
				continue
			}

			best, ok := d.selectBoundary(pool, poolPrice, list, sellBase, ref)
			if !ok {
				continue
			}

			sqrt := types.BigOrZero(best.SqrtPriceX96)
			if sellBase {
				decision.BidPrices[pool.Index] = sqrt
			} else {
				decision.AskPrices[pool.Index] = sqrt
			}

			profit := types.BigOrZero(best.Profit)
			if d.testMode {
				profit = new(big.Int).Set(TestModeProfit)
			}
			if profit.Cmp(decision.MaxProfit) > 0 {
				decision.MaxProfit = profit
			}

			log.Debug().
				Int("pool", pool.Index).
				Bool("sellBase", sellBase).
				Str("poolPrice", poolPrice.String()).
				Str("boundary", sqrt.String()).
				Str("profit", profit.String()).
				Msg("Boundary selected")
		}
	}

	return decision
}

// selectBoundary returns the most profitable actionable candidate, or the
// first one in test mode
func (d *Detector) selectBoundary(pool types.Pool, poolPrice *big.Int, list []types.TradeCandidate, sellBase bool, ref *big.Int) (types.TradeCandidate, bool) {
	var (
		best  types.TradeCandidate
		found bool
	)

	for _, c := range list {
		if ref != nil && ref.Sign() > 0 {
			var keep bool
			c, keep = d.enrich(pool, c, ref)
			if !keep {
				continue
			}
		}

		if d.testMode {
			return c, true
		}

		sqrt := types.BigOrZero(c.SqrtPriceX96)
		if !actionable(poolPrice, sqrt, sellBase) {
			continue
		}
		if !found || types.BigOrZero(c.Profit).Cmp(types.BigOrZero(best.Profit)) > 0 {
			best = c
			found = true
		}
	}
	return best, found
}

// enrich fills TradePrice and DeviationBps and reports whether the candidate
// is within the deviation limit
func (d *Detector) enrich(pool types.Pool, c types.TradeCandidate, ref *big.Int) (types.TradeCandidate, bool) {
	price := dex.SqrtPriceX96ToPrice(types.BigOrZero(c.SqrtPriceX96), pool.ZeroForOne, pool.Decimals0, pool.Decimals1)
	dev := Deviation(price, ref)

	c.TradePrice = types.Big(price)
	c.DeviationBps = types.Big(dev)
	return c, dev.Cmp(d.maxDeviationBps) < 0
}

// Deviation returns |ref - price| in basis points of ref
func Deviation(price, ref *big.Int) *big.Int {
	diff := new(big.Int).Sub(ref, price)
	diff.Abs(diff)
	diff.Mul(diff, bpsDenominator)
	return diff.Quo(diff, ref)
}

// actionable reports whether the live price is on the tradable side of the
// boundary: above it for a bid, below it for an ask
func actionable(poolPrice, boundary *big.Int, sellBase bool) bool {
	if sellBase {
		return poolPrice.Cmp(boundary) > 0
	}
	return poolPrice.Cmp(boundary) < 0
}

func zeros(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = new(big.Int)
	}
	return out
}
