package optimizer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/dex"
	"github.com/devlongs/mev-searcher/internal/sim"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// Simulator is the forked-state execution backend
type Simulator interface {
	SimulateTrade(ctx context.Context, c sim.TradeCall) (sim.TradeResult, error)
	SimulatePriceAndAmount(ctx context.Context, c sim.PriceCall) (sim.PriceResult, error)
}

// Params bounds one (pool, direction) search
type Params struct {
	Launcher      common.Address
	MinProfit     *big.Int
	MinSwapAmount *big.Int
	BaseUnit      *big.Int // one whole base token, 1e18 for WETH
	Samples       int
}

// SearchStats describes how a search went
type SearchStats struct {
	Iterations    int
	Boundary      *big.Int
	Found         bool // a profitable delta was seen during the boundary search
	FailedSamples int
}

var (
	resolutionDivisor = big.NewInt(1000)
	maxStepNumerator  = big.NewInt(3)
	maxStepDivisor    = big.NewInt(2)
	gridDivisor       = big.NewInt(100)
)

// Search runs the three-phase search for one pool and direction
func Search(ctx context.Context, s Simulator, p Params, pool types.Pool, sellBase bool, maxDelta *big.Int) ([]types.TradeCandidate, SearchStats) {
	boundary, stats := searchBoundary(ctx, s, p, pool.Index, sellBase, maxDelta)

	deltas := sampleDeltas(boundary, maxDelta, p.BaseUnit, p.Samples)
	samples := make([]*sim.PriceResult, len(deltas))

	// Phase 2: sampling grid
	for i, delta := range deltas {
		if ctx.Err() != nil {
			return nil, stats
		}
		res, err := s.SimulatePriceAndAmount(ctx, sim.PriceCall{Pool: pool.Index, SellBase: sellBase, Delta: delta})
		if err != nil {
			stats.FailedSamples++
			log.Debug().Err(err).Int("pool", pool.Index).Bool("sellBase", sellBase).Str("delta", delta.String()).Msg("Sample simulation failed")
			continue
		}
		samples[i] = &res
	}

	// Phase 3: profit realization
	var out []types.TradeCandidate
	for i, sample := range samples {
		if sample == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, stats
		}

		res, err := s.SimulateTrade(ctx, sim.TradeCall{
			Pool:       pool.Index,
			SellBase:   sellBase,
			Delta:      deltas[i],
			SwapAmount: sample.SwapAmount,
		})
		if err != nil {
			stats.FailedSamples++
			log.Debug().Err(err).Int("pool", pool.Index).Bool("sellBase", sellBase).Str("delta", deltas[i].String()).Msg("Trade simulation failed")
			continue
		}

		if res.Profit.Cmp(p.MinProfit) <= 0 || sample.SwapAmount.Cmp(p.MinSwapAmount) <= 0 {
			continue
		}

		out = append(out, types.TradeCandidate{
			Launcher:      p.Launcher,
			PoolIndex:     pool.Index,
			SellBaseToken: sellBase,
			StartDelta:    types.Big(boundary),
			Delta:         types.Big(deltas[i]),
			SqrtPriceX96:  types.Big(sample.SqrtPriceX96),
			TradePrice:    types.Big(dex.SqrtPriceX96ToPrice(sample.SqrtPriceX96, pool.ZeroForOne, pool.Decimals0, pool.Decimals1)),
			DeviationBps:  types.Big(nil),
			SwapAmount:    types.Big(sample.SwapAmount),
			Profit:        types.Big(res.Profit),
			GasUsed:       types.Big(res.GasUsed),
		})
	}

	return out, stats
}

// searchBoundary is phase 1: binary search for the smallest profitable delta.
// It returns zero when no simulated delta was profitable.
func searchBoundary(ctx context.Context, s Simulator, p Params, pool int, sellBase bool, maxDelta *big.Int) (*big.Int, SearchStats) {
	lo := new(big.Int)
	hi := new(big.Int).Set(maxDelta)
	boundary := new(big.Int)
	stats := SearchStats{}

	width := new(big.Int)
	for {
		width.Sub(hi, lo)
		width.Mul(width, resolutionDivisor)
		if width.Cmp(p.BaseUnit) <= 0 || ctx.Err() != nil {
			break
		}
		stats.Iterations++

		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)

		res, err := s.SimulateTrade(ctx, sim.TradeCall{Pool: pool, SellBase: sellBase, Delta: mid, SwapAmount: p.MinSwapAmount})
		if err == nil && res.Profit.Cmp(p.MinProfit) > 0 {
			hi.Set(mid)
			boundary.Set(mid)
			stats.Found = true
			continue
		}
		if err != nil {
			log.Debug().Err(err).Int("pool", pool).Bool("sellBase", sellBase).Str("delta", mid.String()).Msg("Boundary simulation failed")
		}
		lo.Set(mid)
	}

	stats.Boundary = boundary
	return boundary, stats
}

// sampleDeltas is the phase 2 grid: n points from start with
// step = min(1.5 base units, maxDelta/100)
func sampleDeltas(start, maxDelta, baseUnit *big.Int, n int) []*big.Int {
	step := new(big.Int).Mul(baseUnit, maxStepNumerator)
	step.Quo(step, maxStepDivisor)
	if byRange := new(big.Int).Quo(maxDelta, gridDivisor); byRange.Cmp(step) < 0 {
		step = byRange
	}

	out := make([]*big.Int, n)
	cur := new(big.Int).Set(start)
	for i := range out {
		out[i] = new(big.Int).Set(cur)
		cur.Add(cur, step)
	}
	return out
}
