package optimizer

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/devlongs/mev-searcher/internal/metrics"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// Optimizer fans searches out over every (pool, direction) pair
type Optimizer struct {
	pools   []types.Pool
	params  Params
	workers int
}

// New creates an optimizer over the registered pools
func New(pools []types.Pool, params Params, workers int) *Optimizer {
	if workers < 1 {
		workers = 1
	}
	return &Optimizer{
		pools:   pools,
		params:  params,
		workers: workers,
	}
}

// Run searches every pool in both directions against s and returns the
// merged candidate list, ordered by pool, direction and delta. maxDeltas is
// indexed by pool; pools without a positive bound are skipped.
func (o *Optimizer) Run(ctx context.Context, s Simulator, maxDeltas []*big.Int) []types.TradeCandidate {
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	type job struct {
		pool     types.Pool
		sellBase bool
		maxDelta *big.Int
	}

	var jobs []job
	for _, pool := range o.pools {
		if pool.Index >= len(maxDeltas) || maxDeltas[pool.Index] == nil || maxDeltas[pool.Index].Sign() <= 0 {
			continue
		}
		for _, sellBase := range []bool{true, false} {
			jobs = append(jobs, job{pool: pool, sellBase: sellBase, maxDelta: maxDeltas[pool.Index]})
		}
	}

	results := make([][]types.TradeCandidate, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			candidates, stats := Search(gctx, s, o.params, j.pool, j.sellBase, j.maxDelta)
			results[i] = candidates

			log.Debug().
				Int("pool", j.pool.Index).
				Bool("sellBase", j.sellBase).
				Int("iterations", stats.Iterations).
				Bool("found", stats.Found).
				Str("boundary", stats.Boundary.String()).
				Int("failedSamples", stats.FailedSamples).
				Int("candidates", len(candidates)).
				Msg("Search finished")
			return nil
		})
	}
	_ = g.Wait()

	var merged []types.TradeCandidate
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged
}

// MaxDeltas derives per-pool search bounds from base balances
func MaxDeltas(baseBalances []*big.Int) []*big.Int {
	out := make([]*big.Int, len(baseBalances))
	for i, b := range baseBalances {
		out[i] = new(big.Int).Quo(b, big.NewInt(3))
	}
	return out
}
