package dispatch

import (
	"context"
	"math/big"

	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/distribution"
	"github.com/devlongs/mev-searcher/internal/output"
	"github.com/devlongs/mev-searcher/internal/refprice"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// PriceSource reads the live pool prices
type PriceSource interface {
	Snapshot() []*big.Int
}

// BookSource reads the latest candidate groups
type BookSource interface {
	Snapshot() distribution.Groups
}

// HeadSource reads the current chain head
type HeadSource interface {
	Snapshot() types.ChainHead
}

// Evaluator selects bid and ask boundaries
type Evaluator interface {
	Evaluate(prices []*big.Int, groups distribution.Groups, ref *big.Int) types.Decision
}

// Submitter hands a request to the relays
type Submitter interface {
	Submit(req *types.ExecutionRequest) (uint64, error)
}

// Cycle runs detection and dispatch for one market after every accepted
// feed update
type Cycle struct {
	Market    string
	Prices    PriceSource
	Book      BookSource
	Heads     HeadSource
	Refs      refprice.Getter // nil disables the deviation filter
	Ref       refprice.Ref    // zero disables the deviation filter
	Detector  Evaluator
	Builder   *Builder
	Submitter Submitter // nil runs dry
	Logger    *output.Logger
}

// Handle evaluates the current state for the update with sequence seq
func (c *Cycle) Handle(_ context.Context, seq uint64) {
	var ref *big.Int
	if c.Refs != nil && !c.Ref.IsZero() {
		p, ok := c.Ref.Resolve(c.Refs)
		if !ok {
			log.Debug().Uint64("seq", seq).Str("market", c.Market).Str("ref", c.Ref.String()).Msg("Reference price not yet available")
			return
		}
		ref = p
	}

	decision := c.Detector.Evaluate(c.Prices.Snapshot(), c.Book.Snapshot(), ref)
	if decision.MaxProfit == nil || decision.MaxProfit.Sign() <= 0 {
		return
	}

	req := c.Builder.Build(decision, c.Heads.Snapshot())
	c.Logger.LogDecision(seq, req)

	if c.Submitter == nil {
		log.Info().Uint64("seq", seq).Str("market", c.Market).Msg("Execution disabled, request not submitted")
		return
	}
	nonce, err := c.Submitter.Submit(req)
	if err != nil {
		c.Logger.LogError(err, "submitting execution request")
		return
	}
	log.Debug().Uint64("seq", seq).Uint64("nonce", nonce).Msg("Request handed to relays")
}
