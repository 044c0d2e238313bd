package optimizer

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/metrics"
	"github.com/devlongs/mev-searcher/internal/output"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// HeadReader exposes the latest confirmed head
type HeadReader interface {
	Snapshot() types.ChainHead
}

// BalanceSource reads per-pool base balances
type BalanceSource interface {
	BaseBalances(ctx context.Context) ([]*big.Int, error)
}

// Publisher fans a candidate list out to subscribers
type Publisher interface {
	Publish(candidates []types.TradeCandidate) int
}

// ForkFactory returns a simulator pinned to block
type ForkFactory func(block *big.Int) Simulator

// Market is one launcher's search: its pools and thresholds live in the
// Optimizer, its simulator behind NewFork
type Market struct {
	Name      string
	Balances  BalanceSource
	NewFork   ForkFactory
	Optimizer *Optimizer

	lastRefresh uint64
	maxDeltas   []*big.Int
}

// Service runs one optimizer round per new confirmed block over every market
// and publishes the merged candidate list
type Service struct {
	heads        HeadReader
	markets      []*Market
	publisher    Publisher
	logger       *output.Logger
	refreshEvery uint64
	pollInterval time.Duration

	lastBlock uint64
}

// NewService wires the optimizer loop
func NewService(heads HeadReader, markets []*Market, pub Publisher, logger *output.Logger, refreshEvery uint64, pollInterval time.Duration) *Service {
	return &Service{
		heads:        heads,
		markets:      markets,
		publisher:    pub,
		logger:       logger,
		refreshEvery: refreshEvery,
		pollInterval: pollInterval,
	}
}

// Run polls for new heads until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			head := s.heads.Snapshot()
			if head.Number == 0 || head.Number == s.lastBlock {
				continue
			}
			s.Step(ctx, head)
		}
	}
}

// Step runs one round for head and publishes the result. A market whose
// balances have never been read contributes nothing.
func (s *Service) Step(ctx context.Context, head types.ChainHead) {
	s.lastBlock = head.Number
	block := new(big.Int).SetUint64(head.Number)

	start := time.Now()
	var candidates []types.TradeCandidate
	for _, m := range s.markets {
		s.refresh(ctx, m, head.Number)
		if m.maxDeltas == nil {
			continue
		}
		found := m.Optimizer.Run(ctx, m.NewFork(block), m.maxDeltas)
		if ctx.Err() != nil {
			return
		}
		log.Debug().Str("market", m.Name).Int("candidates", len(found)).Msg("Market searched")
		candidates = append(candidates, found...)
	}

	delivered := s.publisher.Publish(candidates)
	metrics.Candidates.Set(float64(len(candidates)))
	s.logger.LogCandidates(head.Number, candidates, time.Since(start))
	log.Debug().Int("subscribers", delivered).Msg("Candidates delivered")
}

func (s *Service) refresh(ctx context.Context, m *Market, block uint64) {
	if m.maxDeltas != nil && block <= m.lastRefresh+s.refreshEvery {
		return
	}
	balances, err := m.Balances.BaseBalances(ctx)
	if err != nil {
		s.logger.LogError(err, "refreshing base balances of "+m.Name)
		return
	}
	m.maxDeltas = MaxDeltas(balances)
	m.lastRefresh = block
	log.Info().Str("market", m.Name).Uint64("block", block).Int("pools", len(balances)).Msg("Base balances refreshed")
}
