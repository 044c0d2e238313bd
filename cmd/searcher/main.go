package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/arbitrage"
	"github.com/devlongs/mev-searcher/internal/chain"
	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/internal/contracts"
	"github.com/devlongs/mev-searcher/internal/decoder"
	"github.com/devlongs/mev-searcher/internal/dispatch"
	"github.com/devlongs/mev-searcher/internal/distribution"
	"github.com/devlongs/mev-searcher/internal/eth"
	"github.com/devlongs/mev-searcher/internal/feed"
	"github.com/devlongs/mev-searcher/internal/metrics"
	"github.com/devlongs/mev-searcher/internal/optimizer"
	"github.com/devlongs/mev-searcher/internal/output"
	"github.com/devlongs/mev-searcher/internal/refprice"
	"github.com/devlongs/mev-searcher/internal/registry"
	"github.com/devlongs/mev-searcher/internal/retry"
	"github.com/devlongs/mev-searcher/internal/sim"
	"github.com/devlongs/mev-searcher/internal/state"
	"github.com/devlongs/mev-searcher/pkg/types"
)

const (
	inclusionTimeout  = 30 * time.Second
	submissionTimeout = time.Minute
)

// market is one launcher with its registered pools
type market struct {
	cfg      config.MarketConfig
	launcher *contracts.Launcher
	pools    []types.Pool
	ref      refprice.Ref
}

// Searcher wires the engine for one process mode
type Searcher struct {
	cfg     *config.Config
	client  *eth.Client
	logger  *output.Logger
	heads   *chain.HeadStore
	markets []*market
	backoff retry.Backoff

	wg      sync.WaitGroup
	closers []func()
}

// NewSearcher connects to the chain and loads every market's pool registry
func NewSearcher(ctx context.Context, cfg *config.Config) (*Searcher, error) {
	lgr := output.NewLogger(cfg.Logging)

	client, err := eth.NewClient(cfg.RPC, cfg.Engine.ChainID)
	if err != nil {
		return nil, err
	}

	markets := make([]*market, 0, len(cfg.Markets))
	for _, mc := range cfg.Markets {
		m, err := loadMarket(ctx, client, mc)
		if err != nil {
			client.Close()
			return nil, err
		}
		markets = append(markets, m)
	}

	// Seed the head so the first decisions do not wait for the subscription
	heads := chain.NewHeadStore()
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		client.Close()
		return nil, err
	}
	heads.Replace(chain.HeadFromHeader(header))

	return &Searcher{
		cfg:     cfg,
		client:  client,
		logger:  lgr,
		heads:   heads,
		markets: markets,
		backoff: retry.FromConfig(cfg.Reconnect),
	}, nil
}

func loadMarket(ctx context.Context, client *eth.Client, cfg config.MarketConfig) (*market, error) {
	ref, err := refprice.ParseRef(cfg.Reference)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", cfg.Name, err)
	}

	launcher := contracts.NewLauncher(cfg.Launcher, client)
	pools, err := registry.Load(ctx, launcher, cfg)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", cfg.Name, err)
	}

	log.Info().
		Str("market", cfg.Name).
		Str("launcher", cfg.Launcher.Hex()).
		Str("reference", ref.String()).
		Int("pools", len(pools)).
		Msg("Pool registry loaded")

	return &market{cfg: cfg, launcher: launcher, pools: pools, ref: ref}, nil
}

// Start runs the configured mode until ctx is cancelled
func (s *Searcher) Start(ctx context.Context) error {
	log.Info().Str("mode", s.cfg.Engine.Mode).Msg("Starting searcher...")

	s.spawn(func() {
		if err := metrics.Serve(ctx, s.cfg.Metrics.Addr); err != nil {
			s.logger.LogError(err, "serving metrics")
		}
	})

	collector := chain.NewCollector(s.dialHeads, s.heads, s.backoff)
	s.spawn(func() { collector.Run(ctx) })

	var err error
	switch s.cfg.Engine.Mode {
	case config.ModeOptimizer:
		err = s.startOptimizer(ctx)
	case config.ModeExecutor:
		err = s.startExecutor(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", s.cfg.Engine.Mode)
	}
	if err != nil {
		return err
	}

	// Stats ticker (every 30 seconds)
	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down searcher...")
			s.wg.Wait()
			return ctx.Err()
		case <-statsTicker.C:
			s.logger.LogStats()
			head := s.heads.Snapshot()
			log.Info().Uint64("block", head.Number).Str("baseFee", head.BaseFee.String()).Msg("Chain head")
		}
	}
}

func (s *Searcher) dialHeads(ctx context.Context) (chain.HeadSubscriber, error) {
	c, err := eth.DialHeads(ctx, s.cfg.RPC.WSUrl)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// startOptimizer runs the per-block search and serves its candidates
func (s *Searcher) startOptimizer(ctx context.Context) error {
	cfg := s.cfg

	markets := make([]*optimizer.Market, 0, len(s.markets))
	pools := 0
	for _, m := range s.markets {
		m := m
		overrides, err := sim.BuildOverrides(m.cfg.Simulator, m.cfg.Overrides)
		if err != nil {
			return fmt.Errorf("market %s: failed to build balance overrides: %w", m.cfg.Name, err)
		}

		params := optimizer.Params{
			Launcher:      m.cfg.Launcher,
			MinProfit:     m.cfg.MinProfit(),
			MinSwapAmount: m.cfg.MinSwapAmount(),
			BaseUnit:      m.cfg.BaseUnit(),
			Samples:       cfg.Optimizer.Samples,
		}
		contractsCfg := m.cfg.Contracts(cfg.Contracts.From)
		markets = append(markets, &optimizer.Market{
			Name:     m.cfg.Name,
			Balances: m.launcher,
			NewFork: func(block *big.Int) optimizer.Simulator {
				return sim.NewFork(s.client, contractsCfg, cfg.Optimizer.Gas, block, overrides)
			},
			Optimizer: optimizer.New(m.pools, params, cfg.Optimizer.Workers),
		})
		pools += len(m.pools)
	}

	broadcaster := distribution.NewBroadcaster()
	s.closers = append(s.closers, broadcaster.Close)
	if cfg.Distribution.NATSURL != "" {
		sink, err := distribution.NewNATSSink(cfg.Distribution.NATSURL, cfg.Distribution.NATSSubject)
		if err != nil {
			return err
		}
		broadcaster.Add(sink)
		s.closers = append(s.closers, func() { _ = sink.Close() })
	}

	svc := optimizer.NewService(s.heads, markets, broadcaster, s.logger,
		cfg.Optimizer.BalanceRefreshBlocks, cfg.Optimizer.PollInterval)

	server := distribution.NewServer(broadcaster, cfg.Distribution.WriteTimeout)
	s.spawn(func() {
		if err := server.Run(ctx, cfg.Distribution.ListenAddr); err != nil {
			s.logger.LogError(err, "serving trade distribution")
		}
	})
	s.spawn(func() { _ = svc.Run(ctx) })

	log.Info().
		Int("markets", len(markets)).
		Int("pools", pools).
		Int("workers", cfg.Optimizer.Workers).
		Str("listen", cfg.Distribution.ListenAddr).
		Msg("Optimizer initialized")
	return nil
}

// startExecutor follows the feed and dispatches opportunities for every
// market
func (s *Searcher) startExecutor(ctx context.Context) error {
	cfg := s.cfg

	book := distribution.NewBook()
	subscriber := distribution.NewSubscriber(cfg.Distribution.URL, cfg.Feed.HandshakeTimeout, book, s.backoff)

	var refs *refprice.Table
	var symbols []string
	for _, m := range s.markets {
		symbols = append(symbols, m.ref.Symbols()...)
	}
	if cfg.RefPrice.URL != "" && len(symbols) > 0 {
		url, err := refprice.StreamURL(cfg.RefPrice.URL, symbols)
		if err != nil {
			return err
		}
		refs = refprice.NewTable()
		stream := refprice.NewStream(url, refs, s.backoff)
		s.spawn(func() { stream.Run(ctx) })
	}

	var submitter dispatch.Submitter
	if cfg.Engine.ExecutionEnabled {
		executor, err := s.newExecutor(ctx)
		if err != nil {
			return err
		}
		submitter = executor
		s.closers = append(s.closers, executor.Wait)
	} else {
		log.Warn().Msg("Execution disabled, decisions will only be logged")
	}

	decoders := make([]*decoder.Decoder, 0, len(s.markets))
	cycles := make([]*dispatch.Cycle, 0, len(s.markets))
	for _, m := range s.markets {
		prices := state.NewPriceTable(len(m.pools))
		decoders = append(decoders, decoder.NewDecoder(m.pools, prices))

		builder, err := dispatch.NewBuilder(m.pools, cfg.Engine.ChainID, m.cfg.Launcher, cfg.Dispatch)
		if err != nil {
			return err
		}
		cycle := &dispatch.Cycle{
			Market:    m.cfg.Name,
			Prices:    prices,
			Book:      book,
			Heads:     s.heads,
			Ref:       m.ref,
			Detector:  arbitrage.NewDetector(m.cfg.Launcher, m.pools, cfg.Detector.MaxDeviationBps, cfg.Engine.TestMode),
			Builder:   builder,
			Submitter: submitter,
			Logger:    s.logger,
		}
		if refs != nil {
			cycle.Refs = refs
		}
		cycles = append(cycles, cycle)
	}

	feedPool := feed.NewPool(cfg.Feed.URL, cfg.Feed.Connections, cfg.Feed.HandshakeTimeout, cfg.Feed.BufferSize, s.backoff)
	pipeline := decoder.NewPipeline(s.heads, s.logger.GetStats(), decoders...)
	handle := func(ctx context.Context, seq uint64) {
		for _, c := range cycles {
			c.Handle(ctx, seq)
		}
	}

	s.spawn(func() { feedPool.Run(ctx) })
	s.spawn(func() { subscriber.Run(ctx) })
	s.spawn(func() { pipeline.Run(ctx, feedPool.Updates(), handle) })

	log.Info().
		Int("markets", len(cycles)).
		Int("feedConnections", cfg.Feed.Connections).
		Bool("testMode", cfg.Engine.TestMode).
		Strs("venues", cfg.Dispatch.Venues).
		Msg("Executor initialized")
	return nil
}

func (s *Searcher) newExecutor(ctx context.Context) (*dispatch.Executor, error) {
	cfg := s.cfg

	signer, err := dispatch.KeySignerFromEnv(cfg.Engine.ChainID)
	if err != nil {
		return nil, err
	}

	var relays []dispatch.Relay
	for _, venue := range cfg.Dispatch.Venues {
		switch types.Venue(venue) {
		case types.VenueSequencer:
			url := cfg.Dispatch.SequencerURL
			if url == "" {
				url = cfg.RPC.URL
			}
			backend, err := ethclient.DialContext(ctx, url)
			if err != nil {
				return nil, fmt.Errorf("failed to dial sequencer: %w", err)
			}
			s.closers = append(s.closers, backend.Close)
			relays = append(relays, dispatch.NewSequencerRelay(backend, inclusionTimeout))

		case types.VenueBundle:
			relay, err := dispatch.NewBundleRelay(ctx, cfg.Dispatch.BundleURL, cfg.Dispatch.BundleMethod, signer)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, relay.Close)
			relays = append(relays, relay)
		}
	}

	return dispatch.NewExecutor(ctx, s.client, signer, relays, cfg.Dispatch.Workers, submissionTimeout, s.logger)
}

func (s *Searcher) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Close releases connections in reverse order of creation
func (s *Searcher) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.client.Close()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	searcher, err := NewSearcher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create searcher")
	}
	defer searcher.Close()

	if err := searcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Searcher error")
	}

	log.Info().Msg("Searcher stopped")
}
