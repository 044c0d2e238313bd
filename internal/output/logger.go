package output

import (
	"math/big"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// Logger handles engine-level log lines and running statistics
type Logger struct {
	stats *Stats
}

// Stats tracks engine statistics. Counters are safe for concurrent use.
type Stats struct {
	UpdatesAccepted     atomic.Uint64
	UpdatesDropped      atomic.Uint64
	SwapsDecoded        atomic.Uint64
	SearchesRun         atomic.Uint64
	CandidatesPublished atomic.Uint64
	Submissions         atomic.Uint64
	SubmissionFailures  atomic.Uint64
	StartTime           time.Time

	mu          sync.Mutex
	totalProfit *big.Int
}

// NewLogger configures zerolog and returns a stats-keeping logger
func NewLogger(cfg config.LoggingConfig) *Logger {
	// Configure zerolog
	switch cfg.Format {
	case "json":
		// Default JSON output
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05.000",
		})
	}

	// Set log level
	switch cfg.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}

	return &Logger{
		stats: &Stats{
			StartTime:   time.Now(),
			totalProfit: new(big.Int),
		},
	}
}

// LogCandidates logs a freshly published candidate list
func (l *Logger) LogCandidates(block uint64, candidates []types.TradeCandidate, duration time.Duration) {
	l.stats.SearchesRun.Add(1)
	l.stats.CandidatesPublished.Add(uint64(len(candidates)))

	log.Info().
		Uint64("block", block).
		Int("candidates", len(candidates)).
		Dur("duration", duration).
		Msg("Trade candidates published")

	for _, c := range candidates {
		log.Debug().
			Int("pool", c.PoolIndex).
			Bool("sellBase", c.SellBaseToken).
			Str("delta", WeiToEther(types.BigOrZero(c.Delta))).
			Str("swapAmount", WeiToEther(types.BigOrZero(c.SwapAmount))).
			Str("profit", WeiToEther(types.BigOrZero(c.Profit))).
			Msg("Candidate")
	}
}

// LogDecision logs a decision that is about to be dispatched
func (l *Logger) LogDecision(seq uint64, req *types.ExecutionRequest) {
	l.stats.mu.Lock()
	l.stats.totalProfit.Add(l.stats.totalProfit, req.Profit)
	l.stats.mu.Unlock()

	log.Info().
		Uint64("seq", seq).
		Uint64("targetBlock", req.TargetBlock).
		Str("maxProfit", WeiToEther(req.Profit)).
		Str("gasPrice", req.Tx.GasFeeCap.String()).
		Int("calldataBytes", len(req.Tx.Data)).
		Msg("OPPORTUNITY DISPATCHED")
}

// LogSubmission records the outcome of one relay submission
func (l *Logger) LogSubmission(venue types.Venue, nonce uint64, err error) {
	l.stats.Submissions.Add(1)
	if err != nil {
		l.stats.SubmissionFailures.Add(1)
		log.Warn().Err(err).Str("venue", string(venue)).Uint64("nonce", nonce).Msg("Submission failed")
		return
	}
	log.Info().Str("venue", string(venue)).Uint64("nonce", nonce).Msg("Submission accepted")
}

// LogStats logs current statistics
func (l *Logger) LogStats() {
	elapsed := time.Since(l.stats.StartTime)

	l.stats.mu.Lock()
	profit := WeiToEther(l.stats.totalProfit)
	l.stats.mu.Unlock()

	log.Info().
		Uint64("updatesAccepted", l.stats.UpdatesAccepted.Load()).
		Uint64("updatesDropped", l.stats.UpdatesDropped.Load()).
		Uint64("swapsDecoded", l.stats.SwapsDecoded.Load()).
		Uint64("searchesRun", l.stats.SearchesRun.Load()).
		Uint64("candidatesPublished", l.stats.CandidatesPublished.Load()).
		Uint64("submissions", l.stats.Submissions.Load()).
		Uint64("submissionFailures", l.stats.SubmissionFailures.Load()).
		Str("dispatchedProfit", profit+" ETH").
		Dur("uptime", elapsed).
		Msg("Searcher Stats")
}

// LogError logs an error
func (l *Logger) LogError(err error, context string) {
	log.Error().
		Err(err).
		Str("context", context).
		Msg("Error occurred")
}

// GetStats returns current statistics
func (l *Logger) GetStats() *Stats {
	return l.stats
}

// WeiToEther converts wei to an ether string with 6 decimal places
func WeiToEther(wei *big.Int) string {
	if wei == nil {
		return "0.000000"
	}
	return decimal.NewFromBigInt(wei, -18).StringFixed(6)
}
