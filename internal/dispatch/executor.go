package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/devlongs/mev-searcher/internal/metrics"
	"github.com/devlongs/mev-searcher/internal/output"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// NonceSource reports the next pending nonce of an account
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// TxSigner signs transactions for one account
type TxSigner interface {
	Address() common.Address
	SignTx(tx *ethtypes.DynamicFeeTx) (*ethtypes.Transaction, error)
}

// Executor assigns nonces and fans signed transactions out to relays
type Executor struct {
	ctx     context.Context
	signer  TxSigner
	relays  map[types.Venue]Relay
	logger  *output.Logger
	group   *errgroup.Group
	timeout time.Duration

	mu    sync.Mutex
	nonce uint64
}

// NewExecutor seeds the nonce counter from the pending nonce of the signer.
// Submissions run on ctx and at most workers run at once.
func NewExecutor(ctx context.Context, nonces NonceSource, signer TxSigner, relays []Relay, workers int, timeout time.Duration, logger *output.Logger) (*Executor, error) {
	nonce, err := nonces.PendingNonceAt(ctx, signer.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to read pending nonce: %w", err)
	}

	byVenue := make(map[types.Venue]Relay, len(relays))
	for _, r := range relays {
		byVenue[r.Venue()] = r
	}

	if workers < 1 {
		workers = 1
	}
	g := &errgroup.Group{}
	g.SetLimit(workers)

	log.Info().
		Str("account", signer.Address().Hex()).
		Uint64("nonce", nonce).
		Int("relays", len(byVenue)).
		Msg("Executor ready")

	return &Executor{
		ctx:     ctx,
		signer:  signer,
		relays:  byVenue,
		logger:  logger,
		group:   g,
		timeout: timeout,
		nonce:   nonce,
	}, nil
}

// Submit signs req with the next nonce and starts one submission per venue.
// It blocks while the worker pool is full and returns the assigned nonce.
func (e *Executor) Submit(req *types.ExecutionRequest) (uint64, error) {
	e.mu.Lock()
	unsigned := *req.Tx
	unsigned.Nonce = e.nonce
	tx, err := e.signer.SignTx(&unsigned)
	if err != nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("sign transaction: %w", err)
	}
	nonce := e.nonce
	e.nonce++
	e.mu.Unlock()

	for _, venue := range req.Venues {
		relay, ok := e.relays[venue]
		if !ok {
			log.Warn().Str("venue", string(venue)).Msg("No relay configured for venue")
			continue
		}

		e.group.Go(func() error {
			ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
			defer cancel()

			err := relay.Submit(ctx, tx, req)
			metrics.Submissions.WithLabelValues(string(relay.Venue()), metrics.Outcome(err)).Inc()
			e.logger.LogSubmission(relay.Venue(), nonce, err)
			return nil
		})
	}
	return nonce, nil
}

// Wait blocks until every started submission has finished
func (e *Executor) Wait() {
	_ = e.group.Wait()
}

// Nonce returns the next nonce to be assigned
func (e *Executor) Nonce() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonce
}
