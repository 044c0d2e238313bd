package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/metrics"
	"github.com/devlongs/mev-searcher/internal/retry"
)

// HeadSubscriber is the part of an RPC client the collector needs
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *ethtypes.Header) (ethereum.Subscription, error)
	Close()
}

// DialFunc opens a fresh subscription client
type DialFunc func(ctx context.Context) (HeadSubscriber, error)

// Collector keeps the HeadStore current from a new-head subscription
type Collector struct {
	dial    DialFunc
	store   *HeadStore
	backoff retry.Backoff
}

// NewCollector creates a collector writing into store
func NewCollector(dial DialFunc, store *HeadStore, backoff retry.Backoff) *Collector {
	return &Collector{
		dial:    dial,
		store:   store,
		backoff: backoff,
	}
}

// Run reconnects until ctx is cancelled
func (c *Collector) Run(ctx context.Context) {
	retry.Forever(ctx, c.backoff, "chain-collector", c.runOnce)
}

func (c *Collector) runOnce(ctx context.Context) error {
	client, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	headers := make(chan *ethtypes.Header, 16)
	sub, err := client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	log.Info().Msg("Subscribed to new heads")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("head subscription closed")
			}
			return err
		case header := <-headers:
			head := HeadFromHeader(header)
			c.store.Replace(head)
			metrics.ChainHead.Set(float64(head.Number))

			log.Debug().
				Uint64("block", head.Number).
				Str("baseFee", head.BaseFee.String()).
				Str("nextBaseFee", head.NextBaseFee.String()).
				Msg("New head")
		}
	}
}
