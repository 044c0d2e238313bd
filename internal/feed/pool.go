package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/metrics"
	"github.com/devlongs/mev-searcher/internal/retry"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// Pool keeps several redundant feed connections alive. All of them fan into
// one channel; duplicates are removed downstream by the Sequencer.
type Pool struct {
	url              string
	size             int
	handshakeTimeout time.Duration
	backoff          retry.Backoff

	updates   chan *types.PartialBlockUpdate
	health    chan HealthEvent
	connected atomic.Int32
}

// NewPool creates a pool of size connections to url
func NewPool(url string, size int, handshakeTimeout time.Duration, bufferSize int, backoff retry.Backoff) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		url:              url,
		size:             size,
		handshakeTimeout: handshakeTimeout,
		backoff:          backoff,
		updates:          make(chan *types.PartialBlockUpdate, bufferSize),
		health:           make(chan HealthEvent, size*2),
	}
}

// Updates returns the merged update stream
func (p *Pool) Updates() <-chan *types.PartialBlockUpdate {
	return p.updates
}

// Connected returns the number of currently open connections
func (p *Pool) Connected() int {
	return int(p.connected.Load())
}

// Run starts all clients and re-dials each one after it reports a failure.
// It blocks until ctx is cancelled and every client has stopped.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	clients := make([]*Client, p.size)
	policies := make([]*backoff.ExponentialBackOff, p.size)

	start := func(id int, delay time.Duration) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			_ = clients[id].Run(ctx)
		}()
	}

	for i := range clients {
		clients[i] = NewClient(i, p.url, p.handshakeTimeout, p.updates, p.health)
		policies[i] = p.backoff.New()
		start(i, 0)
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			p.connected.Store(0)
			metrics.FeedConnections.Set(0)
			return

		case ev := <-p.health:
			if ev.Up {
				metrics.FeedConnections.Set(float64(p.connected.Add(1)))
				continue
			}

			if ev.Uptime > 0 {
				metrics.FeedConnections.Set(float64(p.connected.Add(-1)))
			}
			policy := policies[ev.ClientID]
			if ev.Uptime >= p.backoff.Max {
				policy.Reset()
			}
			delay := policy.NextBackOff()

			log.Warn().
				Err(ev.Err).
				Int("clientID", ev.ClientID).
				Int("connected", p.Connected()).
				Dur("retryIn", delay).
				Msg("Feed connection lost")

			start(ev.ClientID, delay)
		}
	}
}
