package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/config"
)

// errClosed stands in for a session that ended without an error
var errClosed = errors.New("connection closed")

// Backoff is the reconnect policy shared by long-lived connections. Each
// Forever loop derives its own stateful backoff from it.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // randomization factor, 0..1
}

// FromConfig builds a Backoff from the reconnect section
func FromConfig(cfg config.ReconnectConfig) Backoff {
	return Backoff{
		Initial:    cfg.Initial,
		Max:        cfg.Max,
		Multiplier: cfg.Multiplier,
		Jitter:     cfg.Jitter,
	}
}

// New returns an exponential backoff that never stops on elapsed time
func (b Backoff) New() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.MaxInterval = b.Max
	eb.Multiplier = b.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	eb.RandomizationFactor = b.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Forever runs fn until ctx is cancelled, backing off between runs.
// The backoff resets once a run has stayed up for at least Max.
func Forever(ctx context.Context, b Backoff, name string, fn func(ctx context.Context) error) {
	policy := b.New()
	attempt := 0

	op := func() error {
		started := time.Now()
		err := fn(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if time.Since(started) >= b.Max {
			policy.Reset()
			attempt = 0
		}
		if err == nil {
			err = errClosed
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		attempt++
		log.Warn().
			Err(err).
			Str("component", name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Connection lost, reconnecting...")
	}

	_ = backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}
