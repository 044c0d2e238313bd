package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/internal/config"
)

func TestBackoff_GrowsToMax(t *testing.T) {
	t.Parallel()

	eb := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}.New()

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, eb.NextBackOff(), "attempt %d", i)
	}
}

func TestBackoff_NeverStops(t *testing.T) {
	t.Parallel()

	eb := Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}.New()
	assert.Zero(t, eb.MaxElapsedTime)
	for i := 0; i < 1000; i++ {
		require.NotEqual(t, backoff.Stop, eb.NextBackOff())
	}
}

func TestBackoff_FlatMultiplier(t *testing.T) {
	t.Parallel()

	eb := Backoff{Initial: 50 * time.Millisecond, Max: time.Second, Multiplier: 0.5}.New()
	for i := 0; i < 7; i++ {
		assert.Equal(t, 50*time.Millisecond, eb.NextBackOff())
	}
}

func TestBackoff_JitterWithinFactor(t *testing.T) {
	t.Parallel()

	eb := Backoff{Initial: 100 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2, Jitter: 0.2}.New()
	for i := 0; i < 50; i++ {
		d := eb.NextBackOff()
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	b := FromConfig(config.ReconnectConfig{Initial: time.Second, Max: time.Minute, Multiplier: 3, Jitter: 0.1})
	assert.Equal(t, Backoff{Initial: time.Second, Max: time.Minute, Multiplier: 3, Jitter: 0.1}, b)
}

func TestForever_RetriesUntilCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	b := Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}

	done := make(chan struct{})
	go func() {
		defer close(done)
		Forever(ctx, b, "test", func(ctx context.Context) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return errors.New("boom")
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Forever did not return after cancel")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestForever_RestartsCleanExit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	b := Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}

	done := make(chan struct{})
	go func() {
		defer close(done)
		Forever(ctx, b, "test", func(ctx context.Context) error {
			if calls.Add(1) == 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Forever did not return after cancel")
	}
	assert.Equal(t, int32(2), calls.Load())
}
