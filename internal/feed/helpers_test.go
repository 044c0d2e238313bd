package feed

import (
	"time"

	"github.com/devlongs/mev-searcher/internal/retry"
)

func fastBackoff() retry.Backoff {
	return retry.Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}
}
