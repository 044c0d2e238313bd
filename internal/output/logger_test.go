package output

import (
	"errors"
	"math/big"
	"testing"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"

	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/pkg/types"
)

func TestWeiToEther(t *testing.T) {
	t.Parallel()

	oneEther, _ := new(big.Int).SetString("1000000000000000000", 10)
	tests := []struct {
		wei  *big.Int
		want string
	}{
		{nil, "0.000000"},
		{big.NewInt(0), "0.000000"},
		{oneEther, "1.000000"},
		{big.NewInt(1e15), "0.001000"},
		{big.NewInt(1234567890123456789), "1.234568"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WeiToEther(tt.wei))
	}
}

func TestLogger_CountsSubmissions(t *testing.T) {
	lgr := NewLogger(config.LoggingConfig{Level: "error", Format: "json"})

	lgr.LogSubmission(types.VenueSequencer, 1, nil)
	lgr.LogSubmission(types.VenueBundle, 1, errors.New("rejected"))
	lgr.LogSubmission(types.VenueSequencer, 2, nil)

	stats := lgr.GetStats()
	assert.Equal(t, uint64(3), stats.Submissions.Load())
	assert.Equal(t, uint64(1), stats.SubmissionFailures.Load())
}

func TestLogger_AccumulatesDispatchedProfit(t *testing.T) {
	lgr := NewLogger(config.LoggingConfig{Level: "error", Format: "json"})

	for _, p := range []int64{1e15, 2e15} {
		lgr.LogDecision(1, &types.ExecutionRequest{
			Tx:     &ethtypes.DynamicFeeTx{GasFeeCap: big.NewInt(1)},
			Profit: big.NewInt(p),
		})
	}

	stats := lgr.GetStats()
	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Equal(t, big.NewInt(3e15), stats.totalProfit)
}
