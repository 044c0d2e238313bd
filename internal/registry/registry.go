package registry

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// Source lists pools registered on chain
type Source interface {
	PoolCount(ctx context.Context) (uint64, error)
	PoolInfo(ctx context.Context, index uint64) (common.Address, uint8, error)
}

// Load reads every pool registered on the market's launcher and applies the
// market's token metadata. Pools with an unknown type keep their index so
// calldata stays aligned, but are never matched by the decoder.
func Load(ctx context.Context, src Source, market config.MarketConfig) ([]types.Pool, error) {
	count, err := src.PoolCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool count: %w", err)
	}

	pools := make([]types.Pool, 0, count)
	for i := uint64(0); i < count; i++ {
		addr, rawType, err := src.PoolInfo(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("failed to read pool %d: %w", i, err)
		}

		poolType, err := types.ParsePoolType(rawType)
		if err != nil {
			log.Error().Err(err).Uint64("pool", i).Str("address", addr.Hex()).Msg("Pool has unsupported type, it will not be tracked")
			poolType = types.PoolType(rawType)
		}

		pools = append(pools, types.Pool{
			Index:      int(i),
			Address:    addr,
			Type:       poolType,
			Decimals0:  market.Decimals0,
			Decimals1:  market.Decimals1,
			ZeroForOne: market.ZeroForOne,
		})

		log.Info().
			Str("market", market.Name).
			Int("pool", int(i)).
			Str("address", addr.Hex()).
			Str("type", poolType.String()).
			Msg("Registered pool")
	}

	return pools, nil
}
