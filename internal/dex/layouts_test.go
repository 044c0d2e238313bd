package dex

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// 1 ETH = 3000 USDC at 18/6 decimals
var fixtureSqrtPrice, _ = new(big.Int).SetString("4339505179874779489431521", 10)

func packSwap(t *testing.T, poolType types.PoolType, sqrtPrice *big.Int) []byte {
	t.Helper()

	args, err := Layout(poolType)
	require.NoError(t, err)

	amount0 := big.NewInt(-1_500_000_000_000_000_000)
	amount1 := big.NewInt(4_500_000_000)
	liquidity := big.NewInt(123_456_789)
	tick := big.NewInt(-197_000)

	var data []byte
	switch poolType {
	case types.PoolTypePancakeV3:
		data, err = args.Pack(amount0, amount1, sqrtPrice, liquidity, tick, big.NewInt(11), big.NewInt(22))
	case types.PoolTypeUniswapV4:
		data, err = args.Pack(amount0, amount1, sqrtPrice, liquidity, tick, big.NewInt(500))
	default:
		data, err = args.Pack(amount0, amount1, sqrtPrice, liquidity, tick)
	}
	require.NoError(t, err)
	return data
}

func TestDecodeSqrtPriceX96_AllLayouts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		poolType types.PoolType
		words    int
	}{
		{types.PoolTypeUniswapV3, 5},
		{types.PoolTypeAerodrome, 5},
		{types.PoolTypePancakeV3, 7},
		{types.PoolTypeUniswapV4, 6},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.poolType.String(), func(t *testing.T) {
			t.Parallel()

			data := packSwap(t, tc.poolType, fixtureSqrtPrice)
			assert.Len(t, data, tc.words*32)

			got, err := DecodeSqrtPriceX96(data, tc.poolType)
			require.NoError(t, err)
			assert.Equal(t, 0, fixtureSqrtPrice.Cmp(got), "got %s", got)
		})
	}
}

func TestDecodeSqrtPriceX96_ShortData(t *testing.T) {
	t.Parallel()

	data := packSwap(t, types.PoolTypeUniswapV3, fixtureSqrtPrice)
	_, err := DecodeSqrtPriceX96(data, types.PoolTypePancakeV3)
	assert.ErrorIs(t, err, ErrShortData)
}

func TestDecodeSqrtPriceX96_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := DecodeSqrtPriceX96(make([]byte, 256), types.PoolType(9))
	assert.ErrorIs(t, err, ErrUnknownPoolType)

	_, err = types.ParsePoolType(4)
	assert.Error(t, err)

	pt, err := types.ParsePoolType(3)
	require.NoError(t, err)
	assert.Equal(t, types.PoolTypeUniswapV4, pt)
}

func TestSwapTopic(t *testing.T) {
	t.Parallel()

	topic, err := SwapTopic(types.PoolTypeAerodrome)
	require.NoError(t, err)
	assert.Equal(t, UniswapV3SwapTopic, topic)
	assert.True(t, IsSwapTopic(PancakeV3SwapTopic))
	assert.False(t, IsSwapTopic(common.Hash{}))
}
