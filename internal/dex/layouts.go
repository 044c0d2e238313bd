package dex

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// Swap event topics
var (
	// Swap(address,address,int256,int256,uint160,uint128,int24), also emitted by Aerodrome Slipstream
	UniswapV3SwapTopic = common.HexToHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67")
	// Swap(address,address,int256,int256,uint160,uint128,int24,uint128,uint128)
	PancakeV3SwapTopic = common.HexToHash("0x19b47279256b2a23a1665c810c8d55a1758940ee09377d4f8d26497a3577dc83")
	// Swap(bytes32,address,int128,int128,uint160,uint128,int24,uint24)
	UniswapV4SwapTopic = common.HexToHash("0x40e9cecb9f5f1f1c5b9c97dec2917b7ee92e57ba5563708daca94dd84ad7112f")
)

var (
	ErrUnknownPoolType = errors.New("unknown pool type")
	ErrShortData       = errors.New("swap data too short")
)

var layouts = map[types.PoolType]abi.Arguments{}

func init() {
	mk := func(kinds ...string) abi.Arguments {
		args := make(abi.Arguments, len(kinds))
		for i, k := range kinds {
			typ, err := abi.NewType(k, "", nil)
			if err != nil {
				panic(fmt.Sprintf("dex: bad abi type %q: %v", k, err))
			}
			args[i] = abi.Argument{Type: typ}
		}
		return args
	}

	v3 := mk("int256", "int256", "uint160", "uint128", "int24")
	layouts[types.PoolTypeUniswapV3] = v3
	layouts[types.PoolTypeAerodrome] = v3
	layouts[types.PoolTypePancakeV3] = mk("int256", "int256", "uint160", "uint128", "int24", "uint128", "uint128")
	layouts[types.PoolTypeUniswapV4] = mk("int128", "int128", "uint160", "uint128", "int24", "uint24")
}

// Layout returns the non-indexed Swap arguments for a pool type
func Layout(poolType types.PoolType) (abi.Arguments, error) {
	args, ok := layouts[poolType]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPoolType, uint8(poolType))
	}
	return args, nil
}

// SwapTopic returns the Swap event topic emitted by a pool type
func SwapTopic(poolType types.PoolType) (common.Hash, error) {
	switch poolType {
	case types.PoolTypeUniswapV3, types.PoolTypeAerodrome:
		return UniswapV3SwapTopic, nil
	case types.PoolTypePancakeV3:
		return PancakeV3SwapTopic, nil
	case types.PoolTypeUniswapV4:
		return UniswapV4SwapTopic, nil
	}
	return common.Hash{}, fmt.Errorf("%w: %d", ErrUnknownPoolType, uint8(poolType))
}

// IsSwapTopic reports whether topic is one of the known Swap topics
func IsSwapTopic(topic common.Hash) bool {
	return topic == UniswapV3SwapTopic || topic == PancakeV3SwapTopic || topic == UniswapV4SwapTopic
}

// DecodeSqrtPriceX96 extracts sqrtPriceX96 from Swap log data
func DecodeSqrtPriceX96(data []byte, poolType types.PoolType) (*big.Int, error) {
	args, err := Layout(poolType)
	if err != nil {
		return nil, err
	}
	if want := len(args) * 32; len(data) < want {
		return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrShortData, poolType, want, len(data))
	}

	values, err := args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s swap: %w", poolType, err)
	}

	sqrtPrice, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s swap: unexpected sqrtPriceX96 type %T", poolType, values[2])
	}
	return sqrtPrice, nil
}
