package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PackSimulateTrade encodes simulateTrade calldata
func PackSimulateTrade(launcher common.Address, pool int, sellBase bool, delta, swapAmount *big.Int) ([]byte, error) {
	return LauncherABI.Pack("simulateTrade", launcher, big.NewInt(int64(pool)), sellBase, delta, swapAmount)
}

// UnpackSimulateTrade decodes (sqrtPriceX96, profit, gasUsed)
func UnpackSimulateTrade(out []byte) (sqrtPrice, profit, gasUsed *big.Int, err error) {
	values, err := LauncherABI.Unpack("simulateTrade", out)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("unpack simulateTrade: %w", err)
	}
	return values[0].(*big.Int), values[1].(*big.Int), values[2].(*big.Int), nil
}

// PackSimulatePriceAndAmount encodes simulatePriceAndAmount calldata
func PackSimulatePriceAndAmount(launcher common.Address, pool int, sellBase bool, delta *big.Int) ([]byte, error) {
	return LauncherABI.Pack("simulatePriceAndAmount", launcher, big.NewInt(int64(pool)), sellBase, delta)
}

// UnpackSimulatePriceAndAmount decodes (sqrtPriceX96, swapAmount)
func UnpackSimulatePriceAndAmount(out []byte) (sqrtPrice, swapAmount *big.Int, err error) {
	values, err := LauncherABI.Unpack("simulatePriceAndAmount", out)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack simulatePriceAndAmount: %w", err)
	}
	return values[0].(*big.Int), values[1].(*big.Int), nil
}
