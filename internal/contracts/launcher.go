package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const launcherABI = `[
{"type":"function","name":"getPoolCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getPoolInfo","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"pool","type":"address"},{"name":"poolType","type":"uint8"}]},
{"type":"function","name":"getBaseBalanceList","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
{"type":"function","name":"simulateTrade","stateMutability":"nonpayable","inputs":[{"name":"launcher","type":"address"},{"name":"poolIndex","type":"uint256"},{"name":"sellBaseToken","type":"bool"},{"name":"delta","type":"int256"},{"name":"swapAmount","type":"uint256"}],"outputs":[{"name":"sqrtPriceX96","type":"uint256"},{"name":"profit","type":"uint256"},{"name":"gasUsed","type":"uint256"}]},
{"type":"function","name":"simulatePriceAndAmount","stateMutability":"nonpayable","inputs":[{"name":"launcher","type":"address"},{"name":"poolIndex","type":"uint256"},{"name":"sellBaseToken","type":"bool"},{"name":"delta","type":"int256"}],"outputs":[{"name":"sqrtPriceX96","type":"uint256"},{"name":"swapAmount","type":"uint256"}]}
]`

// LauncherABI is the parsed launcher/simulator interface
var LauncherABI = mustParse(launcherABI)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("contracts: parse abi: %v", err))
	}
	return parsed
}

// Caller is the read-only call surface of the RPC client
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Launcher reads the on-chain pool registry
type Launcher struct {
	address common.Address
	caller  Caller
}

// NewLauncher binds the launcher at address
func NewLauncher(address common.Address, caller Caller) *Launcher {
	return &Launcher{address: address, caller: caller}
}

// Address returns the launcher address
func (l *Launcher) Address() common.Address {
	return l.address
}

func (l *Launcher) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := LauncherABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := l.address
	out, err := l.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := LauncherABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// PoolCount returns the number of registered pools
func (l *Launcher) PoolCount(ctx context.Context) (uint64, error) {
	values, err := l.call(ctx, "getPoolCount")
	if err != nil {
		return 0, err
	}
	return values[0].(*big.Int).Uint64(), nil
}

// PoolInfo returns the pool address and raw pool type discriminant
func (l *Launcher) PoolInfo(ctx context.Context, index uint64) (common.Address, uint8, error) {
	values, err := l.call(ctx, "getPoolInfo", new(big.Int).SetUint64(index))
	if err != nil {
		return common.Address{}, 0, err
	}
	return values[0].(common.Address), values[1].(uint8), nil
}

// BaseBalances returns the base-asset balance backing each pool
func (l *Launcher) BaseBalances(ctx context.Context) ([]*big.Int, error) {
	values, err := l.call(ctx, "getBaseBalanceList")
	if err != nil {
		return nil, err
	}
	return values[0].([]*big.Int), nil
}
