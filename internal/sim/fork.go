package sim

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"

	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/internal/contracts"
	"github.com/devlongs/mev-searcher/internal/metrics"
)

// TradeCall asks the simulator to execute a full trade
type TradeCall struct {
	Pool       int
	SellBase   bool
	Delta      *big.Int
	SwapAmount *big.Int
}

// TradeResult is the outcome of a simulated trade
type TradeResult struct {
	SqrtPriceX96 *big.Int
	Profit       *big.Int
	GasUsed      *big.Int
}

// PriceCall asks the simulator for the post-perturbation price and swap size
type PriceCall struct {
	Pool     int
	SellBase bool
	Delta    *big.Int
}

// PriceResult is the outcome of a price-and-amount simulation
type PriceResult struct {
	SqrtPriceX96 *big.Int
	SwapAmount   *big.Int
}

// OverrideCaller executes eth_call with state overrides
type OverrideCaller interface {
	CallContractWithOverrides(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int, overrides map[common.Address]gethclient.OverrideAccount) ([]byte, error)
}

// Fork simulates launcher calls against state pinned to one block
type Fork struct {
	caller    OverrideCaller
	from      common.Address
	launcher  common.Address
	simulator common.Address
	block     *big.Int
	gas       uint64
	overrides map[common.Address]gethclient.OverrideAccount
}

// NewFork pins a simulator to block. The overrides map is shared read-only.
func NewFork(caller OverrideCaller, contractsCfg config.ContractsConfig, gas uint64, block *big.Int, overrides map[common.Address]gethclient.OverrideAccount) *Fork {
	return &Fork{
		caller:    caller,
		from:      contractsCfg.From,
		launcher:  contractsCfg.Launcher,
		simulator: contractsCfg.Simulator,
		block:     new(big.Int).Set(block),
		gas:       gas,
		overrides: overrides,
	}
}

// Block returns the pinned block number
func (f *Fork) Block() *big.Int {
	return new(big.Int).Set(f.block)
}

func (f *Fork) call(ctx context.Context, method string, data []byte) ([]byte, error) {
	to := f.simulator
	out, err := f.caller.CallContractWithOverrides(ctx, ethereum.CallMsg{
		From: f.from,
		To:   &to,
		Gas:  f.gas,
		Data: data,
	}, f.block, f.overrides)
	metrics.Simulations.WithLabelValues(method, metrics.Outcome(err)).Inc()
	return out, err
}

// SimulateTrade runs simulateTrade on the fork
func (f *Fork) SimulateTrade(ctx context.Context, c TradeCall) (TradeResult, error) {
	data, err := contracts.PackSimulateTrade(f.launcher, c.Pool, c.SellBase, c.Delta, c.SwapAmount)
	if err != nil {
		return TradeResult{}, fmt.Errorf("pack simulateTrade: %w", err)
	}
	out, err := f.call(ctx, "simulateTrade", data)
	if err != nil {
		return TradeResult{}, err
	}
	sqrt, profit, gas, err := contracts.UnpackSimulateTrade(out)
	if err != nil {
		return TradeResult{}, err
	}
	return TradeResult{SqrtPriceX96: sqrt, Profit: profit, GasUsed: gas}, nil
}

// SimulatePriceAndAmount runs simulatePriceAndAmount on the fork
func (f *Fork) SimulatePriceAndAmount(ctx context.Context, c PriceCall) (PriceResult, error) {
	data, err := contracts.PackSimulatePriceAndAmount(f.launcher, c.Pool, c.SellBase, c.Delta)
	if err != nil {
		return PriceResult{}, fmt.Errorf("pack simulatePriceAndAmount: %w", err)
	}
	out, err := f.call(ctx, "simulatePriceAndAmount", data)
	if err != nil {
		return PriceResult{}, err
	}
	sqrt, amount, err := contracts.UnpackSimulatePriceAndAmount(out)
	if err != nil {
		return PriceResult{}, err
	}
	return PriceResult{SqrtPriceX96: sqrt, SwapAmount: amount}, nil
}

// BalanceSlot is the storage slot of holder in a Solidity
// mapping(address => uint256) declared at mappingSlot
func BalanceSlot(holder common.Address, mappingSlot uint64) common.Hash {
	var buf [64]byte
	copy(buf[12:32], holder.Bytes())
	new(big.Int).SetUint64(mappingSlot).FillBytes(buf[32:64])
	return crypto.Keccak256Hash(buf[:])
}

// BuildOverrides credits holder with the configured token balances
func BuildOverrides(holder common.Address, balances []config.BalanceOverride) (map[common.Address]gethclient.OverrideAccount, error) {
	out := make(map[common.Address]gethclient.OverrideAccount, len(balances))
	for _, b := range balances {
		if !common.IsHexAddress(b.Token) {
			return nil, fmt.Errorf("invalid override token address %q", b.Token)
		}
		value, ok := new(big.Int).SetString(trimHex(b.Value), 16)
		if !ok {
			return nil, fmt.Errorf("invalid override value %q for %s", b.Value, b.Token)
		}

		token := common.HexToAddress(b.Token)
		acct := out[token]
		if acct.StateDiff == nil {
			acct.StateDiff = make(map[common.Hash]common.Hash)
		}
		acct.StateDiff[BalanceSlot(holder, b.Slot)] = common.BigToHash(value)
		out[token] = acct
	}
	return out, nil
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
