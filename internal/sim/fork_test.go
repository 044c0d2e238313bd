package sim

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/internal/contracts"
)

func TestBalanceSlot_MatchesAbiEncoding(t *testing.T) {
	t.Parallel()

	addrType, _ := abi.NewType("address", "", nil)
	uintType, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: addrType}, {Type: uintType}}

	holder := common.HexToAddress("0x5555555555555555555555555555555555555555")
	encoded, err := args.Pack(holder, big.NewInt(9))
	require.NoError(t, err)

	assert.Equal(t, crypto.Keccak256Hash(encoded), BalanceSlot(holder, 9))
	assert.NotEqual(t, BalanceSlot(holder, 9), BalanceSlot(holder, 3))
}

func TestBuildOverrides(t *testing.T) {
	t.Parallel()

	holder := common.HexToAddress("0x5555555555555555555555555555555555555555")
	weth := "0x4200000000000000000000000000000000000006"

	out, err := BuildOverrides(holder, []config.BalanceOverride{
		{Token: weth, Slot: 3, Value: "0xd3c21bcecceda1000000"},
	})
	require.NoError(t, err)

	acct, ok := out[common.HexToAddress(weth)]
	require.True(t, ok)
	want, _ := new(big.Int).SetString("d3c21bcecceda1000000", 16)
	assert.Equal(t, common.BigToHash(want), acct.StateDiff[BalanceSlot(holder, 3)])

	_, err = BuildOverrides(holder, []config.BalanceOverride{{Token: "nope", Slot: 1, Value: "0x1"}})
	assert.Error(t, err)
	_, err = BuildOverrides(holder, []config.BalanceOverride{{Token: weth, Slot: 1, Value: "zz"}})
	assert.Error(t, err)
}

type recordingCaller struct {
	msgs      []ethereum.CallMsg
	blocks    []*big.Int
	overrides []map[common.Address]gethclient.OverrideAccount
	out       []byte
	err       error
}

func (r *recordingCaller) CallContractWithOverrides(_ context.Context, msg ethereum.CallMsg, block *big.Int, ov map[common.Address]gethclient.OverrideAccount) ([]byte, error) {
	r.msgs = append(r.msgs, msg)
	r.blocks = append(r.blocks, block)
	r.overrides = append(r.overrides, ov)
	return r.out, r.err
}

func TestFork_SimulateTrade(t *testing.T) {
	t.Parallel()

	out, err := contracts.LauncherABI.Methods["simulateTrade"].Outputs.Pack(big.NewInt(1), big.NewInt(2), big.NewInt(3))
	require.NoError(t, err)

	caller := &recordingCaller{out: out}
	cfg := config.ContractsConfig{
		From:      common.HexToAddress("0x01"),
		Launcher:  common.HexToAddress("0x02"),
		Simulator: common.HexToAddress("0x03"),
	}
	overrides := map[common.Address]gethclient.OverrideAccount{}
	f := NewFork(caller, cfg, 10_000_000, big.NewInt(1234), overrides)

	res, err := f.SimulateTrade(context.Background(), TradeCall{Pool: 1, SellBase: true, Delta: big.NewInt(5), SwapAmount: big.NewInt(6)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Profit.Int64())

	require.Len(t, caller.msgs, 1)
	msg := caller.msgs[0]
	assert.Equal(t, cfg.From, msg.From)
	assert.Equal(t, cfg.Simulator, *msg.To)
	assert.Equal(t, uint64(10_000_000), msg.Gas)
	assert.Equal(t, int64(1234), caller.blocks[0].Int64())
	assert.Equal(t, contracts.LauncherABI.Methods["simulateTrade"].ID, msg.Data[:4])
}

func TestFork_PropagatesErrors(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{err: assert.AnError}
	f := NewFork(caller, config.ContractsConfig{}, 1, big.NewInt(1), nil)

	_, err := f.SimulatePriceAndAmount(context.Background(), PriceCall{Delta: big.NewInt(1)})
	assert.ErrorIs(t, err, assert.AnError)

	caller.err = nil
	caller.out = []byte{0x01}
	_, err = f.SimulatePriceAndAmount(context.Background(), PriceCall{Delta: big.NewInt(1)})
	assert.Error(t, err)
}
