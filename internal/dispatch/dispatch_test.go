package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/internal/distribution"
	"github.com/devlongs/mev-searcher/internal/output"
	"github.com/devlongs/mev-searcher/internal/refprice"
	"github.com/devlongs/mev-searcher/pkg/types"
)

var chainID = big.NewInt(8453)

func testSigner(t *testing.T) *KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewKeySigner(hexutil.Encode(crypto.FromECDSA(key)), chainID)
	require.NoError(t, err)
	return s
}

func testBuilder(t *testing.T, venues ...string) *Builder {
	t.Helper()
	pools := []types.Pool{
		{Index: 0, Address: common.HexToAddress("0xa0")},
		{Index: 1, Address: common.HexToAddress("0xa1")},
	}
	b, err := NewBuilder(pools, chainID, common.HexToAddress("0x1a"), config.DispatchConfig{
		GasLimit:          1_000_000,
		ProfitGasDivisor:  30_000_000,
		TargetBlockOffset: 1,
		Venues:            venues,
	})
	require.NoError(t, err)
	return b
}

func TestCalldata_Layout(t *testing.T) {
	t.Parallel()

	wide := new(big.Int).Lsh(big.NewInt(1), 100) // bit 100 lies above the 12-byte window
	wide.Add(wide, big.NewInt(0x0203))

	data := Calldata(2, []*big.Int{big.NewInt(0x01), wide}, []*big.Int{big.NewInt(0xffee)})
	require.Len(t, data, 48)

	want := make([]byte, 48)
	want[11] = 0x01                 // pool 0 bid
	want[22], want[23] = 0xff, 0xee // pool 0 ask
	want[34], want[35] = 0x02, 0x03 // pool 1 bid, high bits dropped
	assert.Equal(t, want, data)
}

func TestGasPrice(t *testing.T) {
	t.Parallel()

	divisor := big.NewInt(30_000_000)
	assert.Equal(t, int64(150), GasPrice(big.NewInt(3_000_000_000), big.NewInt(100), divisor).Int64())
	assert.Equal(t, int64(100_000), GasPrice(big.NewInt(3_000_000_000_000), big.NewInt(100), divisor).Int64())
	assert.Equal(t, int64(100), GasPrice(big.NewInt(3_000_000_000), nil, divisor).Int64())
}

func TestBuilder_Build(t *testing.T) {
	t.Parallel()

	b := testBuilder(t, "sequencer", "bundle")
	decision := types.Decision{
		BidPrices: []*big.Int{big.NewInt(0), big.NewInt(7)},
		AskPrices: []*big.Int{big.NewInt(0), big.NewInt(0)},
		MaxProfit: big.NewInt(3_000_000_000),
	}
	req := b.Build(decision, types.ChainHead{Number: 41, BaseFee: big.NewInt(1000)})

	assert.Equal(t, uint64(42), req.TargetBlock)
	assert.Equal(t, []types.Venue{types.VenueSequencer, types.VenueBundle}, req.Venues)
	assert.Equal(t, []common.Address{common.HexToAddress("0xa1")}, req.TargetPools)
	assert.Equal(t, common.HexToAddress("0x1a"), *req.Tx.To)
	assert.Equal(t, int64(1500), req.Tx.GasFeeCap.Int64())
	assert.Equal(t, 0, req.Tx.GasFeeCap.Cmp(req.Tx.GasTipCap))
	assert.Equal(t, uint64(1_000_000), req.Tx.Gas)
	assert.Equal(t, 0, req.Tx.Value.Sign())
	assert.Len(t, req.Tx.Data, 48)
	assert.Equal(t, byte(7), req.Tx.Data[35])
}

func TestParseVenues(t *testing.T) {
	t.Parallel()

	_, err := ParseVenues([]string{"sequencer", "carrier-pigeon"})
	assert.EqualError(t, err, `unknown venue "carrier-pigeon"`)
}

func TestKeySigner(t *testing.T) {
	t.Parallel()

	s := testSigner(t)
	tx, err := s.SignTx(&ethtypes.DynamicFeeTx{ChainID: chainID, Nonce: 3, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1), Gas: 21000})
	require.NoError(t, err)
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)

	body := []byte(`{"jsonrpc":"2.0"}`)
	header, err := s.SignBody(body)
	require.NoError(t, err)
	assertBodySignature(t, header, body, s.Address())

	_, err = NewKeySigner("", chainID)
	assert.Error(t, err)
}

func TestKeySignerFromEnv(t *testing.T) {
	t.Setenv(PrivateKeyEnv, "")
	_, err := KeySignerFromEnv(chainID)
	assert.ErrorContains(t, err, PrivateKeyEnv)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	t.Setenv(PrivateKeyEnv, hexutil.Encode(crypto.FromECDSA(key)))
	s, err := KeySignerFromEnv(chainID)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
}

func assertBodySignature(t *testing.T, header string, body []byte, want common.Address) {
	t.Helper()
	parts := strings.SplitN(header, ":", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, want.Hex(), parts[0])

	sig, err := hexutil.Decode(parts[1])
	require.NoError(t, err)
	digest := crypto.Keccak256Hash(body).Hex()
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(digest)), sig)
	require.NoError(t, err)
	assert.Equal(t, want, crypto.PubkeyToAddress(*pub))
}

type fixedNonce uint64

func (n fixedNonce) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(n), nil
}

type recordingRelay struct {
	venue types.Venue
	err   error

	mu     sync.Mutex
	nonces []uint64
}

func (r *recordingRelay) Venue() types.Venue { return r.venue }

func (r *recordingRelay) Submit(_ context.Context, tx *ethtypes.Transaction, _ *types.ExecutionRequest) error {
	r.mu.Lock()
	r.nonces = append(r.nonces, tx.Nonce())
	r.mu.Unlock()
	return r.err
}

func TestExecutor_NoncesAndIndependentRelays(t *testing.T) {
	t.Parallel()

	seq := &recordingRelay{venue: types.VenueSequencer}
	bundle := &recordingRelay{venue: types.VenueBundle, err: errors.New("relay down")}
	logger := output.NewLogger(config.LoggingConfig{})

	exec, err := NewExecutor(context.Background(), fixedNonce(5), testSigner(t), []Relay{seq, bundle}, 2, time.Second, logger)
	require.NoError(t, err)

	b := testBuilder(t, "sequencer", "bundle")
	decision := types.Decision{BidPrices: []*big.Int{big.NewInt(1)}, MaxProfit: big.NewInt(1)}

	var wg sync.WaitGroup
	assigned := make(chan uint64, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nonce, err := exec.Submit(b.Build(decision, types.ChainHead{Number: 1}))
			assert.NoError(t, err)
			assigned <- nonce
		}()
	}
	wg.Wait()
	exec.Wait()
	close(assigned)

	seen := map[uint64]bool{}
	for n := range assigned {
		assert.False(t, seen[n], "nonce %d assigned twice", n)
		seen[n] = true
	}
	for n := uint64(5); n < 13; n++ {
		assert.True(t, seen[n], "nonce %d missing", n)
	}
	assert.Equal(t, uint64(13), exec.Nonce())

	assert.Len(t, seq.nonces, 8)
	assert.Len(t, bundle.nonces, 8)
	assert.Equal(t, uint64(16), logger.GetStats().Submissions.Load())
	assert.Equal(t, uint64(8), logger.GetStats().SubmissionFailures.Load())
}

func TestExecutor_SkipsUnconfiguredVenue(t *testing.T) {
	t.Parallel()

	seq := &recordingRelay{venue: types.VenueSequencer}
	exec, err := NewExecutor(context.Background(), fixedNonce(0), testSigner(t), []Relay{seq}, 1, time.Second, output.NewLogger(config.LoggingConfig{}))
	require.NoError(t, err)

	req := testBuilder(t, "bundle", "sequencer").Build(types.Decision{MaxProfit: big.NewInt(1)}, types.ChainHead{})
	nonce, err := exec.Submit(req)
	require.NoError(t, err)
	exec.Wait()

	assert.Equal(t, uint64(0), nonce)
	assert.Equal(t, []uint64{0}, seq.nonces)
}

type fakeSequencer struct {
	sendErr error
	status  uint64

	mu   sync.Mutex
	sent []*ethtypes.Transaction
}

func (f *fakeSequencer) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return f.sendErr
}

func (f *fakeSequencer) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	return &ethtypes.Receipt{TxHash: hash, Status: f.status, BlockNumber: big.NewInt(100), GasUsed: 90_000}, nil
}

func (f *fakeSequencer) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func signedTx(t *testing.T) *ethtypes.Transaction {
	t.Helper()
	to := common.HexToAddress("0x1a")
	tx, err := testSigner(t).SignTx(&ethtypes.DynamicFeeTx{ChainID: chainID, To: &to, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1), Gas: 21000})
	require.NoError(t, err)
	return tx
}

func TestSequencerRelay(t *testing.T) {
	t.Parallel()

	ok := &fakeSequencer{status: ethtypes.ReceiptStatusSuccessful}
	assert.NoError(t, NewSequencerRelay(ok, time.Second).Submit(context.Background(), signedTx(t), nil))
	assert.Len(t, ok.sent, 1)

	reverted := &fakeSequencer{status: ethtypes.ReceiptStatusFailed}
	assert.ErrorContains(t, NewSequencerRelay(reverted, time.Second).Submit(context.Background(), signedTx(t), nil), "reverted")

	rejected := &fakeSequencer{sendErr: errors.New("nonce too low")}
	assert.ErrorContains(t, NewSequencerRelay(rejected, time.Second).Submit(context.Background(), signedTx(t), nil), "nonce too low")
}

func TestBundleRelay_SignsAndSends(t *testing.T) {
	t.Parallel()

	auth := testSigner(t)
	type captured struct {
		header string
		body   []byte
	}
	got := make(chan captured, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{header: r.Header.Get("X-Flashbots-Signature"), body: body}

		var req struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":{"bundleHash":"0x01"}}`))
	}))
	defer ts.Close()

	relay, err := NewBundleRelay(context.Background(), ts.URL, "eth_sendEndOfBlockBundle", auth)
	require.NoError(t, err)
	defer relay.Close()

	tx := signedTx(t)
	pool := common.HexToAddress("0xa1")
	req := &types.ExecutionRequest{TargetBlock: 77, TargetPools: []common.Address{pool}}
	require.NoError(t, relay.Submit(context.Background(), tx, req))

	c := <-got
	assertBodySignature(t, c.header, c.body, auth.Address())

	var call struct {
		Method string         `json:"method"`
		Params []bundleParams `json:"params"`
	}
	require.NoError(t, json.Unmarshal(c.body, &call))
	assert.Equal(t, "eth_sendEndOfBlockBundle", call.Method)
	require.Len(t, call.Params, 1)
	assert.Equal(t, hexutil.Uint64(77), call.Params[0].BlockNumber)
	assert.Equal(t, []common.Address{pool}, call.Params[0].TargetPools)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, hexutil.Bytes(raw), call.Params[0].Txs[0])
}

type staticPrices []*big.Int

func (s staticPrices) Snapshot() []*big.Int { return s }

type staticHead types.ChainHead

func (h staticHead) Snapshot() types.ChainHead { return types.ChainHead(h) }

type staticRefs map[string]*big.Int

func (r staticRefs) Get(symbol string) (*big.Int, bool) {
	p, ok := r[symbol]
	return p, ok
}

type fixedEvaluator struct {
	decision types.Decision
	calls    int
	lastRef  *big.Int
}

func (f *fixedEvaluator) Evaluate(_ []*big.Int, _ distribution.Groups, ref *big.Int) types.Decision {
	f.calls++
	f.lastRef = ref
	return f.decision
}

type countingSubmitter struct{ reqs []*types.ExecutionRequest }

func (c *countingSubmitter) Submit(req *types.ExecutionRequest) (uint64, error) {
	c.reqs = append(c.reqs, req)
	return uint64(len(c.reqs)), nil
}

func TestCycle_Handle(t *testing.T) {
	t.Parallel()

	eval := &fixedEvaluator{decision: types.Decision{
		BidPrices: []*big.Int{big.NewInt(9), big.NewInt(0)},
		AskPrices: []*big.Int{big.NewInt(0), big.NewInt(0)},
		MaxProfit: big.NewInt(1_000),
	}}
	sub := &countingSubmitter{}
	cycle := &Cycle{
		Prices:    staticPrices{big.NewInt(1)},
		Book:      distribution.NewBook(),
		Heads:     staticHead{Number: 10},
		Market:    "weth_op",
		Refs:      staticRefs{},
		Ref:       refprice.Ref{Num: "ETHUSDT", Den: "OPUSDT"},
		Detector:  eval,
		Builder:   testBuilder(t, "sequencer"),
		Submitter: sub,
		Logger:    output.NewLogger(config.LoggingConfig{}),
	}

	cycle.Handle(context.Background(), 1)
	assert.Equal(t, 0, eval.calls, "no evaluation without a reference price")

	cycle.Refs = staticRefs{"ETHUSDT": big.NewInt(300_000_000_000)}
	cycle.Handle(context.Background(), 2)
	assert.Equal(t, 0, eval.calls, "no evaluation while the cross leg is missing")

	cycle.Refs = staticRefs{"ETHUSDT": big.NewInt(300_000_000_000), "OPUSDT": big.NewInt(200_000_000)}
	cycle.Handle(context.Background(), 2)
	require.Len(t, sub.reqs, 1)
	assert.Equal(t, "150000000000", eval.lastRef.String())
	assert.Equal(t, uint64(11), sub.reqs[0].TargetBlock)

	cycle.Submitter = nil
	cycle.Handle(context.Background(), 3)
	assert.Len(t, sub.reqs, 1)

	eval.decision.MaxProfit = big.NewInt(0)
	cycle.Submitter = sub
	cycle.Handle(context.Background(), 4)
	assert.Len(t, sub.reqs, 1)
	assert.Equal(t, 3, eval.calls)
}
