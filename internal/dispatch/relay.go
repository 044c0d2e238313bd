package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// Relay submits a signed transaction to one venue
type Relay interface {
	Venue() types.Venue
	Submit(ctx context.Context, tx *ethtypes.Transaction, req *types.ExecutionRequest) error
}

// SequencerBackend sends raw transactions and serves receipts
type SequencerBackend interface {
	bind.DeployBackend
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// SequencerRelay sends directly to the sequencer and waits for inclusion
type SequencerRelay struct {
	backend     SequencerBackend
	waitTimeout time.Duration
}

// NewSequencerRelay creates a relay over backend
func NewSequencerRelay(backend SequencerBackend, waitTimeout time.Duration) *SequencerRelay {
	return &SequencerRelay{backend: backend, waitTimeout: waitTimeout}
}

// Venue implements Relay
func (r *SequencerRelay) Venue() types.Venue { return types.VenueSequencer }

// Submit sends tx and blocks until it is mined or the wait times out
func (r *SequencerRelay) Submit(ctx context.Context, tx *ethtypes.Transaction, _ *types.ExecutionRequest) error {
	if err := r.backend.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, r.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted in block %s", tx.Hash().Hex(), receipt.BlockNumber)
	}

	log.Info().
		Str("tx", tx.Hash().Hex()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Uint64("gasUsed", receipt.GasUsed).
		Msg("Transaction mined")
	return nil
}

// BodySigner signs relay request bodies
type BodySigner interface {
	SignBody(body []byte) (string, error)
}

type bundleParams struct {
	Txs         []hexutil.Bytes  `json:"txs"`
	BlockNumber hexutil.Uint64   `json:"blockNumber"`
	TargetPools []common.Address `json:"targetPools,omitempty"`
}

// BundleRelay submits single-transaction bundles to a block builder
type BundleRelay struct {
	client *rpc.Client
	method string
}

// NewBundleRelay dials url. When auth is set every request carries an
// X-Flashbots-Signature header.
func NewBundleRelay(ctx context.Context, url, method string, auth BodySigner) (*BundleRelay, error) {
	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: &signingTransport{base: http.DefaultTransport, auth: auth},
	}
	client, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial bundle relay: %w", err)
	}
	return &BundleRelay{client: client, method: method}, nil
}

// Venue implements Relay
func (r *BundleRelay) Venue() types.Venue { return types.VenueBundle }

// Submit sends tx as a bundle targeting req.TargetBlock
func (r *BundleRelay) Submit(ctx context.Context, tx *ethtypes.Transaction, req *types.ExecutionRequest) error {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	params := bundleParams{
		Txs:         []hexutil.Bytes{raw},
		BlockNumber: hexutil.Uint64(req.TargetBlock),
		TargetPools: req.TargetPools,
	}

	var result json.RawMessage
	if err := r.client.CallContext(ctx, &result, r.method, params); err != nil {
		return fmt.Errorf("%s: %w", r.method, err)
	}

	log.Info().
		Str("tx", tx.Hash().Hex()).
		Uint64("targetBlock", req.TargetBlock).
		RawJSON("result", result).
		Msg("Bundle accepted")
	return nil
}

// Close releases the underlying client
func (r *BundleRelay) Close() {
	r.client.Close()
}

type signingTransport struct {
	base http.RoundTripper
	auth BodySigner
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.auth == nil || req.Body == nil {
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()

	sig, err := t.auth.SignBody(body)
	if err != nil {
		return nil, err
	}

	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	signed.ContentLength = int64(len(body))
	signed.Header.Set("X-Flashbots-Signature", sig)
	return t.base.RoundTrip(signed)
}
