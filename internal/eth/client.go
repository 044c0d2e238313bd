package eth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/config"
)

// Client wraps the Ethereum client with retry logic and convenience methods
type Client struct {
	client *ethclient.Client
	geth   *gethclient.Client
	cfg    config.RPCConfig
}

// NewClient dials the HTTP endpoint and checks the chain id
func NewClient(cfg config.RPCConfig, expectedChainID *big.Int) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}
	client := ethclient.NewClient(rpcClient)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if expectedChainID != nil && expectedChainID.Sign() > 0 && chainID.Cmp(expectedChainID) != 0 {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: node reports %s, configured %s", chainID, expectedChainID)
	}

	log.Info().
		Str("url", cfg.URL).
		Str("chainID", chainID.String()).
		Msg("Connected to Ethereum node")

	return &Client{
		client: client,
		geth:   gethclient.New(rpcClient),
		cfg:    cfg,
	}, nil
}

// Close closes the client connection
func (c *Client) Close() {
	c.client.Close()
}

// withRetry runs fn up to RetryAttempts times with a fixed delay
func withRetry[T any](ctx context.Context, c *Client, what string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	var err error

	attempts := c.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		out, err = fn(callCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", i+1).Msgf("Failed to %s, retrying...", what)

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}

	return out, fmt.Errorf("failed to %s after %d attempts: %w", what, attempts, err)
}

// HeaderByNumber returns a header by number with retry. nil means latest.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return withRetry(ctx, c, "get header", func(ctx context.Context) (*types.Header, error) {
		return c.client.HeaderByNumber(ctx, number)
	})
}

// CallContract executes a contract call with retry
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return withRetry(ctx, c, "call contract", func(ctx context.Context) ([]byte, error) {
		return c.client.CallContract(ctx, msg, blockNumber)
	})
}

// CallContractWithOverrides executes eth_call with storage overrides, with retry
func (c *Client) CallContractWithOverrides(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int, overrides map[common.Address]gethclient.OverrideAccount) ([]byte, error) {
	return withRetry(ctx, c, "simulate call", func(ctx context.Context) ([]byte, error) {
		return c.geth.CallContract(ctx, msg, blockNumber, &overrides)
	})
}

// PendingNonceAt returns the next nonce for an account with retry
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return withRetry(ctx, c, "get pending nonce", func(ctx context.Context) (uint64, error) {
		return c.client.PendingNonceAt(ctx, account)
	})
}

// DialHeads opens a websocket client for new-head subscriptions
func DialHeads(ctx context.Context, wsURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket RPC: %w", err)
	}
	return client, nil
}
