package dispatch

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKeyEnv names the variable holding the hex signing key
const PrivateKeyEnv = "SEARCHER_PRIVATE_KEY"

// KeySigner signs transactions and relay payloads with one key
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  ethtypes.Signer
}

// NewKeySigner parses a hex private key
func NewKeySigner(hexKey string, chainID *big.Int) (*KeySigner, error) {
	h := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if h == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(h)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  ethtypes.LatestSignerForChainID(chainID),
	}, nil
}

// KeySignerFromEnv loads the key from SEARCHER_PRIVATE_KEY
func KeySignerFromEnv(chainID *big.Int) (*KeySigner, error) {
	s, err := NewKeySigner(os.Getenv(PrivateKeyEnv), chainID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", PrivateKeyEnv, err)
	}
	return s, nil
}

// Address returns the signing account
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx signs a dynamic fee transaction
func (s *KeySigner) SignTx(tx *ethtypes.DynamicFeeTx) (*ethtypes.Transaction, error) {
	return ethtypes.SignNewTx(s.key, s.signer, tx)
}

// SignBody returns the X-Flashbots-Signature value for a request body
func (s *KeySigner) SignBody(body []byte) (string, error) {
	digest := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(digest)), s.key)
	if err != nil {
		return "", fmt.Errorf("sign body: %w", err)
	}
	return s.address.Hex() + ":" + hexutil.Encode(sig), nil
}
