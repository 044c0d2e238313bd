package decoder

import (
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/dex"
	"github.com/devlongs/mev-searcher/internal/metrics"
	"github.com/devlongs/mev-searcher/internal/state"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// Decoder applies swap logs from partial blocks to the price table
type Decoder struct {
	pools  map[common.Address]types.Pool
	prices *state.PriceTable
}

// NewDecoder creates a decoder for the registered pools
func NewDecoder(pools []types.Pool, prices *state.PriceTable) *Decoder {
	byAddr := make(map[common.Address]types.Pool, len(pools))
	for _, p := range pools {
		byAddr[p.Address] = p
	}
	return &Decoder{
		pools:  byAddr,
		prices: prices,
	}
}

// Apply decodes every matching swap log in the update and returns the number
// of price slots written. Logs are applied in transaction order.
func (d *Decoder) Apply(update *types.PartialBlockUpdate) int {
	seq := update.Sequence()
	applied := 0

	for _, txHash := range orderedReceipts(update) {
		for kind, raw := range update.Metadata.Receipts[txHash] {
			var receipt types.ReceiptLogs
			if err := json.Unmarshal(raw, &receipt); err != nil {
				log.Warn().Err(err).Uint64("seq", seq).Str("tx", txHash).Str("kind", kind).Msg("Skipping undecodable receipt")
				continue
			}

			for _, l := range receipt.Logs {
				if d.applyLog(seq, l) {
					applied++
				}
			}
		}
	}

	return applied
}

func (d *Decoder) applyLog(seq uint64, l types.LogItem) bool {
	if len(l.Topics) == 0 {
		return false
	}
	pool, ok := d.pools[l.Address]
	if !ok {
		return false
	}
	topic, err := dex.SwapTopic(pool.Type)
	if err != nil || l.Topics[0] != topic {
		return false
	}

	sqrtPrice, err := dex.DecodeSqrtPriceX96(l.Data, pool.Type)
	if err != nil {
		log.Warn().
			Err(err).
			Uint64("seq", seq).
			Int("pool", pool.Index).
			Str("poolType", pool.Type.String()).
			Msg("Failed to decode swap log")
		return false
	}

	d.prices.Set(pool.Index, sqrtPrice)
	metrics.SwapsDecoded.WithLabelValues(pool.Type.String()).Inc()

	log.Debug().
		Uint64("seq", seq).
		Int("pool", pool.Index).
		Str("sqrtPriceX96", sqrtPrice.String()).
		Msg("Pool price updated")
	return true
}

// orderedReceipts returns receipt keys in the order their transactions
// appear in the diff. Keys without a matching transaction go last, sorted.
func orderedReceipts(update *types.PartialBlockUpdate) []string {
	receipts := update.Metadata.Receipts
	if len(receipts) == 0 {
		return nil
	}

	byHash := make(map[common.Hash]string, len(receipts))
	for key := range receipts {
		byHash[common.HexToHash(key)] = key
	}

	keys := make([]string, 0, len(receipts))
	used := make(map[string]bool, len(receipts))
	for _, raw := range update.Diff.Transactions {
		if key, ok := byHash[crypto.Keccak256Hash(raw)]; ok && !used[key] {
			keys = append(keys, key)
			used[key] = true
		}
	}

	var rest []string
	for key := range receipts {
		if !used[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
