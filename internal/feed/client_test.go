package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/pkg/types"
)

func hexutilUint64(v uint64) hexutil.Uint64 { return hexutil.Uint64(v) }

func compress(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

const sampleFrame = `{
  "index": 3,
  "base": {
    "block_number": "0x1f4",
    "gas_limit": "0x1c9c380",
    "timestamp": "0x65a0b2c0",
    "base_fee_per_gas": "0x3b9aca00"
  },
  "diff": {"transactions": ["0x02f8", "0x01"]},
  "metadata": {
    "block_number": "0x1f4",
    "receipts": {
      "0xabc": {
        "Eip1559": {
          "logs": [{
            "address": "0x1111111111111111111111111111111111111111",
            "topics": ["0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"],
            "data": "0x00"
          }]
        }
      }
    }
  }
}`

func TestDecode_Frame(t *testing.T) {
	t.Parallel()

	update, err := Decode(compress(t, []byte(sampleFrame)))
	require.NoError(t, err)

	assert.Equal(t, uint64(3), update.Index)
	require.NotNil(t, update.Base)
	assert.Equal(t, uint64(500), uint64(update.Base.BlockNumber))
	assert.Equal(t, uint64(30_000_000), uint64(update.Base.GasLimit))
	assert.Equal(t, big.NewInt(1_000_000_000), update.Base.BaseFeePerGas.ToInt())
	assert.Len(t, update.Diff.Transactions, 2)
	assert.Equal(t, uint64(50003), update.Sequence())

	var receipt types.ReceiptLogs
	require.NoError(t, json.Unmarshal(update.Metadata.Receipts["0xabc"]["Eip1559"], &receipt))
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), receipt.Logs[0].Address)
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("not brotli at all"))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Decode(compress(t, []byte{0xff, 0xfe, 0xfd}))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Decode(compress(t, []byte(`{"index": "nope"}`)))
	assert.ErrorIs(t, err, ErrDecode)
}

// feedServer sends the given frames on every connection and then closes it
func feedServer(t *testing.T, frames [][]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(20 * time.Millisecond)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_ReadsFramesAndReportsClose(t *testing.T) {
	t.Parallel()

	good := compress(t, []byte(sampleFrame))
	srv := feedServer(t, [][]byte{good, []byte("garbage"), good})
	defer srv.Close()

	out := make(chan *types.PartialBlockUpdate, 4)
	health := make(chan HealthEvent, 4)
	c := NewClient(7, wsURL(srv), time.Second, out, health)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx)
	require.Error(t, err)

	assert.Len(t, out, 2, "malformed frame must be dropped")

	up := <-health
	assert.True(t, up.Up)
	assert.Equal(t, 7, up.ClientID)

	down := <-health
	assert.False(t, down.Up)
	assert.Error(t, down.Err)
}

func TestPool_RedialsAfterDrop(t *testing.T) {
	t.Parallel()

	srv := feedServer(t, [][]byte{compress(t, []byte(sampleFrame))})
	defer srv.Close()

	p := NewPool(wsURL(srv), 2, time.Second, 16, fastBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Each connection delivers one frame before the server closes it, so
	// more than two frames proves reconnection happened.
	received := 0
	timeout := time.After(5 * time.Second)
	for received < 4 {
		select {
		case <-p.Updates():
			received++
		case <-timeout:
			t.Fatalf("received only %d updates", received)
		}
	}

	cancel()
	<-done
	assert.Equal(t, 0, p.Connected())
}
