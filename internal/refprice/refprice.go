package refprice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/devlongs/mev-searcher/internal/retry"
)

// Scale is the fixed-point multiplier applied to quoted prices
var Scale = decimal.New(1, 8)

// ErrZeroPrice marks a trade message quoting a non-positive price
var ErrZeroPrice = errors.New("refprice: zero price")

type tradeMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
	} `json:"data"`
}

// Table holds the latest scaled price per symbol
type Table struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{prices: make(map[string]*big.Int)}
}

// Set stores price for symbol
func (t *Table) Set(symbol string, price *big.Int) {
	t.mu.Lock()
	t.prices[strings.ToUpper(symbol)] = new(big.Int).Set(price)
	t.mu.Unlock()
}

// Get returns a copy of the price for symbol
func (t *Table) Get(symbol string) (*big.Int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[strings.ToUpper(symbol)]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(p), true
}

// Getter looks up the latest scaled price of a symbol
type Getter interface {
	Get(symbol string) (*big.Int, bool)
}

// Ref is a reference price expression. A bare symbol quotes Num directly; a
// cross rate "NUM/DEN" quotes Num in units of Den, both legs sharing Scale.
type Ref struct {
	Num string
	Den string
}

// ParseRef parses "ETHUSDT" or "ETHUSDT/OPUSDT". An empty expression yields
// the zero Ref, which disables the deviation filter.
func ParseRef(expr string) (Ref, error) {
	expr = strings.ToUpper(strings.TrimSpace(expr))
	if expr == "" {
		return Ref{}, nil
	}
	num, den, cross := strings.Cut(expr, "/")
	num, den = strings.TrimSpace(num), strings.TrimSpace(den)
	if num == "" || (cross && den == "") || strings.Contains(den, "/") {
		return Ref{}, fmt.Errorf("invalid reference %q", expr)
	}
	return Ref{Num: num, Den: den}, nil
}

// IsZero reports whether r disables the deviation filter
func (r Ref) IsZero() bool { return r.Num == "" }

// Symbols lists the symbols r reads
func (r Ref) Symbols() []string {
	switch {
	case r.Num == "":
		return nil
	case r.Den == "":
		return []string{r.Num}
	default:
		return []string{r.Num, r.Den}
	}
}

func (r Ref) String() string {
	if r.Den == "" {
		return r.Num
	}
	return r.Num + "/" + r.Den
}

// Resolve returns the reference price scaled by 10^8. A cross rate is
// num*10^8/den. It reports false while a leg is unknown or the quotient is
// zero, in which case the market is skipped.
func (r Ref) Resolve(src Getter) (*big.Int, bool) {
	if r.IsZero() {
		return nil, false
	}
	num, ok := src.Get(r.Num)
	if !ok {
		return nil, false
	}
	if r.Den == "" {
		return num, num.Sign() > 0
	}
	den, ok := src.Get(r.Den)
	if !ok || den.Sign() == 0 {
		return nil, false
	}
	out := new(big.Int).Mul(num, Scale.BigInt())
	out.Quo(out, den)
	return out, out.Sign() > 0
}

// StreamURL appends a combined trade stream for symbols to base. A base that
// already names its streams is returned unchanged.
func StreamURL(base string, symbols []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse price stream url: %w", err)
	}
	q := u.Query()
	if q.Get("streams") != "" || len(symbols) == 0 {
		return base, nil
	}

	seen := make(map[string]bool, len(symbols))
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToLower(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		streams = append(streams, sym+"@trade")
	}
	// The stream separator stays a literal slash
	if u.RawQuery != "" {
		u.RawQuery += "&"
	}
	u.RawQuery += "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// Parse decodes a combined-stream trade message into a symbol and a price
// scaled by 10^8
func Parse(msg []byte) (string, *big.Int, error) {
	var m tradeMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return "", nil, fmt.Errorf("decode trade message: %w", err)
	}
	if m.Data.Symbol == "" {
		return "", nil, errors.New("trade message without symbol")
	}

	d, err := decimal.NewFromString(m.Data.Price)
	if err != nil {
		return "", nil, fmt.Errorf("parse price %q: %w", m.Data.Price, err)
	}
	scaled := d.Mul(Scale).BigInt()
	if scaled.Sign() <= 0 {
		return "", nil, ErrZeroPrice
	}
	return m.Data.Symbol, scaled, nil
}

// Stream keeps a Table updated from a trade stream
type Stream struct {
	url     string
	dialer  *websocket.Dialer
	table   *Table
	backoff retry.Backoff
}

// NewStream creates a stream writing into table
func NewStream(url string, table *Table, backoff retry.Backoff) *Stream {
	return &Stream{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		table:   table,
		backoff: backoff,
	}
}

// Run reads the stream until ctx is cancelled, reconnecting on failure
func (s *Stream) Run(ctx context.Context) {
	retry.Forever(ctx, s.backoff, "refprice", s.session)
}

func (s *Stream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial price stream: %w", err)
	}
	defer conn.Close()
	log.Info().Str("url", s.url).Msg("Price stream connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read price stream: %w", err)
		}

		symbol, price, err := Parse(msg)
		if errors.Is(err, ErrZeroPrice) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("Dropping price message")
			continue
		}
		s.table.Set(symbol, price)
	}
}
