package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/devlongs/mev-searcher/internal/retry"
	"github.com/devlongs/mev-searcher/pkg/types"
)

var errDisconnected = errors.New("distribution connection closed")

// Subscriber keeps a Book in sync with a distribution server
type Subscriber struct {
	url     string
	dialer  *websocket.Dialer
	book    *Book
	backoff retry.Backoff

	mu    sync.Mutex
	subID string
}

// NewSubscriber creates a subscriber feeding book
func NewSubscriber(url string, handshakeTimeout time.Duration, book *Book, backoff retry.Backoff) *Subscriber {
	return &Subscriber{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		book:    book,
		backoff: backoff,
	}
}

// Run keeps a subscription open until ctx is cancelled
func (s *Subscriber) Run(ctx context.Context) {
	retry.Forever(ctx, s.backoff, "distribution", s.session)
}

// SubscriptionID returns the id of the active subscription, if any
func (s *Subscriber) SubscriptionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subID
}

func (s *Subscriber) setSubID(id string) {
	s.mu.Lock()
	s.subID = id
	s.mu.Unlock()
}

func (s *Subscriber) session(ctx context.Context) error {
	ws, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial distribution: %w", err)
	}
	conn := jsonrpc2.NewConn(ctx, wsstream.NewObjectStream(ws), &bookHandler{book: s.book})
	defer conn.Close()

	var id string
	if err := conn.Call(ctx, MethodSubscribe, []string{}, &id); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.setSubID(id)
	defer s.setSubID("")
	log.Info().Str("url", s.url).Str("subscription", id).Msg("Subscribed to trade candidates")

	select {
	case <-ctx.Done():
		unsubCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		var removed bool
		if err := conn.Call(unsubCtx, MethodUnsubscribe, []string{id}, &removed); err != nil {
			log.Debug().Err(err).Str("subscription", id).Msg("Unsubscribe failed")
		}
		return ctx.Err()
	case <-conn.DisconnectNotify():
		return errDisconnected
	}
}

// bookHandler replaces the book on every trade notification
type bookHandler struct {
	book *Book
}

func (h *bookHandler) Handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if !req.Notif || req.Method != NotificationMethod || req.Params == nil {
		return
	}

	var note Notification
	if err := json.Unmarshal(*req.Params, &note); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed trade notification")
		return
	}
	var candidates []types.TradeCandidate
	if err := json.Unmarshal(note.Result, &candidates); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed trade notification")
		return
	}
	h.book.Replace(candidates)
	log.Debug().Int("candidates", len(candidates)).Uint64("version", h.book.Version()).Msg("Trade book replaced")
}
