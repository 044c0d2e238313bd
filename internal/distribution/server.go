package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
)

// Method and notification names of the trade subscription
const (
	MethodSubscribe    = "subscribe_trade"
	MethodUnsubscribe  = "unsubscribe_trade"
	NotificationMethod = "trade"
)

// Notification is the params object of a trade notification
type Notification struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Server is the JSON-RPC websocket endpoint for trade subscriptions
type Server struct {
	broadcaster  *Broadcaster
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	nextID       atomic.Uint64
}

// NewServer creates a server registering subscriptions on b
func NewServer(b *Broadcaster, writeTimeout time.Duration) *Server {
	return &Server{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
	}
}

// Run listens on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Trade distribution listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("distribution server: %w", err)
	}
	return nil
}

// ServeHTTP upgrades the request and serves JSON-RPC calls on it until the
// peer disconnects
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	peer := &peer{server: s, remote: r.RemoteAddr, subs: make(map[string]struct{})}
	stream := &deadlineStream{ObjectStream: wsstream.NewObjectStream(ws), ws: ws, timeout: s.writeTimeout}
	conn := jsonrpc2.NewConn(context.Background(), stream, peer)

	log.Info().Str("remote", r.RemoteAddr).Msg("Subscriber connected")
	<-conn.DisconnectNotify()

	for _, id := range peer.drain() {
		s.broadcaster.Remove(id)
	}
	log.Info().Str("remote", r.RemoteAddr).Msg("Subscriber disconnected")
}

// peer handles the calls of one connection. The jsonrpc2 read loop invokes
// Handle serially.
type peer struct {
	server *Server
	remote string

	mu     sync.Mutex
	closed bool
	subs   map[string]struct{}
}

func (p *peer) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		return
	}

	switch req.Method {
	case MethodSubscribe:
		id := fmt.Sprintf("%d", p.server.nextID.Add(1))
		// The reply must precede the first notification
		if err := conn.Reply(ctx, req.ID, id); err != nil {
			log.Warn().Err(err).Str("remote", p.remote).Msg("Failed to write response")
			return
		}
		if !p.track(id, true) {
			return
		}
		p.server.broadcaster.Add(&subscription{id: id, conn: conn})
		log.Info().Str("subscription", id).Int("subscribers", p.server.broadcaster.Len()).Msg("Trade subscription opened")

	case MethodUnsubscribe:
		var params []string
		if req.Params == nil || json.Unmarshal(*req.Params, &params) != nil || len(params) != 1 {
			p.replyError(ctx, conn, req, jsonrpc2.CodeInvalidParams, "expected [subscription id]")
			return
		}
		ok := p.track(params[0], false) && p.server.broadcaster.Remove(params[0])
		if err := conn.Reply(ctx, req.ID, ok); err != nil {
			log.Warn().Err(err).Str("remote", p.remote).Msg("Failed to write response")
		}
		log.Info().Str("subscription", params[0]).Bool("removed", ok).Msg("Trade subscription closed")

	default:
		p.replyError(ctx, conn, req, jsonrpc2.CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (p *peer) replyError(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, code int64, msg string) {
	if err := conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: code, Message: msg}); err != nil {
		log.Warn().Err(err).Str("remote", p.remote).Msg("Failed to write response")
	}
}

// track adds or removes id from the connection's subscriptions and reports
// whether the change applied. Adds fail once the connection is gone.
func (p *peer) track(id string, add bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if add {
		if p.closed {
			return false
		}
		p.subs[id] = struct{}{}
		return true
	}
	_, ok := p.subs[id]
	delete(p.subs, id)
	return ok
}

// drain marks the connection closed and returns its open subscriptions
func (p *peer) drain() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	ids := make([]string, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	p.subs = map[string]struct{}{}
	return ids
}

// deadlineStream bounds every write so a stalled peer fails its sink instead
// of holding the connection's write lock. jsonrpc2.Conn serializes writes.
type deadlineStream struct {
	jsonrpc2.ObjectStream
	ws      *websocket.Conn
	timeout time.Duration
}

func (d *deadlineStream) WriteObject(obj interface{}) error {
	if d.timeout > 0 {
		_ = d.ws.SetWriteDeadline(time.Now().Add(d.timeout))
	}
	return d.ObjectStream.WriteObject(obj)
}

type subscription struct {
	id   string
	conn *jsonrpc2.Conn
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Send(result json.RawMessage) error {
	return s.conn.Notify(context.Background(), NotificationMethod, Notification{Subscription: s.id, Result: result})
}
