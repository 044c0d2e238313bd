package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/metrics"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// ErrDecode marks a frame that could not be turned into an update
var ErrDecode = errors.New("feed: decode frame")

// HealthEvent reports a connection coming up or going down
type HealthEvent struct {
	ClientID int
	Up       bool
	Err      error
	At       time.Time
	Uptime   time.Duration // set when Up is false
}

// Client reads one feed connection into a shared update channel
type Client struct {
	id     int
	url    string
	dialer *websocket.Dialer
	out    chan<- *types.PartialBlockUpdate
	health chan<- HealthEvent
}

// NewClient creates a client; it does not dial until Run
func NewClient(id int, url string, handshakeTimeout time.Duration, out chan<- *types.PartialBlockUpdate, health chan<- HealthEvent) *Client {
	return &Client{
		id:  id,
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		out:    out,
		health: health,
	}
}

// Run dials, reads until the connection fails, then reports a down event.
// It returns the error that ended the connection.
func (c *Client) Run(ctx context.Context) error {
	err := c.run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) run(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		err = fmt.Errorf("dial feed: %w", err)
		c.report(ctx, HealthEvent{ClientID: c.id, Err: err, At: time.Now()})
		return err
	}
	defer conn.Close()

	connectedAt := time.Now()
	c.report(ctx, HealthEvent{ClientID: c.id, Up: true, At: connectedAt})
	log.Info().Int("clientID", c.id).Str("url", c.url).Msg("Feed connected")

	// Unblock ReadMessage on shutdown.
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
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			c.report(ctx, HealthEvent{
				ClientID: c.id,
				Err:      err,
				At:       time.Now(),
				Uptime:   time.Since(connectedAt),
			})
			return err
		}

		if msgType != websocket.BinaryMessage {
			metrics.FeedFrames.WithLabelValues("skipped").Inc()
			continue
		}

		update, err := Decode(frame)
		if err != nil {
			metrics.FeedFrames.WithLabelValues("decode_error").Inc()
			log.Warn().Err(err).Int("clientID", c.id).Int("bytes", len(frame)).Msg("Dropping feed frame")
			continue
		}
		metrics.FeedFrames.WithLabelValues("ok").Inc()

		select {
		case c.out <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) report(ctx context.Context, ev HealthEvent) {
	if c.health == nil {
		return
	}
	select {
	case c.health <- ev:
	case <-ctx.Done():
	}
}

// Decode turns a brotli-compressed JSON frame into an update
func Decode(frame []byte) (*types.PartialBlockUpdate, error) {
	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(frame)))
	if err != nil {
		return nil, fmt.Errorf("%w: brotli: %v", ErrDecode, err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrDecode)
	}

	var update types.PartialBlockUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	return &update, nil
}
