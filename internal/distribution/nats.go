package distribution

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSSink mirrors candidate lists to a NATS subject
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink connects to url and publishes on subject
func NewNATSSink(url, subject string) (*NATSSink, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if subject == "" {
		return nil, errors.New("nats subject is required")
	}

	opts := []nats.Option{
		nats.Name("mev-searcher"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("subject", subject).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", url).Str("subject", subject).Msg("NATS mirror connected")
	return &NATSSink{nc: nc, subject: subject}, nil
}

// ID identifies the sink in the broadcaster
func (s *NATSSink) ID() string { return "nats:" + s.subject }

// Send publishes result on the subject
func (s *NATSSink) Send(result json.RawMessage) error {
	return s.nc.Publish(s.subject, result)
}

// Ready reports whether the connection is currently up
func (s *NATSSink) Ready() bool {
	return s.nc != nil && s.nc.Status() == nats.CONNECTED
}

// Close drains pending messages and closes the connection
func (s *NATSSink) Close() error {
	if s.nc == nil || s.nc.Status() == nats.CLOSED {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return fmt.Errorf("failed to drain connection to NATS: %w", err)
	}
	return nil
}
