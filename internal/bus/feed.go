// Package bus publishes confirmed market transactions to NATS so other
// server nodes and live dashboards can observe the market without polling.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"grimhollow/internal/protocol"
)

// Config controls the feed connection.
type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Feed is a thin wrapper over a NATS connection. A nil *Feed is valid and
// publishes nothing, so callers never branch on whether the feed is enabled.
type Feed struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

// Connect establishes the NATS connection for the market feed.
func Connect(cfg Config, log zerolog.Logger) (*Feed, error) {
	feedLog := log.With().Str("component", "bus").Logger()

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			feedLog.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			feedLog.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	feedLog.Info().Str("url", conn.ConnectedUrl()).Str("subject", cfg.Subject).Msg("market feed connected")
	return &Feed{conn: conn, subject: cfg.Subject, log: feedLog}, nil
}

// PublishMarketEvent emits one event. Publish failures are logged, never
// propagated; the feed is advisory and must not fail a transaction.
func (f *Feed) PublishMarketEvent(ev protocol.MarketEvent) {
	if f == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		f.log.Error().Err(err).Msg("marshal market event")
		return
	}
	if err := f.conn.Publish(f.subject, data); err != nil {
		f.log.Error().Err(err).Msg("publish market event")
	}
}

// SubscribeMarketEvents invokes fn for every event on the feed subject.
func (f *Feed) SubscribeMarketEvents(fn func(protocol.MarketEvent)) error {
	if f == nil {
		return nil
	}
	_, err := f.conn.Subscribe(f.subject, func(msg *nats.Msg) {
		var ev protocol.MarketEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			f.log.Warn().Err(err).Msg("malformed market event")
			return
		}
		fn(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", f.subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	if err := f.conn.Drain(); err != nil {
		f.log.Warn().Err(err).Msg("nats drain")
	}
	f.conn.Close()
}
