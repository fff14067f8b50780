// Package dispatch demultiplexes inbound envelopes by kind, then by action,
// to a transaction handler, and builds exactly one response envelope per
// request. A handler fault never escapes: store errors and panics are
// downgraded to a generalError response so the serial per-connection
// dispatch loop survives any single bad request.
package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"grimhollow/internal/auth"
	"grimhollow/internal/metrics"
	"grimhollow/internal/presence"
	"grimhollow/internal/protocol"
	"grimhollow/internal/store"
)

// EventPublisher receives confirmed market transactions. *bus.Feed satisfies
// it; a nil feed publishes nothing.
type EventPublisher interface {
	PublishMarketEvent(ev protocol.MarketEvent)
}

type handlerFunc func(ctx context.Context, env protocol.Envelope) (protocol.Flag, any, error)

// Dispatcher routes envelopes to their transaction handlers.
type Dispatcher struct {
	store    store.Store
	presence *presence.Tracker
	tokens   *auth.Manager
	feed     EventPublisher
	metrics  *metrics.Registry
	log      zerolog.Logger

	handlers map[protocol.Kind]handlerFunc
}

// New creates a dispatcher. feed may be nil.
func New(st store.Store, tracker *presence.Tracker, tokens *auth.Manager, feed EventPublisher, reg *metrics.Registry, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		store:    st,
		presence: tracker,
		tokens:   tokens,
		feed:     feed,
		metrics:  reg,
		log:      log.With().Str("component", "dispatch").Logger(),
	}
	d.handlers = map[protocol.Kind]handlerFunc{
		protocol.KindSignup:      d.handleSignup,
		protocol.KindLogin:       d.handleLogin,
		protocol.KindSave:        d.handleSave,
		protocol.KindRanking:     d.handleRanking,
		protocol.KindMarket:      d.handleMarket,
		protocol.KindAck:         d.handleAck,
		protocol.KindLogoff:      d.handleLogoff,
		protocol.KindMissionData: d.handleMission,
		protocol.KindSensor:      d.handleSensor,
	}
	return d
}

// Dispatch handles one inbound envelope and returns the single response to
// send back under the request's listener key. It never panics and always
// returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, env protocol.Envelope) (resp protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("kind", string(env.Kind)).Msg("handler panic")
			d.countError()
			resp = env.Respond(protocol.FlagGeneralError, nil)
		}
	}()

	handler, ok := d.handlers[env.Kind]
	if !ok {
		d.log.Warn().Str("kind", string(env.Kind)).Msg("no handler for kind")
		d.countError()
		return env.Respond(protocol.FlagGeneralError, nil)
	}

	flag, payload, err := handler(ctx, env)
	if err != nil {
		d.log.Error().Err(err).Str("kind", string(env.Kind)).Msg("handler error")
		d.countError()
		return env.Respond(protocol.FlagGeneralError, nil)
	}
	return env.Respond(flag, payload)
}

func (d *Dispatcher) countError() {
	if d.metrics != nil {
		d.metrics.Envelopes.DispatchErrors.Inc()
	}
}

func (d *Dispatcher) countMarket(action protocol.MarketAction, flag protocol.Flag) {
	if d.metrics != nil {
		d.metrics.Market.Transactions.WithLabelValues(string(action), string(flag)).Inc()
	}
}
