// Package client is the Grimhollow client core: the listener router that
// correlates asynchronous responses with pending operations, the WebSocket
// connection, the market transaction engine and the offline save queue. It
// has no rendering dependencies; the UI layer consumes it through small
// interfaces.
package client

import (
	"sync"

	"github.com/rs/zerolog"

	"grimhollow/internal/protocol"
)

// Handler receives the envelopes addressed to one listener key.
type Handler interface {
	OnMessage(env protocol.Envelope)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(env protocol.Envelope)

func (f HandlerFunc) OnMessage(env protocol.Envelope) { f(env) }

// Router maps listener keys to handlers and dispatches each inbound envelope
// to at most one of them. Subscribe/Unsubscribe run on the UI goroutine,
// Dispatch on the network delivery goroutine; the mutex covers both. There
// is no buffering: an envelope with no registered listener is dropped, so
// callers subscribe before sending the matching request.
type Router struct {
	mu       sync.Mutex
	handlers map[protocol.ListenerKey]Handler
	log      zerolog.Logger
}

// NewRouter creates an empty router.
func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[protocol.ListenerKey]Handler),
		log:      log.With().Str("component", "router").Logger(),
	}
}

// Subscribe registers handler for key, replacing any previous registration.
func (r *Router) Subscribe(key protocol.ListenerKey, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = handler
}

// Unsubscribe removes the registration for key.
func (r *Router) Unsubscribe(key protocol.ListenerKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, key)
}

// Dispatch delivers env to the handler registered under its listener key and
// reports whether anyone received it. The handler runs outside the router
// lock so it may subscribe or unsubscribe reentrantly.
func (r *Router) Dispatch(env protocol.Envelope) bool {
	r.mu.Lock()
	handler, ok := r.handlers[env.Listener]
	r.mu.Unlock()

	if !ok {
		r.log.Debug().Str("listener", string(env.Listener)).Str("kind", string(env.Kind)).
			Msg("no listener, envelope dropped")
		return false
	}
	handler.OnMessage(env)
	return true
}
