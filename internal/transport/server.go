// Package transport accepts WebSocket connections and runs one serial
// dispatch loop per connection: each inbound envelope is handled to
// completion (including its store calls) before the next is read, matching
// the protocol's per-connection ordering guarantee.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"grimhollow/internal/auth"
	"grimhollow/internal/config"
	"grimhollow/internal/dispatch"
	"grimhollow/internal/metrics"
	"grimhollow/internal/protocol"
)

const pingRatio = 9.0 / 10.0

// Server upgrades HTTP requests and owns the live connection set.
type Server struct {
	cfg        config.ServerConfig
	dispatcher *dispatch.Dispatcher
	tokens     *auth.Manager
	metrics    *metrics.Registry
	log        zerolog.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// NewServer creates the transport server. A nil token manager disables the
// reconnect token check.
func NewServer(cfg config.ServerConfig, d *dispatch.Dispatcher, tokens *auth.Manager, reg *metrics.Registry, log zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		tokens:     tokens,
		metrics:    reg,
		log:        log.With().Str("component", "transport").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request and serves the connection until it drops.
// Reconnecting clients may present their session token as a `token` query
// parameter; an invalid token is rejected before the upgrade. A fresh client
// has no token yet and is admitted, its session starts at signup/login.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if s.tokens != nil {
		if token := r.URL.Query().Get("token"); token != "" {
			claims, err := s.tokens.Verify(token)
			if err != nil {
				s.log.Warn().Err(err).Msg("rejected reconnect token")
				http.Error(w, "invalid session token", http.StatusUnauthorized)
				return
			}
			s.log.Debug().Str("character", claims.Character).Msg("session token accepted")
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, s.cfg.SendQueueSize)}
	s.register(c)
	defer s.unregister(c)

	go s.writePump(c)
	s.readLoop(r.Context(), c)
}

// Broadcast sends the envelope to every live connection. Slow consumers are
// skipped rather than blocking the caller; used for the market feed, where
// missing an advisory event is acceptable.
func (s *Server) Broadcast(env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("encode broadcast envelope")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		select {
		case c.send <- data:
		default:
			// send queue full, skip this connection
		}
	}
}

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every live connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.Connections.Active.Inc()
	}
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if ok {
		c.close()
		c.ws.Close()
		if s.metrics != nil {
			s.metrics.Connections.Active.Dec()
		}
	}
}

// readLoop processes envelopes serially: the response is written before the
// next frame is read. A malformed envelope is dropped; a handler fault
// produces a generalError response from the dispatcher, never a dead loop.
func (s *Server) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(s.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.RateBurst)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("read error")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		if !limiter.Allow() {
			if s.metrics != nil {
				s.metrics.Envelopes.RateLimited.Inc()
			}
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("malformed envelope")
			if s.metrics != nil {
				s.metrics.Envelopes.Dropped.Inc()
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.Envelopes.Received.Inc()
		}

		resp := s.dispatcher.Dispatch(ctx, env)
		s.respond(c, resp)
	}
}

func (s *Server) respond(c *conn, resp protocol.Envelope) {
	data, err := resp.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("encode response envelope")
		return
	}
	select {
	case c.send <- data:
		if s.metrics != nil {
			s.metrics.Envelopes.Responded.Inc()
		}
	default:
		s.log.Warn().Msg("send queue full, dropping response")
		if s.metrics != nil {
			s.metrics.Envelopes.Dropped.Inc()
		}
	}
}

func (s *Server) writePump(c *conn) {
	pingPeriod := time.Duration(float64(s.cfg.ReadTimeout) * pingRatio)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
