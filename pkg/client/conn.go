package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"grimhollow/internal/protocol"
)

// ErrOffline is returned by Send when the connection is down. Callers treat
// it as a fast local failure: no request was put on the wire.
var ErrOffline = errors.New("client: offline")

const (
	connWriteWait = 10 * time.Second
	connPongWait  = 60 * time.Second
)

// Conn is the client side of the transport: it serializes outbound requests
// and feeds every inbound envelope to the router on its own goroutine.
type Conn struct {
	ws     *websocket.Conn
	router *Router
	log    zerolog.Logger

	writeMu sync.Mutex
	online  atomic.Bool
	done    chan struct{}
}

// Dial connects to the server and starts the read pump.
func Dial(ctx context.Context, url string, router *Router, log zerolog.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		ws:     ws,
		router: router,
		log:    log.With().Str("component", "conn").Logger(),
		done:   make(chan struct{}),
	}
	c.online.Store(true)

	ws.SetReadDeadline(time.Now().Add(connPongWait))
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(connPongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(connWriteWait))
	})

	go c.readPump()
	return c, nil
}

// Online reports whether the connection is usable.
func (c *Conn) Online() bool { return c.online.Load() }

// Send writes one request envelope. Fire-and-forget: the response, if any,
// arrives through the router under the request's listener key.
func (c *Conn) Send(env protocol.Envelope) error {
	if !c.online.Load() {
		return ErrOffline
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(connWriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.online.Store(false)
		return fmt.Errorf("send %s: %w", env.Kind, err)
	}
	return nil
}

// Close tears the connection down; the read pump exits shortly after.
func (c *Conn) Close() error {
	c.online.Store(false)
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Conn) readPump() {
	defer func() {
		c.online.Store(false)
		close(c.done)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("connection lost")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(connPongWait))

		env, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed envelope from server")
			continue
		}
		c.router.Dispatch(env)
	}
}
