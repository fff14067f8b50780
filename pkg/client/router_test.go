package client

import (
	"testing"

	"github.com/rs/zerolog"

	"grimhollow/internal/protocol"
)

func TestRouterDispatchesToRegisteredListener(t *testing.T) {
	r := NewRouter(zerolog.Nop())

	var gotA, gotB []protocol.Envelope
	r.Subscribe("a", HandlerFunc(func(env protocol.Envelope) { gotA = append(gotA, env) }))
	r.Subscribe("b", HandlerFunc(func(env protocol.Envelope) { gotB = append(gotB, env) }))

	env := protocol.Envelope{Kind: protocol.KindAck, Listener: "a", Flag: protocol.FlagOk}
	if !r.Dispatch(env) {
		t.Fatal("expected dispatch to listener a")
	}
	if len(gotA) != 1 || len(gotB) != 0 {
		t.Fatalf("envelope fanned out: a=%d b=%d", len(gotA), len(gotB))
	}
}

func TestRouterDropsUnmatchedEnvelope(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	env := protocol.Envelope{Kind: protocol.KindAck, Listener: "nobody", Flag: protocol.FlagOk}
	if r.Dispatch(env) {
		t.Fatal("dispatch reported delivery with no listener registered")
	}
}

func TestRouterUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRouter(zerolog.Nop())

	delivered := 0
	r.Subscribe("a", HandlerFunc(func(protocol.Envelope) { delivered++ }))
	env := protocol.Envelope{Kind: protocol.KindAck, Listener: "a", Flag: protocol.FlagOk}

	r.Dispatch(env)
	r.Unsubscribe("a")
	if r.Dispatch(env) {
		t.Fatal("delivered after unsubscribe")
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
}

func TestRouterSubscribeReplacesHandler(t *testing.T) {
	r := NewRouter(zerolog.Nop())

	first, second := 0, 0
	r.Subscribe("a", HandlerFunc(func(protocol.Envelope) { first++ }))
	r.Subscribe("a", HandlerFunc(func(protocol.Envelope) { second++ }))

	r.Dispatch(protocol.Envelope{Kind: protocol.KindAck, Listener: "a", Flag: protocol.FlagOk})
	if first != 0 || second != 1 {
		t.Fatalf("first=%d second=%d, want replacement to win", first, second)
	}
}

func TestRouterHandlerMayUnsubscribeItself(t *testing.T) {
	r := NewRouter(zerolog.Nop())

	calls := 0
	r.Subscribe("once", HandlerFunc(func(protocol.Envelope) {
		calls++
		r.Unsubscribe("once")
	}))

	env := protocol.Envelope{Kind: protocol.KindAck, Listener: "once", Flag: protocol.FlagOk}
	r.Dispatch(env)
	r.Dispatch(env)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
