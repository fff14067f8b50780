package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grimhollow/internal/protocol"
)

// gatedWriter blocks each write until a token is sent on gate, so tests can
// hold a write in flight while more saves are requested.
type gatedWriter struct {
	mu     sync.Mutex
	gate   chan struct{}
	writes []protocol.SavePayload
}

func newGatedWriter() *gatedWriter {
	return &gatedWriter{gate: make(chan struct{})}
}

func (w *gatedWriter) WriteSave(_ context.Context, p protocol.SavePayload) error {
	<-w.gate
	w.mu.Lock()
	w.writes = append(w.writes, p)
	w.mu.Unlock()
	return nil
}

func (w *gatedWriter) saved() []protocol.SavePayload {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]protocol.SavePayload, len(w.writes))
	copy(out, w.writes)
	return out
}

func TestSaverWritesSingleRequest(t *testing.T) {
	w := newGatedWriter()
	s := NewSaver(w, zerolog.Nop())

	s.Request(protocol.SavePayload{Character: "alice", Gold: 100})
	w.gate <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	got := w.saved()
	if len(got) != 1 || got[0].Gold != 100 {
		t.Fatalf("writes = %+v, want one write with gold 100", got)
	}
}

func TestSaverNewestPendingSupersedes(t *testing.T) {
	w := newGatedWriter()
	s := NewSaver(w, zerolog.Nop())

	s.Request(protocol.SavePayload{Character: "alice", Gold: 1})
	// While the first write is held in flight, request two more: only the
	// newest state is worth persisting.
	s.Request(protocol.SavePayload{Character: "alice", Gold: 2})
	s.Request(protocol.SavePayload{Character: "alice", Gold: 3})

	w.gate <- struct{}{} // releases gold=1
	w.gate <- struct{}{} // releases the superseding state

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	got := w.saved()
	if len(got) != 2 {
		t.Fatalf("writes = %+v, want exactly two", got)
	}
	if got[0].Gold != 1 || got[1].Gold != 3 {
		t.Fatalf("writes = %+v, want gold 1 then 3 (2 superseded)", got)
	}
}

func TestSaverWaitRespectsContext(t *testing.T) {
	w := newGatedWriter()
	s := NewSaver(w, zerolog.Nop())

	s.Request(protocol.SavePayload{Character: "alice", Gold: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("wait returned while a write was still in flight")
	}

	w.gate <- struct{}{}
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := s.Wait(ctx2); err != nil {
		t.Fatalf("wait after drain: %v", err)
	}
}

func TestSaverIdleWaitReturnsImmediately(t *testing.T) {
	s := NewSaver(newGatedWriter(), zerolog.Nop())
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("wait on idle saver: %v", err)
	}
}
