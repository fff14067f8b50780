package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"grimhollow/internal/protocol"
)

// PrefsWriter persists a save payload locally (the offline fallback when the
// server is unreachable). Implementations are typically a preferences file.
type PrefsWriter interface {
	WriteSave(ctx context.Context, p protocol.SavePayload) error
}

// Saver is a single-writer save queue: at most one write is in flight, and a
// save requested while one is running supersedes any still-pending state.
// This replaces firing an unbounded background task per save, where
// overlapping writes could interleave on the same persisted fields.
type Saver struct {
	mu       sync.Mutex
	writer   PrefsWriter
	log      zerolog.Logger
	inflight bool
	pending  *protocol.SavePayload
	idle     chan struct{} // closed while no writer goroutine is running
}

// NewSaver creates a saver on top of writer.
func NewSaver(writer PrefsWriter, log zerolog.Logger) *Saver {
	idle := make(chan struct{})
	close(idle)
	return &Saver{
		writer: writer,
		log:    log.With().Str("component", "saver").Logger(),
		idle:   idle,
	}
}

// Request schedules p to be written. If a write is already running, p
// replaces whatever was queued behind it; only the newest state is worth
// persisting.
func (s *Saver) Request(p protocol.SavePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight {
		s.pending = &p
		return
	}
	s.inflight = true
	s.idle = make(chan struct{})
	go s.run(p)
}

// Wait blocks until the queue is drained or ctx is cancelled.
func (s *Saver) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Saver) run(p protocol.SavePayload) {
	for {
		if err := s.writer.WriteSave(context.Background(), p); err != nil {
			s.log.Error().Err(err).Str("character", p.Character).Msg("local save failed")
		}

		s.mu.Lock()
		if s.pending == nil {
			s.inflight = false
			close(s.idle)
			s.mu.Unlock()
			return
		}
		p = *s.pending
		s.pending = nil
		s.mu.Unlock()
	}
}
