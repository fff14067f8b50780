// Package presence tracks which characters are alive based on heartbeat
// traffic, and periodically expires stale sessions.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StoreWriter is the slice of the persistent store the tracker needs: a
// durable online/offline mark per character.
type StoreWriter interface {
	MarkOnline(ctx context.Context, character string, online bool) error
	ResetAllOffline(ctx context.Context) error
}

// Tracker maps character -> last heartbeat time. Touch and the sweep run on
// different goroutines; the mutex makes the later writer win, so a touch
// that races a removal simply re-creates the session.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]time.Time

	threshold time.Duration
	store     StoreWriter
	log       zerolog.Logger
	now       func() time.Time

	onOnlineCount func(int) // optional gauge hook
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithOnlineGauge installs a callback invoked with the online session count
// after every change.
func WithOnlineGauge(fn func(int)) Option {
	return func(t *Tracker) { t.onOnlineCount = fn }
}

// New creates a tracker that considers a session stale once now-lastHeartbeat
// reaches threshold.
func New(threshold time.Duration, store StoreWriter, log zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		sessions:  make(map[string]time.Time),
		threshold: threshold,
		store:     store,
		log:       log.With().Str("component", "presence").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Touch records a heartbeat for character, inserting the session if absent.
// Idempotent; safe to call on every authenticated envelope.
func (t *Tracker) Touch(ctx context.Context, character string) {
	t.mu.Lock()
	_, existed := t.sessions[character]
	t.sessions[character] = t.now()
	count := len(t.sessions)
	t.mu.Unlock()

	if !existed {
		if err := t.store.MarkOnline(ctx, character, true); err != nil {
			t.log.Error().Err(err).Str("character", character).Msg("mark online failed")
		}
		t.reportCount(count)
	}
}

// Online reports whether character has a live session.
func (t *Tracker) Online(character string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.sessions[character]
	return ok && t.now().Sub(last) < t.threshold
}

// Remove drops the session immediately (orderly logoff) and writes the
// durable offline mark.
func (t *Tracker) Remove(ctx context.Context, character string) {
	t.mu.Lock()
	_, existed := t.sessions[character]
	delete(t.sessions, character)
	count := len(t.sessions)
	t.mu.Unlock()

	if existed {
		if err := t.store.MarkOnline(ctx, character, false); err != nil {
			t.log.Error().Err(err).Str("character", character).Msg("mark offline failed")
		}
		t.reportCount(count)
	}
}

// Sweep expires every session whose heartbeat is at least threshold old and
// issues one durable offline write per expired session. Returns how many
// sessions were expired.
func (t *Tracker) Sweep(ctx context.Context) int {
	now := t.now()

	t.mu.Lock()
	expired := make([]string, 0)
	for character, last := range t.sessions {
		if now.Sub(last) >= t.threshold {
			delete(t.sessions, character)
			expired = append(expired, character)
		}
	}
	count := len(t.sessions)
	t.mu.Unlock()

	for _, character := range expired {
		t.log.Info().Str("character", character).Msg("session expired")
		if err := t.store.MarkOnline(ctx, character, false); err != nil {
			t.log.Error().Err(err).Str("character", character).Msg("mark offline failed")
		}
	}
	if len(expired) > 0 {
		t.reportCount(count)
	}
	return len(expired)
}

// Run drives the periodic sweep until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.log.Info().Dur("interval", interval).Dur("threshold", t.threshold).Msg("presence sweep started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

func (t *Tracker) reportCount(n int) {
	if t.onOnlineCount != nil {
		t.onOnlineCount(n)
	}
}
