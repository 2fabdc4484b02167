package watershed

import (
	"context"
	"sync"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
)

// Tracker hands out generations so that a delineation started before a
// newer request for the same session can be recognised as stale. Stale work
// is not interrupted; its result is dropped on completion.
//
// Generations come from one tracker-wide sequence, so a session entry can be
// removed as soon as its latest generation finishes.
type Tracker struct {
	mu   sync.Mutex
	seq  uint64
	gens map[string]uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{gens: make(map[string]uint64)}
}

// Begin starts a new generation for session and returns it.
func (t *Tracker) Begin(session string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.gens[session] = t.seq
	return t.seq
}

// Current reports whether gen is still the latest generation of session.
func (t *Tracker) Current(session string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gens[session] == gen
}

// End finishes gen. It reports whether gen was still current and, if so,
// drops the session entry.
func (t *Tracker) End(session string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gens[session] != gen {
		return false
	}
	delete(t.gens, session)
	return true
}

// Sessions returns the number of sessions with a delineation in flight.
func (t *Tracker) Sessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.gens)
}

// Run executes fn as a new generation of session. If another generation was
// started while fn ran, its result is discarded and a Superseded error is
// returned instead.
func Run[T any](ctx context.Context, t *Tracker, session string, fn func(context.Context) (T, error)) (T, error) {
	gen := t.Begin(session)
	v, err := fn(ctx)
	if !t.End(session, gen) {
		var zero T
		return zero, apperr.E(apperr.Superseded, "a newer delineation was requested for this session", nil)
	}
	return v, err
}
