package ratelimit

import (
	"sync"
	"time"

	"kenmesh.org/internal/obs"
	"kenmesh.org/internal/secevent"
)

// Limiter applies per-identifier sliding-window throttling. Each
// identifier owns an independent window; callers racing on the same
// identifier serialize on that window's lock, so the prune+check+append
// sequence is atomic and a single remaining slot admits exactly one of
// them.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	events  *secevent.Log
	now     func() time.Time
}

type window struct {
	mu     sync.Mutex
	dead   bool // set under mu when Sweep retires the window
	stamps []time.Time
}

// Option configures Limiter behavior.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New creates an empty limiter. Denials are appended to events.
func New(events *secevent.Log, opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		events:  events,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow admits the request when fewer than limit events fall inside the
// trailing windowDur, recording the admission; otherwise denies.
func (l *Limiter) Allow(identifier string, limit int, windowDur time.Duration) bool {
	if limit <= 0 {
		return false
	}
	for {
		w := l.window(identifier)
		if admitted, ok := l.admit(w, identifier, limit, windowDur); ok {
			return admitted
		}
		// Sweep retired w between the map read and the lock; the live
		// window must record this admission or a follow-up caller
		// would see an empty count and be admitted alongside it.
	}
}

// admit runs the prune+check+append critical section on w. ok is false
// when w was retired before the lock was acquired and the caller must
// retry against the current window.
func (l *Limiter) admit(w *window, identifier string, limit int, windowDur time.Duration) (admitted, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return false, false
	}

	now := l.now()
	cutoff := now.Add(-windowDur)

	// Prune in place; stamps are appended in order so the retained
	// suffix stays monotonically non-decreasing.
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= limit {
		obs.RateLimitDenials.Inc()
		l.events.Append("rate_limit_exceeded", map[string]any{
			"identifier": identifier,
			"limit":      limit,
			"window":     windowDur.String(),
		})
		return false, true
	}
	w.stamps = append(w.stamps, now)
	return true, true
}

// TrackedIdentifiers reports how many identifiers currently hold a window.
func (l *Limiter) TrackedIdentifiers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Sweep drops windows whose entries all fell out of maxAge. Meant to run
// from a background ticker so idle identifiers do not pin memory.
// Retired windows are marked dead under their own lock so an Allow that
// fetched the pointer before the sweep retries instead of recording its
// admission in an orphan.
func (l *Limiter) Sweep(maxAge time.Duration) {
	cutoff := l.now().Add(-maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, w := range l.windows {
		w.mu.Lock()
		stale := len(w.stamps) == 0 || !w.stamps[len(w.stamps)-1].After(cutoff)
		if stale {
			w.dead = true
			delete(l.windows, id)
		}
		w.mu.Unlock()
	}
}

func (l *Limiter) window(identifier string) *window {
	l.mu.RLock()
	w, ok := l.windows[identifier]
	l.mu.RUnlock()
	if ok {
		return w
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[identifier]; ok {
		return w
	}
	w = &window{}
	l.windows[identifier] = w
	return w
}
