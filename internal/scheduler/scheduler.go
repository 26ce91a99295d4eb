// Package scheduler coalesces rapid repeated quantity changes on the
// same cart line into a single deferred network call, holding the
// pre-mutation snapshot needed for rollback.
//
// A user clicking "+" five times must see five immediate UI updates but
// cause one network round trip carrying the final quantity. Each
// mutation re-arms a per-line timer; only when the quiet period elapses
// without another mutation does the scheduler issue the call.
//
// Every issued call carries a token and a cancellable context. A newer
// mutation on the same line cancels the in-flight call, and a
// superseded call's late response is discarded by token comparison, so
// a stale confirmation can never overwrite newer optimistic state.
// Different lines are debounced independently.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cartsync/internal/model"
)

// DefaultQuietPeriod is the debounce window between the last mutation
// on a line and its network call.
const DefaultQuietPeriod = 300 * time.Millisecond

// CallFunc issues the coalesced network call for one line, carrying the
// latest requested absolute quantity.
type CallFunc func(ctx context.Context, key model.LineKey, quantity int) ([]model.DisplayLine, error)

// Result reports the outcome of a coalesced call.
type Result struct {
	Key      model.LineKey
	Quantity int

	// Rollback is the snapshot captured before the FIRST optimistic
	// change of the burst. On failure the whole cart must revert to it,
	// never to a partially-applied intermediate state.
	Rollback model.Snapshot

	// Lines is the authoritative cart returned on success.
	Lines []model.DisplayLine

	Err error
}

// Config holds scheduler configuration.
type Config struct {
	Call        CallFunc     // required
	OnResult    func(Result) // required; invoked off the caller's goroutine
	Quiet       time.Duration
	CallTimeout time.Duration
	Clock       Clock
}

// Scheduler debounces per-line mutations. Safe for concurrent use.
type Scheduler struct {
	call        CallFunc
	onResult    func(Result)
	quiet       time.Duration
	callTimeout time.Duration
	clock       Clock

	mu      sync.Mutex
	entries map[model.LineKey]*entry
}

// entry tracks one line's unconfirmed burst.
type entry struct {
	quantity int
	rollback model.Snapshot
	token    uuid.UUID
	gen      int
	timer    Timer
	cancel   context.CancelFunc // non-nil while a call is in flight
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	quiet := cfg.Quiet
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		call:        cfg.Call,
		onResult:    cfg.OnResult,
		quiet:       quiet,
		callTimeout: callTimeout,
		clock:       clock,
		entries:     make(map[model.LineKey]*entry),
	}
}

// Schedule records the latest requested quantity for a line and
// (re-)arms its quiet-period timer. The caller has already applied the
// change optimistically; before is the snapshot preceding that change
// and becomes the burst's rollback target if this is the burst's first
// mutation. An in-flight call for the same line is cancelled and its
// response will be discarded.
func (s *Scheduler) Schedule(key model.LineKey, quantity int, before model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{rollback: before.Clone()}
		s.entries[key] = e
	}

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	e.quantity = quantity
	e.token = uuid.New()
	e.gen++

	gen := e.gen
	e.timer = s.clock.AfterFunc(s.quiet, func() { s.fire(key, gen) })
}

// Pending reports whether a line has an unconfirmed burst (armed timer
// or in-flight call).
func (s *Scheduler) Pending(key model.LineKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// PendingCount returns the number of lines with unconfirmed bursts.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cancel drops one line's burst: timer disarmed, in-flight call
// cancelled, no result reported. Used when the line is removed outright
// and a later coalesced update must not resurrect it.
func (s *Scheduler) Cancel(key model.LineKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	delete(s.entries, key)
}

// CancelAll disarms every timer, cancels every in-flight call, and
// drops all bursts without reporting results. Used on mode transitions,
// when the snapshot is about to be replaced wholesale anyway.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.cancel != nil {
			e.cancel()
		}
		delete(s.entries, key)
	}
}

// fire runs when a line's quiet period elapses. gen guards against a
// timer that loses the race with a concurrent re-arm: only the timer
// belonging to the latest mutation may issue the call.
func (s *Scheduler) fire(key model.LineKey, gen int) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	e.cancel = cancel
	token := e.token
	quantity := e.quantity
	rollback := e.rollback
	s.mu.Unlock()

	go func() {
		defer cancel()
		lines, err := s.call(ctx, key, quantity)

		s.mu.Lock()
		cur, ok := s.entries[key]
		if !ok || cur.token != token {
			// Superseded while in flight; a newer burst owns this line now.
			s.mu.Unlock()
			return
		}
		delete(s.entries, key)
		s.mu.Unlock()

		s.onResult(Result{
			Key:      key,
			Quantity: quantity,
			Rollback: rollback,
			Lines:    lines,
			Err:      err,
		})
	}()
}
