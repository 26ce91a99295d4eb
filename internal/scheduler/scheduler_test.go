package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cartsync/internal/model"
)

// fakeClock collects armed timers and fires them on demand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	fn      func()
	stopped bool
	fired   bool
	mu      sync.Mutex
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{fn: fn}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// Advance fires every armed, unstopped timer once.
func (c *fakeClock) Advance() {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()

	for _, t := range timers {
		t.mu.Lock()
		skip := t.stopped || t.fired
		if !skip {
			t.fired = true
		}
		t.mu.Unlock()
		if !skip {
			t.fn()
		}
	}
}

// recordingCall counts calls and returns a canned response per call.
type recordingCall struct {
	mu       sync.Mutex
	calls    []callRecord
	response []model.DisplayLine
	err      error
	block    chan struct{} // if non-nil, calls wait on it
}

type callRecord struct {
	key      model.LineKey
	quantity int
	ctx      context.Context
}

func (r *recordingCall) call(ctx context.Context, key model.LineKey, quantity int) ([]model.DisplayLine, error) {
	r.mu.Lock()
	r.calls = append(r.calls, callRecord{key: key, quantity: quantity, ctx: ctx})
	block := r.block
	resp, err := r.response, r.err
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, model.NewUnreachableError("cart API", ctx.Err())
		}
	}
	return resp, err
}

func (r *recordingCall) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestScheduler(call CallFunc) (*Scheduler, *fakeClock, chan Result) {
	clock := &fakeClock{}
	results := make(chan Result, 16)
	s := New(Config{
		Call:     call,
		OnResult: func(r Result) { results <- r },
		Clock:    clock,
	})
	return s, clock, results
}

func waitResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func key(p string) model.LineKey { return model.LineKey{ProductID: p, VariantIndex: 0} }

func TestSchedule_CoalescesBurstIntoOneCall(t *testing.T) {
	rec := &recordingCall{response: []model.DisplayLine{{Line: model.Line{ProductID: "p1", Quantity: 5}}}}
	s, clock, results := newTestScheduler(rec.call)

	// Five rapid clicks: quantities 1..5 inside one quiet period
	for q := 1; q <= 5; q++ {
		s.Schedule(key("p1"), q, model.Snapshot{})
	}

	if got := rec.count(); got != 0 {
		t.Fatalf("calls before quiet period = %d, want 0", got)
	}

	clock.Advance()
	r := waitResult(t, results)

	if got := rec.count(); got != 1 {
		t.Errorf("calls = %d, want exactly 1", got)
	}
	if r.Quantity != 5 {
		t.Errorf("Quantity = %d, want final value 5", r.Quantity)
	}
	if r.Err != nil {
		t.Errorf("Err = %v", r.Err)
	}
}

func TestSchedule_RollbackIsFirstSnapshotOfBurst(t *testing.T) {
	rec := &recordingCall{err: model.NewUnreachableError("cart API", errors.New("down"))}
	s, clock, results := newTestScheduler(rec.call)

	first := model.Snapshot{{Line: model.Line{ProductID: "p1", VariantIndex: 0, Quantity: 1}}}
	second := model.Snapshot{{Line: model.Line{ProductID: "p1", VariantIndex: 0, Quantity: 2}}}

	s.Schedule(key("p1"), 2, first)
	s.Schedule(key("p1"), 3, second)

	clock.Advance()
	r := waitResult(t, results)

	if !errors.Is(r.Err, model.ErrUnreachable) {
		t.Fatalf("Err = %v, want ErrUnreachable", r.Err)
	}
	if len(r.Rollback) != 1 || r.Rollback[0].Quantity != 1 {
		t.Errorf("Rollback = %+v, want the pre-burst snapshot (quantity 1)", r.Rollback)
	}
}

func TestSchedule_RollbackIsDetachedFromCallersSnapshot(t *testing.T) {
	rec := &recordingCall{err: errors.New("fail")}
	s, clock, results := newTestScheduler(rec.call)

	before := model.Snapshot{{Line: model.Line{ProductID: "p1", Quantity: 1}}}
	s.Schedule(key("p1"), 2, before)

	// Caller keeps mutating its own copy after scheduling
	before[0].Quantity = 99

	clock.Advance()
	r := waitResult(t, results)

	if r.Rollback[0].Quantity != 1 {
		t.Errorf("Rollback quantity = %d, want 1 (must be a clone)", r.Rollback[0].Quantity)
	}
}

func TestSchedule_IndependentKeys(t *testing.T) {
	rec := &recordingCall{}
	s, clock, results := newTestScheduler(rec.call)

	s.Schedule(key("p1"), 2, model.Snapshot{})
	s.Schedule(key("p2"), 4, model.Snapshot{})

	clock.Advance()
	got := map[string]int{}
	for i := 0; i < 2; i++ {
		r := waitResult(t, results)
		got[r.Key.ProductID] = r.Quantity
	}

	if rec.count() != 2 {
		t.Errorf("calls = %d, want 2 (one per key)", rec.count())
	}
	if got["p1"] != 2 || got["p2"] != 4 {
		t.Errorf("results = %v", got)
	}
}

func TestSchedule_SupersededInFlightCallDiscarded(t *testing.T) {
	block := make(chan struct{})
	rec := &recordingCall{block: block, response: []model.DisplayLine{{Line: model.Line{ProductID: "p1", Quantity: 2}}}}
	s, clock, results := newTestScheduler(rec.call)

	s.Schedule(key("p1"), 2, model.Snapshot{})
	clock.Advance() // first call goes in flight and blocks

	waitForCalls(t, rec, 1)

	// Newer mutation arrives while the call is in flight: it must
	// cancel the in-flight call and own the line from here on.
	s.Schedule(key("p1"), 7, model.Snapshot{})

	close(block) // let the first (cancelled) call return

	clock.Advance() // second burst fires
	r := waitResult(t, results)

	if r.Quantity != 7 {
		t.Errorf("Quantity = %d, want 7 (stale response must be discarded)", r.Quantity)
	}

	select {
	case extra := <-results:
		t.Errorf("unexpected extra result: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedule_InFlightContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	rec := &recordingCall{block: block}
	s, clock, _ := newTestScheduler(rec.call)

	s.Schedule(key("p1"), 2, model.Snapshot{})
	clock.Advance()
	waitForCalls(t, rec, 1)

	s.Schedule(key("p1"), 3, model.Snapshot{})

	rec.mu.Lock()
	ctx := rec.calls[0].ctx
	rec.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Error("in-flight context not cancelled by newer mutation")
	}
}

func TestCancelAll(t *testing.T) {
	rec := &recordingCall{}
	s, clock, results := newTestScheduler(rec.call)

	s.Schedule(key("p1"), 2, model.Snapshot{})
	s.Schedule(key("p2"), 1, model.Snapshot{})
	s.CancelAll()

	clock.Advance()

	select {
	case r := <-results:
		t.Errorf("result after CancelAll: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	if rec.count() != 0 {
		t.Errorf("calls = %d after CancelAll, want 0", rec.count())
	}
	if s.Pending(key("p1")) {
		t.Error("p1 still pending after CancelAll")
	}
}

func TestCancel_SingleKey(t *testing.T) {
	rec := &recordingCall{}
	s, clock, results := newTestScheduler(rec.call)

	s.Schedule(key("p1"), 2, model.Snapshot{})
	s.Schedule(key("p2"), 1, model.Snapshot{})
	s.Cancel(key("p1"))

	clock.Advance()
	r := waitResult(t, results)

	if r.Key.ProductID != "p2" {
		t.Errorf("result for %s, want p2 only", r.Key.ProductID)
	}
	if rec.count() != 1 {
		t.Errorf("calls = %d, want 1", rec.count())
	}
}

func TestPending(t *testing.T) {
	rec := &recordingCall{}
	s, clock, results := newTestScheduler(rec.call)

	if s.Pending(key("p1")) {
		t.Error("Pending before any Schedule")
	}

	s.Schedule(key("p1"), 2, model.Snapshot{})
	if !s.Pending(key("p1")) {
		t.Error("not Pending after Schedule")
	}

	clock.Advance()
	waitResult(t, results)
	if s.Pending(key("p1")) {
		t.Error("still Pending after result delivered")
	}
}

func waitForCalls(t *testing.T, rec *recordingCall, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d calls (have %d)", n, rec.count())
		}
		time.Sleep(time.Millisecond)
	}
}
