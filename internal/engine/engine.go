// Package engine implements the cart state-synchronization engine: the
// single source of truth the UI consumes. It keeps one observable cart
// usable identically whether the visitor is anonymous or authenticated,
// applies mutations optimistically ahead of network confirmation, and
// guarantees the visible state never diverges permanently from the
// authoritative source.
//
// Per operation the engine routes through the local store (anonymous)
// or the remote client (authenticated). Every authenticated mutation
// follows the same discipline: mutate the in-memory snapshot first so
// the UI reflects it with zero latency, then confirm over the network,
// and on failure restore the exact pre-mutation snapshot — the cart is
// never left mutated without either a confirmed success or a full
// rollback.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cartsync/internal/model"
	"cartsync/internal/reconcile"
	"cartsync/internal/scheduler"
)

// Mode is the engine's authentication state. Transitions happen only on
// Login/Logout events from the authentication collaborator.
type Mode int

const (
	// Anonymous routes mutations to the local store.
	Anonymous Mode = iota
	// Authenticated routes mutations to the remote cart.
	Authenticated
)

func (m Mode) String() string {
	if m == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// Observer receives the new snapshot after every visible state change.
type Observer func(model.Snapshot)

// FailureFunc surfaces a user-visible, non-blocking mutation failure.
type FailureFunc func(op string, err error)

// Config holds engine dependencies. Remote, Local, and Hydrator are
// required; everything else has defaults.
type Config struct {
	Remote   RemoteCart
	Local    LocalStore
	Hydrator Hydrator
	Logger   *slog.Logger

	// OnFailure is called when a confirmed rollback happens. Default
	// logs at warn level.
	OnFailure FailureFunc

	// Quiet overrides the debounce quiet period.
	Quiet time.Duration

	// Clock overrides the debounce clock, for tests.
	Clock scheduler.Clock
}

// Engine is the cart sync engine. Safe for concurrent use; the snapshot
// is only ever replaced atomically under the engine lock, so observers
// and readers never see a torn state.
type Engine struct {
	remote   RemoteCart
	local    LocalStore
	hydrator Hydrator
	sched    *scheduler.Scheduler
	logger   *slog.Logger
	failure  FailureFunc

	mu        sync.Mutex
	mode      Mode
	snapshot  model.Snapshot
	version   uint64
	nextSubID int
	observers map[int]Observer
}

// New creates an engine starting in Anonymous mode with an empty
// snapshot. Call FetchCart to populate it.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		remote:    cfg.Remote,
		local:     cfg.Local,
		hydrator:  cfg.Hydrator,
		logger:    logger,
		observers: make(map[int]Observer),
	}
	e.failure = cfg.OnFailure
	if e.failure == nil {
		e.failure = func(op string, err error) {
			logger.Warn("cart mutation failed", slog.String("op", op), slog.Any("error", err))
		}
	}
	e.sched = scheduler.New(scheduler.Config{
		Call: func(ctx context.Context, key model.LineKey, quantity int) ([]model.DisplayLine, error) {
			return e.remote.Update(ctx, key.ProductID, key.VariantIndex, quantity)
		},
		OnResult: e.handleUpdateResult,
		Quiet:    cfg.Quiet,
		Clock:    cfg.Clock,
	})
	return e
}

// Mode returns the current authentication mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// PendingUpdates returns the number of debounced quantity updates not
// yet confirmed by the server. Callers that must not exit with work
// outstanding can poll this after UpdateItem.
func (e *Engine) PendingUpdates() int {
	return e.sched.PendingCount()
}

// Snapshot returns a copy of the current cart state.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot.Clone()
}

// Subscribe registers an observer notified after every visible change.
// The returned func cancels the subscription.
func (e *Engine) Subscribe(fn Observer) (cancel func()) {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.observers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// FetchCart refreshes the snapshot from the current authority: the
// remote cart when authenticated, the hydrated local store otherwise.
// The previous snapshot is replaced wholesale on success and left
// untouched on failure.
func (e *Engine) FetchCart(ctx context.Context) (model.Snapshot, error) {
	if e.Mode() == Authenticated {
		lines, err := e.remote.Fetch(ctx)
		if err != nil {
			if errors.Is(err, model.ErrUnauthorized) {
				e.downgrade()
				return e.fetchAnonymous(ctx)
			}
			return nil, err
		}
		e.replaceSnapshot(model.Snapshot(lines))
		return model.Snapshot(lines).Clone(), nil
	}
	return e.fetchAnonymous(ctx)
}

func (e *Engine) fetchAnonymous(ctx context.Context) (model.Snapshot, error) {
	lines, err := e.local.Read()
	if err != nil {
		return nil, err
	}
	var snapshot model.Snapshot
	if len(lines) > 0 {
		snapshot, err = e.hydrator.Hydrate(ctx, lines)
		if err != nil {
			return nil, err
		}
	}
	e.replaceSnapshot(snapshot)
	return snapshot.Clone(), nil
}

// AddToCart upserts one line. Authenticated mode applies the change
// optimistically and confirms with a direct (non-debounced) call,
// rolling back on failure; anonymous mode writes to the local store and
// re-hydrates.
func (e *Engine) AddToCart(ctx context.Context, productID string, variantIndex, quantity int) error {
	if productID == "" {
		return model.NewValidationError("productId", "required")
	}
	if variantIndex < 0 {
		return model.NewValidationError("variantIndex", "must not be negative")
	}
	if quantity < 1 {
		return model.NewValidationError("quantity", "must be at least 1")
	}
	line := model.Line{ProductID: productID, VariantIndex: variantIndex, Quantity: quantity}

	e.mu.Lock()
	if e.mode != Authenticated {
		e.mu.Unlock()
		return e.addAnonymous(ctx, line)
	}

	before := e.snapshot.Clone()
	e.snapshot = e.snapshot.Upsert(model.DisplayLine{Line: line})
	e.version++
	v := e.version
	current := e.snapshot.Clone()
	e.mu.Unlock()
	e.notify(current)

	lines, err := e.remote.Add(ctx, productID, variantIndex, quantity)
	if err != nil {
		if e.rollbackIfCurrent(v, before, err) {
			// Session expired mid-add: land the intent in the anonymous cart.
			return e.addAnonymous(ctx, line)
		}
		e.failure("add_to_cart", err)
		return err
	}
	e.confirm(v, model.Snapshot(lines), "add_to_cart")
	return nil
}

func (e *Engine) addAnonymous(ctx context.Context, line model.Line) error {
	if err := e.local.Upsert(line); err != nil {
		return err
	}
	_, err := e.fetchAnonymous(ctx)
	return err
}

// UpdateItem sets the absolute quantity for a line. Quantity <= 0 is
// treated as removal. Authenticated updates route through the debounce
// scheduler: the UI sees every change immediately, the network sees at
// most one call per quiet period carrying the latest value.
func (e *Engine) UpdateItem(ctx context.Context, productID string, variantIndex, quantity int) error {
	if quantity <= 0 {
		return e.RemoveItem(ctx, productID, variantIndex)
	}
	key := model.LineKey{ProductID: productID, VariantIndex: variantIndex}

	e.mu.Lock()
	if e.mode != Authenticated {
		e.mu.Unlock()
		return e.updateAnonymous(ctx, key, quantity)
	}

	if e.snapshot.Find(key) < 0 {
		e.mu.Unlock()
		return model.NewNotFoundError("cart line")
	}
	before := e.snapshot.Clone()
	e.snapshot = e.snapshot.SetQuantity(key, quantity)
	e.version++
	current := e.snapshot.Clone()
	e.mu.Unlock()
	e.notify(current)

	e.sched.Schedule(key, quantity, before)
	return nil
}

func (e *Engine) updateAnonymous(ctx context.Context, key model.LineKey, quantity int) error {
	lines, err := e.local.Read()
	if err != nil {
		return err
	}
	found := false
	kept := lines[:0]
	for _, l := range lines {
		if l.Key() == key {
			found = true
			l.Quantity = quantity
			if quantity <= 0 {
				continue
			}
		}
		kept = append(kept, l)
	}
	if !found {
		return model.NewNotFoundError("cart line")
	}
	if err := e.local.Write(kept); err != nil {
		return err
	}
	_, err = e.fetchAnonymous(ctx)
	return err
}

// handleUpdateResult applies the outcome of a coalesced update. A
// failure reverts the whole snapshot to the burst's pre-mutation state;
// a success replaces it with the authoritative server cart.
func (e *Engine) handleUpdateResult(r scheduler.Result) {
	if r.Err != nil {
		e.mu.Lock()
		e.snapshot = r.Rollback.Clone()
		e.version++
		unauthorized := errors.Is(r.Err, model.ErrUnauthorized)
		if unauthorized {
			e.downgradeLocked()
		}
		current := e.snapshot.Clone()
		e.mu.Unlock()
		e.notify(current)
		if !unauthorized {
			e.failure("update_cart_item", r.Err)
		}
		return
	}

	e.mu.Lock()
	if e.mode != Authenticated {
		// A logout raced the confirmation; the snapshot is no longer ours.
		e.mu.Unlock()
		return
	}
	e.logDrift("update_cart_item", e.snapshot, model.Snapshot(r.Lines))
	e.snapshot = model.Snapshot(r.Lines).Clone()
	e.version++
	current := e.snapshot.Clone()
	e.mu.Unlock()
	e.notify(current)
}

// RemoveItem deletes one line. Always immediate, never debounced:
// there is no quantity ambiguity to coalesce. A pending coalesced
// update for the same line is cancelled so it cannot resurrect the
// line after removal.
func (e *Engine) RemoveItem(ctx context.Context, productID string, variantIndex int) error {
	key := model.LineKey{ProductID: productID, VariantIndex: variantIndex}

	e.mu.Lock()
	if e.mode != Authenticated {
		e.mu.Unlock()
		return e.removeAnonymous(ctx, key)
	}

	e.sched.Cancel(key)
	if e.snapshot.Find(key) < 0 {
		e.mu.Unlock()
		return nil
	}
	before := e.snapshot.Clone()
	e.snapshot = e.snapshot.Remove(key)
	e.version++
	v := e.version
	current := e.snapshot.Clone()
	e.mu.Unlock()
	e.notify(current)

	lines, err := e.remote.Remove(ctx, productID, variantIndex)
	if err != nil {
		if e.rollbackIfCurrent(v, before, err) {
			return e.removeAnonymous(ctx, key)
		}
		e.failure("remove_from_cart", err)
		return err
	}
	e.confirm(v, model.Snapshot(lines), "remove_from_cart")
	return nil
}

func (e *Engine) removeAnonymous(ctx context.Context, key model.LineKey) error {
	lines, err := e.local.Read()
	if err != nil {
		return err
	}
	kept := lines[:0]
	for _, l := range lines {
		if l.Key() != key {
			kept = append(kept, l)
		}
	}
	if err := e.local.Write(kept); err != nil {
		return err
	}
	_, err = e.fetchAnonymous(ctx)
	return err
}

// ClearCart empties the cart. Authenticated mode shows the empty cart
// optimistically; if the server-side clear fails the truth is
// re-fetched rather than guessed (and only if that fetch also fails is
// the pre-clear snapshot restored).
func (e *Engine) ClearCart(ctx context.Context) error {
	e.mu.Lock()
	if e.mode != Authenticated {
		e.mu.Unlock()
		return e.clearAnonymous()
	}

	e.sched.CancelAll()
	before := e.snapshot.Clone()
	e.snapshot = nil
	e.version++
	v := e.version
	e.mu.Unlock()
	e.notify(nil)

	err := e.remote.Clear(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrUnauthorized) {
		e.downgrade()
		return e.clearAnonymous()
	}

	// Fetch-based recovery: the clear may or may not have landed.
	lines, fetchErr := e.remote.Fetch(ctx)
	e.mu.Lock()
	if e.version == v {
		if fetchErr == nil {
			e.snapshot = model.Snapshot(lines).Clone()
		} else {
			e.snapshot = before
		}
		e.version++
	}
	current := e.snapshot.Clone()
	e.mu.Unlock()
	e.notify(current)
	e.failure("clear_cart", err)
	return err
}

func (e *Engine) clearAnonymous() error {
	if err := e.local.Clear(); err != nil {
		return err
	}
	e.replaceSnapshot(nil)
	return nil
}

// rollbackIfCurrent restores before if no newer authority has replaced
// the snapshot since version v, then reports whether the error was a
// session expiry (in which case the caller should replay anonymously).
func (e *Engine) rollbackIfCurrent(v uint64, before model.Snapshot, err error) (unauthorized bool) {
	e.mu.Lock()
	if e.version == v {
		e.snapshot = before
		e.version++
	}
	unauthorized = errors.Is(err, model.ErrUnauthorized)
	if unauthorized {
		e.downgradeLocked()
	}
	current := e.snapshot.Clone()
	e.mu.Unlock()
	e.notify(current)
	return unauthorized
}

// confirm installs the authoritative response for a direct call unless
// a newer authority (fetch, login, another confirmed mutation) has
// already replaced the snapshot, in which case the stale response is
// discarded.
func (e *Engine) confirm(v uint64, server model.Snapshot, op string) {
	e.mu.Lock()
	if e.version != v {
		e.mu.Unlock()
		e.logger.Debug("stale response discarded", slog.String("op", op))
		return
	}
	e.logDrift(op, e.snapshot, server)
	e.snapshot = server.Clone()
	e.version++
	current := e.snapshot.Clone()
	e.mu.Unlock()
	e.notify(current)
}

func (e *Engine) replaceSnapshot(s model.Snapshot) {
	e.mu.Lock()
	e.snapshot = s.Clone()
	e.version++
	current := e.snapshot.Clone()
	e.mu.Unlock()
	e.notify(current)
}

func (e *Engine) downgrade() {
	e.mu.Lock()
	e.downgradeLocked()
	e.mu.Unlock()
}

// downgradeLocked drops to Anonymous after a 401. Requires e.mu held.
func (e *Engine) downgradeLocked() {
	if e.mode == Anonymous {
		return
	}
	e.mode = Anonymous
	e.sched.CancelAll()
	e.logger.Info("session expired, downgraded to anonymous cart")
}

// logDrift reports lines where the confirmed server state disagrees
// with what the optimistic snapshot predicted.
func (e *Engine) logDrift(op string, optimistic, server model.Snapshot) {
	diff := reconcile.Snapshots(optimistic, server)
	if diff.IsEmpty() {
		return
	}
	e.logger.Debug("optimistic snapshot drifted from server",
		slog.String("op", op),
		slog.Int("lines", diff.Changes()),
	)
}

// notify runs outside the engine lock so observers may call back in.
func (e *Engine) notify(snapshot model.Snapshot) {
	e.mu.Lock()
	obs := make([]Observer, 0, len(e.observers))
	for _, fn := range e.observers {
		obs = append(obs, fn)
	}
	e.mu.Unlock()
	for _, fn := range obs {
		fn(snapshot)
	}
}
