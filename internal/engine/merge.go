package engine

import (
	"context"
	"errors"
	"log/slog"

	"cartsync/internal/model"
)

// Login transitions Anonymous → Authenticated and runs the one-time
// merge of the anonymous cart into the server cart:
//
//  1. read all lines from the local store
//  2. if non-empty, submit them as one merge batch
//  3. clear the local store regardless of merge outcome
//  4. fetch the server cart as the new ground truth
//
// The merge is at-most-once by policy: a failed batch is not retried or
// queued, the anonymous cart is discarded either way, favoring a clean
// authenticated session over preserving unmerged anonymous items. The
// loss is logged so it is at least visible in the field.
//
// Calling Login while already authenticated is a no-op; the merge fires
// exactly once per login event.
func (e *Engine) Login(ctx context.Context) error {
	e.mu.Lock()
	if e.mode == Authenticated {
		e.mu.Unlock()
		return nil
	}
	e.sched.CancelAll()
	e.mode = Authenticated
	e.mu.Unlock()

	lines, err := e.local.Read()
	if err != nil {
		e.logger.Warn("reading anonymous cart for merge", slog.Any("error", err))
		lines = nil
	}

	if len(lines) > 0 {
		if err := e.remote.Merge(ctx, lines); err != nil {
			if errors.Is(err, model.ErrUnauthorized) {
				// The session never was valid; this is a failed login,
				// not a failed merge. Keep the anonymous cart.
				e.downgrade()
				return err
			}
			e.logger.Warn("anonymous cart discarded after failed merge",
				slog.Int("lines", len(lines)),
				slog.Int("quantity", totalQuantity(lines)),
				slog.Any("error", err),
			)
		}
	}

	if err := e.local.Clear(); err != nil {
		e.logger.Warn("clearing anonymous cart after merge", slog.Any("error", err))
	}

	_, err = e.FetchCart(ctx)
	return err
}

// Logout transitions Authenticated → Anonymous, discarding the
// in-memory snapshot. No data is lost: the server still owns the
// authoritative cart. Pending debounced mutations are dropped; their
// confirmations would target a cart this device no longer displays.
func (e *Engine) Logout() {
	e.mu.Lock()
	if e.mode == Anonymous {
		e.mu.Unlock()
		return
	}
	e.sched.CancelAll()
	e.mode = Anonymous
	e.snapshot = nil
	e.version++
	e.mu.Unlock()
	e.notify(nil)
}

func totalQuantity(lines []model.Line) int {
	total := 0
	for _, l := range lines {
		total += l.Quantity
	}
	return total
}
