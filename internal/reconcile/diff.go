// Package reconcile computes the delta between two cart line
// collections. The engine uses it to report drift between an optimistic
// snapshot and the authoritative server response when a confirmation
// lands, and tests use it to assert convergence after a sync.
package reconcile

import "cartsync/internal/model"

// Diff describes the mutations separating a current line collection
// from a desired one. Apply in order Remove → Update → Add to avoid
// touching a removed line.
type Diff struct {
	ToAdd    []model.Line // in desired but not current
	ToRemove []model.Line // in current but not desired
	ToUpdate []Update     // in both with different quantities
}

// Update records a quantity change for a line present on both sides.
type Update struct {
	Key         model.LineKey
	OldQuantity int
	NewQuantity int
}

// IsEmpty reports whether the two collections already agree.
func (d *Diff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// Changes returns the total number of differing lines.
func (d *Diff) Changes() int {
	return len(d.ToAdd) + len(d.ToRemove) + len(d.ToUpdate)
}

// Lines computes the delta between current and desired, matching by
// (productId, variantIndex).
func Lines(current, desired []model.Line) *Diff {
	diff := &Diff{}

	currentByKey := make(map[model.LineKey]model.Line, len(current))
	for _, l := range current {
		currentByKey[l.Key()] = l
	}

	desiredByKey := make(map[model.LineKey]model.Line, len(desired))
	for _, l := range desired {
		desiredByKey[l.Key()] = l
	}

	for _, want := range desired {
		have, ok := currentByKey[want.Key()]
		if !ok {
			diff.ToAdd = append(diff.ToAdd, want)
			continue
		}
		if have.Quantity != want.Quantity {
			diff.ToUpdate = append(diff.ToUpdate, Update{
				Key:         want.Key(),
				OldQuantity: have.Quantity,
				NewQuantity: want.Quantity,
			})
		}
	}

	for _, have := range current {
		if _, ok := desiredByKey[have.Key()]; !ok {
			diff.ToRemove = append(diff.ToRemove, have)
		}
	}

	return diff
}

// Snapshots is a convenience wrapper diffing two display snapshots.
func Snapshots(current, desired model.Snapshot) *Diff {
	return Lines(current.Lines(), desired.Lines())
}
