// Package model defines the cart data model shared by all packages:
// bare line references, display-enriched lines, snapshots, and the
// error taxonomy for remote failures.
package model

// Line is the atomic cart unit: a bare reference to a product variant.
// At most one Line exists per (ProductID, VariantIndex) pair in any cart;
// adding the same pair again sums quantities instead of duplicating.
type Line struct {
	ProductID    string `json:"productId"`
	VariantIndex int    `json:"variantIndex"`
	Quantity     int    `json:"quantity"`
}

// Key returns the identity of the line within a cart.
func (l Line) Key() LineKey {
	return LineKey{ProductID: l.ProductID, VariantIndex: l.VariantIndex}
}

// LineKey identifies a line within a cart. Used as a map key by the
// scheduler and the reconcile diff.
type LineKey struct {
	ProductID    string
	VariantIndex int
}

// DisplayLine is a Line extended with denormalized display fields.
// The display fields are a point-in-time cache, not authoritative: they
// can go stale if the underlying product changes and are only refreshed
// by the next fetch. Prices are in minor currency units.
type DisplayLine struct {
	Line
	Name          string `json:"name"`
	ImageURL      string `json:"imageUrl,omitempty"`
	Price         int64  `json:"price"`
	OriginalPrice int64  `json:"originalPrice,omitempty"`
	VariantLabel  string `json:"variantLabel,omitempty"`
}

// PlaceholderName is the display name substituted for a line whose
// product can no longer be resolved during hydration.
const PlaceholderName = "Unavailable"

// Snapshot is the full ordered cart state at a point in time. It is the
// unit of rollback: a failed mutation restores the snapshot captured
// before the optimistic change, never a partially-applied state.
type Snapshot []DisplayLine

// Clone returns a deep copy. Rollback targets must be clones so later
// optimistic mutations cannot reach back into them.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	copy(out, s)
	return out
}

// Find returns the index of the line with the given key, or -1.
func (s Snapshot) Find(key LineKey) int {
	for i, dl := range s {
		if dl.Key() == key {
			return i
		}
	}
	return -1
}

// Upsert merges a line into the snapshot, summing quantities on
// collision. Order is preserved: an existing line keeps its position,
// a new line is appended.
func (s Snapshot) Upsert(dl DisplayLine) Snapshot {
	if i := s.Find(dl.Key()); i >= 0 {
		merged := s[i]
		merged.Quantity += dl.Quantity
		s[i] = merged
		return s
	}
	return append(s, dl)
}

// SetQuantity sets the absolute quantity for a key. Quantity <= 0
// removes the line; a line is never kept at quantity zero.
func (s Snapshot) SetQuantity(key LineKey, quantity int) Snapshot {
	i := s.Find(key)
	if i < 0 {
		return s
	}
	if quantity <= 0 {
		return append(s[:i], s[i+1:]...)
	}
	s[i].Quantity = quantity
	return s
}

// Remove deletes the line with the given key, if present.
func (s Snapshot) Remove(key LineKey) Snapshot {
	return s.SetQuantity(key, 0)
}

// Lines strips display fields, returning the bare line references.
func (s Snapshot) Lines() []Line {
	if len(s) == 0 {
		return nil
	}
	out := make([]Line, len(s))
	for i, dl := range s {
		out[i] = dl.Line
	}
	return out
}

// TotalQuantity sums the quantities of all lines.
func (s Snapshot) TotalQuantity() int {
	total := 0
	for _, dl := range s {
		total += dl.Quantity
	}
	return total
}

// UpsertLine merges a bare line into a line slice, summing quantities on
// collision. Shared by the local store and the merge batch builder.
func UpsertLine(lines []Line, l Line) []Line {
	for i, existing := range lines {
		if existing.Key() == l.Key() {
			lines[i].Quantity += l.Quantity
			return lines
		}
	}
	return append(lines, l)
}
