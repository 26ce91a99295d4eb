package reconcile

import (
	"testing"

	"cartsync/internal/model"
)

func TestLines_EmptyToItems(t *testing.T) {
	// Empty current, items in desired → all adds
	desired := []model.Line{
		{ProductID: "p1", VariantIndex: 0, Quantity: 2},
		{ProductID: "p2", VariantIndex: 0, Quantity: 1},
	}

	diff := Lines(nil, desired)

	if len(diff.ToAdd) != 2 {
		t.Errorf("ToAdd = %d, want 2", len(diff.ToAdd))
	}
	if len(diff.ToRemove) != 0 {
		t.Errorf("ToRemove = %d, want 0", len(diff.ToRemove))
	}
	if len(diff.ToUpdate) != 0 {
		t.Errorf("ToUpdate = %d, want 0", len(diff.ToUpdate))
	}
}

func TestLines_ItemsToEmpty(t *testing.T) {
	current := []model.Line{
		{ProductID: "p1", VariantIndex: 0, Quantity: 2},
		{ProductID: "p2", VariantIndex: 0, Quantity: 1},
	}

	diff := Lines(current, nil)

	if len(diff.ToRemove) != 2 {
		t.Errorf("ToRemove = %d, want 2", len(diff.ToRemove))
	}
	if diff.Changes() != 2 {
		t.Errorf("Changes = %d, want 2", diff.Changes())
	}
}

func TestLines_QuantityUpdate(t *testing.T) {
	current := []model.Line{{ProductID: "p1", VariantIndex: 0, Quantity: 2}}
	desired := []model.Line{{ProductID: "p1", VariantIndex: 0, Quantity: 5}}

	diff := Lines(current, desired)

	if len(diff.ToUpdate) != 1 {
		t.Fatalf("ToUpdate = %d, want 1", len(diff.ToUpdate))
	}
	if diff.ToUpdate[0].OldQuantity != 2 || diff.ToUpdate[0].NewQuantity != 5 {
		t.Errorf("Update = %+v, want 2→5", diff.ToUpdate[0])
	}
}

func TestLines_VariantsAreDistinct(t *testing.T) {
	// Same product, different variant index must not match
	current := []model.Line{{ProductID: "p1", VariantIndex: 0, Quantity: 1}}
	desired := []model.Line{{ProductID: "p1", VariantIndex: 1, Quantity: 1}}

	diff := Lines(current, desired)

	if len(diff.ToAdd) != 1 || len(diff.ToRemove) != 1 {
		t.Errorf("ToAdd = %d, ToRemove = %d, want 1 and 1", len(diff.ToAdd), len(diff.ToRemove))
	}
}

func TestLines_NoChange(t *testing.T) {
	lines := []model.Line{
		{ProductID: "p1", VariantIndex: 0, Quantity: 2},
		{ProductID: "p2", VariantIndex: 1, Quantity: 3},
	}

	if diff := Lines(lines, lines); !diff.IsEmpty() {
		t.Errorf("diff of identical collections not empty: %+v", diff)
	}
}

func TestLines_MixedOperations(t *testing.T) {
	current := []model.Line{
		{ProductID: "p1", VariantIndex: 0, Quantity: 2}, // removed
		{ProductID: "p2", VariantIndex: 0, Quantity: 1}, // updated
		{ProductID: "p3", VariantIndex: 0, Quantity: 3}, // unchanged
	}
	desired := []model.Line{
		{ProductID: "p2", VariantIndex: 0, Quantity: 5},
		{ProductID: "p3", VariantIndex: 0, Quantity: 3},
		{ProductID: "p4", VariantIndex: 0, Quantity: 1}, // added
	}

	diff := Lines(current, desired)

	if len(diff.ToAdd) != 1 || diff.ToAdd[0].ProductID != "p4" {
		t.Errorf("ToAdd = %+v, want p4", diff.ToAdd)
	}
	if len(diff.ToRemove) != 1 || diff.ToRemove[0].ProductID != "p1" {
		t.Errorf("ToRemove = %+v, want p1", diff.ToRemove)
	}
	if len(diff.ToUpdate) != 1 || diff.ToUpdate[0].NewQuantity != 5 {
		t.Errorf("ToUpdate = %+v, want p2 →5", diff.ToUpdate)
	}
}

func TestSnapshots(t *testing.T) {
	current := model.Snapshot{{Line: model.Line{ProductID: "p1", VariantIndex: 0, Quantity: 1}}}
	desired := model.Snapshot{{Line: model.Line{ProductID: "p1", VariantIndex: 0, Quantity: 2}}}

	diff := Snapshots(current, desired)
	if len(diff.ToUpdate) != 1 {
		t.Errorf("ToUpdate = %d, want 1", len(diff.ToUpdate))
	}
}
