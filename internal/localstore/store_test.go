package localstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"cartsync/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "cart.json"))
}

func TestRead_MissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)

	lines, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("len = %d, want 0", len(lines))
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := []model.Line{
		{ProductID: "p1", VariantIndex: 0, Quantity: 2},
		{ProductID: "p2", VariantIndex: 1, Quantity: 1},
	}
	if err := s.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Read = %+v, want %+v", got, want)
	}
}

func TestWrite_DropsZeroQuantityLines(t *testing.T) {
	s := newTestStore(t)

	err := s.Write([]model.Line{
		{ProductID: "p1", VariantIndex: 0, Quantity: 2},
		{ProductID: "p2", VariantIndex: 0, Quantity: 0},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, _ := s.Read()
	if len(got) != 1 || got[0].ProductID != "p1" {
		t.Errorf("persisted %+v, want only p1", got)
	}
}

func TestUpsert_SumsQuantityOnCollision(t *testing.T) {
	s := newTestStore(t)

	if err := s.Upsert(model.Line{ProductID: "p1", VariantIndex: 0, Quantity: 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(model.Line{ProductID: "p1", VariantIndex: 0, Quantity: 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, _ := s.Read()
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Quantity != 2 {
		t.Errorf("Quantity = %d, want 2", got[0].Quantity)
	}
}

func TestUpsert_RejectsNonPositiveQuantity(t *testing.T) {
	s := newTestStore(t)

	if err := s.Upsert(model.Line{ProductID: "p1", Quantity: 0}); err == nil {
		t.Error("Upsert(quantity 0) succeeded, want error")
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)

	s.Write([]model.Line{{ProductID: "p1", VariantIndex: 0, Quantity: 1}})
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, _ := s.Read()
	if len(got) != 0 {
		t.Errorf("len = %d after Clear, want 0", len(got))
	}

	// Clearing an already-empty store is not an error
	if err := s.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestRead_NewerMajorVersionTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.json")
	doc := map[string]any{
		"version": "v2.0.0",
		"items":   []model.Line{{ProductID: "p1", VariantIndex: 0, Quantity: 1}},
	}
	data, _ := json.Marshal(doc)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(path)
	lines, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("len = %d for future schema, want 0", len(lines))
	}

	// The unreadable file must survive the read untouched
	if _, err := os.Stat(path); err != nil {
		t.Errorf("future-schema file removed by Read: %v", err)
	}
}

func TestRead_VersionTagWritten(t *testing.T) {
	s := newTestStore(t)
	s.Write([]model.Line{{ProductID: "p1", VariantIndex: 0, Quantity: 1}})

	data, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Version != SchemaVersion {
		t.Errorf("Version = %q, want %q", doc.Version, SchemaVersion)
	}
}

func TestSubscribe_NotifiedOnEveryMutation(t *testing.T) {
	s := newTestStore(t)

	var notifications [][]model.Line
	cancel := s.Subscribe(func(lines []model.Line) {
		notifications = append(notifications, lines)
	})

	s.Upsert(model.Line{ProductID: "p1", VariantIndex: 0, Quantity: 1})
	s.Write([]model.Line{{ProductID: "p2", VariantIndex: 0, Quantity: 3}})
	s.Clear()

	if len(notifications) != 3 {
		t.Fatalf("notifications = %d, want 3", len(notifications))
	}
	if len(notifications[2]) != 0 {
		t.Errorf("final notification has %d lines, want 0", len(notifications[2]))
	}

	cancel()
	s.Upsert(model.Line{ProductID: "p3", VariantIndex: 0, Quantity: 1})
	if len(notifications) != 3 {
		t.Errorf("notified after cancel: %d", len(notifications))
	}
}

func TestPersistence_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.json")

	s1 := New(path)
	s1.Write([]model.Line{{ProductID: "p1", VariantIndex: 0, Quantity: 2}})

	// A fresh store over the same path sees the same state
	s2 := New(path)
	got, err := s2.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 || got[0].Quantity != 2 {
		t.Errorf("reopened store = %+v", got)
	}
}
