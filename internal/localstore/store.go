// Package localstore persists the anonymous visitor's cart on the local
// device as a small versioned JSON document. It has no network
// dependency and no cross-device consistency: one file, one profile.
package localstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/mod/semver"

	"cartsync/internal/model"
)

// SchemaVersion tags the persisted document so a future format change
// has a migration path. Files with a newer major version are treated as
// unreadable rather than misparsed; the file itself is left untouched.
const SchemaVersion = "v1.0.0"

// document is the on-disk shape: a version tag plus the bare line list.
type document struct {
	Version string       `json:"version"`
	Items   []model.Line `json:"items"`
}

// Observer receives the full line list after every successful mutation.
type Observer func(lines []model.Line)

// Store is a durable, single-device anonymous cart store. All operations
// are synchronous whole-collection read-modify-write; there is no
// partial update primitive. Safe for concurrent use.
type Store struct {
	path string

	mu        sync.Mutex
	nextSubID int
	observers map[int]Observer
}

// New creates a store backed by the given file path. The file and its
// parent directory are created lazily on first write.
func New(path string) *Store {
	return &Store{
		path:      path,
		observers: make(map[int]Observer),
	}
}

// Read returns all persisted lines. A missing file is an empty cart.
// A file with an incompatible schema major version is also treated as
// empty (preserved on disk, never overwritten until the next write).
func (s *Store) Read() ([]model.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Store) readLocked() ([]model.Line, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cart file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing cart file: %w", err)
	}

	if !semver.IsValid(doc.Version) || semver.Major(doc.Version) != semver.Major(SchemaVersion) {
		// Unknown future format. Refuse to guess at its meaning.
		return nil, nil
	}

	// Drop lines that violate the persistence invariants; a quantity
	// below 1 should never have been written.
	lines := doc.Items[:0]
	for _, l := range doc.Items {
		if l.Quantity >= 1 {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// Write replaces the whole persisted collection and notifies observers.
func (s *Store) Write(lines []model.Line) error {
	s.mu.Lock()
	if err := s.writeLocked(lines); err != nil {
		s.mu.Unlock()
		return err
	}
	obs := s.observerList()
	s.mu.Unlock()

	notify(obs, lines)
	return nil
}

func (s *Store) writeLocked(lines []model.Line) error {
	kept := make([]model.Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity >= 1 {
			kept = append(kept, l)
		}
	}

	data, err := json.Marshal(document{Version: SchemaVersion, Items: kept})
	if err != nil {
		return fmt.Errorf("encoding cart file: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating cart dir: %w", err)
		}
	}

	// Write-then-rename so a crash mid-write never corrupts the cart.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing cart file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing cart file: %w", err)
	}
	return nil
}

// Upsert merges one line into the collection, summing quantities when
// the (productId, variantIndex) pair already exists.
func (s *Store) Upsert(line model.Line) error {
	if line.Quantity < 1 {
		return model.NewValidationError("quantity", "must be at least 1")
	}

	s.mu.Lock()
	lines, err := s.readLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	lines = model.UpsertLine(lines, line)
	if err := s.writeLocked(lines); err != nil {
		s.mu.Unlock()
		return err
	}
	obs := s.observerList()
	s.mu.Unlock()

	notify(obs, lines)
	return nil
}

// Clear removes all persisted lines and notifies observers.
func (s *Store) Clear() error {
	s.mu.Lock()
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		s.mu.Unlock()
		return fmt.Errorf("clearing cart file: %w", err)
	}
	obs := s.observerList()
	s.mu.Unlock()

	notify(obs, nil)
	return nil
}

// Subscribe registers an observer called after every successful
// mutation with the new line list. The returned func cancels the
// subscription. This replaces the legacy ambient change event with an
// explicit subscription list.
func (s *Store) Subscribe(fn Observer) (cancel func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) observerList() []Observer {
	obs := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		obs = append(obs, fn)
	}
	return obs
}

// notify runs outside the store lock so observers may call back into
// the store.
func notify(obs []Observer, lines []model.Line) {
	for _, fn := range obs {
		fn(lines)
	}
}
