package engine

import (
	"context"
	"sync"

	"cartsync/internal/model"
)

// MockRemote implements RemoteCart over an in-memory server cart with
// real upsert/merge semantics, so tests exercise the engine against a
// behaving authority. Per-method error injection simulates outages and
// expired sessions; call counters let tests assert coalescing.
type MockRemote struct {
	mu   sync.Mutex
	cart model.Snapshot

	FetchErr  error
	AddErr    error
	UpdateErr error
	RemoveErr error
	ClearErr  error
	MergeErr  error

	FetchCalls  int
	AddCalls    int
	UpdateCalls int
	RemoveCalls int
	ClearCalls  int
	MergeCalls  int
}

// SetCart seeds the server-side cart.
func (m *MockRemote) SetCart(lines []model.DisplayLine) {
	m.mu.Lock()
	m.cart = model.Snapshot(lines).Clone()
	m.mu.Unlock()
}

// Cart returns the current server-side cart.
func (m *MockRemote) Cart() model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Clone()
}

func (m *MockRemote) Fetch(ctx context.Context) ([]model.DisplayLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCalls++
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return m.cart.Clone(), nil
}

func (m *MockRemote) Add(ctx context.Context, productID string, variantIndex, quantity int) ([]model.DisplayLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls++
	if m.AddErr != nil {
		return nil, m.AddErr
	}
	m.cart = m.cart.Upsert(model.DisplayLine{
		Line: model.Line{ProductID: productID, VariantIndex: variantIndex, Quantity: quantity},
	})
	return m.cart.Clone(), nil
}

func (m *MockRemote) Update(ctx context.Context, productID string, variantIndex, quantity int) ([]model.DisplayLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	m.cart = m.cart.SetQuantity(model.LineKey{ProductID: productID, VariantIndex: variantIndex}, quantity)
	return m.cart.Clone(), nil
}

func (m *MockRemote) Remove(ctx context.Context, productID string, variantIndex int) ([]model.DisplayLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveCalls++
	if m.RemoveErr != nil {
		return nil, m.RemoveErr
	}
	m.cart = m.cart.Remove(model.LineKey{ProductID: productID, VariantIndex: variantIndex})
	return m.cart.Clone(), nil
}

func (m *MockRemote) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearCalls++
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.cart = nil
	return nil
}

func (m *MockRemote) Merge(ctx context.Context, lines []model.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MergeCalls++
	if m.MergeErr != nil {
		return m.MergeErr
	}
	for _, l := range lines {
		m.cart = m.cart.Upsert(model.DisplayLine{Line: l})
	}
	return nil
}

// MockLocal implements LocalStore in memory.
type MockLocal struct {
	mu    sync.Mutex
	lines []model.Line

	ReadErr  error
	WriteErr error
	ClearErr error
}

// Lines returns the stored lines.
func (m *MockLocal) Lines() []model.Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Line, len(m.lines))
	copy(out, m.lines)
	return out
}

func (m *MockLocal) Read() ([]model.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	out := make([]model.Line, len(m.lines))
	copy(out, m.lines)
	return out, nil
}

func (m *MockLocal) Write(lines []model.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.lines = make([]model.Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity >= 1 {
			m.lines = append(m.lines, l)
		}
	}
	return nil
}

func (m *MockLocal) Upsert(line model.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.lines = model.UpsertLine(m.lines, line)
	return nil
}

func (m *MockLocal) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.lines = nil
	return nil
}

// MockHydrator implements Hydrator from a fixed name map; unknown ids
// get the Unavailable placeholder, matching the real hydrator's policy.
type MockHydrator struct {
	Names map[string]string
	Err   error
}

func (m *MockHydrator) Hydrate(ctx context.Context, lines []model.Line) (model.Snapshot, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	snapshot := make(model.Snapshot, 0, len(lines))
	for _, l := range lines {
		name, ok := m.Names[l.ProductID]
		if !ok {
			snapshot = append(snapshot, model.DisplayLine{Line: l, Name: model.PlaceholderName})
			continue
		}
		snapshot = append(snapshot, model.DisplayLine{Line: l, Name: name, Price: 1000})
	}
	return snapshot, nil
}
