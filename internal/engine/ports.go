package engine

import (
	"context"

	"cartsync/internal/model"
)

// RemoteCart abstracts the authoritative server cart.
// Satisfied by *remote.Client.
type RemoteCart interface {
	Fetch(ctx context.Context) ([]model.DisplayLine, error)
	Add(ctx context.Context, productID string, variantIndex, quantity int) ([]model.DisplayLine, error)
	Update(ctx context.Context, productID string, variantIndex, quantity int) ([]model.DisplayLine, error)
	Remove(ctx context.Context, productID string, variantIndex int) ([]model.DisplayLine, error)
	Clear(ctx context.Context) error
	Merge(ctx context.Context, lines []model.Line) error
}

// LocalStore abstracts on-device anonymous cart persistence.
// Satisfied by *localstore.Store.
type LocalStore interface {
	Read() ([]model.Line, error)
	Write(lines []model.Line) error
	Upsert(line model.Line) error
	Clear() error
}

// Hydrator enriches bare anonymous lines with display fields.
// Satisfied by *hydrate.Hydrator.
type Hydrator interface {
	Hydrate(ctx context.Context, lines []model.Line) (model.Snapshot, error)
}
