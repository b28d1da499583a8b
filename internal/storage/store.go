// Package storage defines the transactional record store shared by every
// backend and provides the in-memory implementation. The Role Store, the
// Asset Ledger records and the History Log all live behind Tx so a single
// operation can touch them atomically.
package storage

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/SeedTrace/internal/model"
)

var (
	// ErrNotFound is returned when a handle has no asset record.
	ErrNotFound = errors.New("asset not found")
	// ErrExists is returned when inserting over an existing handle.
	ErrExists = errors.New("asset already exists")
)

// Meta is the single process-wide record: initialization, collection
// metadata and the pause flag.
type Meta struct {
	Initialized bool
	Name        string
	Symbol      string
	Paused      bool
}

// Tx is the view an operation gets of the store. Writes become visible to
// other callers only when the surrounding RunInTransaction returns nil.
type Tx interface {
	Meta(ctx context.Context) (Meta, error)
	PutMeta(ctx context.Context, meta Meta) error

	HasRole(ctx context.Context, id model.Identity, role model.Role) (bool, error)
	// SetRole grants (true) or revokes (false) the flag. Both directions are
	// idempotent.
	SetRole(ctx context.Context, id model.Identity, role model.Role, granted bool) error

	IsWhitelisted(ctx context.Context, id model.Identity) (bool, error)
	SetWhitelisted(ctx context.Context, id model.Identity, listed bool) error

	GetAsset(ctx context.Context, handle model.Handle) (model.Asset, error)
	InsertAsset(ctx context.Context, asset model.Asset) error
	UpdateAsset(ctx context.Context, asset model.Asset) error
	CountOwned(ctx context.Context, owner model.Identity) (uint64, error)

	AppendTransition(ctx context.Context, handle model.Handle, tr model.StateTransition) error
	History(ctx context.Context, handle model.Handle) ([]model.StateTransition, error)
}

// Store serializes operations. fn passed to RunInTransaction either commits
// completely or, when it returns an error, leaves no trace.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
