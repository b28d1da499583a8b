package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/dharsanguruparan/SeedTrace/internal/model"
)

var errReadOnly = errors.New("storage: write in read-only view")

type roleKey struct {
	id   model.Identity
	role model.Role
}

type memoryState struct {
	meta      Meta
	roles     map[roleKey]struct{}
	whitelist map[model.Identity]struct{}
	assets    map[model.Handle]model.Asset
	history   map[model.Handle][]model.StateTransition
}

// MemoryStore keeps everything in process memory. A single mutex serializes
// writers; readers share an RLock.
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			roles:     make(map[roleKey]struct{}),
			whitelist: make(map[model.Identity]struct{}),
			assets:    make(map[model.Handle]model.Asset),
			history:   make(map[model.Handle][]model.StateTransition),
		},
	}
}

// RunInTransaction runs fn against a write overlay and folds the overlay into
// the committed state only if fn succeeds.
func (m *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newMemoryTx(&m.state, false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn with a read-only Tx.
func (m *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newMemoryTx(&m.state, true))
}

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error { return nil }

// memoryTx buffers writes; reads consult the buffer before the base state.
type memoryTx struct {
	base     *memoryState
	readOnly bool

	meta      *Meta
	roles     map[roleKey]bool
	whitelist map[model.Identity]bool
	assets    map[model.Handle]model.Asset
	appended  map[model.Handle][]model.StateTransition
}

func newMemoryTx(base *memoryState, readOnly bool) *memoryTx {
	return &memoryTx{
		base:      base,
		readOnly:  readOnly,
		roles:     make(map[roleKey]bool),
		whitelist: make(map[model.Identity]bool),
		assets:    make(map[model.Handle]model.Asset),
		appended:  make(map[model.Handle][]model.StateTransition),
	}
}

func (tx *memoryTx) commit() {
	if tx.meta != nil {
		tx.base.meta = *tx.meta
	}
	for k, granted := range tx.roles {
		if granted {
			tx.base.roles[k] = struct{}{}
		} else {
			delete(tx.base.roles, k)
		}
	}
	for id, listed := range tx.whitelist {
		if listed {
			tx.base.whitelist[id] = struct{}{}
		} else {
			delete(tx.base.whitelist, id)
		}
	}
	for h, a := range tx.assets {
		tx.base.assets[h] = a
	}
	for h, entries := range tx.appended {
		tx.base.history[h] = append(tx.base.history[h], entries...)
	}
}

func (tx *memoryTx) Meta(context.Context) (Meta, error) {
	if tx.meta != nil {
		return *tx.meta, nil
	}
	return tx.base.meta, nil
}

func (tx *memoryTx) PutMeta(_ context.Context, meta Meta) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.meta = &meta
	return nil
}

func (tx *memoryTx) HasRole(_ context.Context, id model.Identity, role model.Role) (bool, error) {
	k := roleKey{id: id, role: role}
	if granted, ok := tx.roles[k]; ok {
		return granted, nil
	}
	_, ok := tx.base.roles[k]
	return ok, nil
}

func (tx *memoryTx) SetRole(_ context.Context, id model.Identity, role model.Role, granted bool) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.roles[roleKey{id: id, role: role}] = granted
	return nil
}

func (tx *memoryTx) IsWhitelisted(_ context.Context, id model.Identity) (bool, error) {
	if listed, ok := tx.whitelist[id]; ok {
		return listed, nil
	}
	_, ok := tx.base.whitelist[id]
	return ok, nil
}

func (tx *memoryTx) SetWhitelisted(_ context.Context, id model.Identity, listed bool) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.whitelist[id] = listed
	return nil
}

func (tx *memoryTx) lookup(handle model.Handle) (model.Asset, bool) {
	if a, ok := tx.assets[handle]; ok {
		return a, true
	}
	a, ok := tx.base.assets[handle]
	return a, ok
}

func (tx *memoryTx) GetAsset(_ context.Context, handle model.Handle) (model.Asset, error) {
	a, ok := tx.lookup(handle)
	if !ok {
		return model.Asset{}, ErrNotFound
	}
	// Returning a copy prevents callers from mutating committed state.
	return a.Clone(), nil
}

func (tx *memoryTx) InsertAsset(_ context.Context, asset model.Asset) error {
	if tx.readOnly {
		return errReadOnly
	}
	if _, ok := tx.lookup(asset.Handle); ok {
		return ErrExists
	}
	tx.assets[asset.Handle] = asset.Clone()
	return nil
}

func (tx *memoryTx) UpdateAsset(_ context.Context, asset model.Asset) error {
	if tx.readOnly {
		return errReadOnly
	}
	if _, ok := tx.lookup(asset.Handle); !ok {
		return ErrNotFound
	}
	tx.assets[asset.Handle] = asset.Clone()
	return nil
}

func (tx *memoryTx) CountOwned(_ context.Context, owner model.Identity) (uint64, error) {
	var n uint64
	for h, a := range tx.base.assets {
		if pending, ok := tx.assets[h]; ok {
			a = pending
		}
		if a.Owner == owner {
			n++
		}
	}
	for h, a := range tx.assets {
		if _, committed := tx.base.assets[h]; committed {
			continue
		}
		if a.Owner == owner {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) AppendTransition(_ context.Context, handle model.Handle, tr model.StateTransition) error {
	if tx.readOnly {
		return errReadOnly
	}
	if tr.Note != nil {
		note := *tr.Note
		tr.Note = &note
	}
	tx.appended[handle] = append(tx.appended[handle], tr)
	return nil
}

func (tx *memoryTx) History(_ context.Context, handle model.Handle) ([]model.StateTransition, error) {
	committed := tx.base.history[handle]
	pending := tx.appended[handle]
	out := make([]model.StateTransition, 0, len(committed)+len(pending))
	out = append(out, committed...)
	out = append(out, pending...)
	for i := range out {
		if out[i].Note != nil {
			note := *out[i].Note
			out[i].Note = &note
		}
	}
	return out, nil
}
