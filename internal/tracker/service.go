// Package tracker is the public operation surface of SeedTrace. Each
// operation runs as one storage transaction that checks the pause flag, then
// the caller's role, then domain preconditions, and only then mutates the
// ledger and history. A notification follows every committed mutation.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dharsanguruparan/SeedTrace/internal/event"
	"github.com/dharsanguruparan/SeedTrace/internal/ledger"
	"github.com/dharsanguruparan/SeedTrace/internal/lifecycle"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
)

// Service composes the role store, lifecycle rules, ledger and history log.
type Service struct {
	store    storage.Store
	notifier Notifier
	metrics  MetricsRecorder
	nowFn    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier routes committed events to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the timestamp source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// New constructs a Service over store.
func New(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: nopNotifier{},
		metrics:  nopMetrics{},
		nowFn:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize grants Admin to admin and clears the pause flag. It succeeds at
// most once per store.
func (s *Service) Initialize(ctx context.Context, admin model.Identity, name, symbol string) (err error) {
	defer s.observe(ctx, "initialize", time.Now(), &err)
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		if meta.Initialized {
			return ErrAlreadyInitialized
		}
		if err := tx.PutMeta(ctx, storage.Meta{Initialized: true, Name: name, Symbol: symbol}); err != nil {
			return err
		}
		return tx.SetRole(ctx, admin, model.RoleAdmin, true)
	})
	if err != nil {
		return err
	}
	ev := event.New(event.KindRoleGrant, s.nowFn())
	ev.Actor, ev.Account, ev.Role = admin, admin, model.RoleAdmin
	s.notify(ctx, ev)
	return nil
}

// Mint creates asset handle at StageSeed owned by to. Handles are unique;
// minting over an existing one fails with ErrAlreadyExists.
func (s *Service) Mint(ctx context.Context, to model.Identity, handle model.Handle, d ledger.Descriptive) (asset model.Asset, err error) {
	defer s.observe(ctx, "mint", time.Now(), &err)
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		var err error
		asset, err = ledger.Mint(ctx, tx, handle, to, d, s.nowFn())
		return translate(err, handle)
	})
	if err != nil {
		return model.Asset{}, err
	}
	ev := event.New(event.KindMint, asset.CreatedAt).WithHandle(handle)
	ev.Account = to
	s.notify(ctx, ev)
	return asset, nil
}

// UpdateState advances the asset to target, which must be the immediate
// successor of its current stage. The caller needs the role tied to target.
func (s *Service) UpdateState(ctx context.Context, caller model.Identity, handle model.Handle, target model.Stage, env ledger.Environment, note *string) (asset model.Asset, err error) {
	defer s.observe(ctx, "update_state", time.Now(), &err)
	var from model.Stage
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		role, err := lifecycle.RequiredRole(target)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidStateTransition, err)
		}
		current, err := ledger.Get(ctx, tx, handle)
		if err != nil {
			return translate(err, handle)
		}
		// Consumed rejects every target whatever the caller holds.
		if lifecycle.IsTerminal(current.Stage) {
			return fmt.Errorf("%w: %s is terminal", ErrInvalidStateTransition, current.Stage)
		}
		if err := requireRole(ctx, tx, caller, role); err != nil {
			return err
		}
		if !lifecycle.CanTransition(current.Stage, target) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidStateTransition, current.Stage, target)
		}
		from = current.Stage
		now := s.nowFn()
		asset, err = ledger.ApplyTransition(ctx, tx, handle, target, env, caller, now)
		if err != nil {
			return translate(err, handle)
		}
		return tx.AppendTransition(ctx, handle, model.StateTransition{
			From:      from,
			To:        target,
			Timestamp: now,
			UpdatedBy: caller,
			Note:      note,
		})
	})
	if err != nil {
		return model.Asset{}, err
	}
	ev := event.New(event.KindStateTransition, asset.UpdatedAt).WithHandle(handle).WithTransition(from, target)
	ev.Actor = caller
	s.notify(ctx, ev)
	return asset, nil
}

// UpdateMetadata merges the supplied fields of p into the asset. Cultivators
// only.
func (s *Service) UpdateMetadata(ctx context.Context, caller model.Identity, handle model.Handle, p ledger.Patch) (asset model.Asset, err error) {
	defer s.observe(ctx, "update_metadata", time.Now(), &err)
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		if err := requireRole(ctx, tx, caller, model.RoleCultivator); err != nil {
			return err
		}
		var err error
		asset, err = ledger.UpdateDescriptive(ctx, tx, handle, p, s.nowFn())
		return translate(err, handle)
	})
	if err != nil {
		return model.Asset{}, err
	}
	ev := event.New(event.KindMetadataUpdate, asset.UpdatedAt).WithHandle(handle)
	ev.Actor = caller
	s.notify(ctx, ev)
	return asset, nil
}

// Transfer moves ownership from `from` to `to`. spender must be the owner or
// the approved identity, and `to` must be whitelisted.
func (s *Service) Transfer(ctx context.Context, spender, from, to model.Identity, handle model.Handle) (asset model.Asset, err error) {
	defer s.observe(ctx, "transfer", time.Now(), &err)
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		current, err := ledger.Get(ctx, tx, handle)
		if err != nil {
			return translate(err, handle)
		}
		if current.Owner != from {
			return fmt.Errorf("%w: %s does not own asset %d", ErrNotOwner, from, handle)
		}
		if spender != from && (current.Approved == "" || spender != current.Approved) {
			return fmt.Errorf("%w: %s may not spend asset %d", ErrNotOwner, spender, handle)
		}
		listed, err := tx.IsWhitelisted(ctx, to)
		if err != nil {
			return err
		}
		if !listed {
			return fmt.Errorf("%w: %s", ErrNotWhitelisted, to)
		}
		asset, err = ledger.Transfer(ctx, tx, handle, to, s.nowFn())
		return translate(err, handle)
	})
	if err != nil {
		return model.Asset{}, err
	}
	ev := event.New(event.KindTransfer, asset.UpdatedAt).WithHandle(handle)
	ev.Actor, ev.Account = spender, to
	s.notify(ctx, ev)
	return asset, nil
}

// Approve lets spender transfer the asset on the owner's behalf. An empty
// spender withdraws the approval.
func (s *Service) Approve(ctx context.Context, caller, spender model.Identity, handle model.Handle) (asset model.Asset, err error) {
	defer s.observe(ctx, "approve", time.Now(), &err)
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		current, err := ledger.Get(ctx, tx, handle)
		if err != nil {
			return translate(err, handle)
		}
		if current.Owner != caller {
			return fmt.Errorf("%w: %s does not own asset %d", ErrNotOwner, caller, handle)
		}
		asset, err = ledger.Approve(ctx, tx, handle, spender, s.nowFn())
		return translate(err, handle)
	})
	if err != nil {
		return model.Asset{}, err
	}
	ev := event.New(event.KindApproval, asset.UpdatedAt).WithHandle(handle)
	ev.Actor, ev.Account = caller, spender
	s.notify(ctx, ev)
	return asset, nil
}

// GrantRole gives account the role. Admin only; idempotent.
func (s *Service) GrantRole(ctx context.Context, caller, account model.Identity, role model.Role) (err error) {
	defer s.observe(ctx, "grant_role", time.Now(), &err)
	return s.setRole(ctx, caller, account, role, true)
}

// RevokeRole removes the role from account. Admin only; idempotent.
func (s *Service) RevokeRole(ctx context.Context, caller, account model.Identity, role model.Role) (err error) {
	defer s.observe(ctx, "revoke_role", time.Now(), &err)
	return s.setRole(ctx, caller, account, role, false)
}

func (s *Service) setRole(ctx context.Context, caller, account model.Identity, role model.Role, granted bool) error {
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := requireRole(ctx, tx, caller, model.RoleAdmin); err != nil {
			return err
		}
		if !role.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
		return tx.SetRole(ctx, account, role, granted)
	})
	if err != nil {
		return err
	}
	kind := event.KindRoleGrant
	if !granted {
		kind = event.KindRoleRevoke
	}
	ev := event.New(kind, s.nowFn())
	ev.Actor, ev.Account, ev.Role = caller, account, role
	s.notify(ctx, ev)
	return nil
}

// Pause rejects every subsequent asset mutation until Unpause. Admin only.
func (s *Service) Pause(ctx context.Context, caller model.Identity) (err error) {
	defer s.observe(ctx, "pause", time.Now(), &err)
	return s.setPaused(ctx, caller, true)
}

// Unpause lifts the pause. Admin only.
func (s *Service) Unpause(ctx context.Context, caller model.Identity) (err error) {
	defer s.observe(ctx, "unpause", time.Now(), &err)
	return s.setPaused(ctx, caller, false)
}

func (s *Service) setPaused(ctx context.Context, caller model.Identity, paused bool) error {
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := requireRole(ctx, tx, caller, model.RoleAdmin); err != nil {
			return err
		}
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		meta.Paused = paused
		return tx.PutMeta(ctx, meta)
	})
	if err != nil {
		return err
	}
	kind := event.KindPaused
	if !paused {
		kind = event.KindUnpaused
	}
	ev := event.New(kind, s.nowFn())
	ev.Actor, ev.Account = caller, caller
	s.notify(ctx, ev)
	return nil
}

// AddToWhitelist makes account eligible to receive transfers. Admin only.
func (s *Service) AddToWhitelist(ctx context.Context, caller, account model.Identity) (err error) {
	defer s.observe(ctx, "whitelist_add", time.Now(), &err)
	return s.setWhitelisted(ctx, caller, account, true)
}

// RemoveFromWhitelist revokes transfer eligibility. Admin only.
func (s *Service) RemoveFromWhitelist(ctx context.Context, caller, account model.Identity) (err error) {
	defer s.observe(ctx, "whitelist_remove", time.Now(), &err)
	return s.setWhitelisted(ctx, caller, account, false)
}

func (s *Service) setWhitelisted(ctx context.Context, caller, account model.Identity, listed bool) error {
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := requireRole(ctx, tx, caller, model.RoleAdmin); err != nil {
			return err
		}
		return tx.SetWhitelisted(ctx, account, listed)
	})
	if err != nil {
		return err
	}
	ev := event.New(event.KindWhitelist, s.nowFn())
	ev.Actor, ev.Account, ev.Added = caller, account, &listed
	s.notify(ctx, ev)
	return nil
}

// GetMetadata returns the current asset record.
func (s *Service) GetMetadata(ctx context.Context, handle model.Handle) (asset model.Asset, err error) {
	err = s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		asset, err = ledger.Get(ctx, tx, handle)
		return translate(err, handle)
	})
	return asset, err
}

// GetHistory returns every transition of the asset, oldest first. Unknown
// handles yield an empty slice.
func (s *Service) GetHistory(ctx context.Context, handle model.Handle) (history []model.StateTransition, err error) {
	err = s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		history, err = tx.History(ctx, handle)
		return err
	})
	return history, err
}

// HasRole reports whether account holds role.
func (s *Service) HasRole(ctx context.Context, account model.Identity, role model.Role) (ok bool, err error) {
	err = s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		ok, err = tx.HasRole(ctx, account, role)
		return err
	})
	return ok, err
}

// IsPaused reports the pause flag.
func (s *Service) IsPaused(ctx context.Context) (paused bool, err error) {
	err = s.store.View(ctx, func(tx storage.Tx) error {
		meta, err := tx.Meta(ctx)
		paused = meta.Paused
		return err
	})
	return paused, err
}

// IsWhitelisted reports whether account may receive transfers.
func (s *Service) IsWhitelisted(ctx context.Context, account model.Identity) (ok bool, err error) {
	err = s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		ok, err = tx.IsWhitelisted(ctx, account)
		return err
	})
	return ok, err
}

// OwnerOf returns the current owner of the asset.
func (s *Service) OwnerOf(ctx context.Context, handle model.Handle) (model.Identity, error) {
	asset, err := s.GetMetadata(ctx, handle)
	if err != nil {
		return "", err
	}
	return asset.Owner, nil
}

// BalanceOf counts the assets owned by owner.
func (s *Service) BalanceOf(ctx context.Context, owner model.Identity) (n uint64, err error) {
	err = s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.CountOwned(ctx, owner)
		return err
	})
	return n, err
}

// Collection returns the name and symbol recorded at initialize.
func (s *Service) Collection(ctx context.Context) (c model.Collection, err error) {
	err = s.store.View(ctx, func(tx storage.Tx) error {
		meta, err := tx.Meta(ctx)
		c = model.Collection{Name: meta.Name, Symbol: meta.Symbol}
		return err
	})
	return c, err
}

func requireNotPaused(ctx context.Context, tx storage.Tx) error {
	meta, err := tx.Meta(ctx)
	if err != nil {
		return err
	}
	if meta.Paused {
		return ErrPaused
	}
	return nil
}

// requireRole is the single authorization choke point.
func requireRole(ctx context.Context, tx storage.Tx, caller model.Identity, role model.Role) error {
	ok, err := tx.HasRole(ctx, caller, role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks role %s", ErrUnauthorized, caller, role)
	}
	return nil
}

func translate(err error, handle model.Handle) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %d", ErrNotFound, handle)
	case errors.Is(err, storage.ErrExists):
		return fmt.Errorf("%w: %d", ErrAlreadyExists, handle)
	default:
		return err
	}
}

func (s *Service) notify(ctx context.Context, ev event.Event) {
	if err := s.notifier.Notify(ctx, ev); err != nil {
		log.Printf("notify %s %s: %v", ev.Kind, ev.ID, err)
	}
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, errp *error) {
	s.metrics.Observe(ctx, op, *errp == nil, time.Since(start))
}
