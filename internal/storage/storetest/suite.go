// Package storetest holds the conformance checks every storage.Store backend
// must pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

var errBoom = errors.New("boom")

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("MetaRoundTrip", func(t *testing.T) { testMeta(t, newStore(t)) })
	t.Run("RolesIdempotent", func(t *testing.T) { testRoles(t, newStore(t)) })
	t.Run("Whitelist", func(t *testing.T) { testWhitelist(t, newStore(t)) })
	t.Run("AssetLifecycle", func(t *testing.T) { testAssets(t, newStore(t)) })
	t.Run("HistoryOrder", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newStore(t)) })
}

func ts(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func sampleAsset(h model.Handle, owner model.Identity) model.Asset {
	return model.Asset{
		Handle:      h,
		Owner:       owner,
		Stage:       model.StageSeed,
		CreatedAt:   ts(1700000000),
		UpdatedAt:   ts(1700000000),
		Name:        "Seed #1",
		Description: "Northern Lights",
		Image:       "ipfs://seed",
		ExternalURL: model.Ptr("https://example.test/seed/1"),
		Attributes:  []model.Attribute{{TraitType: "strain", Value: "indica"}},
	}
}

func write(t *testing.T, s storage.Store, fn func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := s.RunInTransaction(ctx, func(tx storage.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func read(t *testing.T, s storage.Store, fn func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := s.View(ctx, func(tx storage.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func testMeta(t *testing.T, s storage.Store) {
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		if meta != (storage.Meta{}) {
			t.Fatalf("expected zero meta, got %+v", meta)
		}
		return nil
	})
	want := storage.Meta{Initialized: true, Name: "Cannabis Seed NFT", Symbol: "CSNFT", Paused: true}
	write(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.PutMeta(ctx, want) })
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		if got != want {
			t.Fatalf("meta = %+v, want %+v", got, want)
		}
		return nil
	})
}

func testRoles(t *testing.T, s storage.Store) {
	alice := model.Identity("alice")
	for i := 0; i < 2; i++ {
		write(t, s, func(ctx context.Context, tx storage.Tx) error {
			return tx.SetRole(ctx, alice, model.RoleCultivator, true)
		})
	}
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		ok, err := tx.HasRole(ctx, alice, model.RoleCultivator)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("expected cultivator role")
		}
		other, err := tx.HasRole(ctx, alice, model.RoleAdmin)
		if err != nil {
			return err
		}
		if other {
			t.Fatalf("roles must be independent")
		}
		return nil
	})
	for i := 0; i < 2; i++ {
		write(t, s, func(ctx context.Context, tx storage.Tx) error {
			return tx.SetRole(ctx, alice, model.RoleCultivator, false)
		})
	}
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		ok, err := tx.HasRole(ctx, alice, model.RoleCultivator)
		if err != nil {
			return err
		}
		if ok {
			t.Fatalf("expected role revoked")
		}
		return nil
	})
}

func testWhitelist(t *testing.T, s storage.Store) {
	bob := model.Identity("bob")
	write(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.SetWhitelisted(ctx, bob, true) })
	write(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.SetWhitelisted(ctx, bob, true) })
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		ok, err := tx.IsWhitelisted(ctx, bob)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("expected bob whitelisted")
		}
		return nil
	})
	write(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.SetWhitelisted(ctx, bob, false) })
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		ok, err := tx.IsWhitelisted(ctx, bob)
		if err != nil {
			return err
		}
		if ok {
			t.Fatalf("expected bob removed")
		}
		return nil
	})
}

func testAssets(t *testing.T, s storage.Store) {
	owner := model.Identity("owner")
	asset := sampleAsset(1, owner)
	write(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.InsertAsset(ctx, asset) })

	err := s.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		return tx.InsertAsset(context.Background(), sampleAsset(1, "someone"))
	})
	if !errors.Is(err, storage.ErrExists) {
		t.Fatalf("duplicate insert err = %v, want ErrExists", err)
	}

	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetAsset(ctx, 1)
		if err != nil {
			return err
		}
		if got.Owner != owner || got.Name != asset.Name || got.Stage != model.StageSeed {
			t.Fatalf("unexpected asset %+v", got)
		}
		if got.ExternalURL == nil || *got.ExternalURL != *asset.ExternalURL {
			t.Fatalf("external url lost: %+v", got.ExternalURL)
		}
		if len(got.Attributes) != 1 || got.Attributes[0] != asset.Attributes[0] {
			t.Fatalf("attributes lost: %+v", got.Attributes)
		}
		if got.Location != nil || got.Temperature != nil || got.Consumer != nil {
			t.Fatalf("optional fields should be empty: %+v", got)
		}
		if !got.CreatedAt.Equal(asset.CreatedAt) {
			t.Fatalf("created_at = %v, want %v", got.CreatedAt, asset.CreatedAt)
		}
		if _, err := tx.GetAsset(ctx, 99); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("missing asset err = %v", err)
		}
		n, err := tx.CountOwned(ctx, owner)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("CountOwned = %d, want 1", n)
		}
		return nil
	})

	updated := asset.Clone()
	updated.Stage = model.StageGerminated
	updated.Location = model.Ptr("tent-3")
	updated.Temperature = model.Ptr(int32(-2))
	updated.Humidity = model.Ptr(uint32(61))
	updated.LabAnalysis = model.Ptr("THC: 20%")
	updated.Processor = model.Ptr(model.Identity("proc"))
	updated.Approved = "spender"
	updated.UpdatedAt = ts(1700000100)
	write(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.UpdateAsset(ctx, updated) })
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetAsset(ctx, 1)
		if err != nil {
			return err
		}
		if got.Stage != model.StageGerminated || *got.Location != "tent-3" || *got.Temperature != -2 || *got.Humidity != 61 {
			t.Fatalf("update not persisted: %+v", got)
		}
		if *got.LabAnalysis != "THC: 20%" || *got.Processor != "proc" || got.Approved != "spender" {
			t.Fatalf("update not persisted: %+v", got)
		}
		if !got.UpdatedAt.Equal(updated.UpdatedAt) {
			t.Fatalf("updated_at = %v", got.UpdatedAt)
		}
		return nil
	})

	err = s.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		return tx.UpdateAsset(context.Background(), sampleAsset(50, owner))
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update of missing asset err = %v", err)
	}
}

func testHistory(t *testing.T, s storage.Store) {
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		h, err := tx.History(ctx, 7)
		if err != nil {
			return err
		}
		if len(h) != 0 {
			t.Fatalf("expected empty history, got %d", len(h))
		}
		return nil
	})
	stages := []model.Stage{model.StageGerminated, model.StagePlantVegetative, model.StagePlantFlowering}
	for i, to := range stages {
		tr := model.StateTransition{From: to - 1, To: to, Timestamp: ts(int64(1700000000 + i)), UpdatedBy: "cultivator"}
		if i == 1 {
			tr.Note = model.Ptr("topped")
		}
		write(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.AppendTransition(ctx, 7, tr) })
	}
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		h, err := tx.History(ctx, 7)
		if err != nil {
			return err
		}
		if len(h) != len(stages) {
			t.Fatalf("history length = %d, want %d", len(h), len(stages))
		}
		for i, entry := range h {
			if entry.To != stages[i] || entry.From != stages[i]-1 {
				t.Fatalf("entry %d out of order: %+v", i, entry)
			}
		}
		if h[0].Note != nil || h[1].Note == nil || *h[1].Note != "topped" {
			t.Fatalf("notes not preserved: %+v", h)
		}
		return nil
	})
}

func testRollback(t *testing.T, s storage.Store) {
	err := s.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		ctx := context.Background()
		if err := tx.InsertAsset(ctx, sampleAsset(3, "owner")); err != nil {
			return err
		}
		if err := tx.AppendTransition(ctx, 3, model.StateTransition{From: 0, To: 1, Timestamp: ts(1), UpdatedBy: "c"}); err != nil {
			return err
		}
		if err := tx.SetRole(ctx, "mallory", model.RoleAdmin, true); err != nil {
			return err
		}
		if err := tx.PutMeta(ctx, storage.Meta{Paused: true}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	read(t, s, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetAsset(ctx, 3); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("asset survived rollback: %v", err)
		}
		h, err := tx.History(ctx, 3)
		if err != nil {
			return err
		}
		if len(h) != 0 {
			t.Fatalf("history survived rollback")
		}
		admin, err := tx.HasRole(ctx, "mallory", model.RoleAdmin)
		if err != nil {
			return err
		}
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		if admin || meta.Paused {
			t.Fatalf("role or meta survived rollback")
		}
		return nil
	})
}

func testReadYourWrites(t *testing.T, s storage.Store) {
	write(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertAsset(ctx, sampleAsset(4, "owner")); err != nil {
			return err
		}
		got, err := tx.GetAsset(ctx, 4)
		if err != nil {
			return err
		}
		if got.Handle != 4 {
			t.Fatalf("pending insert not visible in tx")
		}
		if err := tx.SetRole(ctx, "carol", model.RoleProcessor, true); err != nil {
			return err
		}
		ok, err := tx.HasRole(ctx, "carol", model.RoleProcessor)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("pending grant not visible in tx")
		}
		if err := tx.AppendTransition(ctx, 4, model.StateTransition{From: 0, To: 1, Timestamp: ts(5), UpdatedBy: "c"}); err != nil {
			return err
		}
		h, err := tx.History(ctx, 4)
		if err != nil {
			return err
		}
		if len(h) != 1 {
			t.Fatalf("pending append not visible in tx")
		}
		return nil
	})
}
