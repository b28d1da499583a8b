package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
	"github.com/dharsanguruparan/SeedTrace/internal/storage/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seedtrace_test.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return openTemp(t) })
}

func TestSQLiteStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = s.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.InsertAsset(ctx, model.Asset{Handle: 9, Owner: "o", Name: "n"}); err != nil {
			return err
		}
		if err := tx.SetRole(ctx, "admin", model.RoleAdmin, true); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, 9, model.StateTransition{From: 0, To: 1, UpdatedBy: "c"})
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	err = s.View(ctx, func(tx storage.Tx) error {
		a, err := tx.GetAsset(ctx, 9)
		if err != nil {
			return err
		}
		if a.Owner != "o" || a.Name != "n" {
			t.Fatalf("unexpected asset %+v", a)
		}
		ok, err := tx.HasRole(ctx, "admin", model.RoleAdmin)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("role lost across reopen")
		}
		h, err := tx.History(ctx, 9)
		if err != nil {
			return err
		}
		if len(h) != 1 {
			t.Fatalf("history lost across reopen")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestSQLiteLargeHandleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	big := model.Handle(1<<64 - 1)
	if err := s.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.InsertAsset(ctx, model.Asset{Handle: big, Owner: "o"})
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.View(ctx, func(tx storage.Tx) error {
		a, err := tx.GetAsset(ctx, big)
		if err != nil {
			return err
		}
		if a.Handle != big {
			t.Fatalf("handle = %d, want %d", a.Handle, big)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
