package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dharsanguruparan/SeedTrace/internal/config"
	"github.com/dharsanguruparan/SeedTrace/internal/sqlite"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, &config.Config{StoreDriver: config.DriverMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*storage.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}

	cfg := &config.Config{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "b.db")}
	s, err = Open(ctx, cfg)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*sqlite.Store); !ok {
		t.Fatalf("expected sqlite store, got %T", s)
	}
	if !Shared(cfg) {
		t.Fatal("sqlite should be shared")
	}

	if _, err := Open(ctx, &config.Config{StoreDriver: "etcd"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
