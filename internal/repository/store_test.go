package repository

import (
	"context"
	"os"
	"testing"

	"github.com/dharsanguruparan/SeedTrace/internal/storage"
	"github.com/dharsanguruparan/SeedTrace/internal/storage/storetest"
)

// Set SEEDTRACE_TEST_DATABASE_URL to a disposable database to run these. The
// tables are truncated before every subtest.
func TestPostgresStoreConformance(t *testing.T) {
	dsn := os.Getenv("SEEDTRACE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SEEDTRACE_TEST_DATABASE_URL not set")
	}
	storetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, err := s.pool.Exec(ctx, `TRUNCATE tracker_meta, roles, whitelist, assets, transitions`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
