// Package repository is the postgres backend of storage.Store. Every
// read-write transaction takes the same transaction-scoped advisory lock, so
// the API server and the worker processes see one serial order of operations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/SeedTrace/internal/database"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
)

// trackerLockKey is the pg_advisory_xact_lock key shared by all writers.
const trackerLockKey int64 = 0x5eed7ace

var _ storage.Store = (*Store)(nil)

// Store wraps all SQL used by the tracker when running on postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a store over an existing pool. The schema must exist.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := database.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

// RunInTransaction executes fn under the tracker lock and commits only when fn
// succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, trackerLockKey); err != nil {
		return fmt.Errorf("acquire tracker lock: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View runs fn against a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(&pgTx{tx: tx})
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Meta(ctx context.Context) (storage.Meta, error) {
	var m storage.Meta
	err := t.tx.QueryRow(ctx, `SELECT initialized, name, symbol, paused FROM tracker_meta WHERE id = 1`).
		Scan(&m.Initialized, &m.Name, &m.Symbol, &m.Paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Meta{}, nil
	}
	if err != nil {
		return storage.Meta{}, fmt.Errorf("select meta: %w", err)
	}
	return m, nil
}

func (t *pgTx) PutMeta(ctx context.Context, m storage.Meta) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tracker_meta (id, initialized, name, symbol, paused) VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET initialized = EXCLUDED.initialized, name = EXCLUDED.name,
			symbol = EXCLUDED.symbol, paused = EXCLUDED.paused
	`, m.Initialized, m.Name, m.Symbol, m.Paused)
	if err != nil {
		return fmt.Errorf("upsert meta: %w", err)
	}
	return nil
}

func (t *pgTx) HasRole(ctx context.Context, id model.Identity, role model.Role) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE identity = $1 AND role = $2)`, string(id), string(role))
}

func (t *pgTx) SetRole(ctx context.Context, id model.Identity, role model.Role, granted bool) error {
	stmt := `DELETE FROM roles WHERE identity = $1 AND role = $2`
	if granted {
		stmt = `INSERT INTO roles (identity, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	}
	if _, err := t.tx.Exec(ctx, stmt, string(id), string(role)); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

func (t *pgTx) IsWhitelisted(ctx context.Context, id model.Identity) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM whitelist WHERE identity = $1)`, string(id))
}

func (t *pgTx) SetWhitelisted(ctx context.Context, id model.Identity, listed bool) error {
	stmt := `DELETE FROM whitelist WHERE identity = $1`
	if listed {
		stmt = `INSERT INTO whitelist (identity) VALUES ($1) ON CONFLICT DO NOTHING`
	}
	if _, err := t.tx.Exec(ctx, stmt, string(id)); err != nil {
		return fmt.Errorf("set whitelist: %w", err)
	}
	return nil
}

func (t *pgTx) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

const assetColumns = `handle, owner, approved, stage, location, temperature, humidity, lab_analysis,
	processor, distributor, consumer, created_at, updated_at, name, description, image, external_url, attributes`

func (t *pgTx) GetAsset(ctx context.Context, handle model.Handle) (model.Asset, error) {
	var (
		a                                  model.Asset
		h, stage                           int64
		owner, approved                    string
		loc, lab, proc, dist, cons, extURL sql.NullString
		temp, hum                          sql.NullInt64
		attrs                              []byte
	)
	row := t.tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE handle = $1`, int64(handle))
	err := row.Scan(&h, &owner, &approved, &stage, &loc, &temp, &hum, &lab,
		&proc, &dist, &cons, &a.CreatedAt, &a.UpdatedAt, &a.Name, &a.Description, &a.Image, &extURL, &attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Asset{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Asset{}, fmt.Errorf("select asset: %w", err)
	}
	a.Handle = model.Handle(h)
	a.Owner = model.Identity(owner)
	a.Approved = model.Identity(approved)
	a.Stage = model.Stage(stage)
	a.Location = nullString(loc)
	a.LabAnalysis = nullString(lab)
	a.ExternalURL = nullString(extURL)
	a.Processor = nullIdentity(proc)
	a.Distributor = nullIdentity(dist)
	a.Consumer = nullIdentity(cons)
	if temp.Valid {
		a.Temperature = model.Ptr(int32(temp.Int64))
	}
	if hum.Valid {
		a.Humidity = model.Ptr(uint32(hum.Int64))
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if err := json.Unmarshal(attrs, &a.Attributes); err != nil {
		return model.Asset{}, fmt.Errorf("decode attributes: %w", err)
	}
	return a, nil
}

func (t *pgTx) InsertAsset(ctx context.Context, a model.Asset) error {
	found, err := t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM assets WHERE handle = $1)`, int64(a.Handle))
	if err != nil {
		return fmt.Errorf("check asset: %w", err)
	}
	if found {
		return storage.ErrExists
	}
	args, err := assetArgs(a)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, args...)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAsset(ctx context.Context, a model.Asset) error {
	args, err := assetArgs(a)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE assets
		SET owner=$2, approved=$3, stage=$4, location=$5, temperature=$6, humidity=$7, lab_analysis=$8,
			processor=$9, distributor=$10, consumer=$11, created_at=$12, updated_at=$13,
			name=$14, description=$15, image=$16, external_url=$17, attributes=$18
		WHERE handle=$1
	`, args...)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *pgTx) CountOwned(ctx context.Context, owner model.Identity) (uint64, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM assets WHERE owner = $1`, string(owner)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return uint64(n), nil
}

func (t *pgTx) AppendTransition(ctx context.Context, handle model.Handle, tr model.StateTransition) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transitions (handle, seq, from_stage, to_stage, ts, updated_by, note)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transitions WHERE handle = $1), $2, $3, $4, $5, $6)
	`, int64(handle), int64(tr.From), int64(tr.To), tr.Timestamp.UTC(), string(tr.UpdatedBy), tr.Note)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

func (t *pgTx) History(ctx context.Context, handle model.Handle) ([]model.StateTransition, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT from_stage, to_stage, ts, updated_by, note
		FROM transitions WHERE handle = $1 ORDER BY seq
	`, int64(handle))
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()
	out := []model.StateTransition{}
	for rows.Next() {
		var (
			from, to int64
			by       string
			ts       time.Time
			note     sql.NullString
		)
		if err := rows.Scan(&from, &to, &ts, &by, &note); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, model.StateTransition{
			From:      model.Stage(from),
			To:        model.Stage(to),
			Timestamp: ts.UTC(),
			UpdatedBy: model.Identity(by),
			Note:      nullString(note),
		})
	}
	return out, rows.Err()
}

// assetArgs orders the columns as assetColumns does. Handles are stored as the
// signed bit pattern of the uint64.
func assetArgs(a model.Asset) ([]any, error) {
	attrs := a.Attributes
	if attrs == nil {
		attrs = []model.Attribute{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	var temp, hum *int64
	if a.Temperature != nil {
		temp = model.Ptr(int64(*a.Temperature))
	}
	if a.Humidity != nil {
		hum = model.Ptr(int64(*a.Humidity))
	}
	return []any{
		int64(a.Handle), string(a.Owner), string(a.Approved), int64(a.Stage),
		a.Location, temp, hum, a.LabAnalysis,
		identityArg(a.Processor), identityArg(a.Distributor), identityArg(a.Consumer),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
		a.Name, a.Description, a.Image, a.ExternalURL, string(encoded),
	}, nil
}

func identityArg(p *model.Identity) *string {
	if p == nil {
		return nil
	}
	return model.Ptr(string(*p))
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return model.Ptr(ns.String)
}

func nullIdentity(ns sql.NullString) *model.Identity {
	if !ns.Valid {
		return nil
	}
	return model.Ptr(model.Identity(ns.String))
}
