// Package sqlite is the embedded persistent backend. It uses the pure Go
// modernc.org/sqlite driver with a single connection per process; sqlite's
// file lock serializes transactions across processes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
)

var _ storage.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	initialized INTEGER NOT NULL,
	name TEXT NOT NULL,
	symbol TEXT NOT NULL,
	paused INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS roles (
	identity TEXT NOT NULL,
	role TEXT NOT NULL,
	PRIMARY KEY (identity, role)
);
CREATE TABLE IF NOT EXISTS whitelist (
	identity TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS assets (
	handle INTEGER PRIMARY KEY,
	owner TEXT NOT NULL,
	approved TEXT NOT NULL DEFAULT '',
	stage INTEGER NOT NULL,
	location TEXT,
	temperature INTEGER,
	humidity INTEGER,
	lab_analysis TEXT,
	processor TEXT,
	distributor TEXT,
	consumer TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	image TEXT NOT NULL,
	external_url TEXT,
	attributes TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_owner ON assets(owner);
CREATE TABLE IF NOT EXISTS transitions (
	handle INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	from_stage INTEGER NOT NULL,
	to_stage INTEGER NOT NULL,
	ts INTEGER NOT NULL,
	updated_by TEXT NOT NULL,
	note TEXT,
	PRIMARY KEY (handle, seq)
);`

// Store persists SeedTrace state in a SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and opens the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "seedtrace.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	// Pragmas in the DSN apply to every connection the pool opens. Immediate
	// transactions take the write lock at BEGIN, so a second process (the
	// worker) waits on busy_timeout instead of failing on lock upgrade.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// RunInTransaction commits fn's writes only when fn returns nil.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqlTx{tx: tx})
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Meta(ctx context.Context) (storage.Meta, error) {
	var m storage.Meta
	err := t.tx.QueryRowContext(ctx, `SELECT initialized, name, symbol, paused FROM meta WHERE id = 1`).
		Scan(&m.Initialized, &m.Name, &m.Symbol, &m.Paused)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Meta{}, nil
	}
	if err != nil {
		return storage.Meta{}, fmt.Errorf("select meta: %w", err)
	}
	return m, nil
}

func (t *sqlTx) PutMeta(ctx context.Context, m storage.Meta) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO meta (id, initialized, name, symbol, paused) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET initialized = excluded.initialized, name = excluded.name,
			symbol = excluded.symbol, paused = excluded.paused`,
		m.Initialized, m.Name, m.Symbol, m.Paused)
	if err != nil {
		return fmt.Errorf("upsert meta: %w", err)
	}
	return nil
}

func (t *sqlTx) HasRole(ctx context.Context, id model.Identity, role model.Role) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM roles WHERE identity = ? AND role = ?`, string(id), string(role))
}

func (t *sqlTx) SetRole(ctx context.Context, id model.Identity, role model.Role, granted bool) error {
	stmt := `DELETE FROM roles WHERE identity = ? AND role = ?`
	if granted {
		stmt = `INSERT INTO roles (identity, role) VALUES (?, ?) ON CONFLICT DO NOTHING`
	}
	if _, err := t.tx.ExecContext(ctx, stmt, string(id), string(role)); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

func (t *sqlTx) IsWhitelisted(ctx context.Context, id model.Identity) (bool, error) {
	return t.exists(ctx, `SELECT 1 FROM whitelist WHERE identity = ?`, string(id))
}

func (t *sqlTx) SetWhitelisted(ctx context.Context, id model.Identity, listed bool) error {
	stmt := `DELETE FROM whitelist WHERE identity = ?`
	if listed {
		stmt = `INSERT INTO whitelist (identity) VALUES (?) ON CONFLICT DO NOTHING`
	}
	if _, err := t.tx.ExecContext(ctx, stmt, string(id)); err != nil {
		return fmt.Errorf("set whitelist: %w", err)
	}
	return nil
}

func (t *sqlTx) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const assetColumns = `handle, owner, approved, stage, location, temperature, humidity, lab_analysis,
	processor, distributor, consumer, created_at, updated_at, name, description, image, external_url, attributes`

func (t *sqlTx) GetAsset(ctx context.Context, handle model.Handle) (model.Asset, error) {
	var (
		a                                  model.Asset
		h                                  int64
		loc, lab, proc, dist, cons, extURL sql.NullString
		temp, hum                          sql.NullInt64
		created, updated                   int64
		attrs                              string
	)
	err := t.tx.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE handle = ?`, int64(handle)).Scan(
		&h, &a.Owner, &a.Approved, &a.Stage, &loc, &temp, &hum, &lab,
		&proc, &dist, &cons, &created, &updated, &a.Name, &a.Description, &a.Image, &extURL, &attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Asset{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Asset{}, fmt.Errorf("select asset: %w", err)
	}
	a.Handle = model.Handle(h)
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
	a.CreatedAt = time.Unix(0, created).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	if err := json.Unmarshal([]byte(attrs), &a.Attributes); err != nil {
		return model.Asset{}, fmt.Errorf("decode attributes: %w", err)
	}
	return a, nil
}

func (t *sqlTx) InsertAsset(ctx context.Context, a model.Asset) error {
	found, err := t.exists(ctx, `SELECT 1 FROM assets WHERE handle = ?`, int64(a.Handle))
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
	_, err = t.tx.ExecContext(ctx, `INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateAsset(ctx context.Context, a model.Asset) error {
	args, err := assetArgs(a)
	if err != nil {
		return err
	}
	// handle moves from the first to the last placeholder.
	args = append(args[1:], args[0])
	res, err := t.tx.ExecContext(ctx, `UPDATE assets SET owner = ?, approved = ?, stage = ?, location = ?,
		temperature = ?, humidity = ?, lab_analysis = ?, processor = ?, distributor = ?, consumer = ?,
		created_at = ?, updated_at = ?, name = ?, description = ?, image = ?, external_url = ?, attributes = ?
		WHERE handle = ?`, args...)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *sqlTx) CountOwned(ctx context.Context, owner model.Identity) (uint64, error) {
	var n int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE owner = ?`, string(owner)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return uint64(n), nil
}

func (t *sqlTx) AppendTransition(ctx context.Context, handle model.Handle, tr model.StateTransition) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transitions (handle, seq, from_stage, to_stage, ts, updated_by, note)
		VALUES (?1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transitions WHERE handle = ?1), ?2, ?3, ?4, ?5, ?6)`,
		int64(handle), int64(tr.From), int64(tr.To), tr.Timestamp.UnixNano(), string(tr.UpdatedBy), stringArg(tr.Note))
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

func (t *sqlTx) History(ctx context.Context, handle model.Handle) ([]model.StateTransition, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT from_stage, to_stage, ts, updated_by, note
		FROM transitions WHERE handle = ? ORDER BY seq`, int64(handle))
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []model.StateTransition{}
	for rows.Next() {
		var (
			tr   model.StateTransition
			ts   int64
			note sql.NullString
		)
		if err := rows.Scan(&tr.From, &tr.To, &ts, &tr.UpdatedBy, &note); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.Timestamp = time.Unix(0, ts).UTC()
		tr.Note = nullString(note)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func assetArgs(a model.Asset) ([]any, error) {
	attrs := a.Attributes
	if attrs == nil {
		attrs = []model.Attribute{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	var temp, hum any
	if a.Temperature != nil {
		temp = int64(*a.Temperature)
	}
	if a.Humidity != nil {
		hum = int64(*a.Humidity)
	}
	return []any{
		int64(a.Handle), string(a.Owner), string(a.Approved), int64(a.Stage),
		stringArg(a.Location), temp, hum, stringArg(a.LabAnalysis),
		identityArg(a.Processor), identityArg(a.Distributor), identityArg(a.Consumer),
		a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(),
		a.Name, a.Description, a.Image, stringArg(a.ExternalURL), string(encoded),
	}, nil
}

func stringArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func identityArg(p *model.Identity) any {
	if p == nil {
		return nil
	}
	return string(*p)
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
