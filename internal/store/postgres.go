package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// migrationLockKey serializes schema upgrades across processes sharing one database.
const migrationLockKey = 0x62797465

// PostgresDB stores every collection in a single JSONB table. Secondary
// indexes are partial expression indexes over the indexed field.
type PostgresDB struct {
	db      *sqlx.DB
	specs   map[string]CollectionSpec
	version int
}

var _ DB = (*PostgresDB)(nil)

// OpenPostgres creates the backing tables if needed and upgrades the schema
// inside one SQL transaction.
func OpenPostgres(ctx context.Context, db *sqlx.DB, migrations []Migration) (*PostgresDB, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create schema_meta: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value JSONB NOT NULL,
			PRIMARY KEY (collection, key)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create records: %w", err)
	}

	p := &PostgresDB{db: db, specs: make(map[string]CollectionSpec)}
	m := &pgMigrator{ctx: ctx, tx: tx, specs: p.specs}
	if err = m.load(); err != nil {
		return nil, err
	}

	p.version, err = runMigrations(m, m.old, migrations)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, metaVersionKey, strconv.Itoa(p.version))
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Version() int {
	return p.version
}

// Close closes the connection pool.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) View(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (p *PostgresDB) Update(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, nil, fn)
}

func (p *PostgresDB) run(ctx context.Context, opts *sql.TxOptions, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, opts)
	if err != nil {
		return err
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, specs: p.specs}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

type pgMigrator struct {
	ctx   context.Context
	tx    *sqlx.Tx
	specs map[string]CollectionSpec
	old   int
}

func (m *pgMigrator) load() error {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	err := m.tx.SelectContext(m.ctx, &rows, `SELECT key, value FROM schema_meta`)
	if err != nil {
		return fmt.Errorf("load schema_meta: %w", err)
	}

	for _, row := range rows {
		if row.Key == metaVersionKey {
			old, err := strconv.Atoi(row.Value)
			if err != nil {
				return fmt.Errorf("corrupt schema version %q: %w", row.Value, err)
			}
			m.old = old
			continue
		}

		var spec CollectionSpec
		if err := json.Unmarshal([]byte(row.Value), &spec); err != nil {
			return fmt.Errorf("corrupt collection definition %q: %w", row.Key, err)
		}
		m.specs[spec.Name] = spec
	}
	return nil
}

func (m *pgMigrator) OldVersion() int {
	return m.old
}

func (m *pgMigrator) HasCollection(name string) bool {
	_, ok := m.specs[name]
	return ok
}

func (m *pgMigrator) CreateCollection(spec CollectionSpec) error {
	if m.HasCollection(spec.Name) {
		return fmt.Errorf("%s: %w", spec.Name, ErrCollectionExists)
	}

	indexes := spec.Indexes
	spec.Indexes = nil
	if err := m.save(spec); err != nil {
		return err
	}

	for _, idx := range indexes {
		if err := m.CreateIndex(spec.Name, idx); err != nil {
			return err
		}
	}
	return nil
}

func (m *pgMigrator) HasIndex(collection, index string) bool {
	spec, ok := m.specs[collection]
	if !ok {
		return false
	}
	_, ok = spec.index(index)
	return ok
}

func (m *pgMigrator) CreateIndex(collection string, idx IndexSpec) error {
	spec, ok := m.specs[collection]
	if !ok {
		return fmt.Errorf("%s: %w", collection, ErrUnknownCollection)
	}
	if _, exists := spec.index(idx.Name); exists {
		return fmt.Errorf("%s.%s: %w", collection, idx.Name, ErrIndexExists)
	}

	stmt := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON records ((value->>%s)) WHERE collection = %s",
		pq.QuoteIdentifier("idx_"+collection+"_"+idx.Name),
		pq.QuoteLiteral(idx.KeyPath),
		pq.QuoteLiteral(collection),
	)
	if _, err := m.tx.ExecContext(m.ctx, stmt); err != nil {
		return fmt.Errorf("create index %s.%s: %w", collection, idx.Name, err)
	}

	spec.Indexes = append(append([]IndexSpec(nil), spec.Indexes...), idx)
	return m.save(spec)
}

func (m *pgMigrator) save(spec CollectionSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	_, err = m.tx.ExecContext(m.ctx, `
		INSERT INTO schema_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, metaCollectionNS+spec.Name, string(data))
	if err != nil {
		return fmt.Errorf("save collection %s: %w", spec.Name, err)
	}
	m.specs[spec.Name] = spec
	return nil
}

type pgTx struct {
	ctx   context.Context
	tx    *sqlx.Tx
	specs map[string]CollectionSpec
}

// Lock takes a transaction-scoped advisory lock per key. Statements run
// after it see everything committed by the previous holder.
func (t *pgTx) Lock(collection string, keys ...string) error {
	for _, name := range lockNames(collection, keys) {
		if _, err := t.tx.ExecContext(t.ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
			return fmt.Errorf("lock %s: %w", name, err)
		}
	}
	return nil
}

func (t *pgTx) Collection(name string) (Collection, error) {
	spec, ok := t.specs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownCollection)
	}
	return &pgCollection{ctx: t.ctx, tx: t.tx, spec: spec}, nil
}

type pgCollection struct {
	ctx  context.Context
	tx   *sqlx.Tx
	spec CollectionSpec
}

func (c *pgCollection) Get(key string) (json.RawMessage, error) {
	var value string
	err := c.tx.GetContext(c.ctx, &value,
		`SELECT value FROM records WHERE collection = $1 AND key = $2`, c.spec.Name, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return json.RawMessage(value), nil
}

func (c *pgCollection) GetAll() ([]json.RawMessage, error) {
	var values []string
	err := c.tx.SelectContext(c.ctx, &values,
		`SELECT value FROM records WHERE collection = $1`, c.spec.Name)
	if err != nil {
		return nil, err
	}
	return toRaw(values), nil
}

func (c *pgCollection) GetAllByIndex(index, value string) ([]json.RawMessage, error) {
	idx, ok := c.spec.index(index)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", c.spec.Name, index, ErrUnknownIndex)
	}

	// The field must appear as a literal for the planner to match the expression index.
	query := fmt.Sprintf(
		`SELECT value FROM records WHERE collection = $1 AND value->>%s = $2`,
		pq.QuoteLiteral(idx.KeyPath),
	)

	var values []string
	if err := c.tx.SelectContext(c.ctx, &values, query, c.spec.Name, value); err != nil {
		return nil, err
	}
	return toRaw(values), nil
}

func (c *pgCollection) Put(record json.RawMessage) error {
	key, err := primaryKey(c.spec, record)
	if err != nil {
		return err
	}
	_, err = c.tx.ExecContext(c.ctx, `
		INSERT INTO records (collection, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET value = EXCLUDED.value
	`, c.spec.Name, key, string(record))
	return err
}

func (c *pgCollection) Add(record json.RawMessage) error {
	key, err := primaryKey(c.spec, record)
	if err != nil {
		return err
	}
	res, err := c.tx.ExecContext(c.ctx, `
		INSERT INTO records (collection, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO NOTHING
	`, c.spec.Name, key, string(record))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", c.spec.Name, key, ErrDuplicateKey)
	}
	return nil
}

func (c *pgCollection) Delete(key string) error {
	_, err := c.tx.ExecContext(c.ctx,
		`DELETE FROM records WHERE collection = $1 AND key = $2`, c.spec.Name, key)
	return err
}

func toRaw(values []string) []json.RawMessage {
	records := make([]json.RawMessage, len(values))
	for i, v := range values {
		records[i] = json.RawMessage(v)
	}
	return records
}
