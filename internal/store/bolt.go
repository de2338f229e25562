package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

const (
	metaBucket       = "__meta"
	metaVersionKey   = "version"
	metaCollectionNS = "collection:"
	indexBucketNS    = "__idx:"
	indexSeparator   = 0x00
)

// BoltDB is the embedded bbolt driver. Each collection is a bucket and each
// secondary index is a bucket whose keys are value + 0x00 + primary key.
type BoltDB struct {
	db      *bbolt.DB
	specs   map[string]CollectionSpec
	version int
}

var _ DB = (*BoltDB)(nil)

// OpenBolt opens or creates the database file at path and upgrades it to the
// last migration's version. A failing migration leaves the file untouched.
func OpenBolt(ctx context.Context, path string, migrations []Migration) (*BoltDB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	b := &BoltDB{db: db, specs: make(map[string]CollectionSpec)}
	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}

		m := &boltMigrator{tx: tx, meta: meta, specs: b.specs}
		if err := m.load(); err != nil {
			return err
		}

		version, err := runMigrations(m, m.old, migrations)
		if err != nil {
			return err
		}
		b.version = version

		return meta.Put([]byte(metaVersionKey), []byte(strconv.Itoa(version)))
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

// Version returns the schema version the database was opened at.
func (b *BoltDB) Version() int {
	return b.version
}

// Close releases the database file.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Bolt exposes the underlying handle for callers that need raw buckets.
func (b *BoltDB) Bolt() *bbolt.DB {
	return b.db
}

func (b *BoltDB) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx, specs: b.specs})
	})
}

func (b *BoltDB) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx, specs: b.specs})
	})
}

type boltMigrator struct {
	tx    *bbolt.Tx
	meta  *bbolt.Bucket
	specs map[string]CollectionSpec
	old   int
}

func (m *boltMigrator) load() error {
	if v := m.meta.Get([]byte(metaVersionKey)); v != nil {
		old, err := strconv.Atoi(string(v))
		if err != nil {
			return fmt.Errorf("corrupt schema version %q: %w", v, err)
		}
		m.old = old
	}

	c := m.meta.Cursor()
	prefix := []byte(metaCollectionNS)
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var spec CollectionSpec
		if err := json.Unmarshal(v, &spec); err != nil {
			return fmt.Errorf("corrupt collection definition %q: %w", k, err)
		}
		m.specs[spec.Name] = spec
	}
	return nil
}

func (m *boltMigrator) OldVersion() int {
	return m.old
}

func (m *boltMigrator) HasCollection(name string) bool {
	_, ok := m.specs[name]
	return ok && m.tx.Bucket([]byte(name)) != nil
}

func (m *boltMigrator) CreateCollection(spec CollectionSpec) error {
	if m.HasCollection(spec.Name) {
		return fmt.Errorf("%s: %w", spec.Name, ErrCollectionExists)
	}
	if _, err := m.tx.CreateBucket([]byte(spec.Name)); err != nil {
		return fmt.Errorf("create collection %s: %w", spec.Name, err)
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

func (m *boltMigrator) HasIndex(collection, index string) bool {
	spec, ok := m.specs[collection]
	if !ok {
		return false
	}
	_, ok = spec.index(index)
	return ok
}

func (m *boltMigrator) CreateIndex(collection string, idx IndexSpec) error {
	spec, ok := m.specs[collection]
	if !ok {
		return fmt.Errorf("%s: %w", collection, ErrUnknownCollection)
	}
	if _, exists := spec.index(idx.Name); exists {
		return fmt.Errorf("%s.%s: %w", collection, idx.Name, ErrIndexExists)
	}

	ib, err := m.tx.CreateBucketIfNotExists(indexBucketName(collection, idx.Name))
	if err != nil {
		return fmt.Errorf("create index %s.%s: %w", collection, idx.Name, err)
	}

	records := m.tx.Bucket([]byte(collection))
	err = records.ForEach(func(k, v []byte) error {
		value, ok, err := fieldValue(v, idx.KeyPath)
		if err != nil || !ok {
			return err
		}
		return ib.Put(indexEntry(value, string(k)), k)
	})
	if err != nil {
		return fmt.Errorf("backfill index %s.%s: %w", collection, idx.Name, err)
	}

	spec.Indexes = append(append([]IndexSpec(nil), spec.Indexes...), idx)
	return m.save(spec)
}

func (m *boltMigrator) save(spec CollectionSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	if err := m.meta.Put([]byte(metaCollectionNS+spec.Name), data); err != nil {
		return err
	}
	m.specs[spec.Name] = spec
	return nil
}

type boltTx struct {
	tx    *bbolt.Tx
	specs map[string]CollectionSpec
}

// Lock is satisfied by bolt itself: a writable transaction excludes every
// other writer of the file.
func (t *boltTx) Lock(string, ...string) error {
	return nil
}

func (t *boltTx) Collection(name string) (Collection, error) {
	spec, ok := t.specs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownCollection)
	}
	bucket := t.tx.Bucket([]byte(name))
	if bucket == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownCollection)
	}
	return &boltCollection{tx: t.tx, spec: spec, bucket: bucket}, nil
}

type boltCollection struct {
	tx     *bbolt.Tx
	spec   CollectionSpec
	bucket *bbolt.Bucket
}

func (c *boltCollection) Get(key string) (json.RawMessage, error) {
	v := c.bucket.Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	return cloneBytes(v), nil
}

func (c *boltCollection) GetAll() ([]json.RawMessage, error) {
	var records []json.RawMessage
	err := c.bucket.ForEach(func(_, v []byte) error {
		records = append(records, cloneBytes(v))
		return nil
	})
	return records, err
}

func (c *boltCollection) GetAllByIndex(index, value string) ([]json.RawMessage, error) {
	if _, ok := c.spec.index(index); !ok {
		return nil, fmt.Errorf("%s.%s: %w", c.spec.Name, index, ErrUnknownIndex)
	}
	ib := c.tx.Bucket(indexBucketName(c.spec.Name, index))
	if ib == nil {
		return nil, fmt.Errorf("%s.%s: %w", c.spec.Name, index, ErrUnknownIndex)
	}

	var records []json.RawMessage
	prefix := indexEntry(value, "")
	cur := ib.Cursor()
	for k, pk := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, pk = cur.Next() {
		if v := c.bucket.Get(pk); v != nil {
			records = append(records, cloneBytes(v))
		}
	}
	return records, nil
}

func (c *boltCollection) Put(record json.RawMessage) error {
	key, err := primaryKey(c.spec, record)
	if err != nil {
		return err
	}
	if old := c.bucket.Get([]byte(key)); old != nil {
		if err := c.unindex(key, old); err != nil {
			return err
		}
	}
	return c.write(key, record)
}

func (c *boltCollection) Add(record json.RawMessage) error {
	key, err := primaryKey(c.spec, record)
	if err != nil {
		return err
	}
	if c.bucket.Get([]byte(key)) != nil {
		return fmt.Errorf("%s %q: %w", c.spec.Name, key, ErrDuplicateKey)
	}
	return c.write(key, record)
}

func (c *boltCollection) Delete(key string) error {
	old := c.bucket.Get([]byte(key))
	if old == nil {
		return nil
	}
	if err := c.unindex(key, old); err != nil {
		return err
	}
	return c.bucket.Delete([]byte(key))
}

func (c *boltCollection) write(key string, record json.RawMessage) error {
	if err := c.bucket.Put([]byte(key), cloneBytes(record)); err != nil {
		return err
	}
	for _, idx := range c.spec.Indexes {
		value, ok, err := fieldValue(record, idx.KeyPath)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		ib := c.tx.Bucket(indexBucketName(c.spec.Name, idx.Name))
		if err := ib.Put(indexEntry(value, key), []byte(key)); err != nil {
			return err
		}
	}
	return nil
}

func (c *boltCollection) unindex(key string, old []byte) error {
	for _, idx := range c.spec.Indexes {
		value, ok, err := fieldValue(old, idx.KeyPath)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		ib := c.tx.Bucket(indexBucketName(c.spec.Name, idx.Name))
		if err := ib.Delete(indexEntry(value, key)); err != nil {
			return err
		}
	}
	return nil
}

func indexBucketName(collection, index string) []byte {
	return []byte(indexBucketNS + collection + ":" + index)
}

func indexEntry(value, key string) []byte {
	entry := make([]byte, 0, len(value)+1+len(key))
	entry = append(entry, value...)
	entry = append(entry, indexSeparator)
	return append(entry, key...)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
