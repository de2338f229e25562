// Package store implements a versioned, transactional record store with named
// collections and secondary indexes. Records are JSON documents whose primary
// key and index values are read from top-level fields.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateKey is returned by Add when the primary key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned by operations that require an existing record.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownCollection is returned when a collection is not part of the schema.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownIndex is returned when an index is not defined on a collection.
	ErrUnknownIndex = errors.New("unknown index")
	// ErrCollectionExists is returned by CreateCollection for an existing collection.
	ErrCollectionExists = errors.New("collection already exists")
	// ErrIndexExists is returned by CreateIndex for an existing index.
	ErrIndexExists = errors.New("index already exists")
	// ErrMissingKey is returned when a record has no usable primary key.
	ErrMissingKey = errors.New("record has no primary key")
	// ErrSchemaDowngrade is returned when the stored schema is newer than the code.
	ErrSchemaDowngrade = errors.New("stored schema version is newer than target")
)

// IndexSpec describes a secondary index over one top-level record field.
type IndexSpec struct {
	Name    string `json:"name"`
	KeyPath string `json:"keyPath"`
}

// CollectionSpec describes a named collection of records.
type CollectionSpec struct {
	Name    string      `json:"name"`
	KeyPath string      `json:"keyPath"`
	Indexes []IndexSpec `json:"indexes,omitempty"`
}

func (s CollectionSpec) index(name string) (IndexSpec, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSpec{}, false
}

// DB is an opened store. View runs fn in a read-only transaction and Update
// in a read-write transaction; either every write made by fn commits or none.
type DB interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Version() int
	Close() error
}

// Tx gives access to collections inside a transaction. Lock holds the
// records named by keys in collection against other writers until the
// transaction ends, across processes sharing the store. Keys are locked in
// sorted order.
type Tx interface {
	Collection(name string) (Collection, error)
	Lock(collection string, keys ...string) error
}

// lockNames returns the distinct lock names of keys in sorted order.
func lockNames(collection string, keys []string) []string {
	names := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		name := collection + "/" + key
		if key == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Collection is the raw CRUD surface of one collection. Get returns nil
// without error when the key is absent and Delete of an absent key is a no-op.
type Collection interface {
	Get(key string) (json.RawMessage, error)
	GetAll() ([]json.RawMessage, error)
	GetAllByIndex(index, value string) ([]json.RawMessage, error)
	Put(record json.RawMessage) error
	Add(record json.RawMessage) error
	Delete(key string) error
}

// fieldValue returns the string form of a top-level JSON field. Strings are
// unquoted, other scalars keep their JSON text. Missing and null fields report
// ok == false.
func fieldValue(record json.RawMessage, path string) (value string, ok bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return "", false, fmt.Errorf("decode record: %w", err)
	}

	raw, exists := fields[path]
	if !exists {
		return "", false, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, fmt.Errorf("decode field %q: %w", path, err)
		}
		return s, true, nil
	}

	return string(raw), true, nil
}

func primaryKey(spec CollectionSpec, record json.RawMessage) (string, error) {
	key, ok, err := fieldValue(record, spec.KeyPath)
	if err != nil {
		return "", err
	}
	if !ok || key == "" {
		return "", fmt.Errorf("%s.%s: %w", spec.Name, spec.KeyPath, ErrMissingKey)
	}
	return key, nil
}
