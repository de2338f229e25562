package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Records is a typed view over one collection. Methods that take a context
// run as their own atomic transaction; In binds the view to a caller's
// transaction so several collections can be changed together.
type Records[T any] struct {
	db   DB
	name string
}

// NewRecords returns a typed view of the named collection.
func NewRecords[T any](db DB, name string) Records[T] {
	return Records[T]{db: db, name: name}
}

// Name returns the collection name.
func (r Records[T]) Name() string {
	return r.name
}

// In binds the view to an open transaction.
func (r Records[T]) In(tx Tx) TxRecords[T] {
	return TxRecords[T]{tx: tx, name: r.name}
}

// Get returns nil when the key is absent.
func (r Records[T]) Get(ctx context.Context, key string) (rec *T, err error) {
	err = r.db.View(ctx, func(tx Tx) error {
		rec, err = r.In(tx).Get(key)
		return err
	})
	return rec, err
}

func (r Records[T]) GetAll(ctx context.Context) (recs []T, err error) {
	err = r.db.View(ctx, func(tx Tx) error {
		recs, err = r.In(tx).GetAll()
		return err
	})
	return recs, err
}

func (r Records[T]) GetAllByIndex(ctx context.Context, index, value string) (recs []T, err error) {
	err = r.db.View(ctx, func(tx Tx) error {
		recs, err = r.In(tx).GetAllByIndex(index, value)
		return err
	})
	return recs, err
}

func (r Records[T]) Put(ctx context.Context, rec *T) error {
	return r.db.Update(ctx, func(tx Tx) error {
		return r.In(tx).Put(rec)
	})
}

func (r Records[T]) Add(ctx context.Context, rec *T) error {
	return r.db.Update(ctx, func(tx Tx) error {
		return r.In(tx).Add(rec)
	})
}

func (r Records[T]) Delete(ctx context.Context, key string) error {
	return r.db.Update(ctx, func(tx Tx) error {
		return r.In(tx).Delete(key)
	})
}

// TxRecords is a typed view bound to a transaction.
type TxRecords[T any] struct {
	tx   Tx
	name string
}

func (r TxRecords[T]) Get(key string) (*T, error) {
	c, err := r.tx.Collection(r.name)
	if err != nil {
		return nil, err
	}
	raw, err := c.Get(key)
	if err != nil || raw == nil {
		return nil, err
	}
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", r.name, key, err)
	}
	return &rec, nil
}

func (r TxRecords[T]) GetAll() ([]T, error) {
	c, err := r.tx.Collection(r.name)
	if err != nil {
		return nil, err
	}
	raws, err := c.GetAll()
	if err != nil {
		return nil, err
	}
	return decodeAll[T](r.name, raws)
}

func (r TxRecords[T]) GetAllByIndex(index, value string) ([]T, error) {
	c, err := r.tx.Collection(r.name)
	if err != nil {
		return nil, err
	}
	raws, err := c.GetAllByIndex(index, value)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](r.name, raws)
}

func (r TxRecords[T]) Put(rec *T) error {
	c, raw, err := r.encode(rec)
	if err != nil {
		return err
	}
	return c.Put(raw)
}

func (r TxRecords[T]) Add(rec *T) error {
	c, raw, err := r.encode(rec)
	if err != nil {
		return err
	}
	return c.Add(raw)
}

func (r TxRecords[T]) Delete(key string) error {
	c, err := r.tx.Collection(r.name)
	if err != nil {
		return err
	}
	return c.Delete(key)
}

func (r TxRecords[T]) encode(rec *T) (Collection, json.RawMessage, error) {
	c, err := r.tx.Collection(r.name)
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s record: %w", r.name, err)
	}
	return c, raw, nil
}

func decodeAll[T any](name string, raws []json.RawMessage) ([]T, error) {
	recs := make([]T, 0, len(raws))
	for _, raw := range raws {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", name, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
