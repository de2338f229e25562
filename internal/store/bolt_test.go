package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rongwang/bytebank/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txRecord struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Value     int64  `json:"value"`
}

type userRecord struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func openBolt(t *testing.T, path string, migrations []store.Migration) *store.BoltDB {
	t.Helper()
	db, err := store.OpenBolt(context.Background(), path, migrations)
	require.NoError(t, err)
	return db
}

func TestOpenBoltCreatesSchema(t *testing.T) {
	db := openBolt(t, filepath.Join(t.TempDir(), "bank.db"), store.Migrations)
	defer db.Close()

	assert.Equal(t, store.SchemaVersion, db.Version())
	assert.Equal(t, 5, store.SchemaVersion)

	err := db.View(context.Background(), func(tx store.Tx) error {
		for _, name := range []string{
			store.Users, store.Accounts, store.Transactions, store.FinancialGoals,
			store.Attachments, store.Sessions, store.Services,
		} {
			if _, err := tx.Collection(name); err != nil {
				return err
			}
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestOpenBoltTwiceAtSameVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")
	ctx := context.Background()

	db := openBolt(t, path, store.Migrations)
	users := store.NewRecords[userRecord](db, store.Users)
	require.NoError(t, users.Add(ctx, &userRecord{Email: "ana@example.com", Name: "Ana"}))
	require.NoError(t, db.Close())

	db = openBolt(t, path, store.Migrations)
	defer db.Close()

	assert.Equal(t, store.SchemaVersion, db.Version())
	u, err := store.NewRecords[userRecord](db, store.Users).Get(ctx, "ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Ana", u.Name)
}

func TestUpgradeBackfillsNewIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")
	ctx := context.Background()

	db := openBolt(t, path, store.Migrations[:2])
	assert.Equal(t, 2, db.Version())
	txs := store.NewRecords[txRecord](db, store.Transactions)
	require.NoError(t, txs.Add(ctx, &txRecord{ID: "t1", AccountID: "acc-1", Value: 100}))
	require.NoError(t, txs.Add(ctx, &txRecord{ID: "t2", AccountID: "acc-2", Value: 200}))
	require.NoError(t, db.Close())

	db = openBolt(t, path, store.Migrations)
	defer db.Close()

	got, err := store.NewRecords[txRecord](db, store.Transactions).GetAllByIndex(ctx, "accountId", "acc-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)
}

func TestFailedUpgradeIsNotCommitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")

	db := openBolt(t, path, store.Migrations[:1])
	require.NoError(t, db.Close())

	broken := append(append([]store.Migration(nil), store.Migrations[:2]...), store.Migration{
		Version: 3,
		Apply: func(m store.Migrator) error {
			if err := m.CreateCollection(store.CollectionSpec{Name: "half-done", KeyPath: "id"}); err != nil {
				return err
			}
			return errors.New("boom")
		},
	})

	_, err := store.OpenBolt(context.Background(), path, broken)
	require.Error(t, err)

	db = openBolt(t, path, store.Migrations[:1])
	defer db.Close()
	assert.Equal(t, 1, db.Version())

	err = db.View(context.Background(), func(tx store.Tx) error {
		_, err := tx.Collection(store.FinancialGoals)
		return err
	})
	assert.ErrorIs(t, err, store.ErrUnknownCollection)
}

func TestOpenOlderTargetIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")

	db := openBolt(t, path, store.Migrations)
	require.NoError(t, db.Close())

	_, err := store.OpenBolt(context.Background(), path, store.Migrations[:2])
	assert.ErrorIs(t, err, store.ErrSchemaDowngrade)
}

func TestMigrationsMustIncrease(t *testing.T) {
	noop := func(store.Migrator) error { return nil }
	_, err := store.OpenBolt(context.Background(), filepath.Join(t.TempDir(), "bank.db"), []store.Migration{
		{Version: 2, Apply: noop},
		{Version: 1, Apply: noop},
	})
	assert.Error(t, err)
}

func TestCollectionSemantics(t *testing.T) {
	db := openBolt(t, filepath.Join(t.TempDir(), "bank.db"), store.Migrations)
	defer db.Close()
	ctx := context.Background()
	txs := store.NewRecords[txRecord](db, store.Transactions)

	t.Run("GetAbsentIsNotAnError", func(t *testing.T) {
		got, err := txs.Get(ctx, "missing")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("AddDuplicateFails", func(t *testing.T) {
		require.NoError(t, txs.Add(ctx, &txRecord{ID: "dup", AccountID: "a", Value: 1}))
		err := txs.Add(ctx, &txRecord{ID: "dup", AccountID: "a", Value: 2})
		assert.ErrorIs(t, err, store.ErrDuplicateKey)

		got, err := txs.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Value)
	})

	t.Run("PutMovesIndexEntries", func(t *testing.T) {
		require.NoError(t, txs.Put(ctx, &txRecord{ID: "mv", AccountID: "from", Value: 5}))
		require.NoError(t, txs.Put(ctx, &txRecord{ID: "mv", AccountID: "to", Value: 5}))

		from, err := txs.GetAllByIndex(ctx, "accountId", "from")
		require.NoError(t, err)
		assert.Empty(t, from)

		to, err := txs.GetAllByIndex(ctx, "accountId", "to")
		require.NoError(t, err)
		require.Len(t, to, 1)
		assert.Equal(t, "mv", to[0].ID)
	})

	t.Run("IndexPrefixDoesNotLeak", func(t *testing.T) {
		require.NoError(t, txs.Put(ctx, &txRecord{ID: "p1", AccountID: "acc", Value: 1}))
		require.NoError(t, txs.Put(ctx, &txRecord{ID: "p2", AccountID: "acc-long", Value: 1}))

		got, err := txs.GetAllByIndex(ctx, "accountId", "acc")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "p1", got[0].ID)
	})

	t.Run("DeleteRemovesFromIndex", func(t *testing.T) {
		require.NoError(t, txs.Put(ctx, &txRecord{ID: "del", AccountID: "gone", Value: 1}))
		require.NoError(t, txs.Delete(ctx, "del"))

		got, err := txs.GetAllByIndex(ctx, "accountId", "gone")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("DeleteAbsentIsNoop", func(t *testing.T) {
		assert.NoError(t, txs.Delete(ctx, "never-existed"))
	})

	t.Run("UnknownIndex", func(t *testing.T) {
		_, err := txs.GetAllByIndex(ctx, "nope", "x")
		assert.ErrorIs(t, err, store.ErrUnknownIndex)
	})

	t.Run("UnknownCollection", func(t *testing.T) {
		_, err := store.NewRecords[txRecord](db, "ghosts").GetAll(ctx)
		assert.ErrorIs(t, err, store.ErrUnknownCollection)
	})

	t.Run("MissingPrimaryKey", func(t *testing.T) {
		err := txs.Put(ctx, &txRecord{AccountID: "a"})
		assert.ErrorIs(t, err, store.ErrMissingKey)
	})
}

func TestUpdateRollsBackAcrossCollections(t *testing.T) {
	db := openBolt(t, filepath.Join(t.TempDir(), "bank.db"), store.Migrations)
	defer db.Close()
	ctx := context.Background()

	users := store.NewRecords[userRecord](db, store.Users)
	txs := store.NewRecords[txRecord](db, store.Transactions)

	err := db.Update(ctx, func(tx store.Tx) error {
		if err := users.In(tx).Add(&userRecord{Email: "x@example.com"}); err != nil {
			return err
		}
		if err := txs.In(tx).Add(&txRecord{ID: "rolled", AccountID: "a"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	u, err := users.Get(ctx, "x@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)

	tr, err := txs.Get(ctx, "rolled")
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestCanceledContext(t *testing.T) {
	db := openBolt(t, filepath.Join(t.TempDir(), "bank.db"), store.Migrations)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.NewRecords[txRecord](db, store.Transactions).GetAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
