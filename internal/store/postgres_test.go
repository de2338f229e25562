package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rongwang/bytebank/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openPostgres connects to TEST_POSTGRES_DSN and starts from empty tables.
func openPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}

	_, err = db.Exec(`DROP TABLE IF EXISTS records, schema_meta`)
	require.NoError(t, err)
	return db
}

func TestPostgresSchemaAndRecords(t *testing.T) {
	conn := openPostgres(t)
	ctx := context.Background()

	db, err := store.OpenPostgres(ctx, conn, store.Migrations)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, store.SchemaVersion, db.Version())

	again, err := store.OpenPostgres(ctx, conn, store.Migrations)
	require.NoError(t, err)
	assert.Equal(t, store.SchemaVersion, again.Version())

	txs := store.NewRecords[txRecord](db, store.Transactions)
	require.NoError(t, txs.Add(ctx, &txRecord{ID: "t1", AccountID: "acc", Value: 100}))
	assert.ErrorIs(t, txs.Add(ctx, &txRecord{ID: "t1", AccountID: "acc"}), store.ErrDuplicateKey)

	require.NoError(t, txs.Put(ctx, &txRecord{ID: "t2", AccountID: "acc", Value: -40}))
	got, err := txs.GetAllByIndex(ctx, "accountId", "acc")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, txs.Delete(ctx, "t1"))
	require.NoError(t, txs.Delete(ctx, "t1"))

	missing, err := txs.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = store.OpenPostgres(ctx, conn, store.Migrations[:1])
	assert.ErrorIs(t, err, store.ErrSchemaDowngrade)
}

func TestPostgresLockWaitsForHolderCommit(t *testing.T) {
	conn := openPostgres(t)
	ctx := context.Background()

	db, err := store.OpenPostgres(ctx, conn, store.Migrations)
	require.NoError(t, err)
	defer db.Close()

	txs := store.NewRecords[txRecord](db, store.Transactions)
	locked := make(chan struct{})
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- db.Update(ctx, func(tx store.Tx) error {
			if err := tx.Lock(store.Accounts, "acc"); err != nil {
				return err
			}
			if err := txs.In(tx).Add(&txRecord{ID: "t1", AccountID: "acc", Value: 100}); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	seen := make(chan int, 1)
	go func() {
		_ = db.Update(ctx, func(tx store.Tx) error {
			if err := tx.Lock(store.Accounts, "acc", "acc"); err != nil {
				return err
			}
			got, err := txs.In(tx).GetAllByIndex("accountId", "acc")
			seen <- len(got)
			return err
		})
	}()

	select {
	case <-seen:
		t.Fatal("second writer read while the lock was held")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-holder)
	assert.Equal(t, 1, <-seen)
}
