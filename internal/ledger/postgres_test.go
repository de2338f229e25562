package ledger_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rongwang/bytebank/internal/ledger"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/store"
	"github.com/rongwang/bytebank/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two engines share nothing in process, like two servers on one database.
func TestEnginesSharingPostgresKeepBalance(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer conn.Close()
	_, err = conn.Exec(`DROP TABLE IF EXISTS records, schema_meta`)
	require.NoError(t, err)

	ctx := context.Background()
	db, err := store.OpenPostgres(ctx, conn, store.Migrations)
	require.NoError(t, err)

	accounts := store.NewRecords[models.Account](db, store.Accounts)
	require.NoError(t, accounts.Add(ctx, &models.Account{ID: "acc", Name: "acc"}))

	engines := []*ledger.Engine{
		ledger.NewEngine(db, utils.NewDiscardLogger()),
		ledger.NewEngine(db, utils.NewDiscardLogger()),
	}

	const perEngine = 20
	var wg sync.WaitGroup
	errs := make(chan error, len(engines)*perEngine)
	for _, e := range engines {
		for i := 0; i < perEngine; i++ {
			wg.Add(1)
			go func(e *ledger.Engine) {
				defer wg.Done()
				_, err := e.CreateTransaction(ctx, deposit("acc", 10))
				errs <- err
			}(e)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	drift, err := engines[0].Verify(ctx, "acc")
	require.NoError(t, err)
	assert.True(t, drift.Consistent(), "cached %d, ledger %d", drift.Cached, drift.Computed)
	assert.Equal(t, int64(len(engines)*perEngine*10), drift.Cached)
}
