package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rongwang/bytebank/internal/ledger"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/repository"
	"github.com/rongwang/bytebank/internal/seed"
	"github.com/rongwang/bytebank/internal/service"
	"github.com/rongwang/bytebank/internal/session"
	"github.com/rongwang/bytebank/internal/store"
	"github.com/rongwang/bytebank/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *service.DefaultService
	repo     *repository.StoreRepository
	engine   *ledger.Engine
	sessions *session.Manager
	jar      *session.MemoryJar
}

func setup(t *testing.T, withSeed bool) *fixture {
	t.Helper()
	db, err := store.OpenBolt(context.Background(), filepath.Join(t.TempDir(), "bank.db"), store.Migrations)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := utils.NewDiscardLogger()
	repo := repository.NewStoreRepository(db)
	engine := ledger.NewEngine(db, logger)

	var gen *seed.Generator
	if withSeed {
		gen = seed.NewGenerator(db, engine, 42, logger)
	}

	return &fixture{
		svc:      service.NewDefaultService(repo, engine, gen, 30*time.Minute, logger),
		repo:     repo,
		engine:   engine,
		sessions: session.NewManager(session.NewMemoryStorage(), repo, session.CookiePolicy{Environment: session.Development}, "test-secret-key", logger),
		jar:      session.NewMemoryJar(),
	}
}

func (f *fixture) signUp(t *testing.T, email string) string {
	t.Helper()
	resp, err := f.svc.SignUp(context.Background(), models.SignUpRequest{Email: email, Password: "Password123", Name: "Test User"})
	require.NoError(t, err)
	return resp.UserID
}

func TestSignUpAndLogin(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	userID := f.signUp(t, "Ana@Example.com")

	_, err := f.svc.SignUp(ctx, models.SignUpRequest{Email: "ana@example.com", Password: "Password123", Name: "Other"})
	assert.ErrorIs(t, err, service.ErrEmailTaken)

	account, err := f.svc.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, service.DefaultAccountType, account.Type)
	require.NotNil(t, account.Balance)
	assert.Zero(t, *account.Balance)

	_, err = f.svc.Login(ctx, f.sessions, f.jar, models.LoginRequest{Email: "ana@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, f.sessions, f.jar, models.LoginRequest{Email: "nobody@example.com", Password: "Password123"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)

	auth, err := f.svc.Login(ctx, f.sessions, f.jar, models.LoginRequest{Email: "ana@example.com", Password: "Password123"})
	require.NoError(t, err)
	assert.Equal(t, userID, auth.UserID)
	assert.NotEmpty(t, auth.Token)

	current := f.sessions.Get(ctx, f.jar)
	require.NotNil(t, current)
	assert.Equal(t, userID, current.ID)

	f.svc.Logout(ctx, f.sessions, f.jar)
	assert.Nil(t, f.sessions.Get(ctx, f.jar))
}

func TestSignUpSeedsAccount(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	userID := f.signUp(t, "ana@example.com")

	list, err := f.svc.ListTransactions(ctx, userID)
	require.NoError(t, err)
	assert.NotEmpty(t, list.Transactions)

	drift, err := f.engine.Verify(ctx, list.AccountID)
	require.NoError(t, err)
	assert.True(t, drift.Consistent())

	services, err := f.svc.ListServices(ctx)
	require.NoError(t, err)
	assert.Len(t, services.Services, len(seed.Services))

	n, err := f.svc.PopulateDemoData(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransactionLifecycle(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	userID := f.signUp(t, "ana@example.com")

	created, err := f.svc.CreateTransaction(ctx, userID, models.TransactionRequest{
		Type: models.TransactionDeposit, Value: 5000, Date: "2024-06-01", Category: "Salário",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), created.Balance)

	spent, err := f.svc.CreateTransaction(ctx, userID, models.TransactionRequest{
		Type: models.TransactionWithdrawal, Value: 2000, Date: "2024-06-02",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-2000), spent.Transaction.Value)
	assert.Equal(t, int64(3000), spent.Balance)

	updated, err := f.svc.UpdateTransaction(ctx, userID, spent.Transaction.ID, models.TransactionRequest{
		Type: models.TransactionWithdrawal, Value: 500, Date: "2024-06-02",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4500), updated.Balance)

	list, err := f.svc.ListTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list.Transactions, 2)
	assert.Equal(t, "2024-06-02", list.Transactions[0].Date)

	deleted, err := f.svc.DeleteTransaction(ctx, userID, created.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-500), deleted.Balance)

	_, err = f.svc.CreateTransaction(ctx, userID, models.TransactionRequest{Type: "Pix", Value: 1, Date: "2024-06-02"})
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestTransactionsAreScopedToOwner(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	ana := f.signUp(t, "ana@example.com")
	bia := f.signUp(t, "bia@example.com")

	created, err := f.svc.CreateTransaction(ctx, ana, models.TransactionRequest{
		Type: models.TransactionDeposit, Value: 100, Date: "2024-06-01",
	})
	require.NoError(t, err)

	_, err = f.svc.DeleteTransaction(ctx, bia, created.Transaction.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = f.svc.AddAttachment(ctx, bia, created.Transaction.ID, models.AttachmentRequest{FileName: "a.pdf", FileType: "application/pdf", File: []byte("x")})
	assert.ErrorIs(t, err, service.ErrNotFound)

	account, err := f.svc.GetAccount(ctx, ana)
	require.NoError(t, err)
	assert.Equal(t, int64(100), *account.Balance)
}

func TestBalanceVisibility(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	userID := f.signUp(t, "ana@example.com")

	hidden, err := f.svc.SetBalanceVisibility(ctx, userID, false)
	require.NoError(t, err)
	assert.False(t, hidden.BalanceVisible)
	assert.Nil(t, hidden.Balance)
	assert.Empty(t, hidden.BalanceFormatted)

	shown, err := f.svc.SetBalanceVisibility(ctx, userID, true)
	require.NoError(t, err)
	require.NotNil(t, shown.Balance)
	assert.Equal(t, "R$ 0,00", shown.BalanceFormatted)
}

func TestDeleteAccountLeavesOrphans(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	userID := f.signUp(t, "ana@example.com")

	created, err := f.svc.CreateTransaction(ctx, userID, models.TransactionRequest{
		Type: models.TransactionDeposit, Value: 100, Date: "2024-06-01",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAccount(ctx, userID))

	_, err = f.svc.GetAccount(ctx, userID)
	assert.ErrorIs(t, err, service.ErrNotFound)

	orphan, err := f.repo.GetTransaction(ctx, created.Transaction.ID)
	require.NoError(t, err)
	assert.NotNil(t, orphan)
}

func TestGoals(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	userID := f.signUp(t, "ana@example.com")

	req := models.GoalRequest{Title: "Viagem", TargetAmount: 100000, Deadline: "2030-01-01", Category: "Lazer"}
	created, err := f.svc.CreateGoal(ctx, userID, req)
	require.NoError(t, err)
	goalID := created.Goal.ID

	_, err = f.svc.CreateGoal(ctx, userID, models.GoalRequest{Title: "x", TargetAmount: 0, Deadline: "2030-01-01"})
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = f.svc.CreateGoal(ctx, userID, models.GoalRequest{Title: "x", TargetAmount: 10, Deadline: "soon"})
	assert.ErrorIs(t, err, service.ErrValidation)

	contributed, err := f.svc.ContributeToGoal(ctx, userID, goalID, 25000)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), contributed.Goal.CurrentAmount)

	_, err = f.svc.ContributeToGoal(ctx, userID, goalID, -30000)
	assert.ErrorIs(t, err, service.ErrValidation)

	req.Title = "Viagem ao Japão"
	req.CurrentAmount = 30000
	updated, err := f.svc.UpdateGoal(ctx, userID, goalID, req)
	require.NoError(t, err)
	assert.Equal(t, "Viagem ao Japão", updated.Goal.Title)

	other := f.signUp(t, "bia@example.com")
	assert.ErrorIs(t, f.svc.DeleteGoal(ctx, other, goalID), service.ErrNotFound)

	list, err := f.svc.ListGoals(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list.Goals, 1)
	assert.Equal(t, int64(30000), list.Goals[0].CurrentAmount)

	summary, err := f.svc.GetAnalytics(ctx, userID)
	require.NoError(t, err)
	require.Len(t, summary.Goals, 1)
	assert.Equal(t, "30", summary.Goals[0].Percent.String())

	require.NoError(t, f.svc.DeleteGoal(ctx, userID, goalID))
	list, err = f.svc.ListGoals(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, list.Goals)
}

func TestConcurrentGoalContributions(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	userID := f.signUp(t, "ana@example.com")

	created, err := f.svc.CreateGoal(ctx, userID, models.GoalRequest{Title: "Reserva", TargetAmount: 10000, Deadline: "2030-01-01", Category: "Reserva"})
	require.NoError(t, err)
	goalID := created.Goal.ID

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ContributeToGoal(ctx, userID, goalID, 100)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	goal, err := f.repo.GetGoal(ctx, goalID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*100), goal.CurrentAmount)

	other := f.signUp(t, "bia@example.com")
	_, err = f.svc.ContributeToGoal(ctx, other, goalID, 100)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.svc.ContributeToGoal(ctx, userID, "missing", 100)
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = f.svc.ContributeToGoal(ctx, userID, goalID, -workers*100-1)
	assert.ErrorIs(t, err, service.ErrValidation)
	goal, err = f.repo.GetGoal(ctx, goalID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*100), goal.CurrentAmount)
}

func TestAttachments(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	userID := f.signUp(t, "ana@example.com")

	created, err := f.svc.CreateTransaction(ctx, userID, models.TransactionRequest{
		Type: models.TransactionWithdrawal, Value: 1500, Date: "2024-06-01",
	})
	require.NoError(t, err)
	txID := created.Transaction.ID

	info, err := f.svc.AddAttachment(ctx, userID, txID, models.AttachmentRequest{
		FileName: "recibo.pdf", FileType: "application/pdf", File: []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.FileSize)

	list, err := f.svc.ListAttachments(ctx, userID, txID)
	require.NoError(t, err)
	require.Len(t, list.Attachments, 1)

	full, err := f.svc.GetAttachment(ctx, userID, info.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), full.File)

	_, err = f.svc.DeleteTransaction(ctx, userID, txID)
	require.NoError(t, err)

	_, err = f.svc.GetAttachment(ctx, userID, info.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}
