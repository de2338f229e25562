package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/store"
)

var (
	// ErrEmailTaken is returned when registering an email that already has a user.
	ErrEmailTaken = errors.New("user with this email already exists")
	// ErrGoalNegative is returned when an adjustment would take a goal below zero.
	ErrGoalNegative = errors.New("goal amount would become negative")
)

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// User operations
	CreateUserWithAccount(ctx context.Context, user *models.User, account *models.Account) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Account operations
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	GetAccountByUser(ctx context.Context, userID string) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, accountID string) error

	// Transaction reads; writes go through the ledger engine
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactionsByAccount(ctx context.Context, accountID string) ([]models.Transaction, error)

	// Goal operations
	CreateGoal(ctx context.Context, goal *models.FinancialGoal) error
	GetGoal(ctx context.Context, id string) (*models.FinancialGoal, error)
	GetGoals(ctx context.Context, userID string) ([]models.FinancialGoal, error)
	UpdateGoal(ctx context.Context, goal *models.FinancialGoal) error
	AdjustGoalAmount(ctx context.Context, id, userID string, delta int64) (*models.FinancialGoal, error)
	DeleteGoal(ctx context.Context, id string) error

	// Attachment operations
	CreateAttachment(ctx context.Context, attachment *models.Attachment) error
	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)
	GetAttachmentsByTransaction(ctx context.Context, transactionID string) ([]models.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error

	// Session bookkeeping
	CreateSessionRecord(ctx context.Context, rec *models.SessionRecord) error
	GetSessionRecordsByUser(ctx context.Context, userID string) ([]models.SessionRecord, error)
	DeleteSessionRecord(ctx context.Context, id string) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// Services
	GetServices(ctx context.Context) ([]models.Service, error)
}

// StoreRepository implements the Repository interface on top of a store.DB
type StoreRepository struct {
	db           store.DB
	users        store.Records[models.User]
	accounts     store.Records[models.Account]
	transactions store.Records[models.Transaction]
	goals        store.Records[models.FinancialGoal]
	attachments  store.Records[models.Attachment]
	sessions     store.Records[models.SessionRecord]
	services     store.Records[models.Service]
}

// NewStoreRepository creates a new repository over an opened store
func NewStoreRepository(db store.DB) *StoreRepository {
	return &StoreRepository{
		db:           db,
		users:        store.NewRecords[models.User](db, store.Users),
		accounts:     store.NewRecords[models.Account](db, store.Accounts),
		transactions: store.NewRecords[models.Transaction](db, store.Transactions),
		goals:        store.NewRecords[models.FinancialGoal](db, store.FinancialGoals),
		attachments:  store.NewRecords[models.Attachment](db, store.Attachments),
		sessions:     store.NewRecords[models.SessionRecord](db, store.Sessions),
		services:     store.NewRecords[models.Service](db, store.Services),
	}
}

// GetDB returns the underlying store
func (r *StoreRepository) GetDB() store.DB {
	return r.db
}

// User repository methods

// CreateUserWithAccount registers the user and opens their account in one transaction.
func (r *StoreRepository) CreateUserWithAccount(ctx context.Context, user *models.User, account *models.Account) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.UserID = user.ID
	account.UpdatedAt = time.Now().UTC()

	return r.db.Update(ctx, func(tx store.Tx) error {
		if err := r.users.In(tx).Add(user); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				return ErrEmailTaken
			}
			return err
		}
		return r.accounts.In(tx).Add(account)
	})
}

func (r *StoreRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.users.Get(ctx, email)
}

// Account repository methods
func (r *StoreRepository) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return r.accounts.Get(ctx, accountID)
}

func (r *StoreRepository) GetAccountByUser(ctx context.Context, userID string) (*models.Account, error) {
	accounts, err := r.accounts.GetAllByIndex(ctx, "userId", userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil // Account not found
	}
	return &accounts[0], nil
}

// UpdateAccount writes the account's own fields. The balance belongs to the
// ledger engine and is kept as stored.
func (r *StoreRepository) UpdateAccount(ctx context.Context, account *models.Account) error {
	return r.db.Update(ctx, func(tx store.Tx) error {
		if err := tx.Lock(store.Accounts, account.ID); err != nil {
			return err
		}
		existing, err := r.accounts.In(tx).Get(account.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("account %s: %w", account.ID, store.ErrNotFound)
		}
		account.Balance = existing.Balance
		account.UpdatedAt = time.Now().UTC()
		return r.accounts.In(tx).Put(account)
	})
}

// DeleteAccount removes only the account row; its transactions and
// attachments stay behind as orphans.
func (r *StoreRepository) DeleteAccount(ctx context.Context, accountID string) error {
	return r.accounts.Delete(ctx, accountID)
}

// Transaction repository methods
func (r *StoreRepository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return r.transactions.Get(ctx, id)
}

// GetTransactionsByAccount returns the account's transactions, newest first
func (r *StoreRepository) GetTransactionsByAccount(ctx context.Context, accountID string) ([]models.Transaction, error) {
	txs, err := r.transactions.GetAllByIndex(ctx, "accountId", accountID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Date != txs[j].Date {
			return txs[i].Date > txs[j].Date
		}
		return txs[i].ID < txs[j].ID
	})
	return txs, nil
}

// Goal repository methods
func (r *StoreRepository) CreateGoal(ctx context.Context, goal *models.FinancialGoal) error {
	if goal.ID == "" {
		goal.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	goal.CreatedAt = now
	goal.UpdatedAt = now
	return r.goals.Add(ctx, goal)
}

func (r *StoreRepository) GetGoal(ctx context.Context, id string) (*models.FinancialGoal, error) {
	return r.goals.Get(ctx, id)
}

// GetGoals returns the user's goals ordered by deadline
func (r *StoreRepository) GetGoals(ctx context.Context, userID string) ([]models.FinancialGoal, error) {
	all, err := r.goals.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	goals := make([]models.FinancialGoal, 0, len(all))
	for _, g := range all {
		if g.UserID == userID {
			goals = append(goals, g)
		}
	}
	sort.SliceStable(goals, func(i, j int) bool {
		return goals[i].Deadline < goals[j].Deadline
	})
	return goals, nil
}

func (r *StoreRepository) UpdateGoal(ctx context.Context, goal *models.FinancialGoal) error {
	return r.db.Update(ctx, func(tx store.Tx) error {
		existing, err := r.goals.In(tx).Get(goal.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("goal %s: %w", goal.ID, store.ErrNotFound)
		}
		goal.CreatedAt = existing.CreatedAt
		goal.UpdatedAt = time.Now().UTC()
		return r.goals.In(tx).Put(goal)
	})
}

// AdjustGoalAmount adds delta to the current amount of the user's goal in one
// write transaction. A goal of another user is reported as not found.
func (r *StoreRepository) AdjustGoalAmount(ctx context.Context, id, userID string, delta int64) (*models.FinancialGoal, error) {
	var goal *models.FinancialGoal
	err := r.db.Update(ctx, func(tx store.Tx) error {
		if err := tx.Lock(store.FinancialGoals, id); err != nil {
			return err
		}
		goals := r.goals.In(tx)
		existing, err := goals.Get(id)
		if err != nil {
			return err
		}
		if existing == nil || existing.UserID != userID {
			return fmt.Errorf("goal %s: %w", id, store.ErrNotFound)
		}
		if existing.CurrentAmount+delta < 0 {
			return fmt.Errorf("goal %s: %w", id, ErrGoalNegative)
		}

		existing.CurrentAmount += delta
		existing.UpdatedAt = time.Now().UTC()
		if err := goals.Put(existing); err != nil {
			return err
		}
		goal = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return goal, nil
}

func (r *StoreRepository) DeleteGoal(ctx context.Context, id string) error {
	return r.goals.Delete(ctx, id)
}

// Attachment repository methods

// CreateAttachment stores the attachment. The referenced transaction is not checked.
func (r *StoreRepository) CreateAttachment(ctx context.Context, attachment *models.Attachment) error {
	if attachment.ID == "" {
		attachment.ID = uuid.New().String()
	}
	if attachment.UploadDate.IsZero() {
		attachment.UploadDate = time.Now().UTC()
	}
	attachment.FileSize = int64(len(attachment.File))
	return r.attachments.Add(ctx, attachment)
}

func (r *StoreRepository) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	return r.attachments.Get(ctx, id)
}

func (r *StoreRepository) GetAttachmentsByTransaction(ctx context.Context, transactionID string) ([]models.Attachment, error) {
	attachments, err := r.attachments.GetAllByIndex(ctx, "transactionId", transactionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(attachments, func(i, j int) bool {
		return attachments[i].UploadDate.Before(attachments[j].UploadDate)
	})
	return attachments, nil
}

func (r *StoreRepository) DeleteAttachment(ctx context.Context, id string) error {
	return r.attachments.Delete(ctx, id)
}

// Session repository methods
func (r *StoreRepository) CreateSessionRecord(ctx context.Context, rec *models.SessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		return fmt.Errorf("session expires at %s, before it was created", rec.ExpiresAt.Format(time.RFC3339))
	}
	return r.sessions.Add(ctx, rec)
}

func (r *StoreRepository) GetSessionRecordsByUser(ctx context.Context, userID string) ([]models.SessionRecord, error) {
	return r.sessions.GetAllByIndex(ctx, "userId", userID)
}

func (r *StoreRepository) DeleteSessionRecord(ctx context.Context, id string) error {
	return r.sessions.Delete(ctx, id)
}

// PurgeExpiredSessions deletes every session record with expiresAt <= now
// and returns how many it found. Nothing is written when none has expired.
func (r *StoreRepository) PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	all, err := r.sessions.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	expired := make([]string, 0)
	for _, s := range all {
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, s.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	err = r.db.Update(ctx, func(tx store.Tx) error {
		sessions := r.sessions.In(tx)
		for _, id := range expired {
			if err := sessions.Delete(id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

// Service repository methods
func (r *StoreRepository) GetServices(ctx context.Context) ([]models.Service, error) {
	services, err := r.services.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(services, func(i, j int) bool {
		return services[i].Name < services[j].Name
	})
	return services, nil
}
