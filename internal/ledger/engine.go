// Package ledger keeps every account's cached balance equal to the sum of its
// transactions. Each transaction mutation and the recompute it triggers run in
// one store transaction, and mutations on the same account are serialized:
// in process by a keyed mutex, and across processes by a store lock on the
// account taken inside the transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/store"
	"github.com/rongwang/bytebank/internal/utils"
)

// ErrInvalidTransaction is returned for transactions with an unknown type,
// a zero value or a malformed date.
var ErrInvalidTransaction = errors.New("invalid transaction")

// Engine applies transaction mutations and maintains Account.Balance.
type Engine struct {
	db           store.DB
	accounts     store.Records[models.Account]
	transactions store.Records[models.Transaction]
	attachments  store.Records[models.Attachment]
	locks        *keyedMutex
	now          func() time.Time
	log          *utils.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for Account.UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a ledger engine over the store.
func NewEngine(db store.DB, logger *utils.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:           db,
		accounts:     store.NewRecords[models.Account](db, store.Accounts),
		transactions: store.NewRecords[models.Transaction](db, store.Transactions),
		attachments:  store.NewRecords[models.Attachment](db, store.Attachments),
		locks:        newKeyedMutex(),
		now:          func() time.Time { return time.Now().UTC() },
		log:          logger.WithField("component", "ledger"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NormalizeValue applies the sign convention of the transaction type:
// deposits are positive and withdrawals negative.
func NormalizeValue(txType string, value int64) (int64, error) {
	if value == 0 {
		return 0, fmt.Errorf("%w: value must not be zero", ErrInvalidTransaction)
	}
	if value < 0 {
		value = -value
	}
	switch txType {
	case models.TransactionDeposit:
		return value, nil
	case models.TransactionWithdrawal:
		return -value, nil
	default:
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, txType)
	}
}

func validate(t *models.Transaction) error {
	value, err := NormalizeValue(t.Type, t.Value)
	if err != nil {
		return err
	}
	t.Value = value

	if _, err := time.Parse(models.DateLayout, t.Date); err != nil {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidTransaction, t.Date)
	}
	return nil
}

// CreateTransaction inserts the transaction and returns the account with its
// recomputed balance. The account must exist.
func (e *Engine) CreateTransaction(ctx context.Context, t *models.Transaction) (*models.Account, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	unlock := e.locks.Lock(t.AccountID)
	defer unlock()

	var account *models.Account
	err := e.db.Update(ctx, func(tx store.Tx) error {
		if err := tx.Lock(store.Accounts, t.AccountID); err != nil {
			return err
		}
		existing, err := e.accounts.In(tx).Get(t.AccountID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("account %s: %w", t.AccountID, store.ErrNotFound)
		}

		if err := e.transactions.In(tx).Add(t); err != nil {
			return err
		}

		account, err = e.RecomputeTx(tx, t.AccountID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	return account, nil
}

// UpdateTransaction replaces an existing transaction. An empty AccountID keeps
// the current account; moving to another account recomputes both balances.
// The returned account is the one the transaction belongs to afterwards.
func (e *Engine) UpdateTransaction(ctx context.Context, t *models.Transaction) (*models.Account, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	current, err := e.transactions.Get(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("transaction %s: %w", t.ID, store.ErrNotFound)
	}
	if t.AccountID == "" {
		t.AccountID = current.AccountID
	}

	unlock := e.locks.Lock(current.AccountID, t.AccountID)
	defer unlock()

	var account *models.Account
	err = e.db.Update(ctx, func(tx store.Tx) error {
		if err := tx.Lock(store.Accounts, current.AccountID, t.AccountID); err != nil {
			return err
		}
		old, err := e.transactions.In(tx).Get(t.ID)
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("transaction %s: %w", t.ID, store.ErrNotFound)
		}
		if old.AccountID != current.AccountID {
			// moved by another process since the first read
			if err := tx.Lock(store.Accounts, old.AccountID); err != nil {
				return err
			}
		}

		if old.AccountID != t.AccountID {
			target, err := e.accounts.In(tx).Get(t.AccountID)
			if err != nil {
				return err
			}
			if target == nil {
				return fmt.Errorf("account %s: %w", t.AccountID, store.ErrNotFound)
			}
		}

		if err := e.transactions.In(tx).Put(t); err != nil {
			return err
		}

		if old.AccountID != t.AccountID {
			if _, err := e.RecomputeTx(tx, old.AccountID); err != nil {
				return err
			}
		}
		account, err = e.RecomputeTx(tx, t.AccountID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	return account, nil
}

// DeleteTransaction removes the transaction and its attachments. Deleting an
// unknown id is a no-op and returns a nil account.
func (e *Engine) DeleteTransaction(ctx context.Context, id string) (*models.Account, error) {
	current, err := e.transactions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete transaction: %w", err)
	}
	if current == nil {
		return nil, nil
	}

	unlock := e.locks.Lock(current.AccountID)
	defer unlock()

	var account *models.Account
	err = e.db.Update(ctx, func(tx store.Tx) error {
		if err := tx.Lock(store.Accounts, current.AccountID); err != nil {
			return err
		}
		old, err := e.transactions.In(tx).Get(id)
		if err != nil || old == nil {
			return err
		}
		if old.AccountID != current.AccountID {
			if err := tx.Lock(store.Accounts, old.AccountID); err != nil {
				return err
			}
		}

		attachments, err := e.attachments.In(tx).GetAllByIndex("transactionId", id)
		if err != nil {
			return err
		}
		for _, a := range attachments {
			if err := e.attachments.In(tx).Delete(a.ID); err != nil {
				return err
			}
		}

		if err := e.transactions.In(tx).Delete(id); err != nil {
			return err
		}

		account, err = e.RecomputeTx(tx, old.AccountID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete transaction: %w", err)
	}

	return account, nil
}

// Batch runs fn and then recomputes the account balance, all in one
// transaction and under the account's lock.
func (e *Engine) Batch(ctx context.Context, accountID string, fn func(tx store.Tx) error) (*models.Account, error) {
	unlock := e.locks.Lock(accountID)
	defer unlock()

	var account *models.Account
	err := e.db.Update(ctx, func(tx store.Tx) error {
		if err := tx.Lock(store.Accounts, accountID); err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		var err error
		account, err = e.RecomputeTx(tx, accountID)
		return err
	})
	return account, err
}

// Recompute rewrites the account balance from its transactions. A missing
// account yields a nil account and no error.
func (e *Engine) Recompute(ctx context.Context, accountID string) (*models.Account, error) {
	return e.Batch(ctx, accountID, func(store.Tx) error { return nil })
}

// RecomputeAll recomputes every account and returns how many were rewritten.
func (e *Engine) RecomputeAll(ctx context.Context) (int, error) {
	accounts, err := e.accounts.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	for _, a := range accounts {
		if _, err := e.Recompute(ctx, a.ID); err != nil {
			return 0, fmt.Errorf("recompute account %s: %w", a.ID, err)
		}
	}
	return len(accounts), nil
}

// Drift compares the cached balance of an account with its ledger sum.
type Drift struct {
	AccountID string
	Cached    int64
	Computed  int64
}

// Consistent reports whether the cached balance matches the ledger.
func (d Drift) Consistent() bool {
	return d.Cached == d.Computed
}

// Verify reads the account and its ledger in one snapshot without writing.
func (e *Engine) Verify(ctx context.Context, accountID string) (Drift, error) {
	d := Drift{AccountID: accountID}
	err := e.db.View(ctx, func(tx store.Tx) error {
		account, err := e.accounts.In(tx).Get(accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("account %s: %w", accountID, store.ErrNotFound)
		}
		d.Cached = account.Balance

		d.Computed, err = e.sumTx(tx, accountID)
		return err
	})
	return d, err
}

// RecomputeTx runs the recompute inside an open transaction: lock the
// account, sum its transactions, then write balance and updatedAt. The lock
// is held until tx ends, so a writer in another process sums only after this
// transaction commits.
func (e *Engine) RecomputeTx(tx store.Tx, accountID string) (*models.Account, error) {
	if err := tx.Lock(store.Accounts, accountID); err != nil {
		return nil, err
	}
	sum, err := e.sumTx(tx, accountID)
	if err != nil {
		return nil, err
	}

	accounts := e.accounts.In(tx)
	account, err := accounts.Get(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		e.log.Debug("skipping balance for missing account %s", accountID)
		return nil, nil
	}

	account.Balance = sum
	account.UpdatedAt = e.now()
	if err := accounts.Put(account); err != nil {
		return nil, err
	}

	e.log.Debug("account %s balance recomputed to %d", accountID, sum)
	return account, nil
}

func (e *Engine) sumTx(tx store.Tx, accountID string) (int64, error) {
	txs, err := e.transactions.In(tx).GetAllByIndex("accountId", accountID)
	if err != nil {
		return 0, err
	}

	var sum int64
	for _, t := range txs {
		sum += t.Value
	}
	return sum, nil
}
