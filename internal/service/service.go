package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rongwang/bytebank/internal/analytics"
	"github.com/rongwang/bytebank/internal/ledger"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/repository"
	"github.com/rongwang/bytebank/internal/seed"
	"github.com/rongwang/bytebank/internal/session"
	"github.com/rongwang/bytebank/internal/store"
	"github.com/rongwang/bytebank/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = repository.ErrEmailTaken
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
)

// DefaultAccountType is the type given to the account opened at sign up.
const DefaultAccountType = "Conta Corrente"

// Sessions is the session manager of the application serving the request.
type Sessions interface {
	Create(ctx context.Context, jar session.CookieJar, email, userID string, duration time.Duration) (*session.Session, error)
	Get(ctx context.Context, jar session.CookieJar) *session.Session
	Clear(ctx context.Context, jar session.CookieJar)
}

// Service defines all the business logic operations
type Service interface {
	// Authentication
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, sessions Sessions, jar session.CookieJar, req models.LoginRequest) (*models.AuthResponse, error)
	Logout(ctx context.Context, sessions Sessions, jar session.CookieJar)

	// Account
	GetAccount(ctx context.Context, userID string) (*models.AccountResponse, error)
	SetBalanceVisibility(ctx context.Context, userID string, visible bool) (*models.AccountResponse, error)
	DeleteAccount(ctx context.Context, userID string) error

	// Transactions
	ListTransactions(ctx context.Context, userID string) (*models.TransactionListResponse, error)
	CreateTransaction(ctx context.Context, userID string, req models.TransactionRequest) (*models.TransactionResponse, error)
	UpdateTransaction(ctx context.Context, userID, transactionID string, req models.TransactionRequest) (*models.TransactionResponse, error)
	DeleteTransaction(ctx context.Context, userID, transactionID string) (*models.TransactionResponse, error)
	PopulateDemoData(ctx context.Context, userID string) (int, error)

	// Goals
	ListGoals(ctx context.Context, userID string) (*models.GoalListResponse, error)
	CreateGoal(ctx context.Context, userID string, req models.GoalRequest) (*models.GoalResponse, error)
	UpdateGoal(ctx context.Context, userID, goalID string, req models.GoalRequest) (*models.GoalResponse, error)
	ContributeToGoal(ctx context.Context, userID, goalID string, amount int64) (*models.GoalResponse, error)
	DeleteGoal(ctx context.Context, userID, goalID string) error

	// Attachments
	AddAttachment(ctx context.Context, userID, transactionID string, req models.AttachmentRequest) (*models.AttachmentInfo, error)
	ListAttachments(ctx context.Context, userID, transactionID string) (*models.AttachmentListResponse, error)
	GetAttachment(ctx context.Context, userID, attachmentID string) (*models.Attachment, error)
	DeleteAttachment(ctx context.Context, userID, attachmentID string) error

	// Services and analytics
	ListServices(ctx context.Context) (*models.ServiceListResponse, error)
	GetAnalytics(ctx context.Context, userID string) (*analytics.Summary, error)
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo            repository.Repository
	engine          *ledger.Engine
	generator       *seed.Generator
	sessionDuration time.Duration
	now             func() time.Time
	log             *utils.Logger
}

var _ Service = (*DefaultService)(nil)

// NewDefaultService creates a new DefaultService. A nil generator disables
// seeding new accounts.
func NewDefaultService(repo repository.Repository, engine *ledger.Engine, generator *seed.Generator, sessionDuration time.Duration, logger *utils.Logger) *DefaultService {
	return &DefaultService{
		repo:            repo,
		engine:          engine,
		generator:       generator,
		sessionDuration: sessionDuration,
		now:             func() time.Time { return time.Now().UTC() },
		log:             logger.WithField("component", "service"),
	}
}

// Authentication methods
func (s *DefaultService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		Email:    email,
		Name:     req.Name,
		Password: string(hashedPassword),
	}
	account := &models.Account{
		Name:           req.Name,
		Type:           DefaultAccountType,
		BalanceVisible: true,
	}

	if err := s.repo.CreateUserWithAccount(ctx, user, account); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	s.log.WithField("user", user.ID).Info("registered %s", email)

	if s.generator != nil {
		if _, err := s.generator.Populate(ctx, account.ID); err != nil {
			s.log.WithField("account", account.ID).Warn("seeding new account: %v", err)
		}
	}

	return &models.AuthResponse{
		Status: "success",
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}, nil
}

func (s *DefaultService) Login(ctx context.Context, sessions Sessions, jar session.CookieJar, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	if user == nil {
		return nil, ErrInvalidCredentials
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	sess, err := sessions.Create(ctx, jar, user.Email, user.ID, s.sessionDuration)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &models.AuthResponse{
		Status:    "success",
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
	}, nil
}

func (s *DefaultService) Logout(ctx context.Context, sessions Sessions, jar session.CookieJar) {
	sessions.Clear(ctx, jar)
}

// Account methods
func (s *DefaultService) GetAccount(ctx context.Context, userID string) (*models.AccountResponse, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return accountResponse(account), nil
}

func (s *DefaultService) SetBalanceVisibility(ctx context.Context, userID string, visible bool) (*models.AccountResponse, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}

	account.BalanceVisible = visible
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("error updating account: %w", err)
	}
	return accountResponse(account), nil
}

// DeleteAccount removes the account row only. Its transactions remain and
// no longer count toward any balance.
func (s *DefaultService) DeleteAccount(ctx context.Context, userID string) error {
	account, err := s.account(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteAccount(ctx, account.ID); err != nil {
		return fmt.Errorf("error deleting account: %w", err)
	}
	s.log.WithField("account", account.ID).Info("account deleted")
	return nil
}

// Transaction methods
func (s *DefaultService) ListTransactions(ctx context.Context, userID string) (*models.TransactionListResponse, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}

	txs, err := s.repo.GetTransactionsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("error getting transactions: %w", err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}

	return &models.TransactionListResponse{
		Status:       "success",
		AccountID:    account.ID,
		Transactions: txs,
	}, nil
}

func (s *DefaultService) CreateTransaction(ctx context.Context, userID string, req models.TransactionRequest) (*models.TransactionResponse, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}

	t := transactionFromRequest(req)
	t.AccountID = account.ID

	updated, err := s.engine.CreateTransaction(ctx, t)
	if err != nil {
		return nil, ledgerError(err)
	}

	return &models.TransactionResponse{Status: "success", Transaction: t, Balance: updated.Balance}, nil
}

func (s *DefaultService) UpdateTransaction(ctx context.Context, userID, transactionID string, req models.TransactionRequest) (*models.TransactionResponse, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedTransaction(ctx, account, transactionID); err != nil {
		return nil, err
	}

	t := transactionFromRequest(req)
	t.ID = transactionID
	t.AccountID = account.ID

	updated, err := s.engine.UpdateTransaction(ctx, t)
	if err != nil {
		return nil, ledgerError(err)
	}

	return &models.TransactionResponse{Status: "success", Transaction: t, Balance: updated.Balance}, nil
}

func (s *DefaultService) DeleteTransaction(ctx context.Context, userID, transactionID string) (*models.TransactionResponse, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedTransaction(ctx, account, transactionID); err != nil {
		return nil, err
	}

	updated, err := s.engine.DeleteTransaction(ctx, transactionID)
	if err != nil {
		return nil, ledgerError(err)
	}

	balance := account.Balance
	if updated != nil {
		balance = updated.Balance
	}
	return &models.TransactionResponse{Status: "success", Balance: balance}, nil
}

// PopulateDemoData fills the user's account with sample history if it has none.
func (s *DefaultService) PopulateDemoData(ctx context.Context, userID string) (int, error) {
	if s.generator == nil {
		return 0, fmt.Errorf("%w: demo data is disabled", ErrValidation)
	}
	account, err := s.account(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.generator.Populate(ctx, account.ID)
}

// Goal methods
func (s *DefaultService) ListGoals(ctx context.Context, userID string) (*models.GoalListResponse, error) {
	goals, err := s.repo.GetGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting goals: %w", err)
	}
	return &models.GoalListResponse{Status: "success", Goals: goals}, nil
}

func (s *DefaultService) CreateGoal(ctx context.Context, userID string, req models.GoalRequest) (*models.GoalResponse, error) {
	if err := validateGoal(req); err != nil {
		return nil, err
	}

	goal := goalFromRequest(req)
	goal.UserID = userID
	if err := s.repo.CreateGoal(ctx, goal); err != nil {
		return nil, fmt.Errorf("error creating goal: %w", err)
	}
	return &models.GoalResponse{Status: "success", Goal: goal}, nil
}

func (s *DefaultService) UpdateGoal(ctx context.Context, userID, goalID string, req models.GoalRequest) (*models.GoalResponse, error) {
	if err := validateGoal(req); err != nil {
		return nil, err
	}
	if _, err := s.ownedGoal(ctx, userID, goalID); err != nil {
		return nil, err
	}

	goal := goalFromRequest(req)
	goal.ID = goalID
	goal.UserID = userID
	if err := s.repo.UpdateGoal(ctx, goal); err != nil {
		return nil, fmt.Errorf("error updating goal: %w", err)
	}
	return &models.GoalResponse{Status: "success", Goal: goal}, nil
}

// ContributeToGoal adds amount, which may be negative, to the goal's
// current amount. The result cannot drop below zero.
func (s *DefaultService) ContributeToGoal(ctx context.Context, userID, goalID string, amount int64) (*models.GoalResponse, error) {
	goal, err := s.repo.AdjustGoalAmount(ctx, goalID, userID, amount)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	case errors.Is(err, repository.ErrGoalNegative):
		return nil, fmt.Errorf("%w: contribution would make the goal negative", ErrValidation)
	case err != nil:
		return nil, fmt.Errorf("error updating goal: %w", err)
	}
	return &models.GoalResponse{Status: "success", Goal: goal}, nil
}

func (s *DefaultService) DeleteGoal(ctx context.Context, userID, goalID string) error {
	if _, err := s.ownedGoal(ctx, userID, goalID); err != nil {
		return err
	}
	if err := s.repo.DeleteGoal(ctx, goalID); err != nil {
		return fmt.Errorf("error deleting goal: %w", err)
	}
	return nil
}

// Attachment methods
func (s *DefaultService) AddAttachment(ctx context.Context, userID, transactionID string, req models.AttachmentRequest) (*models.AttachmentInfo, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedTransaction(ctx, account, transactionID); err != nil {
		return nil, err
	}

	attachment := &models.Attachment{
		TransactionID: transactionID,
		FileName:      req.FileName,
		FileType:      req.FileType,
		File:          req.File,
		Description:   req.Description,
		UploadDate:    s.now(),
	}
	if err := s.repo.CreateAttachment(ctx, attachment); err != nil {
		return nil, fmt.Errorf("error creating attachment: %w", err)
	}
	info := attachmentInfo(attachment)
	return &info, nil
}

func (s *DefaultService) ListAttachments(ctx context.Context, userID, transactionID string) (*models.AttachmentListResponse, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedTransaction(ctx, account, transactionID); err != nil {
		return nil, err
	}

	attachments, err := s.repo.GetAttachmentsByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("error getting attachments: %w", err)
	}

	infos := make([]models.AttachmentInfo, 0, len(attachments))
	for i := range attachments {
		infos = append(infos, attachmentInfo(&attachments[i]))
	}
	return &models.AttachmentListResponse{Status: "success", Attachments: infos}, nil
}

func (s *DefaultService) GetAttachment(ctx context.Context, userID, attachmentID string) (*models.Attachment, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}

	attachment, err := s.repo.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("error getting attachment: %w", err)
	}
	if attachment == nil {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	if _, err := s.ownedTransaction(ctx, account, attachment.TransactionID); err != nil {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	return attachment, nil
}

func (s *DefaultService) DeleteAttachment(ctx context.Context, userID, attachmentID string) error {
	if _, err := s.GetAttachment(ctx, userID, attachmentID); err != nil {
		return err
	}
	if err := s.repo.DeleteAttachment(ctx, attachmentID); err != nil {
		return fmt.Errorf("error deleting attachment: %w", err)
	}
	return nil
}

// Services and analytics
func (s *DefaultService) ListServices(ctx context.Context) (*models.ServiceListResponse, error) {
	services, err := s.repo.GetServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting services: %w", err)
	}
	if services == nil {
		services = []models.Service{}
	}
	return &models.ServiceListResponse{Status: "success", Services: services}, nil
}

func (s *DefaultService) GetAnalytics(ctx context.Context, userID string) (*analytics.Summary, error) {
	account, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}

	txs, err := s.repo.GetTransactionsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("error getting transactions: %w", err)
	}
	goals, err := s.repo.GetGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting goals: %w", err)
	}

	summary := analytics.Summarize(txs, goals, s.now())
	return &summary, nil
}

// Helper methods
func (s *DefaultService) account(ctx context.Context, userID string) (*models.Account, error) {
	account, err := s.repo.GetAccountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("account for user %s: %w", userID, ErrNotFound)
	}
	return account, nil
}

func (s *DefaultService) ownedTransaction(ctx context.Context, account *models.Account, id string) (*models.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting transaction: %w", err)
	}
	if t == nil || t.AccountID != account.ID {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *DefaultService) ownedGoal(ctx context.Context, userID, id string) (*models.FinancialGoal, error) {
	goal, err := s.repo.GetGoal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting goal: %w", err)
	}
	if goal == nil || goal.UserID != userID {
		return nil, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return goal, nil
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidTransaction):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return err
	}
}

func validateGoal(req models.GoalRequest) error {
	if req.TargetAmount <= 0 {
		return fmt.Errorf("%w: targetAmount must be positive", ErrValidation)
	}
	if req.CurrentAmount < 0 {
		return fmt.Errorf("%w: currentAmount must not be negative", ErrValidation)
	}
	if _, err := time.Parse(models.DateLayout, req.Deadline); err != nil {
		return fmt.Errorf("%w: deadline %q is not YYYY-MM-DD", ErrValidation, req.Deadline)
	}
	return nil
}

func transactionFromRequest(req models.TransactionRequest) *models.Transaction {
	return &models.Transaction{
		Type:        req.Type,
		Value:       req.Value,
		Date:        req.Date,
		Category:    req.Category,
		Description: req.Description,
	}
}

func goalFromRequest(req models.GoalRequest) *models.FinancialGoal {
	return &models.FinancialGoal{
		Title:         req.Title,
		TargetAmount:  req.TargetAmount,
		CurrentAmount: req.CurrentAmount,
		Deadline:      req.Deadline,
		Category:      req.Category,
		Color:         req.Color,
		Icon:          req.Icon,
	}
}

func accountResponse(a *models.Account) *models.AccountResponse {
	resp := &models.AccountResponse{
		Status:         "success",
		AccountID:      a.ID,
		Name:           a.Name,
		Type:           a.Type,
		BalanceVisible: a.BalanceVisible,
		UpdatedAt:      a.UpdatedAt.Format(time.RFC3339),
	}
	// hidden balances are not sent at all
	if a.BalanceVisible {
		balance := a.Balance
		resp.Balance = &balance
		resp.BalanceFormatted = analytics.FormatBRL(balance)
	}
	return resp
}

func attachmentInfo(a *models.Attachment) models.AttachmentInfo {
	return models.AttachmentInfo{
		ID:            a.ID,
		TransactionID: a.TransactionID,
		FileName:      a.FileName,
		FileType:      a.FileType,
		FileSize:      a.FileSize,
		UploadDate:    a.UploadDate.Format(time.RFC3339),
		Description:   a.Description,
	}
}
