package models

import (
	"time"
)

// Transaction types. Deposits carry a positive value, withdrawals a negative one.
const (
	TransactionDeposit    = "Depósito"
	TransactionWithdrawal = "Saque"
)

// DateLayout is the ISO date format of Transaction.Date and FinancialGoal.Deadline.
const DateLayout = "2006-01-02"

// User represents a registered user; email is the primary key
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"` // bcrypt hash
}

// Account holds the cached balance of a user's ledger, in minor units
type Account struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Name           string    `json:"name"`
	Balance        int64     `json:"balance"`
	BalanceVisible bool      `json:"balanceVisible"`
	Type           string    `json:"type"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Transaction is one ledger entry
type Transaction struct {
	ID          string `json:"id"`
	AccountID   string `json:"accountId"`
	Type        string `json:"type"`
	Value       int64  `json:"value"`
	Date        string `json:"date"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
}

// FinancialGoal tracks savings toward a target amount
type FinancialGoal struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId,omitempty"`
	Title         string    `json:"title"`
	TargetAmount  int64     `json:"targetAmount"`
	CurrentAmount int64     `json:"currentAmount"`
	Deadline      string    `json:"deadline"`
	Category      string    `json:"category"`
	Color         string    `json:"color"`
	Icon          string    `json:"icon"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Attachment is a file attached to a transaction
type Attachment struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	FileName      string    `json:"fileName"`
	FileType      string    `json:"fileType"`
	FileSize      int64     `json:"fileSize"`
	UploadDate    time.Time `json:"uploadDate"`
	File          []byte    `json:"file"`
	Description   string    `json:"description,omitempty"`
}

// SessionRecord is the bookkeeping row for an issued session token
type SessionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service is an entry of the dashboard's services menu
type Service struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}
