package models

// Request models
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email"`
	Password string `json:"password" form:"password" binding:"required"`
}

type TransactionRequest struct {
	Type        string `json:"type" binding:"required,oneof=Depósito Saque"`
	Value       int64  `json:"value" binding:"required"`
	Date        string `json:"date" binding:"required"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type BalanceVisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

type GoalRequest struct {
	Title         string `json:"title" binding:"required"`
	TargetAmount  int64  `json:"targetAmount" binding:"required,gt=0"`
	CurrentAmount int64  `json:"currentAmount" binding:"gte=0"`
	Deadline      string `json:"deadline" binding:"required"`
	Category      string `json:"category" binding:"required"`
	Color         string `json:"color"`
	Icon          string `json:"icon"`
}

type GoalContributionRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

type AttachmentRequest struct {
	FileName    string `json:"fileName" binding:"required"`
	FileType    string `json:"fileType" binding:"required"`
	File        []byte `json:"file" binding:"required"`
	Description string `json:"description"`
}

// Response models
type AuthResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

type AccountResponse struct {
	Status           string `json:"status"`
	AccountID        string `json:"accountId"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Balance          *int64 `json:"balance,omitempty"`
	BalanceFormatted string `json:"balanceFormatted,omitempty"`
	BalanceVisible   bool   `json:"balanceVisible"`
	UpdatedAt        string `json:"updatedAt"`
}

type TransactionResponse struct {
	Status      string       `json:"status"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Balance     int64        `json:"balance"`
}

type TransactionListResponse struct {
	Status       string        `json:"status"`
	AccountID    string        `json:"accountId"`
	Transactions []Transaction `json:"transactions"`
}

type GoalResponse struct {
	Status string         `json:"status"`
	Goal   *FinancialGoal `json:"goal"`
}

type GoalListResponse struct {
	Status string          `json:"status"`
	Goals  []FinancialGoal `json:"goals"`
}

// AttachmentInfo is an attachment without its file contents
type AttachmentInfo struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	FileName      string `json:"fileName"`
	FileType      string `json:"fileType"`
	FileSize      int64  `json:"fileSize"`
	UploadDate    string `json:"uploadDate"`
	Description   string `json:"description,omitempty"`
}

type AttachmentListResponse struct {
	Status      string           `json:"status"`
	Attachments []AttachmentInfo `json:"attachments"`
}

type ServiceListResponse struct {
	Status   string    `json:"status"`
	Services []Service `json:"services"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
