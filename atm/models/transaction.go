package models

import "time"

type TransactionType string

const (
	TransactionDeposit        TransactionType = "DEPOSIT"
	TransactionWithdrawal     TransactionType = "WITHDRAWAL"
	TransactionBalanceInquiry TransactionType = "BALANCE_INQUIRY"
)

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID            string          `json:"id"`
	AccountNumber string          `json:"accountNumber"`
	SessionID     string          `json:"sessionId,omitempty"`
	Type          TransactionType `json:"type"`
	Amount        int64           `json:"amount"`
	BalanceAfter  int64           `json:"balanceAfter"`
	CreatedAt     time.Time       `json:"createdAt"`
}
