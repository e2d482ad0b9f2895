package models

import (
	"fmt"
	"regexp"
	"strings"
)

// RequestType is the operation requested at the ATM.
type RequestType string

const (
	RequestCheckBalance RequestType = "CHECK_BALANCE"
	RequestDeposit      RequestType = "DEPOSIT"
	RequestWithdraw     RequestType = "WITHDRAW"
)

func (t RequestType) Valid() bool {
	switch t {
	case RequestCheckBalance, RequestDeposit, RequestWithdraw:
		return true
	}
	return false
}

type ErrorCode string

const (
	ErrorCodeInvalidPIN      ErrorCode = "INVALID_PIN"
	ErrorCodeCardBlocked     ErrorCode = "CARD_BLOCKED"
	ErrorCodeAccountNotFound ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrorCodeInvalidAmount   ErrorCode = "INVALID_AMOUNT"
	ErrorCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrorCodeInvalidState    ErrorCode = "INVALID_STATE"
	ErrorCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// TransactionRequest is a one-shot ATM request: card, PIN, account and operation.
type TransactionRequest struct {
	CardNumber      string      `json:"cardNumber"`
	PIN             string      `json:"pin"`
	AccountNumber   string      `json:"accountNumber"`
	TransactionType RequestType `json:"transactionType"`
	Amount          *int64      `json:"amount,omitempty"`
}

var (
	cardNumberPattern = regexp.MustCompile(`^[0-9]{16}$`)
	pinPattern        = regexp.MustCompile(`^[0-9]{4,6}$`)
)

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range []string{"cardNumber", "pin", "accountNumber", "transactionType", "amount"} {
		if msg, ok := e.Fields[f]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", f, msg))
		}
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (r *TransactionRequest) Validate() error {
	fields := map[string]string{}

	switch {
	case strings.TrimSpace(r.CardNumber) == "":
		fields["cardNumber"] = "Card number is required"
	case !cardNumberPattern.MatchString(r.CardNumber):
		fields["cardNumber"] = "Card number must be 16 digits"
	}

	switch {
	case r.PIN == "":
		fields["pin"] = "PIN is required"
	case !pinPattern.MatchString(r.PIN):
		fields["pin"] = "PIN must be 4-6 digits"
	}

	if strings.TrimSpace(r.AccountNumber) == "" {
		fields["accountNumber"] = "Account number is required"
	}

	switch {
	case r.TransactionType == "":
		fields["transactionType"] = "Transaction type is required"
	case !r.TransactionType.Valid():
		fields["transactionType"] = fmt.Sprintf("Unknown transaction type %q", r.TransactionType)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// TransactionResult is the outcome of a one-shot request. Optional fields are
// nil when they do not apply to the operation or the failure.
type TransactionResult struct {
	Success           bool        `json:"success"`
	Message           string      `json:"message"`
	TransactionType   RequestType `json:"transactionType"`
	AccountNumber     string      `json:"accountNumber,omitempty"`
	AccountType       AccountType `json:"accountType,omitempty"`
	Balance           *int64      `json:"balance,omitempty"`
	PreviousBalance   *int64      `json:"previousBalance,omitempty"`
	TransactionAmount *int64      `json:"transactionAmount,omitempty"`
	NewBalance        *int64      `json:"newBalance,omitempty"`
	RemainingAttempts *int        `json:"remainingAttempts,omitempty"`
	// SessionID is set only when the session is left open for a PIN retry
	// through the session endpoints.
	SessionID         string      `json:"sessionId,omitempty"`
	ErrorCode         ErrorCode   `json:"errorCode,omitempty"`
	ErrorDetails      string      `json:"errorDetails,omitempty"`
}

// PinVerification is the result of a PIN check. A wrong PIN is a result, not an error.
type PinVerification struct {
	Verified          bool       `json:"verified"`
	RemainingAttempts int        `json:"remainingAttempts"`
	CardBlocked       bool       `json:"cardBlocked"`
	Accounts          []*Account `json:"accounts,omitempty"`
}

// BalanceChange is the outcome of a deposit or withdrawal.
type BalanceChange struct {
	AccountNumber   string `json:"accountNumber"`
	PreviousBalance int64  `json:"previousBalance"`
	Amount          int64  `json:"amount"`
	NewBalance      int64  `json:"newBalance"`
	TransactionID   string `json:"transactionId"`
}

// BalanceInquiry is the outcome of a balance check.
type BalanceInquiry struct {
	AccountNumber string `json:"accountNumber"`
	Balance       int64  `json:"balance"`
	TransactionID string `json:"transactionId"`
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
