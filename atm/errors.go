package atm

import (
	"errors"
	"fmt"

	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/cardnum"
)

// Store level errors.
var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
)

// Domain errors. Typed errors below unwrap to one of these.
var (
	ErrCardNotFound       = errors.New("card not found")
	ErrCardBlocked        = errors.New("card is blocked")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidState       = errors.New("invalid session state")
	ErrInvalidAccount     = errors.New("account does not belong to card")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrDailyLimitExceeded = fmt.Errorf("daily limit exceeded: %w", ErrInvalidAmount)
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

type CardError struct {
	CardNumber string
	Err        error
}

func (e *CardError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, cardnum.Mask(e.CardNumber))
}

func (e *CardError) Unwrap() error { return e.Err }

type AccountError struct {
	AccountNumber string
	Err           error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.AccountNumber)
}

func (e *AccountError) Unwrap() error { return e.Err }

// StateError is returned when an operation runs in the wrong session status.
type StateError struct {
	SessionID string
	Current   models.SessionStatus
	Expected  models.SessionStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: session %s is %s, expected %s", ErrInvalidState, e.SessionID, e.Current, e.Expected)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// AmountError describes an amount outside the configured bounds. Max is 0 when
// the lower bound was violated.
type AmountError struct {
	Amount int64
	Min    int64
	Max    int64
	Reason string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidAmount, e.Reason)
}

func (e *AmountError) Unwrap() error { return ErrInvalidAmount }

type DailyLimitError struct {
	AccountNumber string
	Limit         int64
	Total         int64
	Amount        int64
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily limit exceeded for account %s: limit %d, used today %d, requested %d",
		e.AccountNumber, e.Limit, e.Total, e.Amount)
}

func (e *DailyLimitError) Unwrap() error { return ErrDailyLimitExceeded }

type InsufficientFundsError struct {
	AccountNumber string
	Requested     int64
	Available     int64
}

func (e *InsufficientFundsError) Shortfall() int64 {
	return e.Requested - e.Available
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in account %s: requested %d, available %d, short by %d",
		e.AccountNumber, e.Requested, e.Available, e.Shortfall())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ErrorCode maps an error to the result code vocabulary.
func ErrorCode(err error) models.ErrorCode {
	var verr *models.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return models.ErrorCodeBadRequest
	case errors.Is(err, ErrCardBlocked):
		return models.ErrorCodeCardBlocked
	case errors.Is(err, ErrCardNotFound), errors.Is(err, ErrSessionNotFound):
		return models.ErrorCodeBadRequest
	case errors.Is(err, ErrInvalidAccount), errors.Is(err, ErrAccountNotFound):
		return models.ErrorCodeAccountNotFound
	case errors.Is(err, ErrInvalidAmount):
		return models.ErrorCodeInvalidAmount
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInsufficientFunds):
		return models.ErrorCodeInvalidState
	}
	return models.ErrorCodeInternal
}
