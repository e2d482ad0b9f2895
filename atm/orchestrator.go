package atm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/cardnum"
	"github.com/jonanatree/cyberbank-atm/internal/metrics"
)

// TransactionService runs a complete ATM transaction for one request:
// insert card, verify PIN, select account, execute, close.
type TransactionService struct {
	sessions *SessionManager
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func NewTransactionService(sessions *SessionManager, logger *slog.Logger, collector *metrics.Collector) *TransactionService {
	return &TransactionService{
		sessions: sessions,
		metrics:  collector,
		logger:   logger.With(slog.String("component", "transaction")),
	}
}

// ProcessTransaction never returns a bare error; every failure is encoded in
// the result's ErrorCode.
func (s *TransactionService) ProcessTransaction(ctx context.Context, req models.TransactionRequest) *models.TransactionResult {
	start := time.Now()
	res := s.process(ctx, req)

	code := "OK"
	if !res.Success {
		code = string(res.ErrorCode)
	}
	s.metrics.RecordTransaction(string(res.TransactionType), code, time.Since(start))
	return res
}

func (s *TransactionService) process(ctx context.Context, req models.TransactionRequest) *models.TransactionResult {
	txType := req.TransactionType
	if !txType.Valid() {
		txType = "UNKNOWN"
	}

	if err := req.Validate(); err != nil {
		return &models.TransactionResult{
			Message:         "Validation failed: " + strings.TrimPrefix(err.Error(), "invalid request: "),
			TransactionType: txType,
			ErrorCode:       models.ErrorCodeBadRequest,
			ErrorDetails:    err.Error(),
		}
	}

	logger := s.logger.With(
		slog.String("card", cardnum.Mask(req.CardNumber)),
		slog.String("type", string(req.TransactionType)),
	)

	session, err := s.sessions.InsertCard(ctx, req.CardNumber)
	if err != nil {
		return s.failure(ctx, logger, req, "", err)
	}
	sessionID := session.ID
	logger = logger.With(slog.String("session", sessionID))

	pin, err := s.sessions.VerifyPin(ctx, sessionID, req.PIN)
	if err != nil {
		return s.failure(ctx, logger, req, sessionID, err)
	}
	if !pin.Verified {
		// the session stays open for a retry unless the card got blocked
		res := &models.TransactionResult{
			TransactionType:   req.TransactionType,
			RemainingAttempts: &pin.RemainingAttempts,
			ErrorDetails:      "PIN verification failed",
		}
		if pin.CardBlocked {
			res.Message = "Card has been blocked"
			res.ErrorCode = models.ErrorCodeCardBlocked
		} else {
			res.Message = fmt.Sprintf("Invalid PIN. %d attempts remaining", pin.RemainingAttempts)
			res.ErrorCode = models.ErrorCodeInvalidPIN
			res.SessionID = sessionID
		}
		return res
	}

	account := models.FindAccount(pin.Accounts, req.AccountNumber)
	if account == nil {
		s.closeQuietly(ctx, logger, sessionID)
		return &models.TransactionResult{
			Message: fmt.Sprintf("Account %s not found. Available accounts: %s",
				req.AccountNumber, strings.Join(models.AccountNumbers(pin.Accounts), ", ")),
			TransactionType: req.TransactionType,
			ErrorCode:       models.ErrorCodeAccountNotFound,
			ErrorDetails:    "The specified account does not exist for this card",
		}
	}

	if _, err := s.sessions.SelectAccount(ctx, sessionID, account.Number); err != nil {
		return s.failure(ctx, logger, req, sessionID, err)
	}

	res := &models.TransactionResult{
		Success:         true,
		TransactionType: req.TransactionType,
		AccountNumber:   account.Number,
		AccountType:     account.Type,
	}

	switch req.TransactionType {
	case models.RequestCheckBalance:
		inquiry, err := s.sessions.CheckBalance(ctx, sessionID)
		if err != nil {
			return s.failure(ctx, logger, req, sessionID, err)
		}
		res.Message = "Balance inquiry successful"
		res.Balance = models.Int64(inquiry.Balance)

	case models.RequestDeposit, models.RequestWithdraw:
		label := "Deposit"
		if req.TransactionType == models.RequestWithdraw {
			label = "Withdrawal"
		}
		if req.Amount == nil || *req.Amount <= 0 {
			s.closeQuietly(ctx, logger, sessionID)
			return &models.TransactionResult{
				Message:         label + " amount is required and must be positive",
				TransactionType: req.TransactionType,
				ErrorCode:       models.ErrorCodeInvalidAmount,
				ErrorDetails:    "Amount must be greater than 0",
			}
		}

		var change *models.BalanceChange
		if req.TransactionType == models.RequestDeposit {
			change, err = s.sessions.Deposit(ctx, sessionID, *req.Amount)
		} else {
			change, err = s.sessions.Withdraw(ctx, sessionID, *req.Amount)
		}
		if err != nil {
			return s.failure(ctx, logger, req, sessionID, err)
		}
		res.Message = label + " successful"
		res.PreviousBalance = models.Int64(change.PreviousBalance)
		res.TransactionAmount = models.Int64(change.Amount)
		res.NewBalance = models.Int64(change.NewBalance)
	}

	if _, err := s.sessions.EndSession(ctx, sessionID); err != nil {
		return s.failure(ctx, logger, req, sessionID, err)
	}

	logger.Info("transaction completed", slog.String("account", account.Number))
	return res
}

// failure closes the session when there is one and maps err to a result.
func (s *TransactionService) failure(ctx context.Context, logger *slog.Logger, req models.TransactionRequest, sessionID string, err error) *models.TransactionResult {
	if sessionID != "" {
		s.closeQuietly(ctx, logger, sessionID)
	}

	code := ErrorCode(err)
	res := &models.TransactionResult{
		Message:         err.Error(),
		TransactionType: req.TransactionType,
		ErrorCode:       code,
		ErrorDetails:    err.Error(),
	}

	var amountErr *AmountError
	var limitErr *DailyLimitError
	var fundsErr *InsufficientFundsError
	switch {
	case errors.As(err, &limitErr):
		res.ErrorDetails = fmt.Sprintf("Daily limit %d, already used %d", limitErr.Limit, limitErr.Total)
	case errors.As(err, &amountErr):
		res.ErrorDetails = amountErr.Reason
	case errors.As(err, &fundsErr):
		res.ErrorDetails = fmt.Sprintf("Shortfall %d", fundsErr.Shortfall())
	}

	if code == models.ErrorCodeInternal {
		res.Message = "Transaction failed: " + err.Error()
		logger.Error("transaction failed", slog.Any("err", err))
	} else {
		logger.Info("transaction rejected", slog.String("code", string(code)), slog.String("reason", err.Error()))
	}
	return res
}

// closeQuietly ends a session on a failure path. Errors are logged so they never
// replace the original failure.
func (s *TransactionService) closeQuietly(ctx context.Context, logger *slog.Logger, sessionID string) {
	if _, err := s.sessions.EndSession(ctx, sessionID); err != nil {
		logger.Warn("closing session after failure", slog.Any("err", err))
	}
}
