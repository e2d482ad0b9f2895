package atm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/calendar"
	"github.com/jonanatree/cyberbank-atm/internal/cardnum"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

// Bank is the gateway to cards and accounts. It owns PIN validation, amount
// limits and balance mutation.
type Bank struct {
	ledger Ledger
	pins   security.PINVerifier
	limits Limits
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

func NewBank(ledger Ledger, pins security.PINVerifier, limits Limits, loc *time.Location, logger *slog.Logger) *Bank {
	if loc == nil {
		loc = calendar.DefaultLocation()
	}
	return &Bank{
		ledger: ledger,
		pins:   pins,
		limits: limits,
		loc:    loc,
		now:    time.Now,
		logger: logger.With(slog.String("component", "bank")),
	}
}

// WithClock replaces the clock used for daily totals.
func (b *Bank) WithClock(now func() time.Time) *Bank {
	b.now = now
	return b
}

func (b *Bank) Card(ctx context.Context, cardNumber string) (*models.Card, error) {
	card, err := b.ledger.FindCardByNumber(ctx, cardNumber)
	if errors.Is(err, ErrNotFound) {
		return nil, &CardError{CardNumber: cardNumber, Err: ErrCardNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("getting card: %w", err)
	}
	return card, nil
}

func (b *Bank) activeCard(ctx context.Context, cardNumber string) (*models.Card, error) {
	card, err := b.Card(ctx, cardNumber)
	if err != nil {
		return nil, err
	}
	if !card.Active {
		return nil, &CardError{CardNumber: cardNumber, Err: ErrCardBlocked}
	}
	return card, nil
}

// ValidatePin checks pin against the card's stored verification value.
// A malformed PIN is treated as a mismatch.
func (b *Bank) ValidatePin(ctx context.Context, cardNumber, pin string) (bool, error) {
	card, err := b.activeCard(ctx, cardNumber)
	if err != nil {
		return false, err
	}
	if security.ValidatePINFormat(pin) != nil {
		return false, nil
	}
	ok, err := b.pins.Verify(cardNumber, pin, card.PINHash)
	if err != nil {
		return false, fmt.Errorf("validating pin: %w", err)
	}
	if !ok {
		b.logger.Warn("invalid pin attempt", slog.String("card", cardnum.Mask(cardNumber)))
	}
	return ok, nil
}

// Accounts returns every account owned by an active card.
func (b *Bank) Accounts(ctx context.Context, cardNumber string) ([]*models.Account, error) {
	if _, err := b.activeCard(ctx, cardNumber); err != nil {
		return nil, err
	}
	accounts, err := b.ledger.FindAccountsByCard(ctx, cardNumber)
	if err != nil {
		return nil, fmt.Errorf("getting accounts: %w", err)
	}
	return accounts, nil
}

func (b *Bank) Account(ctx context.Context, accountNumber string) (*models.Account, error) {
	account, err := b.ledger.FindAccountByNumber(ctx, accountNumber)
	if errors.Is(err, ErrNotFound) {
		return nil, &AccountError{AccountNumber: accountNumber, Err: ErrAccountNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return account, nil
}

func (b *Bank) Balance(ctx context.Context, accountNumber string) (int64, error) {
	account, err := b.Account(ctx, accountNumber)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Deposit credits amount after checking the single and daily deposit limits.
// The credit and its DEPOSIT entry are written together.
func (b *Bank) Deposit(ctx context.Context, sessionID, accountNumber string, amount int64) (*models.Transaction, error) {
	if err := b.checkAmount(amount, b.limits.MaxSingleDeposit, "Deposit"); err != nil {
		return nil, err
	}
	if _, err := b.Account(ctx, accountNumber); err != nil {
		return nil, err
	}
	if err := b.checkDaily(ctx, accountNumber, models.TransactionDeposit, amount, b.limits.MaxDailyDeposit); err != nil {
		return nil, err
	}
	tx, err := b.apply(ctx, sessionID, accountNumber, models.TransactionDeposit, amount, amount)
	if err != nil {
		return nil, err
	}
	b.logger.Info("deposit successful", slog.String("account", accountNumber), slog.Int64("amount", amount), slog.Int64("balance", tx.BalanceAfter))
	return tx, nil
}

// Withdraw debits amount after checking limits and funds. The debit is a
// conditional store update committed with its WITHDRAWAL entry, so a
// concurrent withdrawal cannot overdraw.
func (b *Bank) Withdraw(ctx context.Context, sessionID, accountNumber string, amount int64) (*models.Transaction, error) {
	if err := b.checkAmount(amount, b.limits.MaxSingleWithdrawal, "Withdrawal"); err != nil {
		return nil, err
	}
	account, err := b.Account(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if account.Balance < amount {
		return nil, &InsufficientFundsError{AccountNumber: accountNumber, Requested: amount, Available: account.Balance}
	}
	if err := b.checkDaily(ctx, accountNumber, models.TransactionWithdrawal, amount, b.limits.MaxDailyWithdrawal); err != nil {
		return nil, err
	}
	tx, err := b.apply(ctx, sessionID, accountNumber, models.TransactionWithdrawal, amount, -amount)
	if err != nil {
		return nil, err
	}
	b.logger.Info("withdrawal successful", slog.String("account", accountNumber), slog.Int64("amount", amount), slog.Int64("balance", tx.BalanceAfter))
	return tx, nil
}

// BlockCard deactivates a card. Blocking a blocked card succeeds.
func (b *Bank) BlockCard(ctx context.Context, cardNumber string) error {
	card, err := b.Card(ctx, cardNumber)
	if err != nil {
		return err
	}
	if !card.Active {
		b.logger.Info("card already blocked", slog.String("card", cardnum.Mask(cardNumber)))
		return nil
	}
	card.Active = false
	if err := b.ledger.SaveCard(ctx, card); err != nil {
		return fmt.Errorf("blocking card: %w", err)
	}
	b.logger.Warn("card blocked", slog.String("card", cardnum.Mask(cardNumber)))
	return nil
}

// RecordTransaction appends a ledger entry.
func (b *Bank) RecordTransaction(ctx context.Context, tx *models.Transaction) error {
	if err := b.ledger.SaveTransaction(ctx, tx); err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}
	return nil
}

// Transactions lists the most recent entries of an account.
func (b *Bank) Transactions(ctx context.Context, accountNumber string, limit int) ([]*models.Transaction, error) {
	if _, err := b.Account(ctx, accountNumber); err != nil {
		return nil, err
	}
	return b.ledger.ListTransactions(ctx, accountNumber, limit)
}

func (b *Bank) checkAmount(amount, max int64, kind string) error {
	switch {
	case amount <= 0:
		return &AmountError{Amount: amount, Min: b.limits.MinAmount, Reason: "amount must be positive"}
	case amount < b.limits.MinAmount:
		return &AmountError{Amount: amount, Min: b.limits.MinAmount,
			Reason: fmt.Sprintf("Amount must be at least %d", b.limits.MinAmount)}
	case amount > max:
		return &AmountError{Amount: amount, Min: b.limits.MinAmount, Max: max,
			Reason: fmt.Sprintf("%s amount exceeds maximum limit of %d", kind, max)}
	}
	return nil
}

func (b *Bank) checkDaily(ctx context.Context, accountNumber string, typ models.TransactionType, amount, limit int64) error {
	from, to := calendar.DayBounds(b.now(), b.loc)
	total, err := b.ledger.SumTransactions(ctx, accountNumber, typ, from, to)
	if err != nil {
		return fmt.Errorf("calculating daily total: %w", err)
	}
	if total+amount > limit {
		b.logger.Info("daily limit exceeded",
			slog.String("account", accountNumber),
			slog.String("type", string(typ)),
			slog.String("day", calendar.DayKey(from, b.loc)),
		)
		return &DailyLimitError{AccountNumber: accountNumber, Limit: limit, Total: total, Amount: amount}
	}
	return nil
}

func (b *Bank) apply(ctx context.Context, sessionID, accountNumber string, typ models.TransactionType, amount, delta int64) (*models.Transaction, error) {
	tx := &models.Transaction{
		ID:            uuid.New().String(),
		AccountNumber: accountNumber,
		SessionID:     sessionID,
		Type:          typ,
		Amount:        amount,
		CreatedAt:     b.now().UTC(),
	}
	_, err := b.ledger.ApplyTransaction(ctx, tx, delta)
	if errors.Is(err, ErrNotFound) {
		return nil, &AccountError{AccountNumber: accountNumber, Err: ErrAccountNotFound}
	}
	var insufficient *InsufficientFundsError
	if errors.As(err, &insufficient) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("applying %s: %w", strings.ToLower(string(typ)), err)
	}
	return tx, nil
}
