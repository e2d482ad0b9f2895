package atm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/cardnum"
	"github.com/jonanatree/cyberbank-atm/internal/metrics"
	"github.com/jonanatree/cyberbank-atm/internal/notify"
)

// SessionManager drives the ATM session state machine:
//
//	CARD_INSERTED -> PIN_VERIFIED -> ACCOUNT_SELECTED -> CLOSED
//	CARD_INSERTED -> CARD_BLOCKED (after MaxPinAttempts wrong PINs)
type SessionManager struct {
	bank     *Bank
	store    SessionStore
	notifier notify.Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

type SessionOption func(*SessionManager)

func WithNotifier(n notify.Notifier) SessionOption {
	return func(m *SessionManager) { m.notifier = n }
}

func WithMetrics(c *metrics.Collector) SessionOption {
	return func(m *SessionManager) { m.metrics = c }
}

func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

func NewSessionManager(bank *Bank, store SessionStore, logger *slog.Logger, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		bank:     bank,
		store:    store,
		notifier: notify.Nop{},
		logger:   logger.With(slog.String("component", "session")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InsertCard opens a session for an existing, active card.
func (m *SessionManager) InsertCard(ctx context.Context, cardNumber string) (*models.Session, error) {
	card, err := m.bank.Card(ctx, cardNumber)
	if err != nil {
		return nil, err
	}
	if !card.Active {
		return nil, &CardError{CardNumber: cardNumber, Err: ErrCardBlocked}
	}

	s := models.NewSession(uuid.New().String(), cardNumber, m.now().UTC())
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	m.logger.Info("card inserted", slog.String("session", s.ID), slog.String("card", cardnum.Mask(cardNumber)))
	return s, nil
}

// VerifyPin checks the PIN for a CARD_INSERTED session. A wrong PIN is reported
// in the result; the third wrong PIN blocks the card.
func (m *SessionManager) VerifyPin(ctx context.Context, sessionID, pin string) (*models.PinVerification, error) {
	s, err := m.session(ctx, sessionID, models.SessionCardInserted)
	if err != nil {
		return nil, err
	}

	ok, err := m.bank.ValidatePin(ctx, s.CardNumber, pin)
	if err != nil {
		return nil, err
	}

	if ok {
		accounts, err := m.bank.Accounts(ctx, s.CardNumber)
		if err != nil {
			return nil, err
		}
		s.Status = models.SessionPinVerified
		if err := m.store.SaveSession(ctx, s); err != nil {
			return nil, fmt.Errorf("saving session: %w", err)
		}
		m.logger.Info("pin verified", slog.String("session", s.ID))
		return &models.PinVerification{
			Verified:          true,
			RemainingAttempts: s.RemainingAttempts(),
			Accounts:          accounts,
		}, nil
	}

	m.metrics.PINFailed()
	blocked := s.RecordPinFailure()
	if blocked {
		if err := m.bank.BlockCard(ctx, s.CardNumber); err != nil {
			return nil, err
		}
		m.metrics.CardBlocked()
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	m.logger.Warn("pin verification failed",
		slog.String("session", s.ID),
		slog.Int("attempts", s.PinAttempts),
		slog.Bool("blocked", blocked),
	)
	if blocked {
		m.notifyBlocked(ctx, s)
	}

	return &models.PinVerification{
		Verified:          false,
		RemainingAttempts: s.RemainingAttempts(),
		CardBlocked:       blocked,
	}, nil
}

// SelectAccount binds one of the card's own accounts to a PIN_VERIFIED session.
func (m *SessionManager) SelectAccount(ctx context.Context, sessionID, accountNumber string) (*models.Account, error) {
	s, err := m.session(ctx, sessionID, models.SessionPinVerified)
	if err != nil {
		return nil, err
	}

	accounts, err := m.bank.Accounts(ctx, s.CardNumber)
	if err != nil {
		return nil, err
	}
	account := models.FindAccount(accounts, accountNumber)
	if account == nil {
		return nil, &AccountError{AccountNumber: accountNumber, Err: ErrInvalidAccount}
	}

	s.Status = models.SessionAccountSelected
	s.SelectedAccount = account.Number
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	m.logger.Info("account selected", slog.String("session", s.ID), slog.String("account", account.Number))
	return account, nil
}

// CheckBalance reads the selected account's balance and logs an inquiry.
func (m *SessionManager) CheckBalance(ctx context.Context, sessionID string) (*models.BalanceInquiry, error) {
	s, err := m.session(ctx, sessionID, models.SessionAccountSelected)
	if err != nil {
		return nil, err
	}
	balance, err := m.bank.Balance(ctx, s.SelectedAccount)
	if err != nil {
		return nil, err
	}
	tx, err := m.record(ctx, s, models.TransactionBalanceInquiry, 0, balance)
	if err != nil {
		return nil, err
	}
	return &models.BalanceInquiry{AccountNumber: s.SelectedAccount, Balance: balance, TransactionID: tx.ID}, nil
}

func (m *SessionManager) Deposit(ctx context.Context, sessionID string, amount int64) (*models.BalanceChange, error) {
	s, err := m.session(ctx, sessionID, models.SessionAccountSelected)
	if err != nil {
		return nil, err
	}
	tx, err := m.bank.Deposit(ctx, s.ID, s.SelectedAccount, amount)
	if err != nil {
		return nil, err
	}
	return &models.BalanceChange{
		AccountNumber:   s.SelectedAccount,
		PreviousBalance: tx.BalanceAfter - amount,
		Amount:          amount,
		NewBalance:      tx.BalanceAfter,
		TransactionID:   tx.ID,
	}, nil
}

func (m *SessionManager) Withdraw(ctx context.Context, sessionID string, amount int64) (*models.BalanceChange, error) {
	s, err := m.session(ctx, sessionID, models.SessionAccountSelected)
	if err != nil {
		return nil, err
	}
	tx, err := m.bank.Withdraw(ctx, s.ID, s.SelectedAccount, amount)
	if err != nil {
		return nil, err
	}
	return &models.BalanceChange{
		AccountNumber:   s.SelectedAccount,
		PreviousBalance: tx.BalanceAfter + amount,
		Amount:          amount,
		NewBalance:      tx.BalanceAfter,
		TransactionID:   tx.ID,
	}, nil
}

// EndSession closes a session. It returns false without error when the session
// is already CLOSED or CARD_BLOCKED.
func (m *SessionManager) EndSession(ctx context.Context, sessionID string) (bool, error) {
	s, err := m.store.FindSessionByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return false, fmt.Errorf("finding session: %w", err)
	}
	if !s.Close(m.now().UTC()) {
		return false, nil
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		return false, fmt.Errorf("closing session: %w", err)
	}
	m.logger.Info("session closed", slog.String("session", s.ID))
	return true, nil
}

// Session returns a session in any status.
func (m *SessionManager) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := m.store.FindSessionByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("finding session: %w", err)
	}
	return s, nil
}

// session loads a non-closed session and checks it is in the expected status.
func (m *SessionManager) session(ctx context.Context, sessionID string, expected models.SessionStatus) (*models.Session, error) {
	s, err := m.store.FindActiveSessionByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("finding session: %w", err)
	}
	if s.Status != expected {
		return nil, &StateError{SessionID: s.ID, Current: s.Status, Expected: expected}
	}
	return s, nil
}

func (m *SessionManager) record(ctx context.Context, s *models.Session, typ models.TransactionType, amount, balance int64) (*models.Transaction, error) {
	tx := &models.Transaction{
		ID:            uuid.New().String(),
		AccountNumber: s.SelectedAccount,
		SessionID:     s.ID,
		Type:          typ,
		Amount:        amount,
		BalanceAfter:  balance,
		CreatedAt:     m.now().UTC(),
	}
	if err := m.bank.RecordTransaction(ctx, tx); err != nil {
		m.logger.Error("recording transaction", slog.String("session", s.ID), slog.String("type", string(typ)), slog.Any("err", err))
		return nil, err
	}
	return tx, nil
}

func (m *SessionManager) notifyBlocked(ctx context.Context, s *models.Session) {
	ev := notify.CardBlocked{
		MaskedCardNumber: cardnum.Mask(s.CardNumber),
		SessionID:        s.ID,
		Attempts:         s.PinAttempts,
		At:               m.now(),
	}
	if card, err := m.bank.Card(ctx, s.CardNumber); err == nil {
		ev.HolderName = card.HolderName
	}
	if err := m.notifier.CardBlocked(ctx, ev); err != nil {
		m.logger.Error("card blocked notification failed", slog.String("session", s.ID), slog.Any("err", err))
	}
}
