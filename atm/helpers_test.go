package atm_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/cyberbank-atm/atm"
	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/notify"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

const (
	johnCard  = "1234567890123456"
	johnPIN   = "1234"
	janeCard  = "9876543210987654"
	janePIN   = "5678"
	wrongPIN  = "0000"
	unknownNo = "1111222233334444"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clock is a settable time source shared by bank and session manager.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingNotifier collects card blocked events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.CardBlocked
}

func (n *recordingNotifier) CardBlocked(_ context.Context, ev notify.CardBlocked) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Events() []notify.CardBlocked {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.CardBlocked(nil), n.events...)
}

type fixture struct {
	repo     *atm.Repository
	bank     *atm.Bank
	sessions *atm.SessionManager
	service  *atm.TransactionService
	notifier *recordingNotifier
	clock    *clock
}

// newFixture builds the in-memory stack seeded with the demo cards.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	logger := discardLogger()
	pins := security.NewBcryptVerifier(bcrypt.MinCost)
	repo := atm.NewRepository()
	require.NoError(t, atm.Seed(ctx, repo, pins, atm.DemoCards(), logger))

	clk := &clock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}

	bank := atm.NewBank(repo, pins, atm.DefaultLimits(), time.UTC, logger).WithClock(clk.Now)
	sessions := atm.NewSessionManager(bank, repo, logger, atm.WithNotifier(notifier), atm.WithClock(clk.Now))
	service := atm.NewTransactionService(sessions, logger, nil)

	return &fixture{
		repo:     repo,
		bank:     bank,
		sessions: sessions,
		service:  service,
		notifier: notifier,
		clock:    clk,
	}
}

// selected opens a session on johnCard with ACC001 selected.
func (f *fixture) selected(t *testing.T, account string) string {
	t.Helper()
	ctx := context.Background()

	s, err := f.sessions.InsertCard(ctx, johnCard)
	require.NoError(t, err)
	res, err := f.sessions.VerifyPin(ctx, s.ID, johnPIN)
	require.NoError(t, err)
	require.True(t, res.Verified)
	_, err = f.sessions.SelectAccount(ctx, s.ID, account)
	require.NoError(t, err)
	return s.ID
}

func (f *fixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	b, err := f.bank.Balance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func (f *fixture) transactions(t *testing.T, account string) []*models.Transaction {
	t.Helper()
	txs, err := f.repo.ListTransactions(context.Background(), account, 0)
	require.NoError(t, err)
	return txs
}
