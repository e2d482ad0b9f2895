package atmclient_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/cyberbank-atm/atm"
	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/atmclient"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

func newServer(t *testing.T) *atmclient.Client {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pins := security.NewBcryptVerifier(bcrypt.MinCost)

	repo := atm.NewRepository()
	require.NoError(t, atm.Seed(ctx, repo, pins, atm.DemoCards(), logger))
	bank := atm.NewBank(repo, pins, atm.DefaultLimits(), time.UTC, logger)
	sessions := atm.NewSessionManager(bank, repo, logger)
	service := atm.NewTransactionService(sessions, logger, nil)

	r := chi.NewRouter()
	atm.NewAPI(service, sessions, bank).AppendRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return atmclient.New(srv.URL+"/", srv.Client())
}

func TestClient_ProcessTransaction(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	res, err := c.ProcessTransaction(ctx, models.TransactionRequest{
		CardNumber:      "9876543210987654",
		PIN:             "5678",
		AccountNumber:   "ACC003",
		TransactionType: models.RequestDeposit,
		Amount:          models.Int64(250),
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(2250), *res.NewBalance)

	res, err = c.ProcessTransaction(ctx, models.TransactionRequest{
		CardNumber:      "9876543210987654",
		PIN:             "0000",
		AccountNumber:   "ACC003",
		TransactionType: models.RequestCheckBalance,
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, models.ErrorCodeInvalidPIN, res.ErrorCode)

	txs, err := c.Transactions(ctx, "ACC003", 5)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestClient_SessionFlow(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	s, err := c.InsertCard(ctx, "1234567890123456")
	require.NoError(t, err)

	v, err := c.VerifyPin(ctx, s.ID, "1234")
	require.NoError(t, err)
	require.True(t, v.Verified)

	_, err = c.SelectAccount(ctx, s.ID, "ACC001")
	require.NoError(t, err)

	b, err := c.CheckBalance(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), b.Balance)

	ch, err := c.Deposit(ctx, s.ID, 100)
	require.NoError(t, err)
	require.Equal(t, int64(1100), ch.NewBalance)

	ch, err = c.Withdraw(ctx, s.ID, 600)
	require.NoError(t, err)
	require.Equal(t, int64(500), ch.NewBalance)

	_, err = c.Withdraw(ctx, s.ID, 600)
	var statusErr *atmclient.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, 409, statusErr.Status)
	require.Equal(t, models.ErrorCodeInvalidState, statusErr.ErrorCode)

	closed, err := c.EndSession(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, closed)

	_, err = c.CheckBalance(ctx, s.ID)
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, 404, statusErr.Status)
}
