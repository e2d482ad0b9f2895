package atm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jonanatree/cyberbank-atm/atm"
	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	repo := atm.NewRepository()
	pins := security.NewBcryptVerifier(bcrypt.MinCost)

	require.NoError(t, atm.Seed(ctx, repo, pins, atm.DemoCards(), discardLogger()))

	card, err := repo.FindCardByNumber(ctx, johnCard)
	require.NoError(t, err)
	require.True(t, card.Active)
	require.NotEqual(t, johnPIN, card.PINHash)
	ok, err := pins.Verify(johnCard, johnPIN, card.PINHash)
	require.NoError(t, err)
	require.True(t, ok)

	accounts, err := repo.FindAccountsByCard(ctx, janeCard)
	require.NoError(t, err)
	require.Equal(t, []string{"ACC003", "ACC004"}, models.AccountNumbers(accounts))

	// a second run keeps balances and blocked state
	_, err = repo.ApplyTransaction(ctx, &models.Transaction{
		ID: "seed-withdrawal", AccountNumber: "ACC001", Type: models.TransactionWithdrawal, Amount: 400, CreatedAt: time.Now().UTC(),
	}, -400)
	require.NoError(t, err)
	card.Active = false
	require.NoError(t, repo.SaveCard(ctx, card))

	require.NoError(t, atm.Seed(ctx, repo, pins, atm.DemoCards(), discardLogger()))

	account, err := repo.FindAccountByNumber(ctx, "ACC001")
	require.NoError(t, err)
	require.Equal(t, int64(600), account.Balance)
	card, err = repo.FindCardByNumber(ctx, johnCard)
	require.NoError(t, err)
	require.False(t, card.Active)
}

func TestSeed_RejectsBadData(t *testing.T) {
	ctx := context.Background()
	pins := security.NewBcryptVerifier(bcrypt.MinCost)

	err := atm.Seed(ctx, atm.NewRepository(), pins, []atm.SeedCard{{Number: "123", PIN: "1234"}}, discardLogger())
	require.Error(t, err)

	err = atm.Seed(ctx, atm.NewRepository(), pins, []atm.SeedCard{{
		Number:   johnCard,
		PIN:      "1234",
		Accounts: []models.Account{{Number: "X1", Type: "BROKERAGE"}},
	}}, discardLogger())
	require.Error(t, err)
}
