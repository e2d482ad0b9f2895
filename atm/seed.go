package atm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slog"

	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/cardnum"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

// SeedCard is a card with its clear PIN and accounts, used to bootstrap a store.
type SeedCard struct {
	Number     string
	PIN        string
	HolderName string
	Accounts   []models.Account
}

// DemoCards is the sample data loaded when SEED_DATA is enabled.
func DemoCards() []SeedCard {
	return []SeedCard{
		{
			Number:     "1234567890123456",
			PIN:        "1234",
			HolderName: "John Doe",
			Accounts: []models.Account{
				{Number: "ACC001", Type: models.AccountTypeChecking, Balance: 1000},
				{Number: "ACC002", Type: models.AccountTypeSavings, Balance: 5000},
			},
		},
		{
			Number:     "9876543210987654",
			PIN:        "5678",
			HolderName: "Jane Smith",
			Accounts: []models.Account{
				{Number: "ACC003", Type: models.AccountTypeChecking, Balance: 2000},
				{Number: "ACC004", Type: models.AccountTypeSavings, Balance: 10000},
			},
		},
	}
}

// Seed stores cards and accounts that do not exist yet. Existing cards are left
// untouched so a restart never resets balances or unblocks a card.
func Seed(ctx context.Context, ledger Ledger, pins security.PINVerifier, cards []SeedCard, logger *slog.Logger) error {
	for _, sc := range cards {
		if !cardnum.Valid(sc.Number) {
			return fmt.Errorf("seeding card %s: card number must be %d digits", cardnum.Mask(sc.Number), cardnum.Length)
		}
		_, err := ledger.FindCardByNumber(ctx, sc.Number)
		if err == nil {
			logger.Info("seed card exists, skipping", slog.String("card", cardnum.Mask(sc.Number)))
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("seeding card: %w", err)
		}

		hash, err := pins.Hash(sc.Number, sc.PIN)
		if err != nil {
			return fmt.Errorf("seeding card %s: %w", cardnum.Mask(sc.Number), err)
		}
		card := &models.Card{Number: sc.Number, HolderName: sc.HolderName, Active: true, PINHash: hash}
		if err := ledger.SaveCard(ctx, card); err != nil {
			return err
		}
		for _, a := range sc.Accounts {
			a := a
			a.CardNumber = sc.Number
			if !a.Type.Valid() {
				return fmt.Errorf("seeding account %s: unknown type %q", a.Number, a.Type)
			}
			if err := ledger.SaveAccount(ctx, &a); err != nil {
				return err
			}
		}
		logger.Info("seeded card", slog.String("card", cardnum.Mask(sc.Number)), slog.Int("accounts", len(sc.Accounts)))
	}
	return nil
}
