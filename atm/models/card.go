package models

type Card struct {
	Number     string `json:"cardNumber"`
	HolderName string `json:"holderName"`
	Active     bool   `json:"active"`
	// PINHash is the stored PIN verification value, never serialized.
	PINHash string `json:"-"`
}

type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
)

func (t AccountType) Valid() bool {
	return t == AccountTypeChecking || t == AccountTypeSavings
}

type Account struct {
	Number     string      `json:"accountNumber"`
	Type       AccountType `json:"accountType"`
	Balance    int64       `json:"balance"`
	CardNumber string      `json:"-"`
}

// AccountNumbers lists the numbers of accounts in order.
func AccountNumbers(accounts []*Account) []string {
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Number)
	}
	return out
}

// FindAccount returns the account with the given number or nil.
func FindAccount(accounts []*Account, number string) *Account {
	for _, a := range accounts {
		if a.Number == number {
			return a
		}
	}
	return nil
}
