package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PINVerifier turns clear PINs into stored verification values and checks them.
// Implementations: bcrypt (default) and the PKCS#11 HMAC verifier in package hsm.
type PINVerifier interface {
	// Hash returns the value persisted on the card record.
	Hash(cardNumber, pin string) (string, error)
	// Verify reports whether pin matches stored. A mismatch is not an error.
	Verify(cardNumber, pin, stored string) (bool, error)
}

const (
	MinPINLength = 4
	MaxPINLength = 6
)

// ValidatePINFormat checks that pin is 4 to 6 decimal digits.
func ValidatePINFormat(pin string) error {
	if l := len(pin); l < MinPINLength || l > MaxPINLength {
		return fmt.Errorf("pin must be %d..%d digits (got %d)", MinPINLength, MaxPINLength, l)
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return fmt.Errorf("pin must contain digits only")
		}
	}
	return nil
}

type BcryptVerifier struct {
	cost int
}

// NewBcryptVerifier returns a verifier using the given cost; out of range values fall back to bcrypt.DefaultCost.
func NewBcryptVerifier(cost int) *BcryptVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptVerifier{cost: cost}
}

func (v *BcryptVerifier) Hash(cardNumber, pin string) (string, error) {
	if err := ValidatePINFormat(pin); err != nil {
		return "", err
	}
	b := []byte(pin)
	defer Wipe(b)
	h, err := bcrypt.GenerateFromPassword(b, v.cost)
	if err != nil {
		return "", fmt.Errorf("hashing pin: %w", err)
	}
	return string(h), nil
}

func (v *BcryptVerifier) Verify(cardNumber, pin, stored string) (bool, error) {
	b := []byte(pin)
	defer Wipe(b)
	err := bcrypt.CompareHashAndPassword([]byte(stored), b)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("comparing pin: %w", err)
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var _ PINVerifier = (*BcryptVerifier)(nil)
