//go:build !softhsm

package main

import (
	"fmt"

	"github.com/jonanatree/cyberbank-atm/atm"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

func pinVerifier(config *atm.Config) (security.PINVerifier, func(), error) {
	if config.PINScheme == "softhsm" {
		return nil, nil, fmt.Errorf("PIN_SCHEME=softhsm needs a binary built with -tags softhsm")
	}
	return security.NewBcryptVerifier(config.PINBcryptCost), func() {}, nil
}
