//go:build softhsm

package main

import (
	"github.com/jonanatree/cyberbank-atm/atm"
	"github.com/jonanatree/cyberbank-atm/internal/security"
	"github.com/jonanatree/cyberbank-atm/internal/security/hsm"
)

func pinVerifier(config *atm.Config) (security.PINVerifier, func(), error) {
	if config.PINScheme != "softhsm" {
		return security.NewBcryptVerifier(config.PINBcryptCost), func() {}, nil
	}
	v := hsm.NewPINVerifier(config.HSM.LibPath, config.HSM.Slot, config.HSM.PIN, config.HSM.KeyLabel)
	if err := v.Open(); err != nil {
		return nil, nil, err
	}
	return v, v.Close, nil
}
