//go:build softhsm

package hsm

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/jonanatree/cyberbank-atm/internal/cardnum"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

// PINVerifier computes PIN verification values as HMAC-SHA256(card number | PIN)
// with a generic secret key held in a PKCS#11 token. Enabled with the softhsm build tag.
type PINVerifier struct {
	libPath  string
	slotID   uint
	pin      string
	keyLabel string

	mu   sync.Mutex
	p11  *pkcs11.Ctx
	sess pkcs11.SessionHandle
	key  pkcs11.ObjectHandle
}

func NewPINVerifier(libPath string, slotID uint, userPIN, keyLabel string) *PINVerifier {
	return &PINVerifier{libPath: libPath, slotID: slotID, pin: userPIN, keyLabel: keyLabel}
}

func (p *PINVerifier) Open() error {
	p.p11 = pkcs11.New(p.libPath)
	if p.p11 == nil {
		return fmt.Errorf("load pkcs11 lib failed: %s", p.libPath)
	}
	if err := p.p11.Initialize(); err != nil {
		return fmt.Errorf("initializing pkcs11: %w", err)
	}
	sess, err := p.p11.OpenSession(p.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		_ = p.p11.Finalize()
		return fmt.Errorf("opening session: %w", err)
	}
	p.sess = sess
	if err := p.p11.Login(p.sess, pkcs11.CKU_USER, p.pin); err != nil {
		_ = p.p11.CloseSession(p.sess)
		_ = p.p11.Finalize()
		return fmt.Errorf("login: %w", err)
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, p.keyLabel),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_GENERIC_SECRET),
	}
	if err := p.p11.FindObjectsInit(p.sess, template); err != nil {
		return err
	}
	objs, _, err := p.p11.FindObjects(p.sess, 1)
	_ = p.p11.FindObjectsFinal(p.sess)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		return fmt.Errorf("pin key not found by label=%s", p.keyLabel)
	}
	p.key = objs[0]
	return nil
}

func (p *PINVerifier) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.p11 != nil {
		if p.sess != 0 {
			_ = p.p11.Logout(p.sess)
			_ = p.p11.CloseSession(p.sess)
		}
		_ = p.p11.Finalize()
		p.p11.Destroy()
		p.p11 = nil
	}
}

func (p *PINVerifier) mac(data []byte) ([]byte, error) {
	// a pkcs11 session runs one sign operation at a time
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.p11 == nil {
		return nil, fmt.Errorf("pkcs11 session is not open")
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_SHA256_HMAC, nil)}
	if err := p.p11.SignInit(p.sess, mech, p.key); err != nil {
		return nil, err
	}
	return p.p11.Sign(p.sess, data)
}

func (p *PINVerifier) Hash(cardNumber, pin string) (string, error) {
	if err := security.ValidatePINFormat(pin); err != nil {
		return "", err
	}
	if !cardnum.Valid(cardNumber) {
		return "", fmt.Errorf("card number must be %d digits", cardnum.Length)
	}
	data := []byte(cardNumber + "|" + pin)
	defer security.Wipe(data)
	mac, err := p.mac(data)
	if err != nil {
		return "", fmt.Errorf("computing pin mac: %w", err)
	}
	return hex.EncodeToString(mac), nil
}

func (p *PINVerifier) Verify(cardNumber, pin, stored string) (bool, error) {
	got, err := p.Hash(cardNumber, pin)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(stored)) == 1, nil
}

var _ security.PINVerifier = (*PINVerifier)(nil)
