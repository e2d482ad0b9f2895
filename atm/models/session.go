package models

import "time"

// MaxPinAttempts is the number of wrong PINs that blocks a card within one session.
const MaxPinAttempts = 3

type SessionStatus string

const (
	SessionCardInserted    SessionStatus = "CARD_INSERTED"
	SessionPinVerified     SessionStatus = "PIN_VERIFIED"
	SessionAccountSelected SessionStatus = "ACCOUNT_SELECTED"
	SessionCardBlocked     SessionStatus = "CARD_BLOCKED"
	SessionClosed          SessionStatus = "CLOSED"
)

// Terminal reports whether no further transition is allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionClosed || s == SessionCardBlocked
}

type Session struct {
	ID              string        `json:"sessionId"`
	CardNumber      string        `json:"cardNumber"`
	SelectedAccount string        `json:"selectedAccount,omitempty"`
	Status          SessionStatus `json:"status"`
	PinAttempts     int           `json:"pinAttempts"`
	CreatedAt       time.Time     `json:"createdAt"`
	ClosedAt        *time.Time    `json:"closedAt,omitempty"`
}

func NewSession(id, cardNumber string, now time.Time) *Session {
	return &Session{
		ID:         id,
		CardNumber: cardNumber,
		Status:     SessionCardInserted,
		CreatedAt:  now,
	}
}

// RecordPinFailure counts a wrong PIN and moves the session to CARD_BLOCKED
// when MaxPinAttempts is reached. It reports whether the card must be blocked.
func (s *Session) RecordPinFailure() bool {
	if s.PinAttempts < MaxPinAttempts {
		s.PinAttempts++
	}
	if s.PinAttempts >= MaxPinAttempts {
		s.Status = SessionCardBlocked
		return true
	}
	return false
}

func (s *Session) RemainingAttempts() int {
	if r := MaxPinAttempts - s.PinAttempts; r > 0 {
		return r
	}
	return 0
}

// Close moves a non-terminal session to CLOSED. It returns false if the
// session was already CLOSED or CARD_BLOCKED.
func (s *Session) Close(now time.Time) bool {
	if s.Status.Terminal() {
		return false
	}
	s.Status = SessionClosed
	s.SelectedAccount = ""
	s.ClosedAt = &now
	return true
}

// Clone returns a deep copy so stores never share a record with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
