package atm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/jonanatree/cyberbank-atm/atm/models"
)

// SessionStore keeps ATM sessions by id.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.Session) error
	FindSessionByID(ctx context.Context, id string) (*models.Session, error)
	// FindActiveSessionByID is FindSessionByID excluding CLOSED sessions.
	FindActiveSessionByID(ctx context.Context, id string) (*models.Session, error)
	// ListOpenSessions returns sessions that are neither CLOSED nor CARD_BLOCKED
	// and were created before the given time, oldest first.
	ListOpenSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Session, error)
}

var openStatuses = []string{
	string(models.SessionCardInserted),
	string(models.SessionPinVerified),
	string(models.SessionAccountSelected),
}

func (r *Repository) SaveSession(ctx context.Context, s *models.Session) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.sessions[s.ID] = s.Clone()
		return nil
	}
	var selected sql.NullString
	if s.SelectedAccount != "" {
		selected = sql.NullString{String: s.SelectedAccount, Valid: true}
	}
	var closedAt sql.NullTime
	if s.ClosedAt != nil {
		closedAt = sql.NullTime{Time: *s.ClosedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO atm.sessions(session_id, card_number, selected_account, status, pin_attempts, created_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (session_id) DO UPDATE
		   SET selected_account = EXCLUDED.selected_account,
		       status           = EXCLUDED.status,
		       pin_attempts     = EXCLUDED.pin_attempts,
		       closed_at        = EXCLUDED.closed_at
	`, s.ID, s.CardNumber, selected, string(s.Status), s.PinAttempts, s.CreatedAt, closedAt)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (r *Repository) FindSessionByID(ctx context.Context, id string) (*models.Session, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		s, ok := r.sessions[id]
		if !ok {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		return s.Clone(), nil
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, card_number, selected_account, status, pin_attempts, created_at, closed_at
		  FROM atm.sessions WHERE session_id=$1
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("finding session: %w", err)
	}
	return s, nil
}

func (r *Repository) FindActiveSessionByID(ctx context.Context, id string) (*models.Session, error) {
	s, err := r.FindSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == models.SessionClosed {
		return nil, fmt.Errorf("%w: session %s is closed", ErrNotFound, id)
	}
	return s, nil
}

func (r *Repository) ListOpenSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Session, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Session
		for _, s := range r.sessions {
			if !s.Status.Terminal() && s.CreatedAt.Before(createdBefore) {
				out = append(out, s.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, card_number, selected_account, status, pin_attempts, created_at, closed_at
		  FROM atm.sessions
		 WHERE status = ANY($1) AND created_at < $2
		 ORDER BY created_at ASC
		 LIMIT $3
	`, pq.Array(openStatuses), createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("listing open sessions: %w", err)
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var selected sql.NullString
	var status string
	var closedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.CardNumber, &selected, &status, &s.PinAttempts, &s.CreatedAt, &closedAt); err != nil {
		return nil, err
	}
	s.SelectedAccount = selected.String
	s.Status = models.SessionStatus(status)
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	return &s, nil
}

var _ SessionStore = (*Repository)(nil)
