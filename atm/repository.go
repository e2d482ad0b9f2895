package atm

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/calendar"
)

//go:embed schema.sql
var schemaSQL string

// Ledger holds cards, accounts and the transaction log.
type Ledger interface {
	FindCardByNumber(ctx context.Context, number string) (*models.Card, error)
	FindAccountByNumber(ctx context.Context, number string) (*models.Account, error)
	FindAccountsByCard(ctx context.Context, cardNumber string) ([]*models.Account, error)
	SaveCard(ctx context.Context, card *models.Card) error
	SaveAccount(ctx context.Context, account *models.Account) error
	SaveTransaction(ctx context.Context, tx *models.Transaction) error
	// ApplyTransaction adds delta to the account balance and appends tx in
	// one atomic step, setting tx.BalanceAfter. A balance below zero fails
	// with *InsufficientFundsError and nothing is written.
	ApplyTransaction(ctx context.Context, tx *models.Transaction, delta int64) (int64, error)
	// SumTransactions totals amounts of the given type in [from, to).
	SumTransactions(ctx context.Context, accountNumber string, typ models.TransactionType, from, to time.Time) (int64, error)
	ListTransactions(ctx context.Context, accountNumber string, limit int) ([]*models.Transaction, error)
}

// Repository implements Ledger and SessionStore on Postgres, or in memory when
// constructed with NewRepository.
type Repository struct {
	mu           sync.RWMutex
	cards        map[string]*models.Card
	accounts     map[string]*models.Account
	accountOrder []string
	transactions []*models.Transaction
	txIDs        map[string]struct{}
	sessions     map[string]*models.Session

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		cards:    make(map[string]*models.Card),
		accounts: make(map[string]*models.Account),
		txIDs:    make(map[string]struct{}),
		sessions: make(map[string]*models.Session),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the atm schema when it does not exist. No-op in memory.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (r *Repository) FindCardByNumber(ctx context.Context, number string) (*models.Card, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		c, ok := r.cards[number]
		if !ok {
			return nil, fmt.Errorf("%w: card", ErrNotFound)
		}
		cp := *c
		return &cp, nil
	}
	var c models.Card
	err := r.db.QueryRowContext(ctx, `
		SELECT card_number, holder_name, pin_hash, active FROM atm.cards WHERE card_number=$1
	`, number).Scan(&c.Number, &c.HolderName, &c.PINHash, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: card", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding card: %w", err)
	}
	return &c, nil
}

func (r *Repository) SaveCard(ctx context.Context, card *models.Card) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		cp := *card
		r.cards[card.Number] = &cp
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO atm.cards(card_number, holder_name, pin_hash, active)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (card_number) DO UPDATE
		   SET holder_name = EXCLUDED.holder_name,
		       pin_hash    = EXCLUDED.pin_hash,
		       active      = EXCLUDED.active,
		       updated_at  = now()
	`, card.Number, card.HolderName, card.PINHash, card.Active)
	if err != nil {
		return fmt.Errorf("saving card: %w", err)
	}
	return nil
}

func (r *Repository) FindAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		a, ok := r.accounts[number]
		if !ok {
			return nil, fmt.Errorf("%w: account %s", ErrNotFound, number)
		}
		cp := *a
		return &cp, nil
	}
	var a models.Account
	var typ string
	err := r.db.QueryRowContext(ctx, `
		SELECT account_number, account_type, balance, card_number FROM atm.accounts WHERE account_number=$1
	`, number).Scan(&a.Number, &typ, &a.Balance, &a.CardNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("finding account: %w", err)
	}
	a.Type = models.AccountType(typ)
	return &a, nil
}

func (r *Repository) FindAccountsByCard(ctx context.Context, cardNumber string) ([]*models.Account, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Account
		for _, n := range r.accountOrder {
			if a := r.accounts[n]; a.CardNumber == cardNumber {
				cp := *a
				out = append(out, &cp)
			}
		}
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_number, account_type, balance, card_number
		  FROM atm.accounts WHERE card_number=$1 ORDER BY account_number
	`, cardNumber)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()
	var out []*models.Account
	for rows.Next() {
		var a models.Account
		var typ string
		if err := rows.Scan(&a.Number, &typ, &a.Balance, &a.CardNumber); err != nil {
			return nil, err
		}
		a.Type = models.AccountType(typ)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *Repository) SaveAccount(ctx context.Context, account *models.Account) error {
	if account.Balance < 0 {
		return fmt.Errorf("saving account %s: negative balance", account.Number)
	}
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.accounts[account.Number]; !ok {
			r.accountOrder = append(r.accountOrder, account.Number)
		}
		cp := *account
		r.accounts[account.Number] = &cp
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO atm.accounts(account_number, card_number, account_type, balance)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (account_number) DO UPDATE
		   SET card_number  = EXCLUDED.card_number,
		       account_type = EXCLUDED.account_type,
		       balance      = EXCLUDED.balance,
		       updated_at   = now()
	`, account.Number, account.CardNumber, string(account.Type), account.Balance)
	if err != nil {
		return fmt.Errorf("saving account: %w", err)
	}
	return nil
}

func (r *Repository) ApplyTransaction(ctx context.Context, tx *models.Transaction, delta int64) (int64, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		a, ok := r.accounts[tx.AccountNumber]
		if !ok {
			return 0, fmt.Errorf("%w: account %s", ErrNotFound, tx.AccountNumber)
		}
		if a.Balance+delta < 0 {
			return 0, &InsufficientFundsError{AccountNumber: tx.AccountNumber, Requested: -delta, Available: a.Balance}
		}
		if _, ok := r.txIDs[tx.ID]; ok {
			return 0, fmt.Errorf("transaction %s exists: %w", tx.ID, ErrConflict)
		}
		a.Balance += delta
		tx.BalanceAfter = a.Balance
		cp := *tx
		r.transactions = append(r.transactions, &cp)
		r.txIDs[tx.ID] = struct{}{}
		return a.Balance, nil
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbtx.Rollback()

	var balance int64
	err = dbtx.QueryRowContext(ctx, `
		UPDATE atm.accounts
		   SET balance    = balance + $2,
		       updated_at = now()
		 WHERE account_number=$1 AND balance + $2 >= 0
		RETURNING balance
	`, tx.AccountNumber, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// nothing updated: either the account is missing or funds are short
		var available int64
		err = dbtx.QueryRowContext(ctx, `SELECT balance FROM atm.accounts WHERE account_number=$1`, tx.AccountNumber).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: account %s", ErrNotFound, tx.AccountNumber)
		}
		if err != nil {
			return 0, fmt.Errorf("reading balance: %w", err)
		}
		return 0, &InsufficientFundsError{AccountNumber: tx.AccountNumber, Requested: -delta, Available: available}
	}
	if err != nil {
		return 0, fmt.Errorf("adjusting balance: %w", err)
	}

	tx.BalanceAfter = balance
	if err := insertTransaction(ctx, dbtx, tx); err != nil {
		return 0, err
	}
	if err := dbtx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return balance, nil
}

func (r *Repository) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.txIDs[tx.ID]; ok {
			return fmt.Errorf("transaction %s exists: %w", tx.ID, ErrConflict)
		}
		cp := *tx
		r.transactions = append(r.transactions, &cp)
		r.txIDs[tx.ID] = struct{}{}
		return nil
	}
	return insertTransaction(ctx, r.db, tx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTransaction(ctx context.Context, db execer, tx *models.Transaction) error {
	var sessionID sql.NullString
	if tx.SessionID != "" {
		sessionID = sql.NullString{String: tx.SessionID, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO atm.transactions(tx_id, account_number, session_id, tx_type, amount, balance_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tx.ID, tx.AccountNumber, sessionID, string(tx.Type), tx.Amount, tx.BalanceAfter, tx.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s exists: %w", tx.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("saving transaction: %w", err)
	}
	return nil
}

func (r *Repository) SumTransactions(ctx context.Context, accountNumber string, typ models.TransactionType, from, to time.Time) (int64, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var total int64
		for _, t := range r.transactions {
			if t.AccountNumber != accountNumber || t.Type != typ {
				continue
			}
			if calendar.Within(t.CreatedAt, from, to) {
				total += t.Amount
			}
		}
		return total, nil
	}
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM atm.transactions
		 WHERE account_number=$1 AND tx_type=$2 AND created_at >= $3 AND created_at < $4
	`, accountNumber, string(typ), from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing transactions: %w", err)
	}
	return total, nil
}

// ListTransactions returns the newest transactions of an account first. limit <= 0 means all.
func (r *Repository) ListTransactions(ctx context.Context, accountNumber string, limit int) ([]*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Transaction
		for _, t := range r.transactions {
			if t.AccountNumber == accountNumber {
				cp := *t
				out = append(out, &cp)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	query := `
		SELECT tx_id, account_number, COALESCE(session_id, ''), tx_type, amount, balance_after, created_at
		  FROM atm.transactions WHERE account_number=$1 ORDER BY created_at DESC`
	args := []any{accountNumber}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()
	var out []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		var typ string
		if err := rows.Scan(&t.ID, &t.AccountNumber, &t.SessionID, &typ, &t.Amount, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = models.TransactionType(typ)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}

var _ Ledger = (*Repository)(nil)
