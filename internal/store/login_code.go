package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/dukerupert/daostore/internal/model"
)

const LoginCodeTTL = 15 * time.Minute

type LoginCodeStore struct {
	db Querier
}

func NewLoginCodeStore(db Querier) *LoginCodeStore {
	return &LoginCodeStore{db: db}
}

func scanLoginCode(row scanner) (*model.LoginCode, error) {
	var lc model.LoginCode
	var usedAt sql.NullTime

	err := row.Scan(&lc.ID, &lc.Code, &lc.Email, &lc.Wallet, &lc.ExpiresAt, &usedAt, &lc.Attempts, &lc.CreatedAt)
	if err != nil {
		return nil, err
	}
	lc.UsedAt = timePtr(usedAt)
	return &lc, nil
}

const loginCodeCols = `id, code, email, wallet, expires_at, used_at, attempts, created_at`

// generateCode returns a 6-digit numeric code (100000–999999).
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Create issues a new code for email. Pending codes for the same address are
// invalidated first.
func (s *LoginCodeStore) Create(ctx context.Context, email, wallet string, now time.Time) (*model.LoginCode, error) {
	now = now.UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE login_codes SET used_at = ? WHERE email = ? AND used_at IS NULL AND expires_at > ?`,
		now, email, now,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous codes: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO login_codes (code, email, wallet, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		code, email, wallet, now.Add(LoginCodeTTL), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert login code: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+loginCodeCols+` FROM login_codes WHERE id = ?`, id)
	return scanLoginCode(row)
}

// GetLatestByEmail returns the most recent unexpired, unused code for email.
func (s *LoginCodeStore) GetLatestByEmail(ctx context.Context, email string, now time.Time) (*model.LoginCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+loginCodeCols+` FROM login_codes
		 WHERE email = ? AND expires_at > ? AND used_at IS NULL
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		email, now.UTC(),
	)
	lc, err := scanLoginCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest login code: %w", err)
	}
	return lc, nil
}

// IncrementAttempts increments the attempt count and returns the new value.
func (s *LoginCodeStore) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE login_codes SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id,
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

func (s *LoginCodeStore) MarkUsed(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE login_codes SET used_at = ? WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark login code used: %w", err)
	}
	return nil
}

func (s *LoginCodeStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM login_codes WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired login codes: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
