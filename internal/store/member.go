package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/model"
)

type MemberStore struct {
	db Querier
}

func NewMemberStore(db Querier) *MemberStore {
	return &MemberStore{db: db}
}

func scanMember(row scanner) (*model.Member, error) {
	var m model.Member
	var wallet, email sql.NullString

	err := row.Scan(&m.ID, &wallet, &email, &m.DisplayName, &m.TokenBalance, &m.Role, &m.JoinedAt)
	if err != nil {
		return nil, err
	}

	m.WalletAddress = stringPtr(wallet)
	m.Email = stringPtr(email)
	return &m, nil
}

const memberCols = `id, wallet_address, email, display_name, token_balance, role, joined_at`

// MemberParams describes a member to insert. At least one of Wallet and
// Email must be set.
type MemberParams struct {
	Wallet       *string
	Email        *string
	DisplayName  string
	TokenBalance int64
	Role         string
}

func (s *MemberStore) Create(ctx context.Context, p MemberParams) (*model.Member, error) {
	role := p.Role
	if role == "" {
		role = model.RoleMember
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO members (wallet_address, email, display_name, token_balance, role) VALUES (?, ?, ?, ?, ?)`,
		nullString(p.Wallet), nullString(p.Email), p.DisplayName, p.TokenBalance, role,
	)
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *MemberStore) getOne(ctx context.Context, op, where string, arg any) (*model.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberCols+` FROM members WHERE `+where, arg)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func (s *MemberStore) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	return s.getOne(ctx, "get member", "id = ?", id)
}

func (s *MemberStore) GetByWallet(ctx context.Context, wallet string) (*model.Member, error) {
	return s.getOne(ctx, "get member by wallet", "wallet_address = ?", wallet)
}

func (s *MemberStore) GetByEmail(ctx context.Context, email string) (*model.Member, error) {
	return s.getOne(ctx, "get member by email", "email = ?", email)
}

// Balance reads a member's current token balance.
func (s *MemberStore) Balance(ctx context.Context, id int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT token_balance FROM members WHERE id = ?`, id).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, apperr.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// AddTokens atomically adds amount to the balance and returns the new value.
func (s *MemberStore) AddTokens(ctx context.Context, id, amount int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE members SET token_balance = token_balance + ? WHERE id = ? RETURNING token_balance`,
		amount, id,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, apperr.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add tokens: %w", err)
	}
	return balance, nil
}

func (s *MemberStore) UpdateDisplayName(ctx context.Context, id int64, name string) (*model.Member, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE members SET display_name = ? WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("update display name: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

func (s *MemberStore) SetRole(ctx context.Context, id int64, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE members SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ListByBalance returns members ordered by token balance, highest first.
func (s *MemberStore) ListByBalance(ctx context.Context, limit int) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberCols+` FROM members ORDER BY token_balance DESC, id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list members by balance: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *MemberStore) Stats(ctx context.Context) (*model.MemberStats, error) {
	var st model.MemberStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(token_balance), 0) FROM members`,
	).Scan(&st.MemberCount, &st.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("member stats: %w", err)
	}
	return &st, nil
}
