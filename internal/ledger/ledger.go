// Package ledger owns member identity and token balances.
package ledger

import (
	"context"
	"database/sql"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/metrics"
	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/store"
	"github.com/dukerupert/daostore/internal/wallet"
)

const (
	maxIdentifyAttempts = 3
	maxDisplayNameLen   = 64
	defaultLeaderboard  = 10
	maxLeaderboard      = 100
)

type CredentialKind string

const (
	CredentialWallet CredentialKind = "wallet"
	CredentialEmail  CredentialKind = "email"
)

// Credential identifies a member. Email logins may carry a wallet address
// to attach to a newly created member.
type Credential struct {
	Kind        CredentialKind
	Value       string
	Wallet      string
	DisplayName string
}

type Config struct {
	StartingBonus int64
	AdminWallets  []string
	AdminEmails   []string
}

type Service struct {
	db            *sql.DB
	members       *store.MemberStore
	startingBonus int64
	admins        map[string]bool
	logger        *slog.Logger
}

func NewService(db *sql.DB, cfg Config, logger *slog.Logger) *Service {
	admins := make(map[string]bool)
	for _, w := range cfg.AdminWallets {
		if norm, err := wallet.Normalize(w); err == nil {
			admins[norm] = true
		} else {
			logger.Warn("ignoring invalid admin wallet", "wallet", w)
		}
	}
	for _, e := range cfg.AdminEmails {
		if norm, err := normalizeEmail(e); err == nil {
			admins[norm] = true
		} else {
			logger.Warn("ignoring invalid admin email", "email", e)
		}
	}

	return &Service{
		db:            db,
		members:       store.NewMemberStore(db),
		startingBonus: cfg.StartingBonus,
		admins:        admins,
		logger:        logger,
	}
}

// Identify returns the member for cred, creating one with the starting
// bonus if none exists. created reports whether a new member was made.
// A concurrent first login for the same identity loses the insert race and
// is resolved by looking the winner up again.
func (s *Service) Identify(ctx context.Context, cred Credential) (m *model.Member, created bool, err error) {
	key, params, err := s.prepare(cred)
	if err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < maxIdentifyAttempts; attempt++ {
		m, err = s.lookup(ctx, cred.Kind, key)
		if err != nil {
			return nil, false, apperr.Store("identify", err)
		}
		if m != nil {
			m, err = s.ensureRole(ctx, m, key)
			return m, false, err
		}

		m, err = s.members.Create(ctx, params)
		if err == nil {
			s.logger.Info("member created", "member_id", m.ID, "kind", cred.Kind, "bonus", s.startingBonus)
			return m, true, nil
		}
		if !store.IsUniqueViolation(err) {
			return nil, false, apperr.Store("identify", err)
		}

		// The attached wallet may belong to somebody else, in which case
		// looking the email up again will never succeed.
		if cred.Kind == CredentialEmail && params.Wallet != nil {
			owner, lerr := s.members.GetByWallet(ctx, *params.Wallet)
			if lerr != nil {
				return nil, false, apperr.Store("identify", lerr)
			}
			if owner != nil && (owner.Email == nil || !strings.EqualFold(*owner.Email, key)) {
				return nil, false, apperr.ErrDuplicateIdentity
			}
		}
		s.logger.Debug("identify lost insert race, retrying lookup", "attempt", attempt+1)
	}
	return nil, false, apperr.ErrDuplicateIdentity
}

func (s *Service) prepare(cred Credential) (string, store.MemberParams, error) {
	name := strings.TrimSpace(cred.DisplayName)
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return "", store.MemberParams{}, apperr.Invalid("display_name", "must be at most %d characters", maxDisplayNameLen)
	}
	params := store.MemberParams{
		DisplayName:  name,
		TokenBalance: s.startingBonus,
		Role:         model.RoleMember,
	}

	switch cred.Kind {
	case CredentialWallet:
		addr, err := wallet.Normalize(cred.Value)
		if err != nil {
			return "", params, apperr.Invalid("wallet_address", "must be a 0x-prefixed 40 digit hex address")
		}
		params.Wallet = &addr
		if s.admins[addr] {
			params.Role = model.RoleAdmin
		}
		return addr, params, nil

	case CredentialEmail:
		email, err := normalizeEmail(cred.Value)
		if err != nil {
			return "", params, err
		}
		params.Email = &email
		if strings.TrimSpace(cred.Wallet) != "" {
			addr, err := wallet.Normalize(cred.Wallet)
			if err != nil {
				return "", params, apperr.Invalid("wallet_address", "must be a 0x-prefixed 40 digit hex address")
			}
			params.Wallet = &addr
		}
		if s.admins[email] {
			params.Role = model.RoleAdmin
		}
		return email, params, nil
	}
	return "", params, apperr.Invalid("kind", "must be wallet or email")
}

func (s *Service) lookup(ctx context.Context, kind CredentialKind, key string) (*model.Member, error) {
	if kind == CredentialWallet {
		return s.members.GetByWallet(ctx, key)
	}
	return s.members.GetByEmail(ctx, key)
}

// ensureRole promotes an existing member whose identity was added to the
// admin list after they first signed in.
func (s *Service) ensureRole(ctx context.Context, m *model.Member, key string) (*model.Member, error) {
	if m.IsAdmin() || !s.admins[key] {
		return m, nil
	}
	if err := s.members.SetRole(ctx, m.ID, model.RoleAdmin); err != nil {
		return nil, apperr.Store("promote admin", err)
	}
	m.Role = model.RoleAdmin
	s.logger.Info("member promoted to admin", "member_id", m.ID)
	return m, nil
}

// Promote grants the admin role to the member identified by a wallet
// address or email.
func (s *Service) Promote(ctx context.Context, identifier string) (*model.Member, error) {
	var m *model.Member
	var err error
	if addr, werr := wallet.Normalize(identifier); werr == nil {
		m, err = s.members.GetByWallet(ctx, addr)
	} else if email, eerr := normalizeEmail(identifier); eerr == nil {
		m, err = s.members.GetByEmail(ctx, email)
	} else {
		return nil, apperr.Invalid("identifier", "must be a wallet address or email")
	}
	if err != nil {
		return nil, apperr.Store("promote", err)
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	if err := s.members.SetRole(ctx, m.ID, model.RoleAdmin); err != nil {
		return nil, apperr.Store("promote", err)
	}
	m.Role = model.RoleAdmin
	return m, nil
}

// Credit adds amount tokens to a member and returns the new balance.
func (s *Service) Credit(ctx context.Context, memberID, amount int64) (int64, error) {
	balance, err := CreditTx(ctx, s.db, memberID, amount)
	if err != nil {
		return 0, err
	}
	metrics.RecordTokensCredited("grant", amount)
	return balance, nil
}

// CreditTx credits within the caller's transaction.
func CreditTx(ctx context.Context, q store.Querier, memberID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, apperr.ErrInvalidAmount
	}
	balance, err := store.NewMemberStore(q).AddTokens(ctx, memberID, amount)
	if err != nil {
		return 0, apperr.Store("credit", err)
	}
	return balance, nil
}

func (s *Service) GetBalance(ctx context.Context, memberID int64) (int64, error) {
	balance, err := s.members.Balance(ctx, memberID)
	if err != nil {
		return 0, apperr.Store("get balance", err)
	}
	return balance, nil
}

func (s *Service) Get(ctx context.Context, memberID int64) (*model.Member, error) {
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, apperr.Store("get member", err)
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	return m, nil
}

func (s *Service) UpdateProfile(ctx context.Context, memberID int64, displayName string) (*model.Member, error) {
	name := strings.TrimSpace(displayName)
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return nil, apperr.Invalid("display_name", "must be at most %d characters", maxDisplayNameLen)
	}
	m, err := s.members.UpdateDisplayName(ctx, memberID, name)
	if err != nil {
		return nil, apperr.Store("update profile", err)
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	return m, nil
}

// Leaderboard returns the top members by balance. limit is clamped to
// 1..100 and defaults to 10.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.Member, error) {
	if limit <= 0 {
		limit = defaultLeaderboard
	}
	limit = min(limit, maxLeaderboard)
	members, err := s.members.ListByBalance(ctx, limit)
	if err != nil {
		return nil, apperr.Store("leaderboard", err)
	}
	return members, nil
}

func (s *Service) Stats(ctx context.Context) (*model.MemberStats, error) {
	st, err := s.members.Stats(ctx)
	if err != nil {
		return nil, apperr.Store("member stats", err)
	}
	return st, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", apperr.Invalid("email", "is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", apperr.Invalid("email", "is not a valid address")
	}
	return strings.ToLower(addr.Address), nil
}

// NormalizeEmail is exported for the login-code flow, which keys codes by
// the same canonical address.
func NormalizeEmail(raw string) (string, error) {
	return normalizeEmail(raw)
}

