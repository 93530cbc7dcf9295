package model

import "time"

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Member is a participant holding a token balance. At least one of
// WalletAddress and Email is set.
type Member struct {
	ID            int64     `json:"id"`
	WalletAddress *string   `json:"wallet_address"`
	Email         *string   `json:"email"`
	DisplayName   string    `json:"display_name"`
	TokenBalance  int64     `json:"token_balance"`
	Role          string    `json:"role"`
	JoinedAt      time.Time `json:"joined_at"`
}

func (m *Member) IsAdmin() bool {
	return m.Role == RoleAdmin
}

type MemberStats struct {
	MemberCount int64 `json:"member_count"`
	TotalTokens int64 `json:"total_tokens"`
}
