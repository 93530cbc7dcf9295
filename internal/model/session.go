package model

import "time"

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"-"`
	MemberID  int64     `json:"member_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginCode is a one-time code mailed for email sign-in. Wallet optionally
// links a wallet address to a member created through the email flow.
type LoginCode struct {
	ID        int64      `json:"id"`
	Code      string     `json:"-"`
	Email     string     `json:"email"`
	Wallet    string     `json:"wallet,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
}
