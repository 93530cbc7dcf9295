// Package auth carries the authenticated session through a request context.
package auth

import (
	"context"

	"github.com/dukerupert/daostore/internal/model"
)

type contextKey struct{}

// Session identifies the member behind a request.
type Session struct {
	MemberID  int64
	Role      string
	SessionID int64
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok
}

func MemberID(ctx context.Context) int64 {
	s, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return s.MemberID
}

func IsAdmin(ctx context.Context) bool {
	s, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return s.Role == model.RoleAdmin
}
