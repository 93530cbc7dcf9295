package store

import (
	"context"
	"testing"
	"time"
)

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	ctx := context.Background()
	m := createTestMember(t, db, "session@example.com", 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sess, err := ss.Create(ctx, m.ID, now)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}
	if !sess.ExpiresAt.Equal(now.Add(SessionTTL)) {
		t.Errorf("expires_at = %v, want %v", sess.ExpiresAt, now.Add(SessionTTL))
	}

	got, err := ss.GetByToken(ctx, sess.Token, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got == nil || got.MemberID != m.ID {
		t.Fatalf("get by token = %+v, want member %d", got, m.ID)
	}

	expired, err := ss.GetByToken(ctx, sess.Token, now.Add(SessionTTL+time.Minute))
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if expired != nil {
		t.Error("expected nil for expired session")
	}

	if err := ss.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	gone, _ := ss.GetByToken(ctx, sess.Token, now)
	if gone != nil {
		t.Error("expected nil after delete")
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	ctx := context.Background()
	m := createTestMember(t, db, "cleanup@example.com", 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := ss.Create(ctx, m.ID, now.Add(-2*SessionTTL)); err != nil {
		t.Fatalf("create old session: %v", err)
	}
	if _, err := ss.Create(ctx, m.ID, now); err != nil {
		t.Fatalf("create session: %v", err)
	}

	n, err := ss.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}
