package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/dukerupert/daostore/internal/database"
	"github.com/dukerupert/daostore/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestMember(t *testing.T, db *sql.DB, email string, balance int64) *model.Member {
	t.Helper()
	m, err := NewMemberStore(db).Create(context.Background(), MemberParams{
		Email:        &email,
		DisplayName:  email,
		TokenBalance: balance,
	})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := createTestMember(t, db, "tx@example.com", 10)

	boom := errors.New("boom")
	err := RunInTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := NewMemberStore(tx).AddTokens(ctx, m.ID, 50); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	balance, err := NewMemberStore(db).Balance(ctx, m.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Errorf("balance = %d, want 10 after rollback", balance)
	}
}

func TestRunInTxCommits(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := createTestMember(t, db, "commit@example.com", 10)

	err := RunInTx(ctx, db, func(tx *sql.Tx) error {
		_, err := NewMemberStore(tx).AddTokens(ctx, m.ID, 5)
		return err
	})
	if err != nil {
		t.Fatalf("run in tx: %v", err)
	}

	balance, _ := NewMemberStore(db).Balance(ctx, m.ID)
	if balance != 15 {
		t.Errorf("balance = %d, want 15", balance)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := setupTestDB(t)
	createTestMember(t, db, "dup@example.com", 0)

	email := "dup@example.com"
	_, err := NewMemberStore(db).Create(context.Background(), MemberParams{Email: &email})
	if err == nil {
		t.Fatal("expected error for duplicate email")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
	if IsUniqueViolation(errors.New("other")) {
		t.Error("plain error reported as unique violation")
	}
}
