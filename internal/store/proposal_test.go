package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/model"
)

func createTestProposal(t *testing.T, db *sql.DB, proposerID int64, now time.Time, window time.Duration) *model.Proposal {
	t.Helper()
	p, err := NewProposalStore(db).Create(context.Background(), model.Proposal{
		Title:        "Fund the hackathon",
		Description:  "Spend 500 on prizes",
		ProposerID:   proposerID,
		Status:       model.ProposalStatusActive,
		VotingEndsAt: now.Add(window),
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	return p
}

func TestProposalCreateAndList(t *testing.T) {
	db := setupTestDB(t)
	ps := NewProposalStore(db)
	ctx := context.Background()
	m := createTestMember(t, db, "proposer@example.com", 10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := createTestProposal(t, db, m.ID, now, 7*24*time.Hour)
	if p.VotesFor != 0 || p.VotesAgainst != 0 || p.VotesAbstain != 0 {
		t.Errorf("new proposal has votes: %+v", p)
	}
	if !p.VotingEndsAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("voting_ends_at = %v", p.VotingEndsAt)
	}

	createTestProposal(t, db, m.ID, now.Add(time.Hour), time.Hour)
	if err := ps.SetStatus(ctx, p.ID, model.ProposalStatusActive, model.ProposalStatusRejected, nil); err != nil {
		t.Fatalf("set status: %v", err)
	}

	all, err := ps.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[1].ID != p.ID {
		t.Errorf("list = %+v", all)
	}

	active, _ := ps.List(ctx, model.ProposalStatusActive)
	if len(active) != 1 {
		t.Errorf("active = %d, want 1", len(active))
	}
}

func TestProposalAddVotes(t *testing.T) {
	db := setupTestDB(t)
	ps := NewProposalStore(db)
	ctx := context.Background()
	m := createTestMember(t, db, "voter@example.com", 10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := createTestProposal(t, db, m.ID, now, time.Hour)

	if err := ps.AddVotes(ctx, p.ID, model.VoteFor, 10, now); err != nil {
		t.Fatalf("add for: %v", err)
	}
	if err := ps.AddVotes(ctx, p.ID, model.VoteFor, 20, now); err != nil {
		t.Fatalf("add for: %v", err)
	}
	if err := ps.AddVotes(ctx, p.ID, model.VoteAbstain, 3, now); err != nil {
		t.Fatalf("add abstain: %v", err)
	}

	if err := ps.AddVotes(ctx, p.ID, model.VoteAgainst, 5, now.Add(2*time.Hour)); !errors.Is(err, apperr.ErrNotActive) {
		t.Errorf("vote after window: err = %v, want ErrNotActive", err)
	}
	if err := ps.AddVotes(ctx, p.ID, "maybe", 5, now); err == nil {
		t.Error("expected error for unknown choice")
	}

	got, _ := ps.GetByID(ctx, p.ID)
	if got.VotesFor != 30 || got.VotesAgainst != 0 || got.VotesAbstain != 3 {
		t.Errorf("totals = %d/%d/%d, want 30/0/3", got.VotesFor, got.VotesAgainst, got.VotesAbstain)
	}
}

func TestProposalSetStatusGuarded(t *testing.T) {
	db := setupTestDB(t)
	ps := NewProposalStore(db)
	ctx := context.Background()
	m := createTestMember(t, db, "exec@example.com", 10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := createTestProposal(t, db, m.ID, now, time.Hour)

	if err := ps.SetStatus(ctx, p.ID, model.ProposalStatusActive, model.ProposalStatusPassed, nil); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if err := ps.SetStatus(ctx, p.ID, model.ProposalStatusActive, model.ProposalStatusRejected, nil); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("second finalize: err = %v, want ErrInvalidTransition", err)
	}

	executedAt := now.Add(2 * time.Hour)
	if err := ps.SetStatus(ctx, p.ID, model.ProposalStatusPassed, model.ProposalStatusExecuted, &executedAt); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got, _ := ps.GetByID(ctx, p.ID)
	if got.Status != model.ProposalStatusExecuted || got.ExecutedAt == nil || !got.ExecutedAt.Equal(executedAt) {
		t.Errorf("got %+v", got)
	}
}

func TestProposalListExpiredActive(t *testing.T) {
	db := setupTestDB(t)
	ps := NewProposalStore(db)
	m := createTestMember(t, db, "expiry@example.com", 10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	expired := createTestProposal(t, db, m.ID, now.Add(-2*time.Hour), time.Hour)
	createTestProposal(t, db, m.ID, now, time.Hour)

	got, err := ps.ListExpiredActive(context.Background(), now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(got) != 1 || got[0].ID != expired.ID {
		t.Errorf("expired = %+v, want only %d", got, expired.ID)
	}
}
