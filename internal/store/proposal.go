package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/model"
)

type ProposalStore struct {
	db Querier
}

func NewProposalStore(db Querier) *ProposalStore {
	return &ProposalStore{db: db}
}

func scanProposal(row scanner) (*model.Proposal, error) {
	var p model.Proposal
	var executedAt sql.NullTime

	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.ProposerID, &p.Status,
		&p.VotesFor, &p.VotesAgainst, &p.VotesAbstain, &p.VotingEndsAt, &p.CreatedAt, &executedAt)
	if err != nil {
		return nil, err
	}
	p.ExecutedAt = timePtr(executedAt)
	return &p, nil
}

const proposalCols = `id, title, description, proposer_id, status, votes_for, votes_against, votes_abstain, voting_ends_at, created_at, executed_at`

func (s *ProposalStore) Create(ctx context.Context, p model.Proposal) (*model.Proposal, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO proposals (title, description, proposer_id, status, voting_ends_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Title, p.Description, p.ProposerID, p.Status, p.VotingEndsAt.UTC(), p.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert proposal: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ProposalStore) GetByID(ctx context.Context, id int64) (*model.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// List returns proposals newest first. An empty status matches all.
func (s *ProposalStore) List(ctx context.Context, status model.ProposalStatus) ([]model.Proposal, error) {
	return s.query(ctx, "list proposals",
		`SELECT `+proposalCols+` FROM proposals WHERE (? = '' OR status = ?) ORDER BY created_at DESC, id DESC`,
		status, status,
	)
}

// ListExpiredActive returns active proposals whose voting window closed
// before now.
func (s *ProposalStore) ListExpiredActive(ctx context.Context, now time.Time) ([]model.Proposal, error) {
	return s.query(ctx, "list expired proposals",
		`SELECT `+proposalCols+` FROM proposals WHERE status = ? AND voting_ends_at < ? ORDER BY voting_ends_at ASC`,
		model.ProposalStatusActive, now.UTC(),
	)
}

func (s *ProposalStore) query(ctx context.Context, op, q string, args ...any) ([]model.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, *p)
	}
	return proposals, rows.Err()
}

// AddVotes adds weight to the running total for choice. The update only
// applies while the proposal is active and its window is open at now.
func (s *ProposalStore) AddVotes(ctx context.Context, id int64, choice model.VoteChoice, weight int64, now time.Time) error {
	var col string
	switch choice {
	case model.VoteFor:
		col = "votes_for"
	case model.VoteAgainst:
		col = "votes_against"
	case model.VoteAbstain:
		col = "votes_abstain"
	default:
		return apperr.Invalid("choice", "must be for, against or abstain")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET `+col+` = `+col+` + ? WHERE id = ? AND status = ? AND voting_ends_at >= ?`,
		weight, id, model.ProposalStatusActive, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("add votes: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.ErrNotActive
	}
	return nil
}

// SetStatus moves a proposal from one status to another. It fails with
// ErrInvalidTransition if the proposal is no longer in status from, so
// concurrent transitions cannot both win.
func (s *ProposalStore) SetStatus(ctx context.Context, id int64, from, to model.ProposalStatus, executedAt *time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = ?, executed_at = COALESCE(?, executed_at) WHERE id = ? AND status = ?`,
		to, nullTime(executedAt), id, from,
	)
	if err != nil {
		return fmt.Errorf("set proposal status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.ErrInvalidTransition
	}
	return nil
}
