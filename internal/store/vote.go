package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/model"
)

type VoteStore struct {
	db Querier
}

func NewVoteStore(db Querier) *VoteStore {
	return &VoteStore{db: db}
}

func scanVote(row scanner) (*model.Vote, error) {
	var v model.Vote
	err := row.Scan(&v.ID, &v.ProposalID, &v.MemberID, &v.Choice, &v.TokenWeight, &v.VotedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

const voteCols = `id, proposal_id, member_id, choice, token_weight, voted_at`

// Create records a vote. A second vote by the same member on the same
// proposal fails with ErrDuplicateVote.
func (s *VoteStore) Create(ctx context.Context, v model.Vote) (*model.Vote, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO votes (proposal_id, member_id, choice, token_weight, voted_at) VALUES (?, ?, ?, ?, ?)`,
		v.ProposalID, v.MemberID, v.Choice, v.TokenWeight, v.VotedAt.UTC(),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, apperr.ErrDuplicateVote
		}
		return nil, fmt.Errorf("insert vote: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+voteCols+` FROM votes WHERE id = ?`, id)
	return scanVote(row)
}

// Get returns the member's vote on a proposal, or nil if there is none.
func (s *VoteStore) Get(ctx context.Context, proposalID, memberID int64) (*model.Vote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+voteCols+` FROM votes WHERE proposal_id = ? AND member_id = ?`, proposalID, memberID,
	)
	v, err := scanVote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vote: %w", err)
	}
	return v, nil
}

func (s *VoteStore) ListByProposal(ctx context.Context, proposalID int64) ([]model.Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+voteCols+` FROM votes WHERE proposal_id = ? ORDER BY voted_at ASC, id ASC`, proposalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []model.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, *v)
	}
	return votes, rows.Err()
}

// Sums recomputes per-choice weight totals from the vote rows.
func (s *VoteStore) Sums(ctx context.Context, proposalID int64) (map[model.VoteChoice]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT choice, SUM(token_weight) FROM votes WHERE proposal_id = ? GROUP BY choice`, proposalID,
	)
	if err != nil {
		return nil, fmt.Errorf("sum votes: %w", err)
	}
	defer rows.Close()

	sums := map[model.VoteChoice]int64{}
	for rows.Next() {
		var choice model.VoteChoice
		var total int64
		if err := rows.Scan(&choice, &total); err != nil {
			return nil, fmt.Errorf("scan vote sum: %w", err)
		}
		sums[choice] = total
	}
	return sums, rows.Err()
}

func (s *VoteStore) Count(ctx context.Context, proposalID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE proposal_id = ?`, proposalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return n, nil
}
