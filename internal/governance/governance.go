// Package governance runs token-weighted proposals and votes.
package governance

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/metrics"
	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/store"
	ws "github.com/dukerupert/daostore/internal/websocket"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 10000
	day               = 24 * time.Hour
)

type Config struct {
	DefaultVotingDays int
	MaxVotingDays     int
}

type Service struct {
	db        *sql.DB
	proposals *store.ProposalStore
	votes     *store.VoteStore
	hub       ws.Broadcaster
	logger    *slog.Logger
	now       func() time.Time

	defaultDays int
	maxDays     int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *sql.DB, cfg Config, hub ws.Broadcaster, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		db:          db,
		proposals:   store.NewProposalStore(db),
		votes:       store.NewVoteStore(db),
		hub:         hub,
		logger:      logger,
		now:         time.Now,
		defaultDays: cfg.DefaultVotingDays,
		maxDays:     cfg.MaxVotingDays,
	}
	if s.defaultDays <= 0 {
		s.defaultDays = 7
	}
	if s.maxDays <= 0 {
		s.maxDays = 90
	}
	s.maxDays = max(s.maxDays, s.defaultDays)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ProposalInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	// VotingDays is the length of the voting window. Zero selects the default.
	VotingDays int `json:"voting_days"`
}

func (s *Service) validate(in ProposalInput) (ProposalInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" {
		return in, apperr.Invalid("title", "is required")
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLen {
		return in, apperr.Invalid("title", "must be at most %d characters", maxTitleLen)
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		return in, apperr.Invalid("description", "must be at most %d characters", maxDescriptionLen)
	}
	if in.VotingDays == 0 {
		in.VotingDays = s.defaultDays
	}
	if in.VotingDays < 1 || in.VotingDays > s.maxDays {
		return in, apperr.Invalid("voting_days", "must be between 1 and %d", s.maxDays)
	}
	return in, nil
}

// CreateProposal opens a proposal for voting. The proposer must hold at
// least one token.
func (s *Service) CreateProposal(ctx context.Context, proposerID int64, in ProposalInput) (*model.Proposal, error) {
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	var created *model.Proposal
	err = store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		balance, err := store.NewMemberStore(tx).Balance(ctx, proposerID)
		if err != nil {
			return apperr.Store("create proposal", err)
		}
		if balance < 1 {
			return apperr.ErrInsufficientTokens
		}

		now := s.now().UTC()
		created, err = store.NewProposalStore(tx).Create(ctx, model.Proposal{
			Title:        in.Title,
			Description:  in.Description,
			ProposerID:   proposerID,
			Status:       model.ProposalStatusActive,
			VotingEndsAt: now.Add(time.Duration(in.VotingDays) * day),
			CreatedAt:    now,
		})
		if err != nil {
			return apperr.Store("create proposal", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("proposal created", "proposal_id", created.ID, "proposer_id", proposerID, "voting_ends_at", created.VotingEndsAt)
	s.hub.Broadcast(ws.ProposalCreated(created))
	return created, nil
}

// CastVote records a member's vote weighted by their balance at this moment
// and adds that weight to the proposal's running total.
func (s *Service) CastVote(ctx context.Context, proposalID, memberID int64, choice model.VoteChoice) (*model.Vote, *model.Proposal, error) {
	if !choice.Valid() {
		return nil, nil, apperr.Invalid("choice", "must be for, against or abstain")
	}

	var vote *model.Vote
	var updated *model.Proposal
	err := store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		proposals := store.NewProposalStore(tx)
		votes := store.NewVoteStore(tx)
		now := s.now().UTC()

		p, err := proposals.GetByID(ctx, proposalID)
		if err != nil {
			return apperr.Store("cast vote", err)
		}
		if p == nil {
			return apperr.ErrNotFound
		}
		if !p.VotingOpen(now) {
			return apperr.ErrNotActive
		}

		existing, err := votes.Get(ctx, proposalID, memberID)
		if err != nil {
			return apperr.Store("cast vote", err)
		}
		if existing != nil {
			return apperr.ErrDuplicateVote
		}

		weight, err := store.NewMemberStore(tx).Balance(ctx, memberID)
		if err != nil {
			return apperr.Store("cast vote", err)
		}
		if weight <= 0 {
			return apperr.ErrInsufficientTokens
		}

		vote, err = votes.Create(ctx, model.Vote{
			ProposalID:  proposalID,
			MemberID:    memberID,
			Choice:      choice,
			TokenWeight: weight,
			VotedAt:     now,
		})
		if err != nil {
			return apperr.Store("cast vote", err)
		}
		if err := proposals.AddVotes(ctx, proposalID, choice, weight, now); err != nil {
			return apperr.Store("cast vote", err)
		}

		updated, err = proposals.GetByID(ctx, proposalID)
		if err != nil {
			return apperr.Store("cast vote", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.RecordVote(string(choice), vote.TokenWeight)
	s.logger.Info("vote cast", "proposal_id", proposalID, "member_id", memberID, "choice", choice, "weight", vote.TokenWeight)
	s.hub.Broadcast(ws.ProposalVoted(updated))
	return vote, updated, nil
}

// Result is the outcome of counting a proposal's votes.
type Result struct {
	Outcome model.ProposalStatus `json:"outcome"`
	// Closed is false while votes can still change the outcome.
	Closed bool `json:"closed"`
}

// Tally counts a proposal. It passes iff votes for exceed votes against;
// ties and abstentions do not pass it.
func Tally(p *model.Proposal, now time.Time) Result {
	outcome := model.ProposalStatusRejected
	if p.VotesFor > p.VotesAgainst {
		outcome = model.ProposalStatusPassed
	}
	switch p.Status {
	case model.ProposalStatusPassed, model.ProposalStatusRejected, model.ProposalStatusExecuted:
		return Result{Outcome: p.Status, Closed: true}
	case model.ProposalStatusDraft:
		return Result{Outcome: outcome}
	}
	return Result{Outcome: outcome, Closed: !p.VotingOpen(now)}
}

// FinalizeExpired closes every active proposal whose window has ended and
// returns the proposals it changed. A proposal finalized concurrently by
// another caller is skipped.
func (s *Service) FinalizeExpired(ctx context.Context) ([]model.Proposal, error) {
	now := s.now().UTC()
	expired, err := s.proposals.ListExpiredActive(ctx, now)
	if err != nil {
		return nil, apperr.Store("finalize proposals", err)
	}

	finalized := make([]model.Proposal, 0, len(expired))
	for _, candidate := range expired {
		var p *model.Proposal
		err := store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
			proposals := store.NewProposalStore(tx)
			current, err := proposals.GetByID(ctx, candidate.ID)
			if err != nil || current == nil {
				return err
			}
			outcome := Tally(current, now).Outcome
			if err := proposals.SetStatus(ctx, current.ID, model.ProposalStatusActive, outcome, nil); err != nil {
				return err
			}
			p, err = proposals.GetByID(ctx, current.ID)
			return err
		})
		if errors.Is(err, apperr.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return finalized, apperr.Store("finalize proposals", err)
		}
		if p == nil {
			continue
		}

		metrics.RecordProposalFinalized(string(p.Status))
		s.logger.Info("proposal finalized", "proposal_id", p.ID, "outcome", p.Status,
			"votes_for", p.VotesFor, "votes_against", p.VotesAgainst, "votes_abstain", p.VotesAbstain)
		s.hub.Broadcast(ws.ProposalFinalized(p))
		finalized = append(finalized, *p)
	}
	return finalized, nil
}

// Execute marks a passed proposal as executed.
func (s *Service) Execute(ctx context.Context, proposalID int64) (*model.Proposal, error) {
	p, err := s.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransitionTo(model.ProposalStatusExecuted) {
		return nil, apperr.ErrInvalidTransition
	}

	now := s.now().UTC()
	if err := s.proposals.SetStatus(ctx, proposalID, model.ProposalStatusPassed, model.ProposalStatusExecuted, &now); err != nil {
		return nil, apperr.Store("execute proposal", err)
	}
	p, err = s.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("proposal executed", "proposal_id", p.ID)
	s.hub.Broadcast(ws.ProposalExecuted(p))
	return p, nil
}

// List returns proposals newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status model.ProposalStatus) ([]model.Proposal, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Invalid("status", "unknown status %q", status)
	}
	proposals, err := s.proposals.List(ctx, status)
	if err != nil {
		return nil, apperr.Store("list proposals", err)
	}
	if proposals == nil {
		proposals = []model.Proposal{}
	}
	return proposals, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*model.Proposal, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Store("get proposal", err)
	}
	if p == nil {
		return nil, apperr.ErrNotFound
	}
	return p, nil
}

// VoteOf returns the member's vote, or nil if they have not voted.
func (s *Service) VoteOf(ctx context.Context, proposalID, memberID int64) (*model.Vote, error) {
	v, err := s.votes.Get(ctx, proposalID, memberID)
	if err != nil {
		return nil, apperr.Store("get vote", err)
	}
	return v, nil
}

func (s *Service) Votes(ctx context.Context, proposalID int64) ([]model.Vote, error) {
	if _, err := s.Get(ctx, proposalID); err != nil {
		return nil, err
	}
	votes, err := s.votes.ListByProposal(ctx, proposalID)
	if err != nil {
		return nil, apperr.Store("list votes", err)
	}
	if votes == nil {
		votes = []model.Vote{}
	}
	return votes, nil
}

// Now reports the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}
