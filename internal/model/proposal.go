package model

import "time"

type ProposalStatus string

const (
	ProposalStatusDraft    ProposalStatus = "draft"
	ProposalStatusActive   ProposalStatus = "active"
	ProposalStatusPassed   ProposalStatus = "passed"
	ProposalStatusRejected ProposalStatus = "rejected"
	ProposalStatusExecuted ProposalStatus = "executed"
)

func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalStatusDraft, ProposalStatusActive, ProposalStatusPassed, ProposalStatusRejected, ProposalStatusExecuted:
		return true
	}
	return false
}

// CanTransitionTo enforces draft -> active -> passed|rejected, passed -> executed.
func (s ProposalStatus) CanTransitionTo(next ProposalStatus) bool {
	switch s {
	case ProposalStatusDraft:
		return next == ProposalStatusActive
	case ProposalStatusActive:
		return next == ProposalStatusPassed || next == ProposalStatusRejected
	case ProposalStatusPassed:
		return next == ProposalStatusExecuted
	}
	return false
}

type Proposal struct {
	ID           int64          `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	ProposerID   int64          `json:"proposer_id"`
	Status       ProposalStatus `json:"status"`
	VotesFor     int64          `json:"votes_for"`
	VotesAgainst int64          `json:"votes_against"`
	VotesAbstain int64          `json:"votes_abstain"`
	VotingEndsAt time.Time      `json:"voting_ends_at"`
	CreatedAt    time.Time      `json:"created_at"`
	ExecutedAt   *time.Time     `json:"executed_at"`
}

// VotingOpen reports whether votes are accepted at now.
func (p *Proposal) VotingOpen(now time.Time) bool {
	return p.Status == ProposalStatusActive && !now.After(p.VotingEndsAt)
}

type VoteChoice string

const (
	VoteFor     VoteChoice = "for"
	VoteAgainst VoteChoice = "against"
	VoteAbstain VoteChoice = "abstain"
)

func (c VoteChoice) Valid() bool {
	return c == VoteFor || c == VoteAgainst || c == VoteAbstain
}

// Vote records a member's choice. TokenWeight is the member's balance when
// the vote was cast and never changes afterwards.
type Vote struct {
	ID          int64      `json:"id"`
	ProposalID  int64      `json:"proposal_id"`
	MemberID    int64      `json:"member_id"`
	Choice      VoteChoice `json:"choice"`
	TokenWeight int64      `json:"token_weight"`
	VotedAt     time.Time  `json:"voted_at"`
}
