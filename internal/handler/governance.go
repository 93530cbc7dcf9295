package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/daostore/internal/auth"
	"github.com/dukerupert/daostore/internal/governance"
	"github.com/dukerupert/daostore/internal/model"
)

type GovernanceHandler struct {
	gov    *governance.Service
	logger *slog.Logger
}

func NewGovernanceHandler(gov *governance.Service, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{gov: gov, logger: logger}
}

// List handles GET /api/proposals?status=
func (h *GovernanceHandler) List(w http.ResponseWriter, r *http.Request) {
	status := model.ProposalStatus(r.URL.Query().Get("status"))
	proposals, err := h.gov.List(r.Context(), status)
	if err != nil {
		writeErr(w, r, h.logger, "list proposals", err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

type proposalResponse struct {
	Proposal *model.Proposal   `json:"proposal"`
	Tally    governance.Result `json:"tally"`
	MyVote   *model.Vote       `json:"my_vote"`
}

// Get handles GET /api/proposals/{id}. The response includes the current
// tally and the caller's own vote, if any.
func (h *GovernanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	p, err := h.gov.Get(r.Context(), id)
	if err != nil {
		writeErr(w, r, h.logger, "get proposal", err)
		return
	}
	v, err := h.gov.VoteOf(r.Context(), id, auth.MemberID(r.Context()))
	if err != nil {
		writeErr(w, r, h.logger, "get vote", err)
		return
	}
	writeJSON(w, http.StatusOK, proposalResponse{
		Proposal: p,
		Tally:    governance.Tally(p, h.gov.Now()),
		MyVote:   v,
	})
}

type createProposalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	VotingDays  int    `json:"voting_days"`
}

// Create handles POST /api/proposals
func (h *GovernanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.gov.CreateProposal(r.Context(), auth.MemberID(r.Context()), governance.ProposalInput{
		Title:       req.Title,
		Description: req.Description,
		VotingDays:  req.VotingDays,
	})
	if err != nil {
		writeErr(w, r, h.logger, "create proposal", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type voteRequest struct {
	Choice model.VoteChoice `json:"choice"`
}

type voteResponse struct {
	Vote     *model.Vote     `json:"vote"`
	Proposal *model.Proposal `json:"proposal"`
}

// Vote handles POST /api/proposals/{id}/votes
func (h *GovernanceHandler) Vote(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, p, err := h.gov.CastVote(r.Context(), id, auth.MemberID(r.Context()), req.Choice)
	if err != nil {
		writeErr(w, r, h.logger, "cast vote", err)
		return
	}
	writeJSON(w, http.StatusCreated, voteResponse{Vote: v, Proposal: p})
}

// Votes handles GET /api/proposals/{id}/votes
func (h *GovernanceHandler) Votes(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	votes, err := h.gov.Votes(r.Context(), id)
	if err != nil {
		writeErr(w, r, h.logger, "list votes", err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

// Execute handles POST /api/admin/proposals/{id}/execute
func (h *GovernanceHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	p, err := h.gov.Execute(r.Context(), id)
	if err != nil {
		writeErr(w, r, h.logger, "execute proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
