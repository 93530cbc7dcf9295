package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/daostore/internal/ledger"
)

type MemberHandler struct {
	ledger *ledger.Service
	logger *slog.Logger
}

func NewMemberHandler(l *ledger.Service, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{ledger: l, logger: logger}
}

type leaderboardEntry struct {
	Rank         int    `json:"rank"`
	MemberID     int64  `json:"member_id"`
	DisplayName  string `json:"display_name"`
	TokenBalance int64  `json:"token_balance"`
}

// Leaderboard handles GET /api/members/leaderboard?limit=
// Contact details are left out since any member can read it.
func (h *MemberHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeErr(w, r, h.logger, "leaderboard", err)
		return
	}
	members, err := h.ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		writeErr(w, r, h.logger, "leaderboard", err)
		return
	}

	entries := make([]leaderboardEntry, 0, len(members))
	for i, m := range members {
		entries = append(entries, leaderboardEntry{
			Rank:         i + 1,
			MemberID:     m.ID,
			DisplayName:  m.DisplayName,
			TokenBalance: m.TokenBalance,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// Stats handles GET /api/stats
func (h *MemberHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.Stats(r.Context())
	if err != nil {
		writeErr(w, r, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
