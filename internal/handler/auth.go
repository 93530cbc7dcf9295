package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/auth"
	"github.com/dukerupert/daostore/internal/ledger"
	"github.com/dukerupert/daostore/internal/middleware"
	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/store"
	"github.com/dukerupert/daostore/internal/wallet"
)

const maxCodeAttempts = 5

// CodeSender delivers one-time sign-in codes.
type CodeSender interface {
	Configured() bool
	SendLoginCode(ctx context.Context, toEmail, code string) error
}

type AuthHandler struct {
	ledger        *ledger.Service
	sessions      *store.SessionStore
	codes         *store.LoginCodeStore
	sender        CodeSender
	secureCookies bool
	logger        *slog.Logger
	now           func() time.Time
}

func NewAuthHandler(l *ledger.Service, sessions *store.SessionStore, codes *store.LoginCodeStore, sender CodeSender, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		ledger:        l,
		sessions:      sessions,
		codes:         codes,
		sender:        sender,
		secureCookies: secureCookies,
		logger:        logger,
		now:           time.Now,
	}
}

type loginResponse struct {
	Member  *model.Member `json:"member"`
	Created bool          `json:"created"`
}

type walletLoginRequest struct {
	WalletAddress string `json:"wallet_address"`
	DisplayName   string `json:"display_name"`
}

// WalletLogin handles POST /api/auth/wallet. The address is trusted as
// given; no signature is checked.
func (h *AuthHandler) WalletLogin(w http.ResponseWriter, r *http.Request) {
	var req walletLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, created, err := h.ledger.Identify(r.Context(), ledger.Credential{
		Kind:        ledger.CredentialWallet,
		Value:       req.WalletAddress,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeErr(w, r, h.logger, "wallet login", err)
		return
	}
	h.startSession(w, r, m, created)
}

type codeRequest struct {
	Email         string `json:"email"`
	WalletAddress string `json:"wallet_address"`
}

// RequestCode handles POST /api/auth/email. The response is the same
// whether or not the address belongs to a member.
func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	addr, err := ledger.NormalizeEmail(req.Email)
	if err != nil {
		writeErr(w, r, h.logger, "request code", err)
		return
	}
	var walletAddr string
	if strings.TrimSpace(req.WalletAddress) != "" {
		if walletAddr, err = wallet.Normalize(req.WalletAddress); err != nil {
			writeErr(w, r, h.logger, "request code", apperr.Invalid("wallet_address", "must be a 0x-prefixed 40 digit hex address"))
			return
		}
	}

	lc, err := h.codes.Create(r.Context(), addr, walletAddr, h.now())
	if err != nil {
		h.logger.Error("create login code", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !h.sender.Configured() {
		h.logger.Warn("email not configured, login code not sent", "email", addr)
	} else if err := h.sender.SendLoginCode(r.Context(), addr, lc.Code); err != nil {
		h.logger.Error("send login code", "email", addr, "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "code_sent"})
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyCode handles POST /api/auth/email/verify.
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, err := ledger.NormalizeEmail(req.Email)
	if err != nil {
		writeErr(w, r, h.logger, "verify code", err)
		return
	}

	lc, msg := h.validateCode(r.Context(), addr, strings.TrimSpace(req.Code))
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	m, created, err := h.ledger.Identify(r.Context(), ledger.Credential{
		Kind:   ledger.CredentialEmail,
		Value:  lc.Email,
		Wallet: lc.Wallet,
	})
	if err != nil {
		writeErr(w, r, h.logger, "email login", err)
		return
	}
	h.startSession(w, r, m, created)
}

// validateCode checks code against the newest pending code for addr and
// returns a client-facing message on failure.
func (h *AuthHandler) validateCode(ctx context.Context, addr, code string) (*model.LoginCode, string) {
	if code == "" {
		return nil, "code is required"
	}

	latest, err := h.codes.GetLatestByEmail(ctx, addr, h.now())
	if err != nil {
		h.logger.Error("get login code", "error", err)
		return nil, "internal error"
	}
	if latest == nil {
		return nil, "code is invalid or has expired"
	}

	if latest.Code != code {
		attempts, err := h.codes.IncrementAttempts(ctx, latest.ID)
		if err != nil {
			h.logger.Error("increment attempts", "error", err)
		}
		if attempts >= maxCodeAttempts {
			if err := h.codes.MarkUsed(ctx, latest.ID, h.now()); err != nil {
				h.logger.Error("mark login code used", "error", err)
			}
			return nil, "too many incorrect attempts, request a new code"
		}
		return nil, "incorrect code"
	}

	if err := h.codes.MarkUsed(ctx, latest.ID, h.now()); err != nil {
		h.logger.Error("mark login code used", "error", err)
		return nil, "internal error"
	}
	return latest, ""
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, m *model.Member, created bool) {
	sess, err := h.sessions.Create(r.Context(), m.ID, h.now())
	if err != nil {
		h.logger.Error("create session", "member_id", m.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(store.SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secureCookies,
	})

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, loginResponse{Member: m, Created: created})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := auth.FromContext(r.Context()); ok {
		if err := h.sessions.Delete(r.Context(), s.SessionID); err != nil {
			h.logger.Error("delete session", "session_id", s.SessionID, "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	m, err := h.ledger.Get(r.Context(), auth.MemberID(r.Context()))
	if err != nil {
		writeErr(w, r, h.logger, "get member", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type profileRequest struct {
	DisplayName string `json:"display_name"`
}

// UpdateMe handles PUT /api/me.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.ledger.UpdateProfile(r.Context(), auth.MemberID(r.Context()), req.DisplayName)
	if err != nil {
		writeErr(w, r, h.logger, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
