package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/daostore/internal/backup"
	"github.com/dukerupert/daostore/internal/model"
)

type BackupHandler struct {
	manager *backup.Manager
	logger  *slog.Logger
}

func NewBackupHandler(m *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, logger: logger}
}

// Run handles POST /api/admin/backups
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	b, err := h.manager.RunNow(r.Context())
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	case errors.Is(err, backup.ErrInProgress):
		writeError(w, http.StatusConflict, "a backup is already running")
		return
	case err != nil:
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusBadGateway, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type backupListResponse struct {
	Status  backup.Status  `json:"status"`
	Backups []model.Backup `json:"backups"`
}

// List handles GET /api/admin/backups?limit=
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeErr(w, r, h.logger, "list backups", err)
		return
	}
	backups, err := h.manager.List(r.Context(), limit)
	if err != nil {
		writeErr(w, r, h.logger, "list backups", err)
		return
	}
	writeJSON(w, http.StatusOK, backupListResponse{Status: h.manager.Status(), Backups: backups})
}
