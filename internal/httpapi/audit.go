package httpapi

import (
	"net/http"
	"strconv"

	"moltby/internal/storage"
	logx "moltby/pkg/logx"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// listAudit returns recent operator actions, newest first.
func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	if a.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "entries": []storage.AuditEntry{}})
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxAuditLimit)
	}
	entries, err := a.audit.RecentAudit(r.Context(), limit)
	if err != nil {
		a.log.Warn("audit read failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to read audit log")
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "entries": entries})
}
