package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"moltby/internal/bot"
	logx "moltby/pkg/logx"
)

type botRequest struct {
	Token  string `json:"token"`
	ChatID string `json:"chatId"`
}

func (a *API) botStatus(w http.ResponseWriter, r *http.Request) {
	st := a.bot.Status()
	if !st.Running {
		writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "running",
		"username":  st.Username,
		"startTime": st.StartedAt,
		"uptime":    int64(st.Uptime.Seconds()),
	})
}

func (a *API) botSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.bot.Sessions().List()})
}

func (a *API) botStart(w http.ResponseWriter, r *http.Request) {
	start := a.now()
	var req botRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}

	res, err := a.bot.Start(r.Context(), req.Token, req.ChatID)
	if res.AlreadyRunning {
		writeJSON(w, http.StatusOK, map[string]any{"status": "running", "message": "Bot is already running"})
		return
	}
	a.record(r, start, "bot.start", res.Username, err, map[string]string{"welcome_chat": req.ChatID})
	if err != nil {
		a.log.Warn("bot start failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to start bot", "details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "started",
		"message":  "Bot started successfully",
		"username": res.Username,
	})
}

func (a *API) botStop(w http.ResponseWriter, r *http.Request) {
	start := a.now()
	username := a.bot.Status().Username
	if !a.bot.Stop(r.Context()) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "message": "No bot was running"})
		return
	}
	a.record(r, start, "bot.stop", username, nil, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "message": "Bot stopped successfully"})
}

func (a *API) botValidateToken(w http.ResponseWriter, r *http.Request) {
	var req botRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	me, err := a.bot.ValidateToken(r.Context(), req.Token)
	switch {
	case errors.Is(err, bot.ErrTokenRequired):
		writeError(w, http.StatusBadRequest, "Token is required")
	case err != nil:
		a.log.Debug("token validation failed", logx.Err(err))
		writeJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "error": "Invalid token or network error"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "username": me.Username, "id": me.ID})
	}
}

func (a *API) botValidateChat(w http.ResponseWriter, r *http.Request) {
	var req botRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	ci, err := a.bot.ValidateChat(r.Context(), req.Token, req.ChatID)
	switch {
	case errors.Is(err, bot.ErrTokenRequired), errors.Is(err, bot.ErrChatRequired):
		writeError(w, http.StatusBadRequest, "Token and Chat ID are required")
	case err != nil:
		a.log.Debug("chat validation failed", logx.String("chat", req.ChatID), logx.Err(err))
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"valid": false,
			"error": "Invalid Chat ID or bot hasn't started conversation with this user.",
		})
	default:
		title := ci.Title
		if title == "" {
			title = ci.Username
		}
		if title == "" {
			title = strconv.FormatInt(ci.ID, 10)
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "type": ci.Type, "title": title})
	}
}
