package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"moltby/internal/cron"
	"moltby/internal/gateway"
	logx "moltby/pkg/logx"
)

const msgJobNotFound = "Job not found"

type createJobRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AgentID     string `json:"agentId"`
	Schedule    string `json:"schedule"`
	ChatID      string `json:"chatId"`
	Target      string `json:"target"`
	Message     string `json:"message"`
	Enabled     *bool  `json:"enabled"`
	WakeMode    string `json:"wakeMode"`
	PayloadType string `json:"payloadType"`
}

func (req createJobRequest) def() cron.JobDef {
	target := req.ChatID
	if strings.TrimSpace(target) == "" {
		target = req.Target
	}
	return cron.JobDef{
		Name:        req.Name,
		Description: req.Description,
		AgentID:     req.AgentID,
		Schedule:    req.Schedule,
		Target:      target,
		Message:     req.Message,
		Enabled:     req.Enabled,
		WakeMode:    req.WakeMode,
		PayloadType: req.PayloadType,
	}
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	snap := a.sched.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": snap.Jobs})
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	ji, err := a.sched.Describe(r.PathValue("id"))
	if err != nil {
		a.cronError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": ji})
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	start := a.now()
	var req createJobRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	job, err := a.sched.CreateJob(req.def())
	a.record(r, start, "cron.create", job.ID, err, map[string]string{"name": req.Name, "schedule": req.Schedule})
	if err != nil {
		a.cronError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

func (a *API) deleteJob(w http.ResponseWriter, r *http.Request) {
	start := a.now()
	id := r.PathValue("id")
	err := a.sched.DeleteJob(id)
	a.record(r, start, "cron.delete", id, err, nil)
	if err != nil {
		a.cronError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) toggleJob(w http.ResponseWriter, r *http.Request) {
	start := a.now()
	id := r.PathValue("id")
	job, err := a.sched.ToggleJob(id)
	a.record(r, start, "cron.toggle", id, err, map[string]bool{"enabled": job.Enabled})
	if err != nil {
		a.cronError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

// runJob dispatches once now. A send failure is still a completed run and is
// reported with the updated job.
func (a *API) runJob(w http.ResponseWriter, r *http.Request) {
	start := a.now()
	id := r.PathValue("id")
	job, err := a.sched.RunJob(r.Context(), id)
	a.record(r, start, "cron.run", id, err, nil)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
	case errors.Is(err, cron.ErrNotFound):
		writeError(w, http.StatusNotFound, msgJobNotFound)
	case errors.Is(err, gateway.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Bot is not running")
	default:
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error(), "job": job})
	}
}

func (a *API) cronError(w http.ResponseWriter, err error) {
	var ve *cron.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, cron.ErrNotFound):
		writeError(w, http.StatusNotFound, msgJobNotFound)
	default:
		a.log.Warn("cron api error", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
