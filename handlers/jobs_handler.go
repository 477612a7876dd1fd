package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pendo/climate-assistant/pipeline_manager"
)

// JobsHandler exposes the state of the processing queue.
type JobsHandler struct {
	queue  Queue
	auth   Authenticator
	logger *slog.Logger
}

func NewJobsHandler(queue Queue, authenticator Authenticator, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{queue: queue, auth: authenticator, logger: logger}
}

// Status handles GET /status/{job_id}. Unknown ids answer 404 with a
// not_found status body rather than a bare error.
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.FromRequest(r); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	job := h.queue.GetJob(mux.Vars(r)["job_id"])
	if job.Status == pipeline_manager.StatusNotFound {
		writeJSON(w, http.StatusNotFound, job)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// List handles GET /jobs with optional status, user_id, limit and offset
// query parameters. Regular users only ever see their own jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.FromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	q := r.URL.Query()

	userFilter := user.UserID
	if user.IsPrivileged() {
		userFilter = q.Get("user_id")
	}

	status := pipeline_manager.JobStatus(q.Get("status"))
	switch status {
	case "", pipeline_manager.StatusQueued, pipeline_manager.StatusProcessing,
		pipeline_manager.StatusCompleted, pipeline_manager.StatusFailed:
	default:
		writeJSONError(w, http.StatusBadRequest, "unknown status filter: "+string(status))
		return
	}

	limit := intParam(q.Get("limit"), 50)
	if limit > 200 {
		limit = 200
	}
	offset := intParam(q.Get("offset"), 0)

	jobs, total := h.queue.ListJobs(status, userFilter, limit, offset)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
