package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthHandler reports service liveness and queue occupancy.
type HealthHandler struct {
	db     *pgxpool.Pool
	queue  Queue
	logger *slog.Logger
}

func NewHealthHandler(db *pgxpool.Pool, queue Queue, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, logger: logger}
}

// Health handles GET /health. The endpoint is unauthenticated so load
// balancers can probe it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	healthy := true
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("Database ping failed", slog.String("error", err.Error()))
			dbStatus = "unreachable"
			healthy = false
		}
	} else {
		dbStatus = "not configured"
		healthy = false
	}

	status := http.StatusOK
	statusText := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "unhealthy"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":    statusText,
		"database":  dbStatus,
		"workers":   h.queue.WorkerCount(),
		"jobs":      h.queue.JobCount(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
