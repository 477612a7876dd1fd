package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/pendo/climate-assistant/pipeline_manager"
	"github.com/pendo/climate-assistant/services/rag_service"
)

// ResumeHandler covers resume upload, lookup and similarity search.
type ResumeHandler struct {
	queue     Queue
	auth      Authenticator
	resumes   ResumeReader
	embedder  QueryEmbedder
	retriever Retriever
	logger    *slog.Logger
}

func NewResumeHandler(queue Queue, authenticator Authenticator, resumes ResumeReader, embedder QueryEmbedder, retriever Retriever, logger *slog.Logger) *ResumeHandler {
	return &ResumeHandler{
		queue:     queue,
		auth:      authenticator,
		resumes:   resumes,
		embedder:  embedder,
		retriever: retriever,
		logger:    logger,
	}
}

// Upload handles POST /resume/upload. Only PDF resumes are accepted; the
// job replaces any previously stored resume for the caller.
func (h *ResumeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.FromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "a resume file is required")
		return
	}
	defer file.Close()

	if strings.ToLower(filepath.Ext(header.Filename)) != ".pdf" {
		writeJSONError(w, http.StatusBadRequest, "resume must be a PDF file")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if len(content) == 0 {
		writeJSONError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	jobID, err := h.queue.Enqueue(pipeline_manager.Task{
		Type:    pipeline_manager.TaskResume,
		Content: content,
		Metadata: rag_service.DocumentMetadata{
			UserID:   user.UserID,
			Filename: header.Filename,
		},
	})
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "processing queue is full, try again later")
		return
	}

	h.logger.Info("Resume queued",
		slog.String("job_id", jobID),
		slog.String("user_id", user.UserID),
		slog.String("filename", header.Filename),
		slog.Int("size", len(content)))

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(pipeline_manager.StatusQueued),
	})
}

// Get handles GET /resume/{user_id}. Users can read their own resume;
// admin and partner accounts can read anyone's.
func (h *ResumeHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.FromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	targetUserID := mux.Vars(r)["user_id"]
	if targetUserID != user.UserID && !user.IsPrivileged() {
		writeJSONError(w, http.StatusForbidden, "cannot access another user's resume")
		return
	}

	info, err := h.resumes.LatestResume(r.Context(), targetUserID)
	if err != nil {
		h.logger.Error("Resume lookup failed",
			slog.String("user_id", targetUserID),
			slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to look up resume")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// Search handles GET /resume/search?q=...: similarity search over the
// caller's own resume chunks.
func (h *ResumeHandler) Search(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.FromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSONError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	targetUserID := user.UserID
	if requested := r.URL.Query().Get("user_id"); requested != "" && requested != user.UserID {
		if !user.IsPrivileged() {
			writeJSONError(w, http.StatusForbidden, "cannot search another user's resume")
			return
		}
		targetUserID = requested
	}

	embedding, err := h.embedder.EmbedQuery(r.Context(), query)
	if err != nil {
		h.logger.Error("Query embedding failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusBadGateway, "embedding service unavailable")
		return
	}

	results, err := h.retriever.MatchResumeChunks(r.Context(), embedding, 0.25, 5, targetUserID)
	if err != nil {
		h.logger.Error("Resume search failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "resume search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"user_id": targetUserID,
		"results": results,
	})
}
