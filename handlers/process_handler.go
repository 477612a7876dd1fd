package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/pendo/climate-assistant/pipeline_manager"
	"github.com/pendo/climate-assistant/services/rag_service"
)

const maxUploadBytes = 32 << 20

// ProcessHandler accepts documents for ingestion, either as uploaded files
// or as URLs to crawl, and hands them to the pipeline queue.
type ProcessHandler struct {
	queue  Queue
	auth   Authenticator
	logger *slog.Logger
}

func NewProcessHandler(queue Queue, authenticator Authenticator, logger *slog.Logger) *ProcessHandler {
	return &ProcessHandler{queue: queue, auth: authenticator, logger: logger}
}

// ProcessDocument handles POST /process. Multipart form fields: either
// "file" or "url", plus "title", "content_type", "target_table" and an
// optional "additional_metadata" JSON blob.
func (h *ProcessHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.FromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	targetTable := r.FormValue("target_table")
	if targetTable == "" {
		targetTable = rag_service.TargetKnowledgeResources
	}
	switch targetTable {
	case rag_service.TargetKnowledgeResources, rag_service.TargetJobListings,
		rag_service.TargetEducationPrograms, rag_service.TargetDocuments:
	default:
		writeJSONError(w, http.StatusBadRequest, "unknown target_table: "+targetTable)
		return
	}

	// Curated tables beyond the shared knowledge base are restricted to
	// admin and partner accounts.
	if targetTable != rag_service.TargetKnowledgeResources && !user.IsPrivileged() {
		writeJSONError(w, http.StatusForbidden, "insufficient permissions for target table "+targetTable)
		return
	}

	meta := rag_service.DocumentMetadata{
		Title:       r.FormValue("title"),
		ContentType: r.FormValue("content_type"),
		UserID:      user.UserID,
	}
	if extra := r.FormValue("additional_metadata"); extra != "" {
		if err := json.Unmarshal([]byte(extra), &meta); err != nil {
			writeJSONError(w, http.StatusBadRequest, "additional_metadata is not valid JSON")
			return
		}
		// Form fields win over the JSON blob for the identity fields.
		if title := r.FormValue("title"); title != "" {
			meta.Title = title
		}
		if ct := r.FormValue("content_type"); ct != "" {
			meta.ContentType = ct
		}
		meta.UserID = user.UserID
	}
	if meta.ContentType == "" {
		meta.ContentType = "document"
	}

	task, errMsg := h.buildTask(r, meta, targetTable)
	if errMsg != "" {
		writeJSONError(w, http.StatusBadRequest, errMsg)
		return
	}

	jobID, err := h.queue.Enqueue(task)
	if err != nil {
		h.logger.Warn("Enqueue rejected", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusServiceUnavailable, "processing queue is full, try again later")
		return
	}

	h.logger.Info("Document queued",
		slog.String("job_id", jobID),
		slog.String("task_type", string(task.Type)),
		slog.String("target_table", targetTable),
		slog.String("user_id", user.UserID))

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(pipeline_manager.StatusQueued),
	})
}

func (h *ProcessHandler) buildTask(r *http.Request, meta rag_service.DocumentMetadata, targetTable string) (pipeline_manager.Task, string) {
	if rawURL := r.FormValue("url"); rawURL != "" {
		if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
			return pipeline_manager.Task{}, "url must start with http:// or https://"
		}
		meta.SourceURL = rawURL
		return pipeline_manager.Task{
			Type:        pipeline_manager.TaskWebsite,
			URL:         rawURL,
			Metadata:    meta,
			TargetTable: targetTable,
		}, ""
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return pipeline_manager.Task{}, "either a file or a url is required"
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".pdf", ".docx", ".doc":
	default:
		return pipeline_manager.Task{}, "unsupported file type, expected .pdf, .docx or .doc"
	}

	content, err := io.ReadAll(file)
	if err != nil {
		return pipeline_manager.Task{}, "failed to read uploaded file"
	}
	if len(content) == 0 {
		return pipeline_manager.Task{}, "uploaded file is empty"
	}

	meta.Filename = header.Filename
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	return pipeline_manager.Task{
		Type:        pipeline_manager.TaskPDF,
		Content:     content,
		Metadata:    meta,
		TargetTable: targetTable,
	}, ""
}

type batchItem struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	TargetTable string `json:"target_table"`
}

type batchItemResult struct {
	URL   string `json:"url"`
	JobID string `json:"job_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// BatchProcess handles POST /batch: a JSON list of URLs to enqueue in one
// call. Restricted to admin and partner accounts.
func (h *ProcessHandler) BatchProcess(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.FromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	if !user.IsPrivileged() {
		writeJSONError(w, http.StatusForbidden, "batch processing requires an admin or partner account")
		return
	}

	var body struct {
		Items []batchItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Items) == 0 {
		writeJSONError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	results := make([]batchItemResult, 0, len(body.Items))
	queued := 0
	for _, item := range body.Items {
		res := batchItemResult{URL: item.URL}
		switch {
		case item.URL == "":
			res.Error = "missing url"
		default:
			targetTable := item.TargetTable
			if targetTable == "" {
				targetTable = rag_service.TargetKnowledgeResources
			}
			jobID, err := h.queue.Enqueue(pipeline_manager.Task{
				Type: pipeline_manager.TaskWebsite,
				URL:  item.URL,
				Metadata: rag_service.DocumentMetadata{
					Title:       item.Title,
					ContentType: item.ContentType,
					SourceURL:   item.URL,
					UserID:      user.UserID,
				},
				TargetTable: targetTable,
			})
			if err != nil {
				res.Error = err.Error()
			} else {
				res.JobID = jobID
				queued++
			}
		}
		results = append(results, res)
	}

	h.logger.Info("Batch queued",
		slog.Int("requested", len(body.Items)),
		slog.Int("queued", queued),
		slog.String("user_id", user.UserID))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued":  queued,
		"results": results,
	})
}
