package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pendo/climate-assistant/auth"
	"github.com/pendo/climate-assistant/pipeline_manager"
	"github.com/pendo/climate-assistant/services/rag_service"
)

// Authenticator resolves the caller behind a request.
type Authenticator interface {
	FromRequest(r *http.Request) (auth.UserInfo, error)
}

// Queue is the slice of the pipeline manager the HTTP layer needs.
type Queue interface {
	Enqueue(task pipeline_manager.Task) (string, error)
	GetJob(jobID string) pipeline_manager.Job
	ListJobs(status pipeline_manager.JobStatus, userID string, limit, offset int) ([]pipeline_manager.Job, int)
	JobCount() int
	WorkerCount() int
}

// QueryEmbedder turns a search query into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever covers the similarity searches the chat and resume endpoints use.
type Retriever interface {
	MatchDocuments(ctx context.Context, embedding []float32, threshold float64, count int) ([]rag_service.SearchResult, error)
	MatchKnowledgeResources(ctx context.Context, embedding []float32, threshold float64, count int) ([]rag_service.SearchResult, error)
	MatchResumeContent(ctx context.Context, embedding []float32, threshold float64, count int, userID string) ([]rag_service.SearchResult, error)
	MatchResumeChunks(ctx context.Context, embedding []float32, threshold float64, count int, userID string) ([]rag_service.SearchResult, error)
	SearchConversationMessages(ctx context.Context, embedding []float32, threshold float64, count int, userID string) ([]rag_service.SearchResult, error)
	SearchTrainingMessages(ctx context.Context, embedding []float32, threshold float64, count int) ([]rag_service.SearchResult, error)
}

// ResumeReader exposes stored resume lookups.
type ResumeReader interface {
	LatestResume(ctx context.Context, userID string) (rag_service.ResumeInfo, error)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
