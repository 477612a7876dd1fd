package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pendo/climate-assistant/services/llm_service"
	"github.com/pendo/climate-assistant/services/rag_service"
)

const systemPrompt = `You are Pendo, a career assistant focused on climate and clean-energy jobs.
Answer using the provided context where it is relevant. When the context does
not cover the question, say so instead of inventing facts. Keep answers
practical and grounded in the user's situation.`

const (
	matchThreshold    = 0.3
	resumeThreshold   = 0.25
	matchCount        = 5
	resumeMatchCount  = 3
	historyMatchCount = 4
	maxContextChars   = 6000
)

type chatRequest struct {
	Message        string `json:"message"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	IncludeResume  bool   `json:"include_resume,omitempty"`
}

type chatResponse struct {
	Response       string `json:"response"`
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	SourcesUsed    int    `json:"sources_used"`
}

// ChatHandler answers user questions with retrieval-augmented LLM calls.
type ChatHandler struct {
	auth      Authenticator
	embedder  QueryEmbedder
	retriever Retriever
	llm       llm_service.LLMService
	logger    *slog.Logger
}

func NewChatHandler(authenticator Authenticator, embedder QueryEmbedder, retriever Retriever, llm llm_service.LLMService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		auth:      authenticator,
		embedder:  embedder,
		retriever: retriever,
		llm:       llm,
		logger:    logger,
	}
}

// Chat handles POST /chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.FromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message must not be empty")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	contextText, sources := h.retrieveContext(r.Context(), req, user.UserID)

	prompt := req.Message
	if contextText != "" {
		prompt = fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, req.Message)
	}

	answer, err := h.llm.CallLLM(r.Context(), systemPrompt, prompt)
	if err != nil {
		h.logger.Error("LLM call failed",
			slog.String("user_id", user.UserID),
			slog.String("error", err.Error()))
		writeJSONError(w, http.StatusBadGateway, "language model unavailable")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:       answer,
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		UserID:         user.UserID,
		SourcesUsed:    sources,
	})
}

// retrieveContext gathers similar passages from the knowledge base, the
// caller's resume and past conversations. Retrieval failures degrade to an
// uncontextualised answer instead of failing the chat.
func (h *ChatHandler) retrieveContext(ctx context.Context, req chatRequest, userID string) (string, int) {
	embedding, err := h.embedder.EmbedQuery(ctx, req.Message)
	if err != nil {
		h.logger.Warn("Query embedding failed, answering without context",
			slog.String("error", err.Error()))
		return "", 0
	}

	var sections []string
	sources := 0

	appendResults := func(label string, results []rag_service.SearchResult, err error) {
		if err != nil {
			h.logger.Warn("Retrieval failed",
				slog.String("source", label),
				slog.String("error", err.Error()))
			return
		}
		if len(results) == 0 {
			return
		}
		var b strings.Builder
		b.WriteString(label + ":\n")
		for _, res := range results {
			b.WriteString("- " + res.Content + "\n")
		}
		sections = append(sections, b.String())
		sources += len(results)
	}

	docs, err := h.retriever.MatchDocuments(ctx, embedding, matchThreshold, matchCount)
	appendResults("Documents", docs, err)

	resources, err := h.retriever.MatchKnowledgeResources(ctx, embedding, matchThreshold, matchCount)
	appendResults("Knowledge resources", resources, err)

	if req.IncludeResume {
		resume, err := h.retriever.MatchResumeContent(ctx, embedding, resumeThreshold, resumeMatchCount, userID)
		appendResults("User resume", resume, err)
	}

	history, err := h.retriever.SearchConversationMessages(ctx, embedding, matchThreshold, historyMatchCount, userID)
	appendResults("Earlier conversations", history, err)

	training, err := h.retriever.SearchTrainingMessages(ctx, embedding, matchThreshold, historyMatchCount)
	appendResults("Curated guidance", training, err)

	contextText := strings.Join(sections, "\n")
	if len(contextText) > maxContextChars {
		cut := maxContextChars
		for cut > 0 && !utf8.RuneStart(contextText[cut]) {
			cut--
		}
		contextText = contextText[:cut]
	}
	return contextText, sources
}
