package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendo/climate-assistant/auth"
	"github.com/pendo/climate-assistant/pipeline_manager"
	"github.com/pendo/climate-assistant/services/llm_service"
	"github.com/pendo/climate-assistant/services/rag_service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAuth struct {
	user auth.UserInfo
	err  error
}

func (f *fakeAuth) FromRequest(r *http.Request) (auth.UserInfo, error) {
	return f.user, f.err
}

func regularUser() *fakeAuth {
	return &fakeAuth{user: auth.UserInfo{UserID: "u1", Email: "u1@example.org", ProfileType: auth.ProfileUser}}
}

func adminUser() *fakeAuth {
	return &fakeAuth{user: auth.UserInfo{UserID: "admin1", ProfileType: auth.ProfileAdmin}}
}

func deniedAuth() *fakeAuth {
	return &fakeAuth{err: auth.ErrUnauthorized}
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

type fakeRetriever struct {
	docs      []rag_service.SearchResult
	resources []rag_service.SearchResult
	resume    []rag_service.SearchResult
	chunks    []rag_service.SearchResult
	history   []rag_service.SearchResult
	training  []rag_service.SearchResult
	err       error
}

func (f *fakeRetriever) MatchDocuments(ctx context.Context, e []float32, t float64, c int) ([]rag_service.SearchResult, error) {
	return f.docs, f.err
}

func (f *fakeRetriever) MatchKnowledgeResources(ctx context.Context, e []float32, t float64, c int) ([]rag_service.SearchResult, error) {
	return f.resources, f.err
}

func (f *fakeRetriever) MatchResumeContent(ctx context.Context, e []float32, t float64, c int, u string) ([]rag_service.SearchResult, error) {
	return f.resume, f.err
}

func (f *fakeRetriever) MatchResumeChunks(ctx context.Context, e []float32, t float64, c int, u string) ([]rag_service.SearchResult, error) {
	return f.chunks, f.err
}

func (f *fakeRetriever) SearchConversationMessages(ctx context.Context, e []float32, t float64, c int, u string) ([]rag_service.SearchResult, error) {
	return f.history, f.err
}

func (f *fakeRetriever) SearchTrainingMessages(ctx context.Context, e []float32, t float64, c int) ([]rag_service.SearchResult, error) {
	return f.training, f.err
}

type fakeResumes struct {
	info rag_service.ResumeInfo
	err  error
}

func (f *fakeResumes) LatestResume(ctx context.Context, userID string) (rag_service.ResumeInfo, error) {
	return f.info, f.err
}

type noopProcessor struct{}

func (noopProcessor) ProcessPDF(ctx context.Context, content []byte, meta rag_service.DocumentMetadata, targetTable string) rag_service.ProcessResult {
	return rag_service.ProcessResult{Success: true}
}

func (noopProcessor) ProcessWebsite(ctx context.Context, rawURL string, meta rag_service.DocumentMetadata, targetTable string) rag_service.ProcessResult {
	return rag_service.ProcessResult{Success: true}
}

func (noopProcessor) ProcessResume(ctx context.Context, content []byte, filename, userID string) rag_service.ProcessResult {
	return rag_service.ProcessResult{Success: true}
}

// testQueue returns a real manager with no workers running, so enqueued
// jobs stay queued and assertions are deterministic.
func testQueue() *pipeline_manager.Manager {
	return pipeline_manager.New(noopProcessor{}, 2, 16, testLogger())
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(fileContent)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload
}

func TestProcessDocumentRequiresAuth(t *testing.T) {
	h := NewProcessHandler(testQueue(), deniedAuth(), testLogger())

	body, contentType := multipartBody(t, map[string]string{"url": "https://example.org"}, "", "", nil)
	r := httptest.NewRequest(http.MethodPost, "/process", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ProcessDocument(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProcessDocumentQueuesURL(t *testing.T) {
	queue := testQueue()
	h := NewProcessHandler(queue, regularUser(), testLogger())

	body, contentType := multipartBody(t, map[string]string{
		"url":          "https://example.org/guide",
		"title":        "Solar careers guide",
		"content_type": "guide",
	}, "", "", nil)
	r := httptest.NewRequest(http.MethodPost, "/process", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ProcessDocument(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	payload := decodeBody(t, w)
	assert.Equal(t, "queued", payload["status"])

	job := queue.GetJob(payload["job_id"].(string))
	assert.Equal(t, pipeline_manager.StatusQueued, job.Status)
	assert.Equal(t, pipeline_manager.TaskWebsite, job.TaskType)
	assert.Equal(t, "Solar careers guide", job.Title)
}

func TestProcessDocumentQueuesFile(t *testing.T) {
	queue := testQueue()
	h := NewProcessHandler(queue, regularUser(), testLogger())

	body, contentType := multipartBody(t, map[string]string{"title": "Handbook"}, "file", "handbook.pdf", []byte("%PDF-1.4 fake"))
	r := httptest.NewRequest(http.MethodPost, "/process", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ProcessDocument(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	payload := decodeBody(t, w)
	job := queue.GetJob(payload["job_id"].(string))
	assert.Equal(t, pipeline_manager.TaskPDF, job.TaskType)
}

func TestProcessDocumentRejectsBadExtension(t *testing.T) {
	h := NewProcessHandler(testQueue(), regularUser(), testLogger())

	body, contentType := multipartBody(t, nil, "file", "notes.txt", []byte("plain text"))
	r := httptest.NewRequest(http.MethodPost, "/process", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ProcessDocument(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessDocumentRestrictedTargetNeedsPrivilege(t *testing.T) {
	h := NewProcessHandler(testQueue(), regularUser(), testLogger())

	body, contentType := multipartBody(t, map[string]string{
		"url":          "https://example.org/job",
		"target_table": rag_service.TargetJobListings,
	}, "", "", nil)
	r := httptest.NewRequest(http.MethodPost, "/process", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ProcessDocument(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProcessDocumentAdminCanTargetJobListings(t *testing.T) {
	h := NewProcessHandler(testQueue(), adminUser(), testLogger())

	body, contentType := multipartBody(t, map[string]string{
		"url":          "https://example.org/job",
		"target_table": rag_service.TargetJobListings,
	}, "", "", nil)
	r := httptest.NewRequest(http.MethodPost, "/process", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ProcessDocument(w, r)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestProcessDocumentFullQueueReturns503(t *testing.T) {
	queue := pipeline_manager.New(noopProcessor{}, 1, 1, testLogger())
	h := NewProcessHandler(queue, regularUser(), testLogger())

	send := func() *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, map[string]string{"url": "https://example.org"}, "", "", nil)
		r := httptest.NewRequest(http.MethodPost, "/process", body)
		r.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		h.ProcessDocument(w, r)
		return w
	}

	assert.Equal(t, http.StatusAccepted, send().Code)
	assert.Equal(t, http.StatusServiceUnavailable, send().Code)
}

func TestBatchRequiresPrivilege(t *testing.T) {
	h := NewProcessHandler(testQueue(), regularUser(), testLogger())

	r := httptest.NewRequest(http.MethodPost, "/batch", strings.NewReader(`{"items":[{"url":"https://example.org"}]}`))
	w := httptest.NewRecorder()
	h.BatchProcess(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBatchQueuesItems(t *testing.T) {
	queue := testQueue()
	h := NewProcessHandler(queue, adminUser(), testLogger())

	payload := `{"items":[{"url":"https://example.org/a","title":"A"},{"url":""},{"url":"https://example.org/b"}]}`
	r := httptest.NewRequest(http.MethodPost, "/batch", strings.NewReader(payload))
	w := httptest.NewRecorder()
	h.BatchProcess(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["queued"])
	results := body["results"].([]interface{})
	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0].(map[string]interface{})["job_id"])
	assert.Equal(t, "missing url", results[1].(map[string]interface{})["error"])
}

func TestResumeUploadOnlyAcceptsPDF(t *testing.T) {
	h := NewResumeHandler(testQueue(), regularUser(), &fakeResumes{}, &fakeEmbedder{}, &fakeRetriever{}, testLogger())

	body, contentType := multipartBody(t, nil, "file", "resume.docx", []byte("word doc"))
	r := httptest.NewRequest(http.MethodPost, "/resume/upload", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.Upload(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResumeUploadQueuesJob(t *testing.T) {
	queue := testQueue()
	h := NewResumeHandler(queue, regularUser(), &fakeResumes{}, &fakeEmbedder{}, &fakeRetriever{}, testLogger())

	body, contentType := multipartBody(t, nil, "file", "resume.pdf", []byte("%PDF-1.4 resume"))
	r := httptest.NewRequest(http.MethodPost, "/resume/upload", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.Upload(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	payload := decodeBody(t, w)
	job := queue.GetJob(payload["job_id"].(string))
	assert.Equal(t, pipeline_manager.TaskResume, job.TaskType)
	assert.Equal(t, "u1", job.UserID)
}

func TestResumeGetOwnerOnly(t *testing.T) {
	resumes := &fakeResumes{info: rag_service.ResumeInfo{HasResume: true, ResumeID: "resume_abc", UserID: "u1"}}
	h := NewResumeHandler(testQueue(), regularUser(), resumes, &fakeEmbedder{}, &fakeRetriever{}, testLogger())

	get := func(userID string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/resume/"+userID, nil)
		r = mux.SetURLVars(r, map[string]string{"user_id": userID})
		w := httptest.NewRecorder()
		h.Get(w, r)
		return w
	}

	w := get("u1")
	require.Equal(t, http.StatusOK, w.Code)
	var info rag_service.ResumeInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.True(t, info.HasResume)
	assert.Equal(t, "resume_abc", info.ResumeID)

	assert.Equal(t, http.StatusForbidden, get("someone-else").Code)
}

func TestResumeSearch(t *testing.T) {
	retriever := &fakeRetriever{chunks: []rag_service.SearchResult{{Content: "Led a solar install team", Similarity: 0.8}}}
	h := NewResumeHandler(testQueue(), regularUser(), &fakeResumes{}, &fakeEmbedder{vec: []float32{0.1}}, retriever, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/resume/search?q=solar+experience", nil)
	w := httptest.NewRecorder()
	h.Search(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "u1", body["user_id"])
	assert.Len(t, body["results"].([]interface{}), 1)
}

func TestResumeSearchRequiresQuery(t *testing.T) {
	h := NewResumeHandler(testQueue(), regularUser(), &fakeResumes{}, &fakeEmbedder{}, &fakeRetriever{}, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/resume/search", nil)
	w := httptest.NewRecorder()
	h.Search(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobStatusNotFound(t *testing.T) {
	h := NewJobsHandler(testQueue(), regularUser(), testLogger())

	r := httptest.NewRequest(http.MethodGet, "/status/missing", nil)
	r = mux.SetURLVars(r, map[string]string{"job_id": "missing"})
	w := httptest.NewRecorder()
	h.Status(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "not_found", body["status"])
	assert.Equal(t, "missing", body["id"])
}

func TestJobsListScopedToUser(t *testing.T) {
	queue := testQueue()
	_, err := queue.Enqueue(pipeline_manager.Task{Type: pipeline_manager.TaskPDF, Content: []byte("a"), Metadata: rag_service.DocumentMetadata{UserID: "u1"}})
	require.NoError(t, err)
	_, err = queue.Enqueue(pipeline_manager.Task{Type: pipeline_manager.TaskPDF, Content: []byte("b"), Metadata: rag_service.DocumentMetadata{UserID: "other"}})
	require.NoError(t, err)

	h := NewJobsHandler(queue, regularUser(), testLogger())
	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w := httptest.NewRecorder()
	h.List(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["total"])

	// Admins see everything.
	h = NewJobsHandler(queue, adminUser(), testLogger())
	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	body = decodeBody(t, w)
	assert.Equal(t, float64(2), body["total"])
}

func TestChatAnswersWithContext(t *testing.T) {
	var capturedPrompt string
	llm := &llm_service.MockLLMService{
		CallLLMFunc: func(ctx context.Context, systemPrompt, prompt string) (string, error) {
			capturedPrompt = prompt
			return "Wind technician roles are growing fast.", nil
		},
	}
	retriever := &fakeRetriever{
		docs:      []rag_service.SearchResult{{Content: "Wind technician demand grew 45% in 2025."}},
		resources: []rag_service.SearchResult{{Content: "GWO certification is required for turbine work."}},
		training:  []rag_service.SearchResult{{Content: "Suggest entry-level roles before senior ones."}},
	}
	h := NewChatHandler(regularUser(), &fakeEmbedder{vec: []float32{0.1, 0.2}}, retriever, llm, testLogger())

	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"What wind energy jobs are in demand?"}`))
	w := httptest.NewRecorder()
	h.Chat(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Wind technician roles are growing fast.", body["response"])
	assert.Equal(t, "u1", body["user_id"])
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, float64(3), body["sources_used"])
	assert.Contains(t, capturedPrompt, "Wind technician demand grew 45% in 2025.")
	assert.Contains(t, capturedPrompt, "Suggest entry-level roles before senior ones.")
	assert.Contains(t, capturedPrompt, "What wind energy jobs are in demand?")
}

func TestChatTruncatesContextOnRuneBoundary(t *testing.T) {
	var capturedPrompt string
	llm := &llm_service.MockLLMService{
		CallLLMFunc: func(ctx context.Context, systemPrompt, prompt string) (string, error) {
			capturedPrompt = prompt
			return "ok", nil
		},
	}
	retriever := &fakeRetriever{
		docs: []rag_service.SearchResult{{Content: strings.Repeat("é", 8000)}},
	}
	h := NewChatHandler(regularUser(), &fakeEmbedder{vec: []float32{0.1}}, retriever, llm, testLogger())

	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hello"}`))
	w := httptest.NewRecorder()
	h.Chat(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, utf8.ValidString(capturedPrompt))
}

func TestChatKeepsProvidedSessionID(t *testing.T) {
	h := NewChatHandler(regularUser(), &fakeEmbedder{vec: []float32{0.1}}, &fakeRetriever{}, &llm_service.MockLLMService{}, testLogger())

	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi","session_id":"sess-7"}`))
	w := httptest.NewRecorder()
	h.Chat(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess-7", decodeBody(t, w)["session_id"])
}

func TestChatSurvivesEmbeddingFailure(t *testing.T) {
	h := NewChatHandler(regularUser(), &fakeEmbedder{err: errors.New("provider down")}, &fakeRetriever{}, &llm_service.MockLLMService{}, testLogger())

	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hello"}`))
	w := httptest.NewRecorder()
	h.Chat(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "mock response", body["response"])
	assert.Equal(t, float64(0), body["sources_used"])
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	h := NewChatHandler(regularUser(), &fakeEmbedder{}, &fakeRetriever{}, &llm_service.MockLLMService{}, testLogger())

	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"   "}`))
	w := httptest.NewRecorder()
	h.Chat(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatLLMFailure(t *testing.T) {
	llm := &llm_service.MockLLMService{
		CallLLMFunc: func(ctx context.Context, systemPrompt, prompt string) (string, error) {
			return "", errors.New("quota exceeded")
		},
	}
	h := NewChatHandler(regularUser(), &fakeEmbedder{vec: []float32{0.1}}, &fakeRetriever{}, llm, testLogger())

	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hello"}`))
	w := httptest.NewRecorder()
	h.Chat(w, r)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}
