package rag_service

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pendo/climate-assistant/services/embedding_service"
)

// TargetTable values accepted by the ingestion endpoints.
const (
	TargetKnowledgeResources = "knowledge_resources"
	TargetJobListings        = "job_listings"
	TargetEducationPrograms  = "education_programs"
	TargetDocuments          = "documents"
)

// DocumentStore is the persistence surface the processor writes through.
// *Store is the production implementation.
type DocumentStore interface {
	DeleteDocument(ctx context.Context, documentID string) error
	StoreDocumentMetadata(ctx context.Context, documentID string, meta DocumentMetadata, fullText string) error
	StoreDocumentChunks(ctx context.Context, documentID string, chunks []string, embeddings [][]float32, meta DocumentMetadata) error
	FirstChunkEmbedding(ctx context.Context, documentID string) ([]float32, error)
	StoreKnowledgeResource(ctx context.Context, meta DocumentMetadata, embedding []float32) (int64, error)
	StoreJobListing(ctx context.Context, meta DocumentMetadata, description string, embedding []float32) (int64, error)
	StoreEducationProgram(ctx context.Context, meta DocumentMetadata, description string, embedding []float32) (int64, error)
	StoreResume(ctx context.Context, resumeID, userID, filename string, fileSize int, fullText string) error
	StoreResumeChunks(ctx context.Context, resumeID, userID, filename string, chunks []string, embeddings [][]float32) error
	DeleteResumeChunks(ctx context.Context, resumeID string) error
}

// Processor runs a document end to end: extract text, chunk it, embed the
// chunks, and persist metadata plus chunk rows. One processor instance is
// shared by all pipeline workers; it holds no per-document state.
type Processor struct {
	store        DocumentStore
	embedder     *embedding_service.Client
	extractor    *DocumentExtractor
	website      *WebsiteExtractor
	chunkSize    int
	chunkOverlap int
	logger       *slog.Logger
}

func NewProcessor(store DocumentStore, embedder *embedding_service.Client, chunkSize, chunkOverlap int, logger *slog.Logger) *Processor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	return &Processor{
		store:        store,
		embedder:     embedder,
		extractor:    NewDocumentExtractor(logger),
		website:      NewWebsiteExtractor(logger),
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger,
	}
}

// GenerateDocumentID derives a stable id from the content hash, prefixed by
// the content type and suffixed with a timestamp for uniqueness.
func GenerateDocumentID(content []byte, contentType string) string {
	hash := fmt.Sprintf("%x", md5.Sum(content))
	prefix := strings.ToLower(contentType)
	if prefix == "" {
		prefix = "doc"
	}
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return fmt.Sprintf("%s_%s_%s", prefix, hash[:8], time.Now().Format("20060102_150405"))
}

// ProcessPDF ingests an uploaded PDF (or Word document, by extension held in
// the metadata filename) into the generic document tables and, when a typed
// target table is requested, also into that table.
func (p *Processor) ProcessPDF(ctx context.Context, content []byte, meta DocumentMetadata, targetTable string) ProcessResult {
	documentID := GenerateDocumentID(content, meta.ContentType)

	extractStart := time.Now()
	var text string
	var err error
	if strings.HasSuffix(strings.ToLower(meta.Filename), ".docx") || strings.HasSuffix(strings.ToLower(meta.Filename), ".doc") {
		text, err = p.extractor.ExtractTextFromWord(content, meta.Filename)
	} else {
		text, err = p.extractor.ExtractTextFromPDF(content)
	}
	if err != nil {
		return failedResult(documentID, fmt.Errorf("text extraction failed: %w", err))
	}

	result := p.processDocument(ctx, documentID, text, meta)
	result.Stats.ExtractionTime = time.Since(extractStart).Seconds()
	if !result.Success {
		return result
	}

	return p.storeToTarget(ctx, result, text, meta, targetTable)
}

// ProcessWebsite fetches a URL, extracts its readable text and ingests it.
func (p *Processor) ProcessWebsite(ctx context.Context, rawURL string, meta DocumentMetadata, targetTable string) ProcessResult {
	documentID := GenerateDocumentID([]byte(rawURL), meta.ContentType)

	extractStart := time.Now()
	text, err := p.website.ExtractText(ctx, rawURL)
	if err != nil {
		return failedResult(documentID, fmt.Errorf("website extraction failed: %w", err))
	}

	if meta.Title == "" {
		meta.Title = p.website.PageTitle(ctx, rawURL)
	}
	meta.SourceURL = rawURL

	result := p.processDocument(ctx, documentID, text, meta)
	result.Stats.ExtractionTime = time.Since(extractStart).Seconds()
	if !result.Success {
		return result
	}

	return p.storeToTarget(ctx, result, text, meta, targetTable)
}

// ProcessResume ingests a resume PDF: the text lands in the resumes table
// and the chunk embeddings in resume_chunks, keyed to the owning user.
func (p *Processor) ProcessResume(ctx context.Context, content []byte, filename, userID string) ProcessResult {
	hash := fmt.Sprintf("%x", md5.Sum(content))
	resumeID := fmt.Sprintf("resume_%s_%s", hash[:8], time.Now().Format("20060102_150405"))

	text, err := p.extractor.ExtractTextFromPDF(content)
	if err != nil {
		return failedResult(resumeID, fmt.Errorf("resume extraction failed: %w", err))
	}

	chunks := ChunkText(text, p.chunkSize, p.chunkOverlap)
	if len(chunks) == 0 {
		return failedResult(resumeID, fmt.Errorf("no text chunks were created"))
	}

	embedStart := time.Now()
	embeddings, degraded, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return failedResult(resumeID, fmt.Errorf("failed to generate embeddings: %w", err))
	}
	embedTime := time.Since(embedStart).Seconds()

	storeStart := time.Now()
	if err := p.store.DeleteResumeChunks(ctx, resumeID); err != nil {
		return failedResult(resumeID, err)
	}
	if err := p.store.StoreResume(ctx, resumeID, userID, filename, len(content), text); err != nil {
		return failedResult(resumeID, err)
	}
	if err := p.store.StoreResumeChunks(ctx, resumeID, userID, filename, chunks, embeddings); err != nil {
		return failedResult(resumeID, err)
	}

	p.logger.Info("Processed resume",
		slog.String("resume_id", resumeID),
		slog.String("user_id", userID),
		slog.Int("chunks", len(chunks)),
		slog.Bool("degraded", degraded))

	return ProcessResult{
		Success:       true,
		ResumeID:      resumeID,
		Title:         filename,
		TextLength:    len(text),
		ChunksCreated: len(chunks),
		Degraded:      degraded,
		Stats: ProcessingStats{
			EmbeddingTime: embedTime,
			StorageTime:   time.Since(storeStart).Seconds(),
		},
		ProcessedAt: time.Now(),
	}
}

// processDocument is the shared chunk/embed/store sequence. Reprocessing a
// document id deletes all prior rows first so chunks never accumulate.
func (p *Processor) processDocument(ctx context.Context, documentID, text string, meta DocumentMetadata) ProcessResult {
	if strings.TrimSpace(text) == "" {
		return failedResult(documentID, fmt.Errorf("no text could be extracted from the content"))
	}

	if err := p.store.DeleteDocument(ctx, documentID); err != nil {
		p.logger.Warn("Failed to delete existing document records",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}

	chunks := ChunkText(text, p.chunkSize, p.chunkOverlap)
	if len(chunks) == 0 {
		return failedResult(documentID, fmt.Errorf("no text chunks were created"))
	}

	embedStart := time.Now()
	embeddings, degraded, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return failedResult(documentID, fmt.Errorf("failed to generate embeddings: %w", err))
	}
	embedTime := time.Since(embedStart).Seconds()

	storeStart := time.Now()
	if err := p.store.StoreDocumentMetadata(ctx, documentID, meta, text); err != nil {
		return failedResult(documentID, err)
	}
	if err := p.store.StoreDocumentChunks(ctx, documentID, chunks, embeddings, meta); err != nil {
		return failedResult(documentID, err)
	}

	return ProcessResult{
		Success:       true,
		DocumentID:    documentID,
		Title:         meta.Title,
		TextLength:    len(text),
		ChunksCreated: len(chunks),
		Degraded:      degraded,
		Stats: ProcessingStats{
			EmbeddingTime: embedTime,
			StorageTime:   time.Since(storeStart).Seconds(),
		},
		ProcessedAt: time.Now(),
	}
}

// storeToTarget mirrors a processed document into one of the typed tables,
// using the first chunk's embedding as the document-level vector.
func (p *Processor) storeToTarget(ctx context.Context, result ProcessResult, text string, meta DocumentMetadata, targetTable string) ProcessResult {
	if targetTable == "" || targetTable == TargetDocuments {
		return result
	}

	embedding, err := p.store.FirstChunkEmbedding(ctx, result.DocumentID)
	if err != nil {
		return failedResult(result.DocumentID, err)
	}

	switch targetTable {
	case TargetKnowledgeResources:
		id, err := p.store.StoreKnowledgeResource(ctx, meta, embedding)
		if err != nil {
			return failedResult(result.DocumentID, err)
		}
		result.ResourceID = id
	case TargetJobListings:
		id, err := p.store.StoreJobListing(ctx, meta, text, embedding)
		if err != nil {
			return failedResult(result.DocumentID, err)
		}
		result.JobListingID = id
	case TargetEducationPrograms:
		id, err := p.store.StoreEducationProgram(ctx, meta, text, embedding)
		if err != nil {
			return failedResult(result.DocumentID, err)
		}
		result.ProgramID = id
	default:
		return failedResult(result.DocumentID, fmt.Errorf("unsupported target table: %s", targetTable))
	}

	return result
}

func failedResult(documentID string, err error) ProcessResult {
	return ProcessResult{
		Success:     false,
		DocumentID:  documentID,
		Error:       err.Error(),
		ProcessedAt: time.Now(),
	}
}
