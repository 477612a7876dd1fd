package rag_service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const chunkInsertBatchSize = 10

// Store owns the ingestion-side writes: document metadata, chunk rows with
// their embeddings, and the typed target tables (knowledge resources, job
// listings, education programs).
type Store struct {
	db        *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

func NewStore(db *pgxpool.Pool, dimension int, logger *slog.Logger) *Store {
	return &Store{
		db:        db,
		dimension: dimension,
		logger:    logger,
	}
}

// checkDimension enforces the vector-size invariant. A mismatched embedding
// is a hard storage error, never padded or truncated.
func (s *Store) checkDimension(embedding []float32) error {
	if len(embedding) != s.dimension {
		return fmt.Errorf("embedding dimension %d does not match configured dimension %d", len(embedding), s.dimension)
	}
	return nil
}

// DeleteDocument removes all prior records for a document id so that
// reprocessing never accumulates duplicate chunks.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE metadata->>'document_id' = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM document_metadata WHERE id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete document metadata: %w", err)
	}
	return nil
}

func (s *Store) StoreDocumentMetadata(ctx context.Context, documentID string, meta DocumentMetadata, fullText string) error {
	schema := map[string]interface{}{
		"type":            meta.ContentType,
		"text_length":     len(fullText),
		"processing_date": time.Now().Format(time.RFC3339),
		"user_id":         meta.UserID,
		"partner_id":      meta.PartnerID,
		"content_type":    meta.MimeType,
		"source_url":      meta.SourceURL,
		"filename":        meta.Filename,
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to marshal document schema: %w", err)
	}

	url := meta.SourceURL
	if url == "" {
		url = "document://" + documentID
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO document_metadata (id, title, url, schema, content) VALUES ($1, $2, $3, $4, $5)`,
		documentID, meta.Title, url, schemaJSON, fullText)
	if err != nil {
		return fmt.Errorf("failed to store document metadata: %w", err)
	}

	return nil
}

// StoreDocumentChunks writes one row per chunk into the documents table.
// Inserts run in small batches; a failure mid-way leaves earlier batches in
// place (the job is marked failed, rollback is not attempted).
func (s *Store) StoreDocumentChunks(ctx context.Context, documentID string, chunks []string, embeddings [][]float32, meta DocumentMetadata) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	for start := 0; start < len(chunks); start += chunkInsertBatchSize {
		end := start + chunkInsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		for i := start; i < end; i++ {
			if err := s.checkDimension(embeddings[i]); err != nil {
				return err
			}

			chunkMeta := map[string]interface{}{
				"document_id":   documentID,
				"document_type": meta.ContentType,
				"title":         meta.Title,
				"chunk_index":   i,
				"user_id":       meta.UserID,
				"partner_id":    meta.PartnerID,
				"processed_at":  time.Now().Format(time.RFC3339),
			}
			metaJSON, err := json.Marshal(chunkMeta)
			if err != nil {
				return fmt.Errorf("failed to marshal chunk metadata: %w", err)
			}

			_, err = s.db.Exec(ctx,
				`INSERT INTO documents (content, metadata, embedding) VALUES ($1, $2, $3)`,
				chunks[i], metaJSON, pgvector.NewVector(embeddings[i]))
			if err != nil {
				return fmt.Errorf("failed to store chunk %d: %w", i, err)
			}
		}
	}

	s.logger.Info("Stored document chunks",
		slog.String("document_id", documentID),
		slog.Int("chunk_count", len(chunks)))

	return nil
}

// FirstChunkEmbedding returns the embedding of chunk 0 for a document,
// used as the document-level vector on the typed target tables.
func (s *Store) FirstChunkEmbedding(ctx context.Context, documentID string) ([]float32, error) {
	var vec pgvector.Vector
	err := s.db.QueryRow(ctx,
		`SELECT embedding FROM documents
		 WHERE metadata->>'document_id' = $1 AND (metadata->>'chunk_index')::int = 0
		 LIMIT 1`, documentID).Scan(&vec)
	if err != nil {
		return nil, fmt.Errorf("failed to find document embedding: %w", err)
	}
	return vec.Slice(), nil
}

func (s *Store) StoreKnowledgeResource(ctx context.Context, meta DocumentMetadata, embedding []float32) (int64, error) {
	if err := s.checkDimension(embedding); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO knowledge_resources (title, description, content_type, source_url, embedding, is_published)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		meta.Title, meta.Description, meta.ContentType, meta.SourceURL,
		pgvector.NewVector(embedding), meta.IsPublished).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert knowledge resource: %w", err)
	}
	return id, nil
}

func (s *Store) StoreJobListing(ctx context.Context, meta DocumentMetadata, description string, embedding []float32) (int64, error) {
	if err := s.checkDimension(embedding); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO job_listings (title, description, company, location, application_url, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		meta.Title, description, meta.Company, meta.Location, applicationURL(meta),
		pgvector.NewVector(embedding)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job listing: %w", err)
	}
	return id, nil
}

func (s *Store) StoreEducationProgram(ctx context.Context, meta DocumentMetadata, description string, embedding []float32) (int64, error) {
	if err := s.checkDimension(embedding); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO education_programs (program_name, description, institution, application_url, embedding)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		meta.Title, description, meta.Institution, applicationURL(meta),
		pgvector.NewVector(embedding)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert education program: %w", err)
	}
	return id, nil
}

func (s *Store) StoreResume(ctx context.Context, resumeID, userID, filename string, fileSize int, fullText string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO resumes (id, user_id, file_name, file_size, content, processed)
		 VALUES ($1, $2, $3, $4, $5, true)
		 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, processed = true, updated_at = now()`,
		resumeID, userID, filename, fileSize, fullText)
	if err != nil {
		return fmt.Errorf("failed to store resume: %w", err)
	}
	return nil
}

func (s *Store) StoreResumeChunks(ctx context.Context, resumeID, userID, filename string, chunks []string, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	for i := range chunks {
		if err := s.checkDimension(embeddings[i]); err != nil {
			return err
		}

		chunkMeta := map[string]interface{}{
			"filename":     filename,
			"user_id":      userID,
			"processed_at": time.Now().Format(time.RFC3339),
		}
		metaJSON, err := json.Marshal(chunkMeta)
		if err != nil {
			return fmt.Errorf("failed to marshal resume chunk metadata: %w", err)
		}

		_, err = s.db.Exec(ctx,
			`INSERT INTO resume_chunks (id, resume_id, chunk_index, content, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New().String(), resumeID, i, chunks[i], pgvector.NewVector(embeddings[i]), metaJSON)
		if err != nil {
			return fmt.Errorf("failed to store resume chunk %d: %w", i, err)
		}
	}

	s.logger.Info("Stored resume chunks",
		slog.String("resume_id", resumeID),
		slog.Int("chunk_count", len(chunks)))

	return nil
}

// DeleteResumeChunks clears chunk rows before a resume is reprocessed.
func (s *Store) DeleteResumeChunks(ctx context.Context, resumeID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM resume_chunks WHERE resume_id = $1`, resumeID); err != nil {
		return fmt.Errorf("failed to delete resume chunks: %w", err)
	}
	return nil
}

// LatestResume returns metadata for the newest resume of a user, or of any
// user when userID is empty.
func (s *Store) LatestResume(ctx context.Context, userID string) (ResumeInfo, error) {
	query := `SELECT id, file_name, coalesce(length(content), 0), coalesce(user_id, '')
		FROM resumes`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var info ResumeInfo
	err := s.db.QueryRow(ctx, query, args...).Scan(&info.ResumeID, &info.Filename, &info.TextLength, &info.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ResumeInfo{HasResume: false}, nil
	}
	if err != nil {
		return ResumeInfo{}, fmt.Errorf("failed to look up resume: %w", err)
	}
	info.HasResume = true
	return info, nil
}

func applicationURL(meta DocumentMetadata) string {
	if meta.ApplicationURL != "" {
		return meta.ApplicationURL
	}
	return meta.SourceURL
}
