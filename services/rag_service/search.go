package rag_service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Searcher calls the similarity stored functions. Ranking, threshold
// semantics and ordering all live in the database; this side only marshals
// parameters and shapes rows.
type Searcher struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewSearcher(db *pgxpool.Pool, logger *slog.Logger) *Searcher {
	return &Searcher{
		db:     db,
		logger: logger,
	}
}

func (s *Searcher) MatchDocuments(ctx context.Context, embedding []float32, threshold float64, count int) ([]SearchResult, error) {
	return s.match(ctx,
		`SELECT id::text, content, metadata, similarity FROM match_documents($1, $2, $3)`,
		pgvector.NewVector(embedding), threshold, count)
}

func (s *Searcher) MatchKnowledgeResources(ctx context.Context, embedding []float32, threshold float64, count int) ([]SearchResult, error) {
	return s.match(ctx,
		`SELECT id::text, content, metadata, similarity FROM match_knowledge_resources($1, $2, $3)`,
		pgvector.NewVector(embedding), threshold, count)
}

func (s *Searcher) MatchResumeContent(ctx context.Context, embedding []float32, threshold float64, count int, userID string) ([]SearchResult, error) {
	return s.match(ctx,
		`SELECT id::text, content, metadata, similarity FROM match_resume_content($1, $2, $3, $4)`,
		pgvector.NewVector(embedding), threshold, count, nullable(userID))
}

func (s *Searcher) MatchResumeChunks(ctx context.Context, embedding []float32, threshold float64, count int, userID string) ([]SearchResult, error) {
	return s.match(ctx,
		`SELECT id::text, content, metadata, similarity FROM match_resume_chunks($1, $2, $3, $4)`,
		pgvector.NewVector(embedding), threshold, count, nullable(userID))
}

func (s *Searcher) SearchConversationMessages(ctx context.Context, embedding []float32, threshold float64, count int, userID string) ([]SearchResult, error) {
	return s.match(ctx,
		`SELECT id::text, content, metadata, similarity FROM search_conversation_messages($1, $2, $3, $4)`,
		pgvector.NewVector(embedding), threshold, count, nullable(userID))
}

func (s *Searcher) SearchTrainingMessages(ctx context.Context, embedding []float32, threshold float64, count int) ([]SearchResult, error) {
	return s.match(ctx,
		`SELECT id::text, content, metadata, similarity FROM search_training_messages($1, $2, $3)`,
		pgvector.NewVector(embedding), threshold, count)
}

func (s *Searcher) match(ctx context.Context, query string, args ...interface{}) ([]SearchResult, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0)
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	s.logger.Debug("Similarity search completed",
		slog.Int("result_count", len(results)))

	return results, nil
}

// nullable maps an empty owner id onto SQL NULL so the stored functions
// skip their owner filter.
func nullable(userID string) interface{} {
	if userID == "" {
		return nil
	}
	return userID
}
