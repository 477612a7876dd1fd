package rag_service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
)

const minIndexLists = 100

// IndexManager maintains the ivfflat indexes over the chunk tables. The
// optimal list count scales with the square root of the row count, so the
// index is rebuilt when it drifts too far from that.
type IndexManager struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewIndexManager(db *pgxpool.Pool, logger *slog.Logger) *IndexManager {
	return &IndexManager{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates or refreshes the vector indexes for both chunk
// tables. Called at startup and safe to call repeatedly.
func (im *IndexManager) EnsureIndexes(ctx context.Context) error {
	if err := im.reindexIfNeeded(ctx, "documents", "idx_documents_embedding"); err != nil {
		return err
	}
	return im.reindexIfNeeded(ctx, "resume_chunks", "idx_resume_chunks_embedding")
}

func (im *IndexManager) reindexIfNeeded(ctx context.Context, table, indexName string) error {
	var currentLists int
	err := im.db.QueryRow(ctx, `
		SELECT reloptions[1]::text::int
		FROM pg_class c
		LEFT JOIN pg_index i ON c.oid = i.indexrelid
		WHERE c.relname = $1
		AND reloptions IS NOT NULL
	`, indexName).Scan(&currentLists)
	if err != nil {
		// Index missing or unreadable, build it fresh.
		return im.rebuild(ctx, table, indexName)
	}

	optimal, count, err := im.optimalLists(ctx, table)
	if err != nil {
		return err
	}

	if math.Abs(float64(currentLists-optimal)) > float64(optimal)*0.5 {
		im.logger.Info("Rebuilding vector index due to significant size change",
			slog.String("table", table),
			slog.Int("row_count", count),
			slog.Int("current_lists", currentLists),
			slog.Int("optimal_lists", optimal))
		return im.rebuild(ctx, table, indexName)
	}

	return nil
}

func (im *IndexManager) rebuild(ctx context.Context, table, indexName string) error {
	lists, count, err := im.optimalLists(ctx, table)
	if err != nil {
		return err
	}

	if _, err := im.db.Exec(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s", indexName)); err != nil {
		return fmt.Errorf("failed to drop existing index: %w", err)
	}

	createIndexSQL := fmt.Sprintf(`
		CREATE INDEX %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)
	`, indexName, table, lists)

	if _, err := im.db.Exec(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	im.logger.Info("Vector index created",
		slog.String("table", table),
		slog.Int("row_count", count),
		slog.Int("list_count", lists))

	return nil
}

func (im *IndexManager) optimalLists(ctx context.Context, table string) (lists, count int, err error) {
	if err := im.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}

	lists = int(math.Sqrt(float64(count)))
	if lists < minIndexLists {
		lists = minIndexLists
	}
	return lists, count, nil
}
