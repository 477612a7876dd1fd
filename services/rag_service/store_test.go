package rag_service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDimStore(dim int) *Store {
	return NewStore(nil, dim, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCheckDimension(t *testing.T) {
	s := newDimStore(1536)

	assert.NoError(t, s.checkDimension(make([]float32, 1536)))

	err := s.checkDimension(make([]float32, 1024))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1024")
	assert.Contains(t, err.Error(), "1536")

	assert.Error(t, s.checkDimension(nil))
}

// A wrong-sized vector must fail before any row is written. The nil pool
// would panic if the storage path were reached.
func TestStoreRejectsMismatchedEmbeddings(t *testing.T) {
	s := newDimStore(8)
	ctx := context.Background()
	bad := make([]float32, 4)

	err := s.StoreDocumentChunks(ctx, "doc1", []string{"chunk"}, [][]float32{bad}, DocumentMetadata{})
	assert.Error(t, err)

	err = s.StoreResumeChunks(ctx, "resume1", "u1", "cv.pdf", []string{"chunk"}, [][]float32{bad})
	assert.Error(t, err)

	_, err = s.StoreKnowledgeResource(ctx, DocumentMetadata{Title: "T"}, bad)
	assert.Error(t, err)

	_, err = s.StoreJobListing(ctx, DocumentMetadata{Title: "T"}, "desc", bad)
	assert.Error(t, err)

	_, err = s.StoreEducationProgram(ctx, DocumentMetadata{Title: "T"}, "desc", bad)
	assert.Error(t, err)
}

func TestStoreChunkEmbeddingLengthMismatch(t *testing.T) {
	s := newDimStore(8)

	err := s.StoreDocumentChunks(context.Background(), "doc1",
		[]string{"a", "b"}, [][]float32{make([]float32, 8)}, DocumentMetadata{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}
