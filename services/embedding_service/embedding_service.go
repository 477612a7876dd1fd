package embedding_service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultDimension = 1536

// API is the slice of the OpenAI client this service depends on. Tests
// substitute a failing implementation to exercise the degraded path.
type API interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Client turns batches of text into fixed-dimension vectors. When the
// provider is unreachable it degrades to pseudo-random placeholder vectors
// instead of failing the pipeline; the degradation is logged and reported
// through the boolean return so callers can record it on the job.
type Client struct {
	api    API
	model  string
	dim    int
	logger *slog.Logger
}

func New(apiKey, model string, dim int, logger *slog.Logger) *Client {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Client{
		api:    openai.NewClient(apiKey),
		model:  model,
		dim:    dim,
		logger: logger,
	}
}

// NewWithAPI wires an explicit API implementation, used by tests.
func NewWithAPI(api API, model string, dim int, logger *slog.Logger) *Client {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Client{api: api, model: model, dim: dim, logger: logger}
}

func (c *Client) Dimension() int { return c.dim }

// EmbedBatch returns one vector per input text, in input order. The second
// return value reports whether placeholder vectors were substituted after a
// provider failure.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, bool, error) {
	if len(texts) == 0 {
		return nil, false, nil
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		c.logger.Warn("Embedding provider failed, using placeholder vectors",
			slog.String("model", c.model),
			slog.Int("batch_size", len(texts)),
			slog.String("error", err.Error()))
		return c.placeholderBatch(len(texts)), true, nil
	}

	if len(resp.Data) != len(texts) {
		return nil, false, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		raw := data.Embedding
		v := make([]float32, len(raw))
		for j := range raw {
			v[j] = float32(raw[j])
		}
		vectors[i] = v
	}

	return vectors, false, nil
}

// EmbedQuery embeds a single search query. Queries never fall back to
// placeholders: a random query vector would return arbitrary matches.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}

	raw := resp.Data[0].Embedding
	v := make([]float32, len(raw))
	for j := range raw {
		v[j] = float32(raw[j])
	}
	return v, nil
}

func (c *Client) placeholderBatch(n int) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, c.dim)
		for j := range v {
			v[j] = rand.Float32()*2 - 1
		}
		vectors[i] = v
	}
	return vectors
}
