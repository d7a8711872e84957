package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultEmbeddingModel is used when no embedding model is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// EmbeddingProvider generates embeddings for text.
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbeddings implements EmbeddingProvider on the OpenAI embeddings API.
type OpenAIEmbeddings struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbeddings creates an embeddings client. An empty model selects
// DefaultEmbeddingModel; baseURL is optional.
func NewOpenAIEmbeddings(apiKey, baseURL, model string) (*OpenAIEmbeddings, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required for embeddings")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	dimension, ok := modelDimensions[model]
	if !ok {
		return nil, fmt.Errorf("unknown embedding model %q", model)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIEmbeddings{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}, nil
}

// Dimension returns the embedding dimension of the configured model.
func (p *OpenAIEmbeddings) Dimension() int {
	return p.dimension
}

// GenerateEmbedding embeds a single text.
func (p *OpenAIEmbeddings) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GenerateEmbeddings embeds texts in one request, preserving input order.
func (p *OpenAIEmbeddings) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range", idx)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}
