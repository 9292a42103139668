package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/docrag/internal/types"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Model      string
	BaseURL    string // Ollama server URL
	Dimension  int
	HTTPClient *http.Client
}

// embeddingClient is the part of the langchaingo ollama client we use.
type embeddingClient interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

// Embedder maps passages to vectors through an Ollama embedding model.
type Embedder struct {
	config EmbedderConfig
	client embeddingClient
}

var _ types.Embedder = (*Embedder)(nil)

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	// Validate and set default values for config fields if necessary
	if config.Model == "" {
		config.Model = "nomic-embed-text" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Dimension == 0 {
		config.Dimension = 768
	}

	options := []ollama.Option{
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	}
	if config.HTTPClient != nil {
		options = append(options, ollama.WithHTTPClient(config.HTTPClient))
	}

	emb, err := ollama.New(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{
		config: config,
		client: emb,
	}, nil
}

// Dimension is the vector length every Embed call must return.
func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

// Embed returns the embedding of text. Service failures are wrapped in
// types.EmbeddingError and a wrong vector size is a types.DimensionMismatchError.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.client.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, &types.EmbeddingError{Model: e.config.Model, Err: err}
	}
	if len(embeddings) != 1 || len(embeddings[0]) == 0 {
		return nil, &types.EmbeddingError{Model: e.config.Model, Err: errors.New("empty embedding in response")}
	}

	vector := embeddings[0]
	if len(vector) != e.config.Dimension {
		return nil, &types.DimensionMismatchError{Expected: e.config.Dimension, Got: len(vector)}
	}
	return vector, nil
}
