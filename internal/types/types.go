package types

import (
	"context"

	"github.com/xhad/docrag/internal/models"
)

// Core interfaces

// Embedder maps one passage to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Completer answers a single prompt. Used by the topic chunker.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Summarizer turns retrieved passages into an answer for a query.
type Summarizer interface {
	Summarize(ctx context.Context, query string, entries []models.MetadataEntry) (string, error)
}

// Chunker splits normalized text into passages.
type Chunker interface {
	Chunk(ctx context.Context, text string) ([]string, error)
}

// PageExtractor fetches a URL and extracts its main content.
type PageExtractor interface {
	FetchAndExtract(ctx context.Context, url string) (string, error)
}

// PDFConverter converts a PDF file to Markdown-like text.
type PDFConverter interface {
	Convert(ctx context.Context, path string) (string, error)
}
