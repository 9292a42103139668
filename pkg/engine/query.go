package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
)

// DefaultK is the number of passages returned when k is not positive.
const DefaultK = 3

// NoDocumentsAnswer is returned by Ask when nothing relevant is indexed.
const NoDocumentsAnswer = "There are no indexed documents to answer this question from."

// Searcher finds the metadata of the rows nearest to a query vector.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]models.MetadataEntry, error)
}

// Answer is the result of Ask.
type Answer struct {
	Text    string                 `json:"text"`
	Sources []models.MetadataEntry `json:"sources"`
}

// QueryEngine answers queries against an index. The summarizer is only
// needed for Ask.
type QueryEngine struct {
	embedder   types.Embedder
	searcher   Searcher
	summarizer types.Summarizer
	logger     *slog.Logger
}

func NewQueryEngine(embedder types.Embedder, searcher Searcher, summarizer types.Summarizer, logger *slog.Logger) (*QueryEngine, error) {
	if embedder == nil || searcher == nil {
		return nil, errors.New("query engine needs an embedder and a searcher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryEngine{
		embedder:   embedder,
		searcher:   searcher,
		summarizer: summarizer,
		logger:     logger,
	}, nil
}

// Query returns up to k passages nearest to text. An index that was never
// built yields no passages rather than an error.
func (q *QueryEngine) Query(ctx context.Context, text string, k int) ([]models.MetadataEntry, error) {
	if k <= 0 {
		k = DefaultK
	}

	vector, err := q.embedder.Embed(ctx, text)
	if err != nil {
		if !types.IsFatal(err) {
			err = &types.EmbeddingError{Err: err}
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	entries, err := q.searcher.Search(ctx, vector, k)
	if errors.Is(err, types.ErrNoIndex) {
		q.logger.Warn("query against missing index", slog.String("query", text))
		return []models.MetadataEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	q.logger.Debug("query answered", slog.Int("k", k), slog.Int("results", len(entries)))
	return entries, nil
}

// Ask retrieves passages for text and summarizes them into an answer.
func (q *QueryEngine) Ask(ctx context.Context, text string, k int) (Answer, error) {
	if q.summarizer == nil {
		return Answer{}, errors.New("no summarizer configured")
	}

	entries, err := q.Query(ctx, text, k)
	if err != nil {
		return Answer{}, err
	}
	if len(entries) == 0 {
		return Answer{Text: NoDocumentsAnswer, Sources: entries}, nil
	}

	response, err := q.summarizer.Summarize(ctx, text, entries)
	if err != nil {
		return Answer{}, fmt.Errorf("summarizing: %w", err)
	}
	return Answer{Text: response, Sources: entries}, nil
}
