// Package engine runs incremental indexing of the docs folder and answers
// queries against the resulting index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
)

// Stage is a step of an indexing run, reported through Config.OnProgress.
type Stage string

const (
	StageScanning   Stage = "scanning"
	StageLoading    Stage = "loading"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageAppending  Stage = "appending"
	StageSkipped    Stage = "skipped"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
)

// Event describes progress of an indexing run. Current counts documents
// finished so far out of Total unprocessed documents.
type Event struct {
	Stage   Stage
	Doc     models.DocumentRef
	Current int
	Total   int
	Chunks  int
	Err     error
}

// DocumentLoader loads a document from the docs folder by name.
type DocumentLoader interface {
	Load(ctx context.Context, name string) (models.LoadedDocument, error)
}

// Index is the storage an indexing run writes to.
type Index interface {
	IsProcessed(ref models.DocumentRef) bool
	MarkProcessed(ref models.DocumentRef)
	AppendChunks(ctx context.Context, entries []models.MetadataEntry, vectors [][]float32) error
	Persist(ctx context.Context) error
	ProcessedDocs() []models.DocumentRef
}

type Config struct {
	DocsPath string
	// Concurrency bounds parallel embedding calls within one document.
	Concurrency int
	OnProgress  func(Event)
	Logger      *slog.Logger
}

// Result summarizes an indexing run.
type Result struct {
	// Processed lists every document in the processed cache, sorted.
	Processed []models.DocumentRef
	Indexed   int
	Skipped   int
	Chunks    int
}

// IndexingEngine embeds documents that are not in the processed cache yet.
type IndexingEngine struct {
	config   Config
	docs     DocumentLoader
	chunker  types.Chunker
	embedder types.Embedder
	index    Index
	logger   *slog.Logger

	// One run at a time.
	mu sync.Mutex
}

func NewIndexingEngine(config Config, docs DocumentLoader, chunker types.Chunker, embedder types.Embedder, index Index) (*IndexingEngine, error) {
	if docs == nil || chunker == nil || embedder == nil || index == nil {
		return nil, errors.New("indexing engine needs a loader, chunker, embedder and index")
	}
	if config.DocsPath == "" {
		return nil, errors.New("docs path is required")
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexingEngine{
		config:   config,
		docs:     docs,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}, nil
}

func (e *IndexingEngine) emit(ev Event) {
	if e.config.OnProgress != nil {
		e.config.OnProgress(ev)
	}
}

// Index processes every document not in the processed cache and persists
// once at the end. A fatal error aborts the run without persisting, leaving
// the on-disk index as it was after the previous run.
func (e *IndexingEngine) Index(ctx context.Context) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result

	names, err := e.listDocuments()
	if err != nil {
		return res, &types.StorageError{Op: "scan", Path: e.config.DocsPath, Err: err}
	}

	var pending []string
	for _, name := range names {
		if !e.index.IsProcessed(name) {
			pending = append(pending, name)
		}
	}
	e.logger.Info("scanned docs folder",
		slog.String("path", e.config.DocsPath),
		slog.Int("documents", len(names)),
		slog.Int("new", len(pending)))
	e.emit(Event{Stage: StageScanning, Total: len(pending)})

	for i, name := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		entries, vectors, err := e.processDocument(ctx, name, i, len(pending))
		if err != nil {
			if types.IsFatal(err) {
				return res, fmt.Errorf("indexing %s: %w", name, err)
			}
			var ue *types.UnsupportedDocumentError
			if errors.As(err, &ue) {
				e.logger.Info("skipping unsupported document", slog.String("doc", name))
			} else {
				e.logger.Warn("skipping document", slog.String("doc", name), slog.String("error", err.Error()))
			}
			e.index.MarkProcessed(name)
			res.Skipped++
			e.emit(Event{Stage: StageSkipped, Doc: name, Current: i + 1, Total: len(pending), Err: err})
			continue
		}

		if len(entries) == 0 {
			e.logger.Info("skipping document with no content", slog.String("doc", name))
			e.index.MarkProcessed(name)
			res.Skipped++
			e.emit(Event{Stage: StageSkipped, Doc: name, Current: i + 1, Total: len(pending)})
			continue
		}

		e.emit(Event{Stage: StageAppending, Doc: name, Current: i, Total: len(pending), Chunks: len(entries)})
		if err := e.index.AppendChunks(ctx, entries, vectors); err != nil {
			return res, fmt.Errorf("indexing %s: %w", name, err)
		}
		e.index.MarkProcessed(name)
		res.Indexed++
		res.Chunks += len(entries)

		e.logger.Debug("indexed document", slog.String("doc", name), slog.Int("chunks", len(entries)))
		e.emit(Event{Stage: StageDone, Doc: name, Current: i + 1, Total: len(pending), Chunks: len(entries)})
	}

	e.emit(Event{Stage: StagePersisting, Current: len(pending), Total: len(pending)})
	if err := e.index.Persist(ctx); err != nil {
		return res, err
	}

	res.Processed = e.index.ProcessedDocs()
	e.logger.Info("indexing finished",
		slog.Int("indexed", res.Indexed),
		slog.Int("skipped", res.Skipped),
		slog.Int("chunks", res.Chunks))
	return res, nil
}

// processDocument loads, chunks and embeds one document. Nothing is
// appended here, so a failure leaves the index untouched.
func (e *IndexingEngine) processDocument(ctx context.Context, name string, current, total int) ([]models.MetadataEntry, [][]float32, error) {
	e.emit(Event{Stage: StageLoading, Doc: name, Current: current, Total: total})
	doc, err := e.docs.Load(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	e.emit(Event{Stage: StageChunking, Doc: name, Current: current, Total: total})
	entries, err := e.buildEntries(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return nil, nil, nil
	}

	e.emit(Event{Stage: StageEmbedding, Doc: name, Current: current, Total: total, Chunks: len(entries)})
	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Content
	}
	vectors, err := e.embedAll(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	return entries, vectors, nil
}

// buildEntries chunks the document text. For a URL list every page gets a
// whole-page entry followed by the chunk entries of that page.
func (e *IndexingEngine) buildEntries(ctx context.Context, doc models.LoadedDocument) ([]models.MetadataEntry, error) {
	var entries []models.MetadataEntry
	next := 0
	addChunks := func(text string) error {
		chunks, err := e.chunker.Chunk(ctx, text)
		if err != nil {
			return fmt.Errorf("chunking %s: %w", doc.Ref, err)
		}
		for _, chunk := range chunks {
			entries = append(entries, models.ChunkEntry(models.Chunk{Doc: doc.Ref, Index: next, Text: chunk}))
			next++
		}
		return nil
	}

	if len(doc.Pages) == 0 {
		if err := addChunks(doc.Text); err != nil {
			return nil, err
		}
		return entries, nil
	}

	for _, page := range doc.Pages {
		entries = append(entries, models.PageEntry(page.URL, page.Text))
		if err := addChunks(page.Text); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// embedAll embeds texts with at most Config.Concurrency calls in flight.
// Vectors keep the order of texts.
func (e *IndexingEngine) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for i, text := range texts {
		g.Go(func() error {
			v, err := e.embedder.Embed(gctx, text)
			if err != nil {
				return err
			}
			vectors[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if !types.IsFatal(err) {
			err = &types.EmbeddingError{Err: err}
		}
		return nil, err
	}
	return vectors, nil
}

// listDocuments returns the regular, non-hidden files of the docs folder
// sorted by name. Symlinks count when they resolve to a regular file.
func (e *IndexingEngine) listDocuments() ([]string, error) {
	dir := e.config.DocsPath
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 {
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil || !info.Mode().IsRegular() {
				e.logger.Info("skipping symlink that is not a regular file", slog.String("doc", name))
				continue
			}
		} else if !entry.Type().IsRegular() {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
