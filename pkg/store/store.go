package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
)

// Options configures an IndexStore.
type Options struct {
	DocsPath  string
	IndexPath string
	Dimension int
	Kind      string
	HNSW      HNSWOptions
	Postgres  PGOptions
	Logger    *slog.Logger
}

// Stats summarizes the loaded artifacts.
type Stats struct {
	Documents int    `json:"documents"`
	Entries   int    `json:"entries"`
	Vectors   int    `json:"vectors"`
	Dimension int    `json:"dimension"`
	Kind      string `json:"kind"`
}

// IndexStore owns the processed cache, the metadata ledger and the vector
// index of one index directory. Metadata entry i always describes vector
// row i.
type IndexStore struct {
	mu       sync.RWMutex
	opts     Options
	logger   *slog.Logger
	lock     *dirLock
	cache    map[string]bool
	metadata []models.MetadataEntry
	index    VectorIndex
	closed   bool
}

// Open creates missing directories and artifacts, locks the index directory
// and loads the cache, metadata and vector index.
func Open(ctx context.Context, opts Options) (*IndexStore, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("invalid vector dimension: %d", opts.Dimension)
	}
	if opts.Kind == "" {
		opts.Kind = KindFlat
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, dir := range []string{opts.DocsPath, opts.IndexPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &types.StorageError{Op: "create", Path: dir, Err: err}
		}
	}

	lock := newDirLock(opts.IndexPath)
	if err := lock.acquire(); err != nil {
		if errors.Is(err, types.ErrLocked) {
			return nil, err
		}
		return nil, &types.StorageError{Op: "lock", Path: lock.path, Err: err}
	}

	s := &IndexStore{
		opts:   opts,
		logger: logger,
		lock:   lock,
	}
	if err := s.load(ctx); err != nil {
		if s.index != nil {
			s.index.Close()
		}
		lock.release()
		return nil, err
	}

	logger.Debug("index store opened",
		slog.String("path", opts.IndexPath),
		slog.String("kind", opts.Kind),
		slog.Int("documents", len(s.cache)),
		slog.Int("vectors", s.index.Len()))
	return s, nil
}

func (s *IndexStore) path(name string) string {
	return filepath.Join(s.opts.IndexPath, name)
}

func (s *IndexStore) load(ctx context.Context) error {
	if err := s.ensureArtifacts(ctx); err != nil {
		return err
	}

	cachePath := s.path(CacheFileName)
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return &types.StorageError{Op: "read", Path: cachePath, Err: err}
	}
	if s.cache, err = decodeCache(data); err != nil {
		return &types.StorageError{Op: "decode", Path: cachePath, Err: err}
	}

	metaPath := s.path(MetadataFileName)
	if data, err = os.ReadFile(metaPath); err != nil {
		return &types.StorageError{Op: "read", Path: metaPath, Err: err}
	}
	if s.metadata, err = decodeMetadata(data); err != nil {
		return &types.StorageError{Op: "decode", Path: metaPath, Err: err}
	}

	if s.index == nil {
		indexPath := s.path(IndexFileName)
		if data, err = os.ReadFile(indexPath); err != nil {
			return &types.StorageError{Op: "read", Path: indexPath, Err: err}
		}
		if s.index, err = decodeIndex(ctx, data, s.opts); err != nil {
			return &types.StorageError{Op: "decode", Path: indexPath, Err: err}
		}
		if s.index.Dimension() != s.opts.Dimension {
			return &types.StorageError{Op: "decode", Path: indexPath, Err: &types.DimensionMismatchError{
				Expected: s.opts.Dimension,
				Got:      s.index.Dimension(),
			}}
		}
	}

	return s.recover(ctx)
}

// ensureArtifacts writes an empty cache, metadata and index for whichever
// file does not exist yet. A freshly created index stays loaded.
func (s *IndexStore) ensureArtifacts(ctx context.Context) error {
	empties := []struct {
		name  string
		write func(w io.Writer) error
	}{
		{CacheFileName, func(w io.Writer) error { return encodeCache(w, nil) }},
		{MetadataFileName, func(w io.Writer) error { return encodeMetadata(w, nil) }},
	}
	for _, e := range empties {
		p := s.path(e.name)
		if _, err := os.Stat(p); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return &types.StorageError{Op: "stat", Path: p, Err: err}
		}
		if err := writeFileAtomic(p, e.write); err != nil {
			return &types.StorageError{Op: "create", Path: p, Err: err}
		}
	}

	indexPath := s.path(IndexFileName)
	if _, err := os.Stat(indexPath); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return &types.StorageError{Op: "stat", Path: indexPath, Err: err}
	}

	index, err := newIndex(ctx, s.opts)
	if err != nil {
		return &types.StorageError{Op: "create", Path: indexPath, Err: err}
	}
	s.index = index
	if err := writeFileAtomic(indexPath, index.Encode); err != nil {
		return &types.StorageError{Op: "create", Path: indexPath, Err: err}
	}
	return nil
}

// recover repairs a directory left behind by an interrupted persist. The
// longer of metadata and vectors is cut to the shorter. Documents that lose
// rows to the cut are dropped whole and removed from the cache so the next
// run indexes them again. Any document with chunk rows is marked processed.
func (s *IndexStore) recover(ctx context.Context) error {
	vectors, entries := s.index.Len(), len(s.metadata)
	if vectors != entries {
		keep := min(vectors, entries)

		dropped := make(map[string]bool)
		for _, e := range s.metadata[keep:] {
			if e.ID != nil {
				dropped[e.Doc] = true
			}
		}
		// Entries of one document are contiguous, page entries lead their chunks.
		for keep > 0 && len(dropped) > 0 {
			e := s.metadata[keep-1]
			if e.ID != nil && !dropped[e.Doc] {
				break
			}
			keep--
		}

		s.logger.Warn("index and metadata disagree, truncating to the shorter",
			slog.Int("vectors", vectors),
			slog.Int("entries", entries),
			slog.Int("keep", keep))
		if vectors > keep {
			if err := s.index.Truncate(ctx, keep); err != nil {
				return &types.StorageError{Op: "recover", Path: s.path(IndexFileName), Err: err}
			}
		}
		s.metadata = s.metadata[:keep]

		var uncached []string
		for doc := range dropped {
			if s.cache[doc] {
				delete(s.cache, doc)
				uncached = append(uncached, doc)
			}
		}
		if len(uncached) > 0 {
			sort.Strings(uncached)
			s.logger.Warn("documents lost rows and will be indexed again",
				slog.Any("documents", uncached))
		}
	}

	var added []string
	for _, e := range s.metadata {
		if e.ID == nil || s.cache[e.Doc] {
			continue
		}
		s.cache[e.Doc] = true
		added = append(added, e.Doc)
	}
	if len(added) > 0 {
		s.logger.Warn("documents with indexed rows were missing from the cache",
			slog.Any("documents", added))
	}
	return nil
}

// IsProcessed reports whether ref is in the processed cache.
func (s *IndexStore) IsProcessed(ref models.DocumentRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[ref]
}

// MarkProcessed adds ref to the processed cache.
func (s *IndexStore) MarkProcessed(ref models.DocumentRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[ref] = true
}

// ProcessedDocs returns the cached refs in sorted order.
func (s *IndexStore) ProcessedDocs() []models.DocumentRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make([]models.DocumentRef, 0, len(s.cache))
	for ref := range s.cache {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// AppendChunks appends entries and their vectors as one unit.
func (s *IndexStore) AppendChunks(ctx context.Context, entries []models.MetadataEntry, vectors [][]float32) error {
	if len(entries) != len(vectors) {
		return fmt.Errorf("%w: %d entries, %d vectors", types.ErrLengthMismatch, len(entries), len(vectors))
	}
	if len(entries) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != s.opts.Dimension {
			return &types.DimensionMismatchError{Expected: s.opts.Dimension, Got: len(v)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &types.StorageError{Op: "append", Err: errors.New("store is closed")}
	}

	before := s.index.Len()
	if err := s.index.Add(ctx, vectors); err != nil {
		// Put the index back so it matches the metadata again.
		if terr := s.index.Truncate(ctx, before); terr != nil {
			s.logger.Error("failed to roll back partial append", slog.String("error", terr.Error()))
		}
		return &types.StorageError{Op: "append", Path: s.path(IndexFileName), Err: err}
	}
	s.metadata = append(s.metadata, entries...)
	return nil
}

// Persist writes the index, metadata and cache. Each file is staged and
// synced before the renames, which run index first and cache last.
func (s *IndexStore) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &types.StorageError{Op: "persist", Err: errors.New("store is closed")}
	}

	if f, ok := s.index.(flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return &types.StorageError{Op: "persist", Path: s.opts.Postgres.TableName, Err: err}
		}
	}

	metadata := s.metadata
	cache := s.cache
	writers := []struct {
		name  string
		write func(w io.Writer) error
	}{
		{IndexFileName, s.index.Encode},
		{MetadataFileName, func(w io.Writer) error { return encodeMetadata(w, metadata) }},
		{CacheFileName, func(w io.Writer) error { return encodeCache(w, cache) }},
	}

	staged := make([]stagedFile, 0, len(writers))
	discard := func() {
		for _, sf := range staged {
			sf.discard()
		}
	}
	for _, w := range writers {
		sf, err := stageFile(s.path(w.name), w.write)
		if err != nil {
			discard()
			return &types.StorageError{Op: "persist", Path: s.path(w.name), Err: err}
		}
		staged = append(staged, sf)
	}

	for i, sf := range staged {
		if err := sf.commit(); err != nil {
			for _, rest := range staged[i+1:] {
				rest.discard()
			}
			return &types.StorageError{Op: "persist", Path: sf.target, Err: err}
		}
	}
	if err := syncDir(s.opts.IndexPath); err != nil {
		return &types.StorageError{Op: "persist", Path: s.opts.IndexPath, Err: err}
	}

	s.logger.Debug("index persisted",
		slog.Int("documents", len(s.cache)),
		slog.Int("entries", len(s.metadata)))
	return nil
}

// Search returns the metadata of the k rows nearest to query. Rows the
// index reports as empty or that have no metadata are skipped.
func (s *IndexStore) Search(ctx context.Context, query []float32, k int) ([]models.MetadataEntry, error) {
	indexPath := s.path(IndexFileName)
	if _, err := os.Stat(indexPath); errors.Is(err, os.ErrNotExist) {
		return nil, &types.StorageError{Op: "search", Path: indexPath, Err: types.ErrNoIndex}
	}
	if len(query) != s.opts.Dimension {
		return nil, &types.DimensionMismatchError{Expected: s.opts.Dimension, Got: len(query)}
	}
	if k <= 0 {
		return []models.MetadataEntry{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &types.StorageError{Op: "search", Err: errors.New("store is closed")}
	}

	neighbors, err := s.index.Search(ctx, query, k)
	if err != nil {
		return nil, &types.StorageError{Op: "search", Path: indexPath, Err: err}
	}

	results := make([]models.MetadataEntry, 0, min(k, len(neighbors)))
	for _, n := range neighbors {
		if len(results) == k {
			break
		}
		if n.Row == models.NoMatch || n.Row < 0 || n.Row >= int64(len(s.metadata)) {
			continue
		}
		results = append(results, s.metadata[n.Row])
	}
	return results, nil
}

// Stats reports the sizes of the loaded artifacts.
func (s *IndexStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Documents: len(s.cache),
		Entries:   len(s.metadata),
		Vectors:   s.index.Len(),
		Dimension: s.index.Dimension(),
		Kind:      s.index.Kind(),
	}
}

// Close releases the backend and the directory lock. Unpersisted changes
// are dropped.
func (s *IndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.index.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.lock.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
