package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
	"github.com/xhad/docrag/pkg/store"
)

func testOptions(t *testing.T, kind string) store.Options {
	t.Helper()
	dir := t.TempDir()
	return store.Options{
		DocsPath:  filepath.Join(dir, "docs"),
		IndexPath: filepath.Join(dir, "index"),
		Dimension: 3,
		Kind:      kind,
	}
}

func entries(doc string, n int) []models.MetadataEntry {
	out := make([]models.MetadataEntry, n)
	for i := range out {
		out[i] = models.ChunkEntry(models.Chunk{Doc: doc, Index: i, Text: fmt.Sprintf("chunk %s %d", doc, i)})
	}
	return out
}

func openStore(t *testing.T, opts store.Options) *store.IndexStore {
	t.Helper()
	s, err := store.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesArtifacts(t *testing.T) {
	opts := testOptions(t, store.KindFlat)
	s := openStore(t, opts)

	for _, name := range []string{store.CacheFileName, store.MetadataFileName, store.IndexFileName} {
		assert.FileExists(t, filepath.Join(opts.IndexPath, name))
	}
	assert.DirExists(t, opts.DocsPath)

	cache, err := os.ReadFile(filepath.Join(opts.IndexPath, store.CacheFileName))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(cache))

	meta, err := os.ReadFile(filepath.Join(opts.IndexPath, store.MetadataFileName))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(meta))

	assert.Equal(t, store.Stats{Dimension: 3, Kind: store.KindFlat}, s.Stats())
	assert.Empty(t, s.ProcessedDocs())
}

func TestOpenInvalidDimension(t *testing.T) {
	opts := testOptions(t, store.KindFlat)
	opts.Dimension = 0
	_, err := store.Open(context.Background(), opts)
	assert.Error(t, err)
}

func TestOpenRejectsMalformedArtifacts(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"cache array", store.CacheFileName, `[]`},
		{"cache non-string value", store.CacheFileName, `{"a.txt": true}`},
		{"cache null", store.CacheFileName, `null`},
		{"cache trailing data", store.CacheFileName, `{} {}`},
		{"metadata object", store.MetadataFileName, `{}`},
		{"metadata unknown field", store.MetadataFileName, `[{"doc":"a.txt","id":0,"content":"x","score":1}]`},
		{"metadata wrong type", store.MetadataFileName, `[{"doc":"a.txt","id":"zero","content":"x"}]`},
		{"metadata not json", store.MetadataFileName, `[{'doc': 'a.txt'}]`},
		{"index garbage", store.IndexFileName, `not an index`},
		{"index empty", store.IndexFileName, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t, store.KindFlat)
			require.NoError(t, os.MkdirAll(opts.IndexPath, 0755))
			require.NoError(t, os.WriteFile(filepath.Join(opts.IndexPath, tt.file), []byte(tt.content), 0644))

			_, err := store.Open(context.Background(), opts)
			var se *types.StorageError
			require.ErrorAs(t, err, &se)
			assert.True(t, types.IsFatal(err))
		})
	}
}

func TestOpenDimensionMismatch(t *testing.T) {
	opts := testOptions(t, store.KindFlat)
	s, err := store.Open(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	opts.Dimension = 4
	_, err = store.Open(context.Background(), opts)
	var se *types.StorageError
	require.ErrorAs(t, err, &se)
	var de *types.DimensionMismatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 4, de.Expected)
	assert.Equal(t, 3, de.Got)
}

func TestOpenKindMismatch(t *testing.T) {
	opts := testOptions(t, store.KindFlat)
	s, err := store.Open(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	opts.Kind = store.KindHNSW
	_, err = store.Open(context.Background(), opts)
	var se *types.StorageError
	assert.ErrorAs(t, err, &se)
}

func TestOpenLocked(t *testing.T) {
	opts := testOptions(t, store.KindFlat)
	s := openStore(t, opts)

	_, err := store.Open(context.Background(), opts)
	assert.ErrorIs(t, err, types.ErrLocked)

	require.NoError(t, s.Close())
	again, err := store.Open(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestProcessedCache(t *testing.T) {
	s := openStore(t, testOptions(t, store.KindFlat))

	assert.False(t, s.IsProcessed("b.txt"))
	s.MarkProcessed("b.txt")
	s.MarkProcessed("b.txt")
	s.MarkProcessed("a.txt")
	assert.True(t, s.IsProcessed("b.txt"))
	assert.False(t, s.IsProcessed("B.txt"))
	assert.Equal(t, []string{"a.txt", "b.txt"}, s.ProcessedDocs())
}

func TestAppendChunksValidation(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, testOptions(t, store.KindFlat))

	err := s.AppendChunks(ctx, entries("a.txt", 2), [][]float32{{1, 2, 3}})
	assert.ErrorIs(t, err, types.ErrLengthMismatch)

	err = s.AppendChunks(ctx, entries("a.txt", 1), [][]float32{{1, 2}})
	var de *types.DimensionMismatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 3, de.Expected)
	assert.Equal(t, 2, de.Got)

	require.NoError(t, s.AppendChunks(ctx, nil, nil))
	stats := s.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, 0, stats.Vectors)
}

func TestPersistAndReload(t *testing.T) {
	for _, kind := range []string{store.KindFlat, store.KindHNSW} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			opts := testOptions(t, kind)

			s, err := store.Open(ctx, opts)
			require.NoError(t, err)
			require.NoError(t, s.AppendChunks(ctx, entries("a.txt", 2), [][]float32{{0, 0, 0}, {1, 0, 0}}))
			page := models.PageEntry("https://example.com", "<page> & text")
			require.NoError(t, s.AppendChunks(ctx, []models.MetadataEntry{page}, [][]float32{{0, 9, 0}}))
			s.MarkProcessed("a.txt")
			s.MarkProcessed("url_links.txt")
			require.NoError(t, s.Persist(ctx))
			require.NoError(t, s.Close())

			raw, err := os.ReadFile(filepath.Join(opts.IndexPath, store.CacheFileName))
			require.NoError(t, err)
			assert.JSONEq(t, `{"a.txt": "True", "url_links.txt": "True"}`, string(raw))

			raw, err = os.ReadFile(filepath.Join(opts.IndexPath, store.MetadataFileName))
			require.NoError(t, err)
			assert.JSONEq(t, `[
				{"doc": "a.txt", "id": 0, "content": "chunk a.txt 0"},
				{"doc": "a.txt", "id": 1, "content": "chunk a.txt 1"},
				{"doc": "url_https://example.com", "content": "<page> & text"}
			]`, string(raw))
			assert.Contains(t, string(raw), "<page> & text")

			s = openStore(t, opts)
			assert.Equal(t, store.Stats{Documents: 2, Entries: 3, Vectors: 3, Dimension: 3, Kind: kind}, s.Stats())
			assert.True(t, s.IsProcessed("a.txt"))

			got, err := s.Search(ctx, []float32{0.9, 0, 0}, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "chunk a.txt 1", got[0].Content)

			got, err = s.Search(ctx, []float32{0, 8, 0}, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Nil(t, got[0].ID)
			assert.Equal(t, "url_https://example.com", got[0].Doc)
		})
	}
}

func TestUnpersistedChangesAreDropped(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, store.KindFlat)

	s, err := store.Open(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, s.AppendChunks(ctx, entries("a.txt", 1), [][]float32{{1, 1, 1}}))
	s.MarkProcessed("a.txt")
	require.NoError(t, s.Close())

	s = openStore(t, opts)
	assert.Equal(t, store.Stats{Dimension: 3, Kind: store.KindFlat}, s.Stats())
	assert.False(t, s.IsProcessed("a.txt"))
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, testOptions(t, store.KindFlat))
	require.NoError(t, s.AppendChunks(ctx, entries("a.txt", 3), [][]float32{{0, 0, 0}, {10, 0, 0}, {2, 0, 0}}))

	got, err := s.Search(ctx, []float32{1.5, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, *got[0].ID)
	assert.Equal(t, 0, *got[1].ID)

	// k larger than the row count: padded slots are skipped
	got, err = s.Search(ctx, []float32{0, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.Search(ctx, []float32{0, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Search(ctx, []float32{0, 0}, 1)
	var de *types.DimensionMismatchError
	assert.ErrorAs(t, err, &de)
}

func TestSearchEmptyIndex(t *testing.T) {
	s := openStore(t, testOptions(t, store.KindFlat))
	got, err := s.Search(context.Background(), []float32{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchNoIndexFile(t *testing.T) {
	opts := testOptions(t, store.KindFlat)
	s := openStore(t, opts)
	require.NoError(t, os.Remove(filepath.Join(opts.IndexPath, store.IndexFileName)))

	_, err := s.Search(context.Background(), []float32{1, 2, 3}, 3)
	assert.ErrorIs(t, err, types.ErrNoIndex)
	var se *types.StorageError
	assert.ErrorAs(t, err, &se)
}

func TestRecoverTruncatesLongerSide(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, store.KindFlat)

	s, err := store.Open(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, s.AppendChunks(ctx, entries("a.txt", 2), [][]float32{{1, 0, 0}, {0, 1, 0}}))
	s.MarkProcessed("a.txt")
	require.NoError(t, s.Persist(ctx))
	metaBefore, err := os.ReadFile(filepath.Join(opts.IndexPath, store.MetadataFileName))
	require.NoError(t, err)

	// Simulate a crash after the index rename of the next persist
	require.NoError(t, s.AppendChunks(ctx, entries("b.txt", 1), [][]float32{{0, 0, 1}}))
	s.MarkProcessed("b.txt")
	require.NoError(t, s.Persist(ctx))
	require.NoError(t, s.Close())
	require.NoError(t, os.WriteFile(filepath.Join(opts.IndexPath, store.MetadataFileName), metaBefore, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(opts.IndexPath, store.CacheFileName), []byte(`{"a.txt": "True"}`), 0644))

	s = openStore(t, opts)
	stats := s.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.Vectors)
	assert.False(t, s.IsProcessed("b.txt"))

	got, err := s.Search(ctx, []float32{0, 0, 1}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRecoverMarksDocumentsWithRows(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, store.KindFlat)

	s, err := store.Open(ctx, opts)
	require.NoError(t, err)
	page := models.PageEntry("https://example.com", "page")
	require.NoError(t, s.AppendChunks(ctx,
		append([]models.MetadataEntry{page}, entries("url_links.txt", 1)...),
		[][]float32{{1, 0, 0}, {1, 0, 0}}))
	require.NoError(t, s.Persist(ctx))
	require.NoError(t, s.Close())

	s = openStore(t, opts)
	assert.True(t, s.IsProcessed("url_links.txt"))
	assert.False(t, s.IsProcessed("url_https://example.com"))
}

func TestRecoverUncachesDocumentsThatLostRows(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, store.KindFlat)
	indexFile := filepath.Join(opts.IndexPath, store.IndexFileName)

	s, err := store.Open(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, s.AppendChunks(ctx, entries("a.txt", 2), [][]float32{{1, 0, 0}, {0, 1, 0}}))
	s.MarkProcessed("a.txt")
	b := entries("b.txt", 2)
	require.NoError(t, s.AppendChunks(ctx, b[:1], [][]float32{{0, 0, 1}}))
	require.NoError(t, s.Persist(ctx))
	indexBefore, err := os.ReadFile(indexFile)
	require.NoError(t, err)

	require.NoError(t, s.AppendChunks(ctx, b[1:], [][]float32{{1, 1, 1}}))
	s.MarkProcessed("b.txt")
	require.NoError(t, s.Persist(ctx))
	require.NoError(t, s.Close())

	// The vector rows of b.txt are gone, only part of them remains
	require.NoError(t, os.WriteFile(indexFile, indexBefore, 0644))

	s = openStore(t, opts)
	stats := s.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.Vectors)
	assert.True(t, s.IsProcessed("a.txt"))
	assert.False(t, s.IsProcessed("b.txt"))

	got, err := s.Search(ctx, []float32{0, 0, 1}, 5)
	require.NoError(t, err)
	for _, e := range got {
		assert.Equal(t, "a.txt", e.Doc)
	}
}

func TestPersistFailureBeforeRename(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, store.KindFlat)

	s, err := store.Open(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, s.AppendChunks(ctx, entries("a.txt", 2), [][]float32{{1, 0, 0}, {0, 1, 0}}))
	s.MarkProcessed("a.txt")
	require.NoError(t, s.Persist(ctx))

	require.NoError(t, s.AppendChunks(ctx, entries("b.txt", 1), [][]float32{{0, 0, 1}}))
	s.MarkProcessed("b.txt")

	// Temp files cannot be created while the index path is a plain file
	moved := opts.IndexPath + ".moved"
	require.NoError(t, os.Rename(opts.IndexPath, moved))
	require.NoError(t, os.WriteFile(opts.IndexPath, []byte("not a dir"), 0644))

	err = s.Persist(ctx)
	var se *types.StorageError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "persist", se.Op)

	require.NoError(t, os.Remove(opts.IndexPath))
	require.NoError(t, os.Rename(moved, opts.IndexPath))
	require.NoError(t, s.Close())

	s = openStore(t, opts)
	stats := s.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.Vectors)
	assert.True(t, s.IsProcessed("a.txt"))
	assert.False(t, s.IsProcessed("b.txt"))
}

func TestPersistFailureAfterIndexRename(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, store.KindFlat)
	metaFile := filepath.Join(opts.IndexPath, store.MetadataFileName)

	s, err := store.Open(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, s.AppendChunks(ctx, entries("a.txt", 2), [][]float32{{1, 0, 0}, {0, 1, 0}}))
	s.MarkProcessed("a.txt")
	require.NoError(t, s.Persist(ctx))
	metaBefore, err := os.ReadFile(metaFile)
	require.NoError(t, err)

	require.NoError(t, s.AppendChunks(ctx, entries("b.txt", 1), [][]float32{{0, 0, 1}}))
	s.MarkProcessed("b.txt")

	// A directory in place of the metadata file makes its rename fail
	require.NoError(t, os.Remove(metaFile))
	require.NoError(t, os.MkdirAll(filepath.Join(metaFile, "blocker"), 0755))

	err = s.Persist(ctx)
	var se *types.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, metaFile, se.Path)
	require.NoError(t, s.Close())

	// Leftover temp files are cleaned up
	left, err := filepath.Glob(filepath.Join(opts.IndexPath, ".*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, left)

	require.NoError(t, os.RemoveAll(metaFile))
	require.NoError(t, os.WriteFile(metaFile, metaBefore, 0644))

	s = openStore(t, opts)
	stats := s.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.Vectors)
	assert.True(t, s.IsProcessed("a.txt"))
	assert.False(t, s.IsProcessed("b.txt"))
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, testOptions(t, store.KindFlat))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.AppendChunks(ctx, entries("a.txt", 1), [][]float32{{1, 2, 3}})
	var se *types.StorageError
	assert.True(t, errors.As(err, &se))
	assert.Error(t, s.Persist(ctx))
}
