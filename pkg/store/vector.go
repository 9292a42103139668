package store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xhad/docrag/internal/models"
)

// Vector index kinds.
const (
	KindFlat     = "flat"
	KindHNSW     = "hnsw"
	KindPGVector = "pgvector"
)

// VectorIndex is an append-only set of fixed-dimension rows searchable by
// Euclidean distance. Row numbers are assigned in append order.
type VectorIndex interface {
	Kind() string
	Dimension() int
	Len() int
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]models.Neighbor, error)
	// Truncate drops every row at or after n.
	Truncate(ctx context.Context, n int) error
	// Encode writes the index.bin representation.
	Encode(w io.Writer) error
	Close() error
}

// flusher is implemented by indexes that hold rows outside index.bin and
// must commit them before index.bin is written.
type flusher interface {
	Flush(ctx context.Context) error
}

// newIndex returns an empty index of the configured kind.
func newIndex(ctx context.Context, opts Options) (VectorIndex, error) {
	switch opts.Kind {
	case "", KindFlat:
		return NewFlatIndex(opts.Dimension), nil
	case KindHNSW:
		return NewHNSWIndex(opts.Dimension, opts.HNSW), nil
	case KindPGVector:
		idx, err := OpenPGVectorIndex(ctx, opts.Dimension, opts.Postgres)
		if err != nil {
			return nil, err
		}
		// A new index directory must not adopt rows of another index.
		if idx.Len() > 0 {
			idx.Close()
			return nil, fmt.Errorf("%w: table %s already holds %d rows", ErrTableInUse, idx.opts.TableName, idx.Len())
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index kind: %s", opts.Kind)
	}
}

// decodeIndex reads an index.bin written by Encode. The file must hold an
// index of the configured kind.
func decodeIndex(ctx context.Context, data []byte, opts Options) (VectorIndex, error) {
	kind := sniffKind(data)
	want := opts.Kind
	if want == "" {
		want = KindFlat
	}
	if kind != want {
		return nil, fmt.Errorf("index file holds a %q index, configured %q", kind, want)
	}

	var (
		idx VectorIndex
		err error
	)
	switch kind {
	case KindFlat:
		var flat *FlatIndex
		if flat, err = DecodeFlatIndex(bytes.NewReader(data)); err == nil {
			idx = flat
		}
	case KindHNSW:
		var graph *HNSWIndex
		if graph, err = DecodeHNSWIndex(bufio.NewReader(bytes.NewReader(data)), opts.HNSW); err == nil {
			idx = graph
		}
	case KindPGVector:
		var desc pgDescriptor
		if err = decodeStrict(data, &desc); err != nil {
			return nil, fmt.Errorf("decode pgvector descriptor: %w", err)
		}
		var pg *PGVectorIndex
		if pg, err = openPGVectorFromDescriptor(ctx, desc, opts.Postgres); err == nil {
			idx = pg
		}
	default:
		err = errors.New("unrecognized index file")
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func sniffKind(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte(flatMagic)):
		return KindFlat
	case bytes.HasPrefix(data, []byte(hnswMagic)):
		return KindHNSW
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")):
		return KindPGVector
	}
	return "unknown"
}
