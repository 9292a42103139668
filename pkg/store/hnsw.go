package store

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/coder/hnsw"

	"github.com/xhad/docrag/internal/models"
)

const (
	hnswMagic   = "DRHN"
	hnswVersion = 1
)

// HNSWOptions tunes the hnsw graph.
type HNSWOptions struct {
	M        int
	EfSearch int
}

// HNSWIndex is an approximate Euclidean index on coder/hnsw. The node key
// is the row number.
type HNSWIndex struct {
	dim   int
	opts  HNSWOptions
	graph *hnsw.Graph[uint64]
}

func NewHNSWIndex(dim int, opts HNSWOptions) *HNSWIndex {
	if opts.M == 0 {
		opts.M = 16 // coder/hnsw default recommendation
	}
	if opts.EfSearch == 0 {
		opts.EfSearch = 20 // coder/hnsw default
	}
	return &HNSWIndex{dim: dim, opts: opts, graph: newGraph(opts)}
}

func newGraph(opts HNSWOptions) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = opts.M
	graph.EfSearch = opts.EfSearch
	graph.Ml = 0.25
	return graph
}

func (h *HNSWIndex) Kind() string   { return KindHNSW }
func (h *HNSWIndex) Dimension() int { return h.dim }
func (h *HNSWIndex) Len() int       { return h.graph.Len() }
func (h *HNSWIndex) Close() error   { return nil }

func (h *HNSWIndex) Add(_ context.Context, vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != h.dim {
			return fmt.Errorf("hnsw: vector has %d dims, index has %d", len(v), h.dim)
		}
	}
	next := uint64(h.graph.Len())
	for i, v := range vectors {
		vec := make([]float32, len(v))
		copy(vec, v)
		h.graph.Add(hnsw.MakeNode(next+uint64(i), vec))
	}
	return nil
}

func (h *HNSWIndex) Search(_ context.Context, query []float32, k int) ([]models.Neighbor, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("hnsw: query has %d dims, index has %d", len(query), h.dim)
	}
	// Handle empty graph
	if k <= 0 || h.graph.Len() == 0 {
		return nil, nil
	}

	nodes := h.graph.Search(query, k)
	out := make([]models.Neighbor, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, models.Neighbor{
			Row:      int64(node.Key),
			Distance: h.graph.Distance(query, node.Value),
		})
	}
	return out, nil
}

// Truncate rebuilds the graph from the first n rows. Deleting nodes from
// coder/hnsw can leave the graph without an entry point, so it is not used.
func (h *HNSWIndex) Truncate(_ context.Context, n int) error {
	if n < 0 || n > h.graph.Len() {
		return fmt.Errorf("hnsw: cannot truncate %d rows to %d", h.graph.Len(), n)
	}
	if n == h.graph.Len() {
		return nil
	}

	graph := newGraph(h.opts)
	for key := uint64(0); key < uint64(n); key++ {
		vec, ok := h.graph.Lookup(key)
		if !ok {
			return fmt.Errorf("hnsw: row %d missing from graph", key)
		}
		graph.Add(hnsw.MakeNode(key, vec))
	}
	h.graph = graph
	return nil
}

// Encode writes a header (magic, version, dimension, rows) followed by the
// graph export.
func (h *HNSWIndex) Encode(w io.Writer) error {
	header := make([]byte, 16)
	copy(header[0:4], hnswMagic)
	binary.LittleEndian.PutUint32(header[4:8], hnswVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(h.dim))
	binary.LittleEndian.PutUint32(header[12:16], uint32(h.graph.Len()))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if h.graph.Len() == 0 {
		return nil
	}
	if err := h.graph.Export(w); err != nil {
		return fmt.Errorf("hnsw: export graph: %w", err)
	}
	return nil
}

// DecodeHNSWIndex reads an index written by Encode.
func DecodeHNSWIndex(r *bufio.Reader, opts HNSWOptions) (*HNSWIndex, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("hnsw: read header: %w", err)
	}
	if string(header[0:4]) != hnswMagic {
		return nil, errors.New("hnsw: bad magic")
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != hnswVersion {
		return nil, fmt.Errorf("hnsw: unsupported version %d", v)
	}
	dim := int(binary.LittleEndian.Uint32(header[8:12]))
	rows := int(binary.LittleEndian.Uint32(header[12:16]))
	if dim <= 0 {
		return nil, fmt.Errorf("hnsw: invalid dimension %d", dim)
	}

	h := NewHNSWIndex(dim, opts)
	if rows == 0 {
		return h, nil
	}

	// Use bufio.Reader because coder/hnsw Import requires io.ByteReader
	if err := h.graph.Import(r); err != nil {
		return nil, fmt.Errorf("hnsw: import graph: %w", err)
	}
	if h.graph.Len() != rows {
		return nil, fmt.Errorf("hnsw: header says %d rows, graph has %d", rows, h.graph.Len())
	}
	h.graph.EfSearch = h.opts.EfSearch
	return h, nil
}
