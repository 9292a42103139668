package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/xhad/docrag/internal/models"
)

const (
	flatMagic   = "DRFI"
	flatVersion = 1
)

// FlatIndex is an exact brute-force L2 index. Distances are squared
// Euclidean and Search pads missing slots with models.NoMatch.
type FlatIndex struct {
	dim  int
	rows [][]float32
}

func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

func (f *FlatIndex) Kind() string   { return KindFlat }
func (f *FlatIndex) Dimension() int { return f.dim }
func (f *FlatIndex) Len() int       { return len(f.rows) }
func (f *FlatIndex) Close() error   { return nil }

func (f *FlatIndex) Add(_ context.Context, vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("flat: vector has %d dims, index has %d", len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.rows = append(f.rows, append([]float32(nil), v...))
	}
	return nil
}

func (f *FlatIndex) Search(_ context.Context, query []float32, k int) ([]models.Neighbor, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("flat: query has %d dims, index has %d", len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	scored := make([]models.Neighbor, len(f.rows))
	for i, row := range f.rows {
		scored[i] = models.Neighbor{Row: int64(i), Distance: squaredL2(query, row)}
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Distance < scored[b].Distance })

	out := make([]models.Neighbor, k)
	for i := range out {
		if i < len(scored) {
			out[i] = scored[i]
		} else {
			out[i] = models.Neighbor{Row: models.NoMatch, Distance: float32(math.Inf(1))}
		}
	}
	return out, nil
}

func (f *FlatIndex) Truncate(_ context.Context, n int) error {
	if n < 0 || n > len(f.rows) {
		return fmt.Errorf("flat: cannot truncate %d rows to %d", len(f.rows), n)
	}
	f.rows = f.rows[:n]
	return nil
}

// Encode writes magic, version, dimension, row count, then little-endian
// float32 rows.
func (f *FlatIndex) Encode(w io.Writer) error {
	header := make([]byte, 16)
	copy(header[0:4], flatMagic)
	binary.LittleEndian.PutUint32(header[4:8], flatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(f.dim))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(f.rows)))
	if _, err := w.Write(header); err != nil {
		return err
	}

	buf := make([]byte, 4*f.dim)
	for _, row := range f.rows {
		for j, v := range row {
			binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFlatIndex reads an index written by Encode.
func DecodeFlatIndex(r io.Reader) (*FlatIndex, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("flat: read header: %w", err)
	}
	if string(header[0:4]) != flatMagic {
		return nil, errors.New("flat: bad magic")
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != flatVersion {
		return nil, fmt.Errorf("flat: unsupported version %d", v)
	}
	dim := int(binary.LittleEndian.Uint32(header[8:12]))
	n := int(binary.LittleEndian.Uint32(header[12:16]))
	if dim <= 0 {
		return nil, fmt.Errorf("flat: invalid dimension %d", dim)
	}

	f := &FlatIndex{dim: dim, rows: make([][]float32, 0, n)}
	buf := make([]byte, 4*dim)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("flat: truncated at row %d: %w", i, err)
		}
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		f.rows = append(f.rows, row)
	}

	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return nil, errors.New("flat: trailing data after last row")
	}
	return f, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
