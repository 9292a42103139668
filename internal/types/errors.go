package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoIndex is returned when searching before any index file exists.
	ErrNoIndex = errors.New("no vector index found")
	// ErrNoContent is returned when a page has no extractable main content.
	ErrNoContent = errors.New("no content extracted")
	// ErrLocked is returned when another process holds the index directory.
	ErrLocked = errors.New("index is locked by another process")
	// ErrLengthMismatch is returned when entries and vectors differ in length.
	ErrLengthMismatch = errors.New("entries and vectors length mismatch")
)

// StorageError reports a missing, corrupt or unwritable on-disk artifact.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// EmbeddingError reports a failure of the embedding service.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding with %s: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// CompletionError reports a failure of the LLM used while chunking.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("llm completion: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// DimensionMismatchError reports a vector whose size differs from the index.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// ExtractionError reports a PDF or URL content extraction failure.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// UnsupportedDocumentError marks a document kind the loader cannot read.
// It is informational: the document is skipped and marked processed.
type UnsupportedDocumentError struct {
	Name string
}

func (e *UnsupportedDocumentError) Error() string {
	return fmt.Sprintf("%s is not a supported document (txt, md, pdf, url list)", e.Name)
}

// IsFatal reports whether err must abort an indexing run. Storage, embedding,
// completion and dimension failures are fatal, as is context cancellation.
func IsFatal(err error) bool {
	var se *StorageError
	var ee *EmbeddingError
	var ce *CompletionError
	var de *DimensionMismatchError
	switch {
	case errors.As(err, &se), errors.As(err, &ee), errors.As(err, &ce), errors.As(err, &de):
		return true
	case errors.Is(err, ErrLengthMismatch):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
