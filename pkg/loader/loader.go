// Package loader turns files in the docs folder into normalized text.
//
// The kind of a document is resolved once from its file name (see KindOf)
// and each kind has one Loader implementation.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
)

// Kind is the document variant resolved from a file name.
type Kind string

const (
	KindText        Kind = "text"
	KindPDF         Kind = "pdf"
	KindURLList     Kind = "urllist"
	KindUnsupported Kind = "unsupported"
)

// URLListPrefix marks a .txt file as a list of URLs.
const URLListPrefix = "url"

// KindOf resolves the kind of the document called name.
func KindOf(name string) Kind {
	base := filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(base))
	isURLList := strings.HasPrefix(base, URLListPrefix)

	switch {
	case ext == ".txt" && isURLList:
		return KindURLList
	case (ext == ".txt" || ext == ".md") && !isURLList:
		return KindText
	case ext == ".pdf":
		return KindPDF
	default:
		return KindUnsupported
	}
}

// Loader reads one kind of document.
type Loader interface {
	Load(ctx context.Context, path string) (models.LoadedDocument, error)
}

// Set dispatches documents to the Loader registered for their kind.
type Set struct {
	docsPath string
	loaders  map[Kind]Loader
}

// NewSet builds the loaders for every supported kind.
func NewSet(docsPath string, pdf types.PDFConverter, pages types.PageExtractor) *Set {
	return &Set{
		docsPath: docsPath,
		loaders: map[Kind]Loader{
			KindText:    TextLoader{},
			KindPDF:     PDFLoader{Converter: pdf},
			KindURLList: URLListLoader{Extractor: pages},
		},
	}
}

// Load reads the document called name from the docs folder. Unsupported
// kinds yield a types.UnsupportedDocumentError.
func (s *Set) Load(ctx context.Context, name string) (models.LoadedDocument, error) {
	kind := KindOf(name)
	l, ok := s.loaders[kind]
	if !ok {
		return models.LoadedDocument{}, &types.UnsupportedDocumentError{Name: name}
	}

	doc, err := l.Load(ctx, filepath.Join(s.docsPath, name))
	if err != nil {
		return models.LoadedDocument{}, err
	}
	doc.Ref = name
	doc.Kind = string(kind)
	return doc, nil
}

// TextLoader reads plain text and Markdown verbatim.
type TextLoader struct{}

func (TextLoader) Load(_ context.Context, path string) (models.LoadedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.LoadedDocument{}, &types.ExtractionError{Source: path, Err: err}
	}
	return models.LoadedDocument{Text: string(data)}, nil
}

// PDFLoader converts PDFs to text.
type PDFLoader struct {
	Converter types.PDFConverter
}

func (l PDFLoader) Load(ctx context.Context, path string) (models.LoadedDocument, error) {
	if l.Converter == nil {
		return models.LoadedDocument{}, &types.ExtractionError{Source: path, Err: fmt.Errorf("no PDF converter configured")}
	}
	text, err := l.Converter.Convert(ctx, path)
	if err != nil {
		return models.LoadedDocument{}, &types.ExtractionError{Source: path, Err: err}
	}
	return models.LoadedDocument{Text: text}, nil
}
