package loader

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
)

// URLListLoader fetches every URL listed in a url*.txt file. A URL that
// cannot be fetched or has no content is logged and skipped.
type URLListLoader struct {
	Extractor types.PageExtractor
}

func (l URLListLoader) Load(ctx context.Context, path string) (models.LoadedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.LoadedDocument{}, &types.ExtractionError{Source: path, Err: err}
	}

	var pages []models.Page
	for _, u := range ParseURLList(string(data)) {
		if err := ctx.Err(); err != nil {
			return models.LoadedDocument{}, err
		}

		text, err := l.Extractor.FetchAndExtract(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return models.LoadedDocument{}, ctx.Err()
			}
			slog.Warn("could not access url, skipping", slog.String("url", u), slog.String("error", err.Error()))
			continue
		}
		pages = append(pages, models.Page{URL: u, Text: text})
	}

	return models.LoadedDocument{Pages: pages}, nil
}

// ParseURLList splits a comma separated list of URLs. Newlines also separate
// entries and blanks are dropped.
func ParseURLList(data string) []string {
	fields := strings.FieldsFunc(data, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	var urls []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			urls = append(urls, f)
		}
	}
	return urls
}
