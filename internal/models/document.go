package models

// DocumentRef is a file name under the docs path or a URL. It is the cache key.
type DocumentRef = string

// URLDocPrefix prefixes the doc field of whole-page entries recorded for URLs.
const URLDocPrefix = "url_"

// Chunk is one passage of a document.
type Chunk struct {
	Doc   DocumentRef
	Index int
	Text  string
}

// MetadataEntry is one row of meta_data.json. Entry i describes vector row i.
type MetadataEntry struct {
	Doc     DocumentRef `json:"doc"`
	ID      *int        `json:"id,omitempty"`
	Content string      `json:"content"`
}

// ChunkEntry builds the entry for a chunk.
func ChunkEntry(c Chunk) MetadataEntry {
	id := c.Index
	return MetadataEntry{Doc: c.Doc, ID: &id, Content: c.Text}
}

// PageEntry builds the whole-page entry for content extracted from url.
func PageEntry(url, content string) MetadataEntry {
	return MetadataEntry{Doc: URLDocPrefix + url, Content: content}
}

// Page is the extracted main content of one URL.
type Page struct {
	URL  string
	Text string
}

// LoadedDocument is the normalized text of a document, ready for chunking.
// Text is set for text and PDF documents, Pages for URL lists.
type LoadedDocument struct {
	Ref   DocumentRef
	Kind  string
	Text  string
	Pages []Page
}

// Neighbor is one nearest-neighbor hit. Row is NoMatch when the index had
// nothing to report for that slot.
type Neighbor struct {
	Row      int64
	Distance float32
}

// NoMatch is the row reported for an empty neighbor slot.
const NoMatch int64 = -1
