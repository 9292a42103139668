package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xhad/docrag/internal/models"
)

// Artifact file names under the index path.
const (
	CacheFileName    = "cache.json"
	MetadataFileName = "meta_data.json"
	IndexFileName    = "index.bin"
)

// cachedValue is the value stored for every processed document.
const cachedValue = "True"

// stagedFile is a fully written and synced temp file waiting to be renamed
// over its target.
type stagedFile struct {
	tmp    string
	target string
}

// stageFile writes a temp file next to target.
func stageFile(target string, write func(w io.Writer) error) (stagedFile, error) {
	file, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return stagedFile{}, fmt.Errorf("create temp file: %w", err)
	}
	staged := stagedFile{tmp: file.Name(), target: target}

	bw := bufio.NewWriter(file)
	if err := write(bw); err != nil {
		file.Close()
		os.Remove(staged.tmp)
		return stagedFile{}, err
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		os.Remove(staged.tmp)
		return stagedFile{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(staged.tmp)
		return stagedFile{}, fmt.Errorf("sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(staged.tmp)
		return stagedFile{}, fmt.Errorf("close temp file: %w", err)
	}
	return staged, nil
}

func (s stagedFile) commit() error {
	if err := os.Rename(s.tmp, s.target); err != nil {
		os.Remove(s.tmp)
		return err
	}
	return nil
}

func (s stagedFile) discard() {
	if s.tmp != "" {
		os.Remove(s.tmp)
	}
}

// writeFileAtomic stages and commits a single file.
func writeFileAtomic(target string, write func(w io.Writer) error) error {
	staged, err := stageFile(target, write)
	if err != nil {
		return err
	}
	if err := staged.commit(); err != nil {
		return err
	}
	return syncDir(filepath.Dir(target))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories.
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

func encodeCache(w io.Writer, cache map[string]bool) error {
	out := make(map[string]string, len(cache))
	for ref, ok := range cache {
		if ok {
			out[ref] = cachedValue
		}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(out)
}

// decodeCache accepts a JSON object of string values and nothing else.
func decodeCache(data []byte) (map[string]bool, error) {
	var raw map[string]string
	if err := decodeStrict(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("cache is not a JSON object")
	}
	cache := make(map[string]bool, len(raw))
	for ref := range raw {
		cache[ref] = true
	}
	return cache, nil
}

func encodeMetadata(w io.Writer, entries []models.MetadataEntry) error {
	if entries == nil {
		entries = []models.MetadataEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(entries)
}

// decodeMetadata accepts a JSON array of entries with no unknown fields.
func decodeMetadata(data []byte) ([]models.MetadataEntry, error) {
	var entries []models.MetadataEntry
	if err := decodeStrict(data, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		return nil, errors.New("metadata is not a JSON array")
	}
	return entries, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
