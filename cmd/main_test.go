package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgPkg "github.com/xhad/docrag/pkg/config"
	"github.com/xhad/docrag/pkg/store"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"index", "query", "ask", "serve", "stats"}, names)

	for _, flag := range []string{"config", "docs", "index", "verbose"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DOCRAG_DOCS_PATH", "")
	t.Setenv("DOCRAG_INDEX_PATH", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  kind: hnsw\n  docs_path: from-file\n"), 0644))

	config, err := loadConfig(&rootFlags{configPath: path, indexPath: "override-index"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", config.Index.DocsPath)
	assert.Equal(t, "override-index", config.Index.Path)
	assert.Equal(t, cfgPkg.IndexHNSW, config.Index.Kind)
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  kind: faiss\n"), 0644))

	_, err := loadConfig(&rootFlags{configPath: path})
	assert.ErrorContains(t, err, "index.kind")
}

func TestStoreOptions(t *testing.T) {
	config := cfgPkg.Default()
	config.Index.Kind = cfgPkg.IndexPGVector
	config.Database.URL = "postgres://localhost/docrag"

	opts := storeOptions(config, nil)
	assert.Equal(t, store.KindPGVector, opts.Kind)
	assert.Equal(t, 768, opts.Dimension)
	assert.Equal(t, "postgres://localhost/docrag", opts.Postgres.ConnString)
	assert.Equal(t, "docrag_vectors", opts.Postgres.TableName)
	assert.Equal(t, 16, opts.HNSW.M)
}
