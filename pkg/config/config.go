package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Chunk strategies.
const (
	StrategyFixed = "fixed"
	StrategyTopic = "topic"
)

// DefaultTemperature applies when the config has no llm.temperature key.
const DefaultTemperature = 0.7

// Vector index kinds.
const (
	IndexFlat     = "flat"
	IndexHNSW     = "hnsw"
	IndexPGVector = "pgvector"
)

type Config struct {
	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Embedding struct {
		Endpoint    string `yaml:"endpoint"`
		Model       string `yaml:"model"`
		Dimension   int    `yaml:"dimension"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"embedding"`

	Processor struct {
		ChunkWordCount  int    `yaml:"chunk_word_count"`
		ChunkOverlap    int    `yaml:"chunk_overlap"`
		ChunkStrategy   string `yaml:"chunk_strategy"`
		TopicBlockWords int    `yaml:"topic_block_words"`
	} `yaml:"processor"`

	Index struct {
		DocsPath string `yaml:"docs_path"`
		Path     string `yaml:"path"`
		Kind     string `yaml:"kind"`
		HNSWM    int    `yaml:"hnsw_m"`
		EfSearch int    `yaml:"hnsw_ef_search"`
	} `yaml:"index"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Scraper struct {
		RateLimit      float64 `yaml:"rate_limit"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		UserAgent      string  `yaml:"user_agent"`
	} `yaml:"scraper"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docrag/config.yaml"),
			"/etc/docrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Keys missing from the file keep these values, so an explicit zero stays.
	config := Config{}
	config.LLM.Temperature = DefaultTemperature
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

// Default returns a config with every value defaulted and env merged.
func Default() *Config {
	config, _ := getDefaultConfig()
	return config
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	config.LLM.Temperature = DefaultTemperature
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Endpoint == "" {
		config.Embedding.Endpoint = config.LLM.BaseURL
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}
	if config.Embedding.Concurrency == 0 {
		config.Embedding.Concurrency = 1
	}

	if config.Processor.ChunkWordCount == 0 {
		config.Processor.ChunkWordCount = 512
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 50
	}
	if config.Processor.ChunkStrategy == "" {
		config.Processor.ChunkStrategy = StrategyFixed
	}
	if config.Processor.TopicBlockWords == 0 {
		config.Processor.TopicBlockWords = 128
	}

	if config.Index.DocsPath == "" {
		config.Index.DocsPath = "docs"
	}
	if config.Index.Path == "" {
		config.Index.Path = "index"
	}
	if config.Index.Kind == "" {
		config.Index.Kind = IndexFlat
	}
	if config.Index.HNSWM == 0 {
		config.Index.HNSWM = 16
	}
	if config.Index.EfSearch == 0 {
		config.Index.EfSearch = 20
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "docrag_vectors"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.TimeoutSeconds == 0 {
		config.Scraper.TimeoutSeconds = 30
	}
	if config.Scraper.UserAgent == "" {
		config.Scraper.UserAgent = "docrag/1.0"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if model := os.Getenv("DOCRAG_EMBEDDING_MODEL"); model != "" {
		config.Embedding.Model = model
	}
	if docs := os.Getenv("DOCRAG_DOCS_PATH"); docs != "" {
		config.Index.DocsPath = docs
	}
	if index := os.Getenv("DOCRAG_INDEX_PATH"); index != "" {
		config.Index.Path = index
	}
}
