package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate Embedding config
	if _, err := url.ParseRequestURI(c.Embedding.Endpoint); err != nil {
		errors = append(errors, ValidationError{
			Field:   "embedding.endpoint",
			Message: "invalid embedding endpoint",
		})
	}

	if c.Embedding.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding.model",
			Message: "embedding model is required",
		})
	}

	if c.Embedding.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dimension",
			Message: "dimension must be positive",
		})
	}

	if c.Embedding.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.concurrency",
			Message: "concurrency must be positive",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkWordCount < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_word_count",
			Message: "chunk_word_count must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkWordCount {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_word_count",
		})
	}

	if c.Processor.ChunkStrategy != StrategyFixed && c.Processor.ChunkStrategy != StrategyTopic {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_strategy",
			Message: fmt.Sprintf("unknown chunk strategy: %s", c.Processor.ChunkStrategy),
		})
	}

	if c.Processor.TopicBlockWords < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.topic_block_words",
			Message: "topic_block_words must be positive",
		})
	}

	// Validate Index config
	switch c.Index.Kind {
	case IndexFlat, IndexHNSW:
	case IndexPGVector:
		if c.Database.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "database URL is required for the pgvector index",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "index.kind",
			Message: fmt.Sprintf("unknown index kind: %s", c.Index.Kind),
		})
	}

	if c.Index.DocsPath == "" || c.Index.Path == "" {
		errors = append(errors, ValidationError{
			Field:   "index.path",
			Message: "docs_path and path are required",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Scraper config
	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Scraper.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "scraper.timeout_seconds",
			Message: "timeout_seconds must be positive",
		})
	}

	return errors
}
