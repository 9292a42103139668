package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string
	BaseURL         string // Ollama server URL
	HTTPClient      *http.Client
}

// ChatEngine is an engine that uses an LLM to answer from retrieved passages
// and to serve single prompts for topic chunking.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

var (
	_ types.Summarizer = (*ChatEngine)(nil)
	_ types.Completer  = (*ChatEngine)(nil)
)

// NewWithConfig creates a new ChatEngine backed by Ollama.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}

	options := []ollama.Option{
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	}
	if config.HTTPClient != nil {
		options = append(options, ollama.WithHTTPClient(config.HTTPClient))
	}

	llm, err := ollama.New(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(config, llm)
}

// NewWithModel creates a ChatEngine over any langchaingo model.
func NewWithModel(config ChatConfig, llm llms.Model) (*ChatEngine, error) {
	// Validate and set default values for config fields if necessary
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant with access to the following documentation. Answer questions based on this context."
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = "\nRelevant documentation:\n%s\n\nQuestion: %s"
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

func (ce *ChatEngine) callOptions() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
}

// Complete answers a single prompt.
func (ce *ChatEngine) Complete(ctx context.Context, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt, ce.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("completion error: %w", err)
	}
	return response, nil
}

// Summarize answers query from the retrieved entries.
func (ce *ChatEngine) Summarize(ctx context.Context, query string, entries []models.MetadataEntry) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, ce.buildContext(query, entries)),
	}

	response, err := ce.llm.GenerateContent(ctx, content, ce.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("chat error: no response from LLM")
	}

	return response.Choices[0].Content + ce.formatSources(entries), nil
}

func (ce *ChatEngine) buildContext(query string, entries []models.MetadataEntry) string {
	var contextBuilder strings.Builder
	for _, entry := range entries {
		contextBuilder.WriteString(fmt.Sprintf("Source: %s\n%s\n\n", entry.Doc, entry.Content))
	}
	return fmt.Sprintf(ce.config.ContextTemplate, contextBuilder.String(), query)
}

// formatSources formats the sources for citation.
func (ce *ChatEngine) formatSources(entries []models.MetadataEntry) string {
	var sources []string
	seen := make(map[string]bool)

	for _, entry := range entries {
		if !seen[entry.Doc] {
			sources = append(sources, entry.Doc)
			seen[entry.Doc] = true
		}
	}

	if len(sources) == 0 {
		return ""
	}

	return fmt.Sprintf("\n\nSources:\n%s", strings.Join(sources, "\n"))
}
