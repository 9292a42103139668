package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/xhad/docrag/internal/types"
)

type ProcessorConfig struct {
	ChunkWordCount  int
	ChunkOverlap    int
	Strategy        string
	TopicBlockWords int
}

// New returns the chunker selected by config.Strategy. The topic strategy
// needs an LLM.
func New(config ProcessorConfig, llm types.Completer) (types.Chunker, error) {
	switch config.Strategy {
	case "", "fixed":
		return NewFixedWindow(config), nil
	case "topic":
		if llm == nil {
			return nil, fmt.Errorf("topic chunking requires an LLM")
		}
		return NewTopicBoundary(config, llm), nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy: %s", config.Strategy)
	}
}

// FixedWindow emits windows of ChunkWordCount words that overlap by
// ChunkOverlap words.
type FixedWindow struct {
	config ProcessorConfig
}

func NewFixedWindow(config ProcessorConfig) *FixedWindow {
	if config.ChunkWordCount <= 0 {
		config.ChunkWordCount = 512
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkWordCount {
		config.ChunkOverlap = 0
	}
	return &FixedWindow{config: config}
}

func (p *FixedWindow) Chunk(_ context.Context, text string) ([]string, error) {
	return p.splitIntoChunks(strings.Fields(text)), nil
}

func (p *FixedWindow) splitIntoChunks(words []string) []string {
	var chunks []string
	step := p.config.ChunkWordCount - p.config.ChunkOverlap

	for i := 0; i < len(words); i += step {
		end := min(i+p.config.ChunkWordCount, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))

		// The window reached the end of the text
		if end == len(words) {
			break
		}
	}

	return chunks
}

// ChunkCount is the number of windows FixedWindow produces for n words.
func ChunkCount(n, size, overlap int) int {
	if n <= 0 {
		return 0
	}
	if n <= size {
		return 1
	}
	step := size - overlap
	return (n-size+step-1)/step + 1
}
