package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/xhad/docrag/internal/types"
)

// NoSecondTopic is the reply the LLM gives when a block holds a single topic.
const NoSecondTopic = "NO_SECOND_TOPIC"

const topicPrompt = `Analyze this text block and determine if it contains a second distinct topic.

Text block:
%s

If there is a second topic in this block, return ONLY the text from where the second topic begins (including that sentence).
If there is only one topic throughout the block, return "NO_SECOND_TOPIC".

Be precise and only return the actual text of the second topic part, or "NO_SECOND_TOPIC".`

const (
	overlapFraction  = 0.10
	fallbackFraction = 0.75
)

// TopicBoundary grows blocks of TopicBlockWords words and asks an LLM where a
// second topic starts. Boundaries depend on the model and are not
// reproducible.
type TopicBoundary struct {
	config ProcessorConfig
	llm    types.Completer
}

func NewTopicBoundary(config ProcessorConfig, llm types.Completer) *TopicBoundary {
	if config.TopicBlockWords <= 0 {
		config.TopicBlockWords = 128
	}
	return &TopicBoundary{config: config, llm: llm}
}

func (p *TopicBoundary) Chunk(ctx context.Context, text string) ([]string, error) {
	words := strings.Fields(text)

	var chunks []string
	var previous []string

	finalize := func(part []string) {
		chunk := part
		if previous != nil {
			size := max(1, int(float64(len(previous))*overlapFraction))
			chunk = append(append([]string{}, previous[len(previous)-size:]...), part...)
		}
		chunks = append(chunks, strings.Join(chunk, " "))
		previous = chunk
	}

	var block []string
	next := 0
	for {
		if next >= len(words) {
			if len(block) > 0 {
				finalize(block)
			}
			break
		}

		end := min(next+p.config.TopicBlockWords, len(words))
		block = append(block, words[next:end]...)
		next = end

		second, found, err := p.secondTopic(ctx, strings.Join(block, " "))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		split := locate(block, strings.Fields(second))
		if split <= 0 {
			split = int(float64(len(block)) * fallbackFraction)
		}
		if split > 0 {
			finalize(block[:split])
		}
		block = append([]string{}, block[split:]...)
	}

	return chunks, nil
}

func (p *TopicBoundary) secondTopic(ctx context.Context, block string) (string, bool, error) {
	reply, err := p.llm.Complete(ctx, fmt.Sprintf(topicPrompt, block))
	if err != nil {
		return "", false, &types.CompletionError{Err: fmt.Errorf("topic detection: %w", err)}
	}
	reply = strings.Trim(strings.TrimSpace(reply), `"`)
	if strings.Contains(strings.ToUpper(reply), NoSecondTopic) {
		return "", false, nil
	}
	return reply, true, nil
}

// locate returns the position of the first verbatim occurrence of needle in
// words, or -1.
func locate(words, needle []string) int {
	if len(needle) == 0 || len(needle) > len(words) {
		return -1
	}
	for i := 0; i+len(needle) <= len(words); i++ {
		match := true
		for j := range needle {
			if words[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
