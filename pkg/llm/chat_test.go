package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/docrag/internal/models"
)

// fakeModel records the messages it receives and answers with reply.
type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func textOf(t *testing.T, message llms.MessageContent) string {
	require.NotEmpty(t, message.Parts)
	part, ok := message.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestNewWithConfig(t *testing.T) {
	engine, err := NewWithConfig(ChatConfig{
		Model:       "testmodel",
		Temperature: 0.5,
		MaxTokens:   1000,
		BaseURL:     "http://localhost:1234",
	})
	require.NoError(t, err)
	assert.NotNil(t, engine)

	_, err = NewWithConfig(ChatConfig{Temperature: 5})
	assert.Error(t, err)

	_, err = NewWithConfig(ChatConfig{MaxTokens: -1})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	model := &fakeModel{reply: "Socks are colorful."}
	engine, err := NewWithModel(ChatConfig{Temperature: 0.5}, model)
	require.NoError(t, err)

	id := 0
	entries := []models.MetadataEntry{
		{Doc: "socks.txt", ID: &id, Content: "Our socks come in twelve colors."},
		{Doc: "socks.txt", Content: "They are made of wool."},
		{Doc: "url_https://example.com", Content: "Example page."},
	}

	answer, err := engine.Summarize(context.Background(), "What colors?", entries)
	require.NoError(t, err)
	assert.Equal(t, "Socks are colorful.\n\nSources:\nsocks.txt\nurl_https://example.com", answer)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	prompt := textOf(t, model.messages[1])
	assert.Contains(t, prompt, "Source: socks.txt\nOur socks come in twelve colors.")
	assert.Contains(t, prompt, "Question: What colors?")
}

func TestSummarizeError(t *testing.T) {
	engine, err := NewWithModel(ChatConfig{}, &fakeModel{err: errors.New("offline")})
	require.NoError(t, err)

	_, err = engine.Summarize(context.Background(), "q", nil)
	assert.ErrorContains(t, err, "offline")
}

func TestComplete(t *testing.T) {
	model := &fakeModel{reply: "NO_SECOND_TOPIC"}
	engine, err := NewWithModel(ChatConfig{}, model)
	require.NoError(t, err)

	reply, err := engine.Complete(context.Background(), "Analyze this text block")
	require.NoError(t, err)
	assert.Equal(t, "NO_SECOND_TOPIC", reply)
	require.Len(t, model.messages, 1)
	assert.Equal(t, "Analyze this text block", textOf(t, model.messages[0]))
}
