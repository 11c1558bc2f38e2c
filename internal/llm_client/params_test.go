package llm_client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicPromptOnlyRequestGetsUserTurn(t *testing.T) {
	a := &anthropicCompleter{model: "claude-test"}

	params := a.buildParams(CompletionRequest{
		SystemPrompt: "analyze this transcript",
		MaxTokens:    100,
	})

	require.Len(t, params.Messages, 1)
	assert.Equal(t, "user", string(params.Messages[0].Role))
	require.NotNil(t, params.Messages[0].Content[0].OfText)
	assert.Equal(t, "analyze this transcript", params.Messages[0].Content[0].OfText.Text)
	assert.Empty(t, params.System)
}

func TestAnthropicSystemPromptKeptWhenConversationPresent(t *testing.T) {
	a := &anthropicCompleter{model: "claude-test"}

	params := a.buildParams(CompletionRequest{
		SystemPrompt: "score the session",
		Messages:     []Message{{Role: "user", Content: "transcript goes here"}},
	})

	require.Len(t, params.Messages, 1)
	require.NotNil(t, params.Messages[0].Content[0].OfText)
	assert.Equal(t, "transcript goes here", params.Messages[0].Content[0].OfText.Text)
	require.Len(t, params.System, 1)
	assert.Equal(t, "score the session", params.System[0].Text)
}

func TestOpenAIPromptOnlyRequestHasMessage(t *testing.T) {
	o := &openaiCompleter{model: "gpt-test"}

	params := o.buildParams(CompletionRequest{
		SystemPrompt: "analyze this transcript",
		MaxTokens:    100,
	})

	require.Len(t, params.Messages, 1)
	assert.NotNil(t, params.Messages[0].OfSystem)
}
