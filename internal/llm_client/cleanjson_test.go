package llm_client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain json untouched",
			in:   `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name: "json fence",
			in:   "Here you go:\n```json\n{\"a\": 1}\n```\nHope that helps!",
			want: `{"a": 1}`,
		},
		{
			name: "bare fence",
			in:   "```\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "trailing comma in object",
			in:   `{"a": 1,}`,
			want: `{"a": 1}`,
		},
		{
			name: "trailing comma in array",
			in:   `{"a": [1, 2,],}`,
			want: `{"a": [1, 2]}`,
		},
		{
			name: "fence and trailing commas together",
			in:   "```json\n{\"a\": [1,],\n}\n```",
			want: `{"a": [1]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanJSON(tt.in)
			assert.Equal(t, tt.want, got)

			var parsed map[string]any
			require.NoError(t, json.Unmarshal([]byte(got), &parsed), "cleaned output must be valid JSON")
		})
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "cohere", APIKey: "x", Model: "y"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown LLM provider")
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini"}, nil)
	require.Error(t, err)

	_, err = New(Config{Provider: ProviderAnthropic, APIKey: "k"}, nil)
	require.Error(t, err)
}
