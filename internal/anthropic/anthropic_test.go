package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
)

func messageResponse(text string) map[string]any {
	return map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-3-haiku-20240307",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 11, "output_tokens": 3},
	}
}

func TestChatCompletion_MapsSystemAndTurns(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse("hi there"))
	}))
	defer server.Close()

	c := NewClient("test-key", "claude-3-haiku-20240307", server.URL, 5*time.Second)
	resp, err := c.ChatCompletion(context.Background(), model.Request{
		System: "persona",
		Messages: []ctxpkg.Message{
			{Role: "assistant", Content: "orphaned reply"},
			{Role: "user", Content: "hello"},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 11, resp.InputTokens)

	assert.Equal(t, "claude-3-haiku-20240307", body["model"])
	assert.Equal(t, float64(500), body["max_tokens"])
	system := body["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "persona", system[0].(map[string]any)["text"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1, "leading assistant turn must be dropped")
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestChatCompletion_OverloadedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
	}))
	defer server.Close()

	c := NewClient("test-key", "claude-3-haiku-20240307", server.URL, 5*time.Second)
	_, err := c.ChatCompletion(context.Background(), model.Request{Messages: []ctxpkg.Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	var se *model.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, model.ProviderAnthropic, se.Provider)
	assert.True(t, se.Transient())
}

func TestConfigured(t *testing.T) {
	assert.False(t, NewClient("", "m", "", time.Second).Configured())
	assert.True(t, NewClient("k", "m", "", time.Second).Configured())
}
