// ABOUTME: Tests for the completion client against a stub provider
// ABOUTME: Covers history clamping, failure normalization, and title fallback

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturedRequest records what the stub provider received.
type capturedRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

func newStubProvider(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func respondCompletion(w http.ResponseWriter, content string, totalTokens int) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}],"usage":{"total_tokens":%d}}`,
		content, totalTokens)
}

func TestComplete(t *testing.T) {
	var captured capturedRequest
	server := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		respondCompletion(w, "Hello there!", 42)
	})

	client := NewClient(ClientConfig{
		BaseURL: server.URL + "/v1",
		APIKey:  "test-key",
	}, nil)

	completion, err := client.Complete(context.Background(),
		"You are helpful.",
		[]Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
		"how are you?", "sparrow-large")
	require.NoError(t, err)

	assert.Equal(t, "Hello there!", completion.Content)
	require.NotNil(t, completion.TokenCount)
	assert.Equal(t, 42, *completion.TokenCount)

	assert.Equal(t, "sparrow-large", captured.Model)
	require.Len(t, captured.Messages, 4)
	assert.Equal(t, Message{Role: "system", Content: "You are helpful."}, captured.Messages[0])
	assert.Equal(t, Message{Role: "user", Content: "how are you?"}, captured.Messages[3])
	assert.False(t, captured.Stream)
}

func TestCompleteOmitsEmptySystemPrompt(t *testing.T) {
	var captured capturedRequest
	server := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		respondCompletion(w, "ok", 0)
	})

	client := NewClient(ClientConfig{BaseURL: server.URL}, nil)

	completion, err := client.Complete(context.Background(), "", nil, "hi", "sparrow-large")
	require.NoError(t, err)
	assert.Nil(t, completion.TokenCount)

	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestCompleteClampsHistory(t *testing.T) {
	var captured capturedRequest
	server := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		respondCompletion(w, "ok", 0)
	})

	client := NewClient(ClientConfig{BaseURL: server.URL}, nil)

	history := make([]Message, 25)
	for i := range history {
		history[i] = Message{Role: "user", Content: fmt.Sprintf("turn %d", i)}
	}

	_, err := client.Complete(context.Background(), "", history, "latest", "sparrow-large")
	require.NoError(t, err)

	// HistoryWindow entries plus the current user turn
	require.Len(t, captured.Messages, HistoryWindow+1)
	assert.Equal(t, "turn 15", captured.Messages[0].Content)
	assert.Equal(t, "turn 24", captured.Messages[HistoryWindow-1].Content)
	assert.Equal(t, "latest", captured.Messages[HistoryWindow].Content)
}

func TestCompleteProviderErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "not json")
			},
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"choices":[]}`)
			},
		},
		{
			name: "empty content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				respondCompletion(w, "", 0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newStubProvider(t, tt.handler)
			client := NewClient(ClientConfig{BaseURL: server.URL}, nil)

			_, err := client.Complete(context.Background(), "", nil, "hi", "sparrow-large")
			assert.ErrorIs(t, err, ErrGenerationFailed)
		})
	}
}

func TestCompleteTimeout(t *testing.T) {
	server := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		respondCompletion(w, "too late", 0)
	})

	client := NewClient(ClientConfig{
		BaseURL: server.URL,
		Timeout: 20 * time.Millisecond,
	}, nil)

	_, err := client.Complete(context.Background(), "", nil, "hi", "sparrow-large")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestCompleteUnreachableProvider(t *testing.T) {
	client := NewClient(ClientConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	}, nil)

	_, err := client.Complete(context.Background(), "", nil, "hi", "sparrow-large")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGenerationFailed))
}

func TestSummarizeTitle(t *testing.T) {
	var captured capturedRequest
	server := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		respondCompletion(w, `"Planning a Garden Layout"`, 0)
	})

	client := NewClient(ClientConfig{
		BaseURL:    server.URL,
		TitleModel: "wren-mini",
	}, nil)

	title := client.SummarizeTitle(context.Background(), "help me plan my garden", "Sure, let's start with...")
	assert.Equal(t, "Planning a Garden Layout", title, "surrounding quotes should be stripped")
	assert.Equal(t, "wren-mini", captured.Model)
}

func TestSummarizeTitleFallback(t *testing.T) {
	t.Run("provider failure", func(t *testing.T) {
		server := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		})
		client := NewClient(ClientConfig{BaseURL: server.URL, TitleModel: "wren-mini"}, nil)

		title := client.SummarizeTitle(context.Background(), "hi", "hello")
		assert.Equal(t, FallbackTitle, title)
	})

	t.Run("whitespace-only title", func(t *testing.T) {
		server := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
			respondCompletion(w, "   ", 0)
		})
		client := NewClient(ClientConfig{BaseURL: server.URL, TitleModel: "wren-mini"}, nil)

		title := client.SummarizeTitle(context.Background(), "hi", "hello")
		assert.Equal(t, FallbackTitle, title)
	})

	t.Run("no title model configured", func(t *testing.T) {
		client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"}, nil)

		title := client.SummarizeTitle(context.Background(), "hi", "hello")
		assert.Equal(t, FallbackTitle, title)
	})
}
