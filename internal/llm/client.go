// ABOUTME: HTTP client for an OpenAI-compatible chat completion provider
// ABOUTME: Bounds request history, normalizes failures, and generates best-effort titles

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrGenerationFailed wraps every provider-side failure: connection errors,
// timeouts, non-2xx statuses, malformed bodies, and empty completions.
// Callers match it with errors.Is and treat the details as diagnostics only.
var ErrGenerationFailed = errors.New("generation failed")

// HistoryWindow is the maximum number of prior messages sent to the provider
// per request. The current user turn is supplied separately and not counted.
const HistoryWindow = 10

// FallbackTitle is returned by SummarizeTitle when the provider cannot
// produce a usable title. Title generation is best-effort and never fails.
const FallbackTitle = "New Conversation"

// Message is a single history entry in provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a successful provider response.
type Completion struct {
	Content    string
	TokenCount *int
}

// ClientConfig holds configuration options for the completion client.
type ClientConfig struct {
	// BaseURL of the OpenAI-compatible API, e.g. "http://127.0.0.1:11434/v1"
	BaseURL string

	// APIKey sent as a bearer token; may be empty for local providers
	APIKey string

	// Timeout for completion requests (default: 120s)
	Timeout time.Duration

	// TitleModel used for title summarization; empty disables generated
	// titles entirely and SummarizeTitle returns FallbackTitle (the
	// caller is expected to fall back to its default model when it wants
	// titles without a dedicated model)
	TitleModel string
}

// Client talks to an OpenAI-compatible chat completion endpoint.
// It is safe for concurrent use.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a completion client. Pass nil logger for default.
func NewClient(config ClientConfig, logger *slog.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger.With("component", "llm"),
	}
}

// chatRequest is the request body for /chat/completions.
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// chatResponse is the subset of the provider response we consume.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete requests a completion for the current user turn. History is the
// conversation's prior message log, oldest first, excluding the current turn;
// it is clamped to the most recent HistoryWindow entries before sending.
// All failure modes surface as errors wrapping ErrGenerationFailed.
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []Message, userContent, model string) (*Completion, error) {
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}

	messages := make([]Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userContent})

	resp, err := c.chat(ctx, model, messages)
	if err != nil {
		return nil, err
	}

	completion := &Completion{Content: resp.Choices[0].Message.Content}
	if resp.Usage.TotalTokens > 0 {
		tokens := resp.Usage.TotalTokens
		completion.TokenCount = &tokens
	}
	return completion, nil
}

// SummarizeTitle asks the provider for a short descriptive title for a
// conversation's first exchange. On any failure or empty result it returns
// FallbackTitle; it never returns an error, because title generation must
// never abort message delivery.
func (c *Client) SummarizeTitle(ctx context.Context, userContent, assistantContent string) string {
	model := c.config.TitleModel
	if model == "" {
		c.logger.Debug("no title model configured, using fallback title")
		return FallbackTitle
	}

	prompt := fmt.Sprintf(
		"Write a short descriptive title (4-6 words) for this conversation. "+
			"Respond with the title only, no quotation marks.\n\nUser: %s\n\nAssistant: %s",
		userContent, assistantContent)

	resp, err := c.chat(ctx, model, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		c.logger.Warn("title generation failed, using fallback", "error", err)
		return FallbackTitle
	}

	title := strings.TrimSpace(resp.Choices[0].Message.Content)
	title = strings.Trim(title, `"'`)
	if title == "" {
		return FallbackTitle
	}
	return title
}

// chat performs one /chat/completions round trip and validates that the
// response carries a non-empty first choice.
func (c *Client) chat(ctx context.Context, model string, messages []Message) (*chatResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrGenerationFailed, err)
	}

	url := c.config.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrGenerationFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("provider returned error status",
			"status", resp.StatusCode,
			"model", model)
		return nil, fmt.Errorf("%w: provider status %d", ErrGenerationFailed, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrGenerationFailed, err)
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrGenerationFailed)
	}

	return &parsed, nil
}
