package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatCompletions talks to any OpenAI-compatible /v1/chat/completions
// endpoint. It serves the self-hosted LightOnOCR server (no credential) and
// cloud chat-vision APIs (bearer credential).
type ChatCompletions struct {
	name     string
	kind     Kind
	endpoint string
	model    string
	cfg      endpointConfig
}

// NewChatCompletions creates a chat-completions provider. endpoint is the
// server's base URL, e.g. http://localhost:8000 or https://api.openai.com.
func NewChatCompletions(name string, kind Kind, endpoint, model string, opts ...Option) (*ChatCompletions, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%s endpoint is required", name)
	}
	if model == "" {
		return nil, fmt.Errorf("%s model is required", name)
	}
	timeout := 60 * time.Second
	if kind == KindSelfHosted {
		timeout = 180 * time.Second // self-hosted inference runs on CPU more often than not
	}
	return &ChatCompletions{
		name:     name,
		kind:     kind,
		endpoint: endpoint,
		model:    model,
		cfg:      newEndpointConfig(timeout, "/health", opts),
	}, nil
}

func (c *ChatCompletions) Name() string { return c.name }

func (c *ChatCompletions) Kind() Kind { return c.kind }

// Probe reports whether the server's health path answers 2xx.
func (c *ChatCompletions) Probe(ctx context.Context) bool {
	return IsReachable(ctx, c.cfg.client, joinURL(c.endpoint, c.cfg.healthPath), c.cfg.probeTimeout)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage content is either a plain string or a list of parts.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Infer sends one chat completion and returns the first choice's content.
func (c *ChatCompletions) Infer(ctx context.Context, r Request) (string, error) {
	var messages []chatMessage
	if r.SchemaHint != "" {
		messages = append(messages, chatMessage{
			Role:    "system",
			Content: "You extract data from receipts. Respond with ONLY a JSON object shaped like: " + r.SchemaHint,
		})
	}

	var content any = r.Instruction
	if len(r.Image) > 0 {
		mime := r.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		content = []chatPart{
			{Type: "text", Text: r.Instruction},
			{Type: "image_url", ImageURL: &chatImageURL{
				URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(r.Image),
			}},
		}
	}
	messages = append(messages, chatMessage{Role: "user", Content: content})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.cfg.temperature,
		MaxTokens:   4096,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.endpoint, "/v1/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+r.Credential)
	}

	resp, err := c.cfg.client.Do(req)
	if err != nil {
		return "", networkError(c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", networkError(c.name, fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(c.name, resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", decodeError(c.name, fmt.Errorf("decoding response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return "", decodeError(c.name, fmt.Errorf("no completion choices returned"))
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}
