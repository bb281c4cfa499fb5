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

// Ollama implements Provider for a self-hosted Ollama server
type Ollama struct {
	name    string
	baseURL string
	model   string
	cfg     endpointConfig
}

// NewOllama creates a new Ollama provider.
// Vision models that read Korean receipts reasonably well:
//   - qwen2.5vl:7b (best OCR of the small models)
//   - llava:1.6
//   - minicpm-v
func NewOllama(baseURL string, modelName string, opts ...Option) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl:7b"
	}

	return &Ollama{
		name:    "ollama",
		baseURL: baseURL,
		model:   modelName,
		// Ollama can be slow, especially for vision models on CPU
		cfg: newEndpointConfig(180*time.Second, "/api/tags", opts),
	}, nil
}

func (o *Ollama) Name() string { return o.name }

func (o *Ollama) Kind() Kind { return KindSelfHosted }

// Probe reports whether the Ollama server is up.
func (o *Ollama) Probe(ctx context.Context) bool {
	return IsReachable(ctx, o.cfg.client, joinURL(o.baseURL, o.cfg.healthPath), o.cfg.probeTimeout)
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Infer sends one chat request to Ollama
func (o *Ollama) Infer(ctx context.Context, r Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.timeout)
	defer cancel()

	reqBody := ollamaChatRequest{
		Model:   o.model,
		Stream:  false,
		Options: map[string]any{"temperature": o.cfg.temperature},
	}
	if r.SchemaHint != "" {
		reqBody.Format = "json"
		reqBody.Messages = append(reqBody.Messages, ollamaMessage{
			Role:    "system",
			Content: "You are an expert at reading receipts. Respond with ONLY a JSON object shaped like: " + r.SchemaHint,
		})
	}
	user := ollamaMessage{Role: "user", Content: r.Instruction}
	if len(r.Image) > 0 {
		user.Images = []string{base64.StdEncoding.EncodeToString(r.Image)}
	}
	reqBody.Messages = append(reqBody.Messages, user)

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(o.baseURL, "/api/chat"), bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.cfg.client.Do(req)
	if err != nil {
		return "", networkError(o.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", statusError(o.name, resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", decodeError(o.name, fmt.Errorf("decoding response: %w", err))
	}

	return strings.TrimSpace(chatResp.Message.Content), nil
}
