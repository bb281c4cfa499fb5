package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Gemini implements Provider using Google Gemini. The API key is supplied per
// request; one SDK client is kept per key for the life of the process.
type Gemini struct {
	modelName   string
	timeout     time.Duration
	temperature float32

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGemini creates a new Gemini provider
func NewGemini(modelName string, timeout time.Duration) *Gemini {
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gemini{
		modelName:   modelName,
		timeout:     timeout,
		temperature: 0.1,
		clients:     make(map[string]*genai.Client),
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Kind() Kind { return KindCloudVision }

// client is created outside the request context because it outlives the
// request.
func (g *Gemini) client(apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

// Infer sends the instruction, and the image when present, to Gemini
func (g *Gemini) Infer(ctx context.Context, r Request) (string, error) {
	if r.Credential == "" {
		return "", statusError(g.Name(), http.StatusUnauthorized, "gemini api key is required")
	}
	client, err := g.client(r.Credential)
	if err != nil {
		return "", networkError(g.Name(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := client.GenerativeModel(g.modelName)
	model.SetTemperature(g.temperature)

	var parts []genai.Part
	if len(r.Image) > 0 {
		// genai.ImageData expects just the format suffix (e.g., "jpeg"), not the full MIME type
		format := strings.TrimPrefix(strings.ToLower(r.MimeType), "image/")
		if format == "" {
			format = "jpeg"
		}
		parts = append(parts, genai.ImageData(format, r.Image))
	}
	parts = append(parts, genai.Text(r.Instruction))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", g.classify(ctx, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", decodeError(g.Name(), fmt.Errorf("no response from gemini"))
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return strings.TrimSpace(responseText.String()), nil
}

func (g *Gemini) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return networkError(g.Name(), err)
	}
	if code, ok := geminiStatus(err); ok {
		return statusError(g.Name(), code, err.Error())
	}
	return networkError(g.Name(), err)
}

// geminiStatus maps an SDK error onto an HTTP status code.
func geminiStatus(err error) (int, bool) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return apiErr.Code, true
	}

	st, ok := status.FromError(err)
	if !ok {
		return 0, false
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests, true
	case codes.Unavailable:
		return http.StatusServiceUnavailable, true
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout, true
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest, true
	case codes.Unauthenticated:
		return http.StatusUnauthorized, true
	case codes.PermissionDenied:
		return http.StatusForbidden, true
	case codes.NotFound:
		return http.StatusNotFound, true
	case codes.Internal:
		return http.StatusInternalServerError, true
	}
	return 0, false
}

// Close closes every cached client
func (g *Gemini) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for key, c := range g.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(g.clients, key)
	}
	return errors.Join(errs...)
}
