package scanning

import "context"

// Kind is the backend family of a Provider
type Kind string

const (
	KindSelfHosted      Kind = "self-hosted"
	KindCloudVision     Kind = "cloud-vision"
	KindCloudChatVision Kind = "cloud-chat-vision"
)

// Request is a single inference call
type Request struct {
	// Image is nil for text-only structuring calls.
	Image    []byte
	MimeType string
	// Instruction is the natural-language prompt.
	Instruction string
	// SchemaHint is an optional JSON example of the expected output.
	SchemaHint string
	// Credential is empty for backends that need none.
	Credential string
}

// Provider sends one inference request to a backend and returns its raw
// textual output. Implementations never retry; failures are *ProviderError.
type Provider interface {
	Name() string
	Kind() Kind
	Infer(ctx context.Context, req Request) (string, error)
}

// Prober is implemented by self-hosted providers that expose a liveness
// endpoint.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Closer is implemented by providers holding SDK clients.
type Closer interface {
	Close() error
}
