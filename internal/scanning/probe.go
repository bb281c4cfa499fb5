package scanning

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultProbeTimeout = 2 * time.Second

// Option configures an HTTP-backed provider
type Option func(*endpointConfig)

type endpointConfig struct {
	client       *http.Client
	timeout      time.Duration
	healthPath   string
	probeTimeout time.Duration
	temperature  float64
}

// WithHTTPClient replaces the provider's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *endpointConfig) { cfg.client = c }
}

// WithTimeout bounds a single inference call.
func WithTimeout(d time.Duration) Option {
	return func(cfg *endpointConfig) { cfg.timeout = d }
}

// WithHealthPath sets the path probed for liveness.
func WithHealthPath(path string) Option {
	return func(cfg *endpointConfig) { cfg.healthPath = path }
}

// WithProbeTimeout bounds a liveness probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(cfg *endpointConfig) { cfg.probeTimeout = d }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(cfg *endpointConfig) { cfg.temperature = t }
}

func newEndpointConfig(defaultTimeout time.Duration, defaultHealth string, opts []Option) endpointConfig {
	cfg := endpointConfig{
		timeout:      defaultTimeout,
		healthPath:   defaultHealth,
		probeTimeout: defaultProbeTimeout,
		temperature:  0.1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.client == nil {
		cfg.client = &http.Client{Timeout: cfg.timeout}
	}
	return cfg
}

// IsReachable issues a GET against url and reports whether it answered 2xx
// within timeout.
func IsReachable(ctx context.Context, client *http.Client, url string, timeout time.Duration) bool {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// SelfHostedStage lists the self-hosted transcription endpoints in preference
// order plus the default used when none of them answers its probe.
type SelfHostedStage struct {
	Candidates []Provider
	Fallback   Provider
}

func (s SelfHostedStage) configured() bool {
	return len(s.Candidates) > 0 || s.Fallback != nil
}

// resolve probes every candidate concurrently and returns the first reachable
// one in preference order. Candidates without a Probe method are assumed
// reachable. With nothing reachable the fallback is returned, which may be nil.
func (s SelfHostedStage) resolve(ctx context.Context) Provider {
	if len(s.Candidates) == 0 {
		return s.Fallback
	}

	reachable := make([]bool, len(s.Candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.Candidates {
		g.Go(func() error {
			prober, ok := p.(Prober)
			reachable[i] = !ok || prober.Probe(gctx)
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range s.Candidates {
		if reachable[i] {
			return p
		}
		slog.Debug("Self-hosted endpoint unreachable", "provider", p.Name())
	}
	return s.Fallback
}
