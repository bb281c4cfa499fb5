package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/zombor/receipt-ledger/internal/category"
)

// Stage names one step of the escalation order
type Stage string

const (
	StageTranscribe     Stage = "transcribe"
	StageStructureText  Stage = "structure-text"
	StagePartial        Stage = "partial"
	StageStructureImage Stage = "structure-image"
	StageDirect         Stage = "direct"
)

const defaultMinTranscriptChars = 5

// Attempt records one provider call for diagnostics.
type Attempt struct {
	Stage      Stage         `json:"stage"`
	Provider   string        `json:"provider"`
	Kind       Kind          `json:"kind"`
	Credential string        `json:"credential,omitempty"` // masked
	Outcome    Outcome       `json:"outcome"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
}

// Backend is a structuring provider together with its credentials. A nil
// Pool means the provider is called once with no credential.
type Backend struct {
	Provider Provider
	Pool     *CredentialPool
}

// Config wires the orchestrator. Any stage may be left empty, in which case
// it is skipped.
type Config struct {
	Transcribe     SelfHostedStage
	StructureText  Backend
	StructureImage Backend
	// Direct maps override names (e.g. "gemini") to the backend they target.
	Direct map[string]Backend

	// Retry defaults to DefaultRetryPolicy when nil. A given policy is used
	// as is, so a zero Backoff means no wait.
	Retry      *RetryPolicy
	Prompts    Prompts
	Classifier *category.Classifier
	// PrepareImage converts uploads before inference. Defaults to PrepareImage.
	PrepareImage func(data []byte, contentType string) ([]byte, string, error)
	// MinTranscriptChars is the least non-space characters a transcription
	// must contain to count as a success.
	MinTranscriptChars int
}

// ExtractOptions tunes a single extraction
type ExtractOptions struct {
	// Provider, when set, bypasses the escalation order and targets one
	// backend from Config.Direct. Failure is returned without fallback.
	Provider string
}

// Extraction is a successful pipeline run
type Extraction struct {
	Record   *Record
	Attempts []Attempt
	Stage    Stage
}

// Orchestrator drives providers through the escalation order. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	cfg   Config
	retry RetryPolicy
}

// NewOrchestrator creates an Orchestrator from cfg, filling in defaults.
func NewOrchestrator(cfg Config) *Orchestrator {
	retry := DefaultRetryPolicy()
	if cfg.Retry != nil {
		retry = cfg.Retry.withDefaults()
	}
	cfg.Prompts = cfg.Prompts.withDefaults()
	if cfg.PrepareImage == nil {
		cfg.PrepareImage = PrepareImage
	}
	if cfg.MinTranscriptChars <= 0 {
		cfg.MinTranscriptChars = defaultMinTranscriptChars
	}
	direct := make(map[string]Backend, len(cfg.Direct))
	for name, b := range cfg.Direct {
		direct[strings.ToLower(name)] = b
	}
	cfg.Direct = direct
	return &Orchestrator{cfg: cfg, retry: retry}
}

// Backends returns the names accepted by ExtractOptions.Provider.
func (o *Orchestrator) Backends() []string {
	names := make([]string, 0, len(o.cfg.Direct))
	for name := range o.cfg.Direct {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extract runs the pipeline on one receipt image. The result is either a
// complete record, a partial record flagged TextOnly, or an error; a
// *ExhaustedError when every stage failed.
func (o *Orchestrator) Extract(ctx context.Context, image []byte, contentType string, opts ExtractOptions) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction canceled: %w", err)
	}

	var direct *Backend
	if opts.Provider != "" {
		b, ok := o.cfg.Direct[strings.ToLower(strings.TrimSpace(opts.Provider))]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
		}
		direct = &b
	}

	img, mimeType, err := o.cfg.PrepareImage(image, contentType)
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	r := &run{o: o}
	if direct != nil {
		return r.direct(ctx, *direct, img, mimeType)
	}
	return r.escalate(ctx, img, mimeType)
}

// run holds the state of one extraction
type run struct {
	o        *Orchestrator
	attempts []Attempt
	last     error
}

func (r *run) direct(ctx context.Context, b Backend, img []byte, mimeType string) (*Extraction, error) {
	rec, raw, err := r.structure(ctx, StageDirect, b, Request{
		Image:       img,
		MimeType:    mimeType,
		Instruction: r.o.cfg.Prompts.StructureImage,
		SchemaHint:  receiptSchemaHint,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extraction canceled: %w", ctx.Err())
		}
		return nil, &ExhaustedError{Attempts: r.attempts, Last: err}
	}
	return r.finish(StageDirect, rec, raw), nil
}

func (r *run) escalate(ctx context.Context, img []byte, mimeType string) (*Extraction, error) {
	cfg := r.o.cfg

	transcript, err := r.transcribe(ctx, img, mimeType)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("extraction canceled: %w", ctx.Err())
	}
	if err == nil {
		rec, _, serr := r.structure(ctx, StageStructureText, cfg.StructureText, Request{
			Instruction: cfg.Prompts.structureText(transcript),
			SchemaHint:  receiptSchemaHint,
		})
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extraction canceled: %w", ctx.Err())
		}
		if serr == nil {
			return r.finish(StageStructureText, rec, transcript), nil
		}

		slog.Warn("Structuring transcript failed, returning text only", "error", serr)
		partial := NewRecord()
		partial.RawText = transcript
		partial.TextOnly = true
		return &Extraction{Record: partial, Attempts: r.attempts, Stage: StagePartial}, nil
	}

	rec, raw, err := r.structure(ctx, StageStructureImage, cfg.StructureImage, Request{
		Image:       img,
		MimeType:    mimeType,
		Instruction: cfg.Prompts.StructureImage,
		SchemaHint:  receiptSchemaHint,
	})
	if ctx.Err() != nil {
		return nil, fmt.Errorf("extraction canceled: %w", ctx.Err())
	}
	if err == nil {
		return r.finish(StageStructureImage, rec, raw), nil
	}

	last := r.last
	if last == nil {
		last = err
	}
	slog.Error("All extraction stages failed", "attempts", len(r.attempts), "error", last)
	return nil, &ExhaustedError{Attempts: r.attempts, Last: last}
}

func (r *run) finish(stage Stage, rec *Record, rawText string) *Extraction {
	rec.RawText = rawText
	rec.ApplyCategory(r.o.cfg.Classifier)
	rec.Finalize()
	slog.Info("Extraction succeeded", "stage", stage, "attempts", len(r.attempts), "category", rec.Category)
	return &Extraction{Record: rec, Attempts: r.attempts, Stage: stage}
}

// transcribe resolves the self-hosted endpoint once and asks it for the raw
// text. ErrNotConfigured means the stage was skipped without an attempt.
func (r *run) transcribe(ctx context.Context, img []byte, mimeType string) (string, error) {
	stage := r.o.cfg.Transcribe
	if !stage.configured() {
		return "", ErrNotConfigured
	}
	p := stage.resolve(ctx)
	if p == nil {
		slog.Info("No self-hosted endpoint reachable, skipping transcription")
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := time.Now()
	text, err := p.Infer(ctx, Request{
		Image:       img,
		MimeType:    mimeType,
		Instruction: r.o.cfg.Prompts.Transcribe,
	})
	if err == nil {
		if n := nonSpaceLen(text); n < r.o.cfg.MinTranscriptChars {
			err = fmt.Errorf("%w: %d characters", ErrTranscriptTooShort, n)
		}
	}
	r.record(StageTranscribe, p, "", start, err)
	return text, err
}

// structure calls b with credential rotation. Credentials are tried in a
// fresh random order; a retryable failure (429) sleeps and retries the same
// credential up to the policy's limit, anything else moves on to the next
// credential. It returns the record and the raw backend output.
func (r *run) structure(ctx context.Context, stage Stage, b Backend, req Request) (*Record, string, error) {
	if b.Provider == nil {
		return nil, "", ErrNotConfigured
	}
	policy := r.o.retry

	creds := b.Pool.ShuffledOrder()
	if len(creds) == 0 {
		creds = []string{""}
	}

	var last error
	for _, cred := range creds {
		for attempt := 1; ; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, "", err
			}

			req.Credential = cred
			start := time.Now()
			raw, err := b.Provider.Infer(ctx, req)
			var rec *Record
			if err == nil {
				rec, err = normalizeRecord(raw)
			}
			r.record(stage, b.Provider, cred, start, err)
			if err == nil {
				return rec, raw, nil
			}

			last = err
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			if !policy.shouldRetry(attempt, err) {
				break
			}
			slog.Warn("Provider rate limited, retrying same credential",
				"stage", stage,
				"provider", b.Provider.Name(),
				"attempt", attempt,
				"backoff", policy.Backoff)
			if err := sleep(ctx, policy.Backoff); err != nil {
				return nil, "", err
			}
		}
	}
	return nil, "", last
}

// normalizeRecord accepts only output that is a JSON object carrying at
// least one receipt field.
func normalizeRecord(raw string) (*Record, error) {
	n, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	if n.Shape != ShapeObject && n.Shape != ShapeObjectList {
		return nil, fmt.Errorf("%w: %s response", ErrNoReceiptFields, n.Shape)
	}
	rec := n.Record.Finalize()
	if !rec.HasReceiptFields() {
		return nil, ErrNoReceiptFields
	}
	return rec, nil
}

func (r *run) record(stage Stage, p Provider, cred string, start time.Time, err error) {
	a := Attempt{
		Stage:      stage,
		Provider:   p.Name(),
		Kind:       p.Kind(),
		Credential: maskCredential(cred),
		Outcome:    Classify(err),
		Latency:    time.Since(start),
	}
	if err != nil {
		a.Error = err.Error()
		r.last = err
		slog.Warn("Provider attempt failed",
			"stage", stage,
			"provider", a.Provider,
			"credential", a.Credential,
			"outcome", a.Outcome,
			"error", err)
	}
	r.attempts = append(r.attempts, a)
}

func nonSpaceLen(s string) int {
	n := 0
	for _, c := range s {
		if !unicode.IsSpace(c) {
			n++
		}
	}
	return n
}

// Close releases SDK clients held by any configured provider.
func (o *Orchestrator) Close() error {
	seen := map[Provider]bool{}
	var errs []error
	closeOne := func(p Provider) {
		if p == nil || seen[p] {
			return
		}
		seen[p] = true
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, p := range o.cfg.Transcribe.Candidates {
		closeOne(p)
	}
	closeOne(o.cfg.Transcribe.Fallback)
	closeOne(o.cfg.StructureText.Provider)
	closeOne(o.cfg.StructureImage.Provider)
	for _, b := range o.cfg.Direct {
		closeOne(b.Provider)
	}
	return errors.Join(errs...)
}
