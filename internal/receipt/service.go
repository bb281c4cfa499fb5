package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// Extractor runs the inference pipeline on an image
type Extractor interface {
	Extract(ctx context.Context, image []byte, contentType string, opts scanning.ExtractOptions) (*scanning.Extraction, error)
}

// TextParser builds a record from OCR lines without inference
type TextParser interface {
	Parse(lines []scanning.Line) *scanning.Record
}

// LineSource is a local OCR engine
type LineSource interface {
	Lines(ctx context.Context, data []byte, contentType string) ([]scanning.Line, error)
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Result is a stored receipt together with the diagnostics of the run that
// produced it. Attempts are returned to the caller but never persisted.
type Result struct {
	Receipt  *Receipt
	Attempts []scanning.Attempt
	Duration time.Duration
}

// ServiceOption configures optional Service dependencies
type ServiceOption func(*Service)

// WithLineSource enables ProcessLocal.
func WithLineSource(ls LineSource) ServiceOption {
	return func(s *Service) { s.lines = ls }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(g IDGenerator) ServiceOption {
	return func(s *Service) { s.idGenerator = g }
}

// WithTimeSource replaces the system clock.
func WithTimeSource(t TimeSource) ServiceOption {
	return func(s *Service) { s.timeSource = t }
}

// Service extracts receipts and keeps them in the history
type Service struct {
	db          DB
	extractor   Extractor
	parser      TextParser
	lines       LineSource
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service. Local OCR stays disabled unless
// WithLineSource is given.
func NewService(db DB, extractor Extractor, parser TextParser, storage Storage, opts ...ServiceOption) *Service {
	s := &Service{
		db:          db,
		extractor:   extractor,
		parser:      parser,
		storage:     storage,
		idGenerator: uuidGenerator{},
		timeSource:  systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LocalOCREnabled reports whether ProcessLocal can run.
func (s *Service) LocalOCREnabled() bool {
	return s.lines != nil
}

// Backends lists the provider names accepted by ProcessReceipt, when the
// extractor exposes them.
func (s *Service) Backends() []string {
	if b, ok := s.extractor.(interface{ Backends() []string }); ok {
		return b.Backends()
	}
	return nil
}

// ProcessReceipt stores the upload, runs the extraction pipeline and saves
// the resulting record. provider, when set, targets a single backend.
// On failure the upload is removed again and the returned error keeps the
// pipeline's error chain (including *scanning.ExhaustedError).
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType, provider string) (*Result, error) {
	id := s.idGenerator.Generate()
	start := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	extraction, err := s.extractor.Extract(ctx, data, contentType, scanning.ExtractOptions{Provider: provider})
	if err != nil {
		slog.Error("Failed to extract receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"provider", provider,
			"error", err,
		)
		s.discard(savedPath)
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}

	receipt := &Receipt{
		ID:          id,
		Record:      extraction.Record,
		Source:      SourceImage,
		Stage:       extraction.Stage,
		Attempts:    len(extraction.Attempts),
		Filename:    savedPath,
		ContentType: contentType,
		CreatedAt:   start,
	}
	if err := s.db.SaveReceipt(receipt); err != nil {
		s.discard(savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	return &Result{
		Receipt:  receipt,
		Attempts: extraction.Attempts,
		Duration: s.timeSource.Now().Sub(start),
	}, nil
}

// ParseLines runs the deterministic text parser on client supplied OCR lines
// and saves the record.
func (s *Service) ParseLines(lines []scanning.Line) (*Result, error) {
	id := s.idGenerator.Generate()
	start := s.timeSource.Now()

	receipt := &Receipt{
		ID:        id,
		Record:    s.parser.Parse(lines),
		Source:    SourceText,
		CreatedAt: start,
	}
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return &Result{Receipt: receipt, Duration: s.timeSource.Now().Sub(start)}, nil
}

// ProcessLocal reads the upload with the local OCR engine and parses the
// lines deterministically. No inference backend is involved.
func (s *Service) ProcessLocal(ctx context.Context, filename string, data []byte, contentType string) (*Result, error) {
	if s.lines == nil {
		return nil, ErrLocalOCRDisabled
	}
	id := s.idGenerator.Generate()
	start := s.timeSource.Now()

	lines, err := s.lines.Lines(ctx, data, contentType)
	if err != nil {
		slog.Error("Local OCR failed", "filename", filename, "error", err)
		return nil, fmt.Errorf("reading receipt text: %w", err)
	}

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	receipt := &Receipt{
		ID:          id,
		Record:      s.parser.Parse(lines),
		Source:      SourceLocal,
		Filename:    savedPath,
		ContentType: contentType,
		CreatedAt:   start,
	}
	if err := s.db.SaveReceipt(receipt); err != nil {
		s.discard(savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return &Result{Receipt: receipt, Duration: s.timeSource.Now().Sub(start)}, nil
}

func (s *Service) discard(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to clean up file", "filename", path, "error", err)
	}
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.HasFile() {
		if err := s.storage.Delete(receipt.Filename); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "filename", receipt.Filename, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the uploaded image of a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if !receipt.HasFile() {
		return nil, "", fmt.Errorf("%w: no file for %s", ErrNotFound, id)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, receipt.ContentType, nil
}

// attemptsOf returns the diagnostics carried by a pipeline error.
func attemptsOf(err error) []scanning.Attempt {
	var exhausted *scanning.ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return nil
}
