package scanning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrNetwork indicates the backend could not be reached or the call timed out.
	ErrNetwork = errors.New("network error")
	// ErrStatus indicates the backend answered with a non-2xx status.
	ErrStatus = errors.New("unexpected status")
	// ErrDecode indicates the backend answered 2xx but the body could not be read.
	ErrDecode = errors.New("decode error")
	// ErrMalformedOutput indicates no JSON object could be found in backend output.
	ErrMalformedOutput = errors.New("malformed output")
	// ErrNoReceiptFields indicates the output parsed but carried nothing usable.
	ErrNoReceiptFields = errors.New("no receipt fields")
	// ErrTranscriptTooShort indicates a transcription with too little text to structure.
	ErrTranscriptTooShort = errors.New("transcript too short")
	// ErrAllStagesExhausted is the terminal orchestration failure.
	ErrAllStagesExhausted = errors.New("all stages exhausted")
	// ErrUnknownProvider indicates a direct override naming no registered backend.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNotConfigured indicates a stage or backend has no provider behind it.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrInvalidImage indicates an upload that could not be decoded.
	ErrInvalidImage = errors.New("invalid image")
)

// Failure is the kind of provider failure
type Failure string

const (
	FailureNetwork Failure = "network"
	FailureStatus  Failure = "status"
	FailureDecode  Failure = "decode"
)

const maxErrorBodyRunes = 200

// ProviderError is returned by every Provider adapter.
type ProviderError struct {
	Provider   string
	Failure    Failure
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch e.Failure {
	case FailureStatus:
		body := strings.TrimSpace(e.Body)
		if r := []rune(body); len(r) > maxErrorBodyRunes {
			body = string(r[:maxErrorBodyRunes]) + "..."
		}
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, body)
	default:
		return fmt.Sprintf("%s %s error: %v", e.Provider, e.Failure, e.Err)
	}
}

func (e *ProviderError) Unwrap() []error {
	var sentinel error
	switch e.Failure {
	case FailureNetwork:
		sentinel = ErrNetwork
	case FailureStatus:
		sentinel = ErrStatus
	default:
		sentinel = ErrDecode
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

func networkError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Failure: FailureNetwork, Err: err}
}

func statusError(provider string, code int, body string) *ProviderError {
	return &ProviderError{Provider: provider, Failure: FailureStatus, StatusCode: code, Body: body}
}

func decodeError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Failure: FailureDecode, Err: err}
}

// ExhaustedError is returned when no stage produced a record.
type ExhaustedError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%v after %d attempts", ErrAllStagesExhausted, len(e.Attempts))
	}
	return fmt.Sprintf("%v after %d attempts: %v", ErrAllStagesExhausted, len(e.Attempts), e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllStagesExhausted}
	}
	return []error{ErrAllStagesExhausted, e.Last}
}

// Outcome classifies a single attempt
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient-failure"
	OutcomePermanent Outcome = "permanent-failure"
)

// Classify maps an error onto an attempt outcome. Network failures,
// timeouts, 429 and 5xx are transient; every other failure is permanent.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTransient
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Failure {
		case FailureNetwork:
			return OutcomeTransient
		case FailureStatus:
			if pe.StatusCode == http.StatusTooManyRequests ||
				pe.StatusCode == http.StatusRequestTimeout ||
				pe.StatusCode >= 500 {
				return OutcomeTransient
			}
		}
	}
	return OutcomePermanent
}

// IsRateLimited reports whether err is a 429 from a provider.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Failure == FailureStatus && pe.StatusCode == http.StatusTooManyRequests
}
