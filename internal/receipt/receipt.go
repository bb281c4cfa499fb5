package receipt

import (
	"errors"
	"time"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

var (
	// ErrNotFound is returned when no receipt (or receipt file) has the given ID.
	ErrNotFound = errors.New("receipt not found")
	// ErrLocalOCRDisabled is returned by ProcessLocal when no OCR engine is wired.
	ErrLocalOCRDisabled = errors.New("local OCR is not enabled")
)

// Source records how a receipt's fields were obtained
type Source string

const (
	SourceImage Source = "image" // inference pipeline
	SourceText  Source = "text"  // client supplied OCR lines
	SourceLocal Source = "local" // local OCR engine + text parser
)

// Receipt is one extraction kept in the history
type Receipt struct {
	ID          string           `json:"id"`
	Record      *scanning.Record `json:"record"`
	Source      Source           `json:"source"`
	Stage       scanning.Stage   `json:"stage,omitempty"`
	Attempts    int              `json:"attempts"`
	Filename    string           `json:"filename,omitempty"`
	ContentType string           `json:"content_type,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// HasFile reports whether an uploaded image is stored alongside the receipt.
func (r *Receipt) HasFile() bool {
	return r.Filename != ""
}
