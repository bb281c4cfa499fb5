package receipt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// extractionResponse is the canonical record plus diagnostics
type extractionResponse struct {
	ID string `json:"id"`
	*scanning.Record
	Source           Source             `json:"source"`
	Stage            scanning.Stage     `json:"stage,omitempty"`
	ProcessingTimeMS int64              `json:"processing_time_ms"`
	Attempts         []scanning.Attempt `json:"attempts"`
}

type errorResponse struct {
	Error    string             `json:"error"`
	Attempts []scanning.Attempt `json:"attempts,omitempty"`
}

func newExtractionResponse(res *Result) extractionResponse {
	attempts := res.Attempts
	if attempts == nil {
		attempts = []scanning.Attempt{}
	}
	return extractionResponse{
		ID:               res.Receipt.ID,
		Record:           res.Receipt.Record,
		Source:           res.Receipt.Source,
		Stage:            res.Receipt.Stage,
		ProcessingTimeMS: res.Duration.Milliseconds(),
		Attempts:         attempts,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}

// statusFor maps service errors onto HTTP status codes. Exhaustion is
// checked first because its last error may itself be a timeout.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scanning.ErrAllStagesExhausted):
		return http.StatusBadGateway
	case errors.Is(err, scanning.ErrUnknownProvider), errors.Is(err, scanning.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLocalOCRDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		message = "Internal server error"
	}
	writeJSON(w, code, errorResponse{Error: message, Attempts: attemptsOf(err)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	backends := s.service.Backends()
	if backends == nil {
		backends = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"backends":  backends,
		"local_ocr": s.service.LocalOCREnabled(),
	})
}

// handleOCR extracts a base64 encoded image. A data URL prefix is accepted
// and supplies the content type.
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Image    string `json:"image"`
		Provider string `json:"provider"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize*2)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	data, contentType, err := decodeImagePayload(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.ProcessReceipt(r.Context(), "receipt"+extensionFor(contentType), data, contentType, req.Provider)
	if err != nil {
		slog.Error("Error processing receipt", "provider", req.Provider, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newExtractionResponse(res))
}

// handleOCRUpload extracts a multipart upload ("file", optional "provider").
func (s *Server) handleOCRUpload(w http.ResponseWriter, r *http.Request) {
	data, filename, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	provider := r.FormValue("provider")
	res, err := s.service.ProcessReceipt(r.Context(), filename, data, contentType, provider)
	if err != nil {
		slog.Error("Error processing receipt", "filename", filename, "provider", provider, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newExtractionResponse(res))
}

// handleOCRText parses OCR lines supplied by the client, either as
// {"lines": [{"text", "confidence"}]} or as {"text": "..."}.
func (s *Server) handleOCRText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lines []scanning.Line `json:"lines"`
		Text  string          `json:"text"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	lines := req.Lines
	if len(lines) == 0 && strings.TrimSpace(req.Text) != "" {
		lines = scanning.SplitLines(req.Text)
	}
	if len(lines) == 0 {
		writeError(w, http.StatusBadRequest, "Either lines or text is required")
		return
	}

	res, err := s.service.ParseLines(lines)
	if err != nil {
		slog.Error("Error parsing receipt text", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newExtractionResponse(res))
}

// handleOCRLocal reads a multipart upload with the local OCR engine.
func (s *Server) handleOCRLocal(w http.ResponseWriter, r *http.Request) {
	if !s.service.LocalOCREnabled() {
		writeServiceError(w, ErrLocalOCRDisabled)
		return
	}
	data, filename, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	res, err := s.service.ProcessLocal(r.Context(), filename, data, contentType)
	if err != nil {
		slog.Error("Error reading receipt locally", "filename", filename, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newExtractionResponse(res))
}

// readUpload pulls the "file" part out of a multipart form. On failure the
// error response has already been written.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return nil, "", "", false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return nil, "", "", false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return nil, "", "", false
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}
	return data, header.Filename, contentType, true
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".heic": "image/heic",
	".heif": "image/heif",
}

func contentTypeFor(filename string) string {
	if ct, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "image/heic":
		return ".heic"
	case "image/heif":
		return ".heif"
	}
	return ""
}

// decodeImagePayload decodes base64 image data, tolerating a
// "data:<type>;base64," prefix and unpadded input.
func decodeImagePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", errors.New("image is required")
	}

	contentType := ""
	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", errors.New("malformed data URL")
		}
		contentType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		payload = body
	}
	payload = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' {
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("image is required")
	}
	return data, strings.ToLower(contentType), nil
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		slog.Error("Error deleting receipt", "id", r.PathValue("id"), "error", err)
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
