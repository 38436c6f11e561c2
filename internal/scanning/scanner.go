package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// ErrOCRUnavailable reports that text could not be recognized from an upload.
// Callers treat it as recoverable and fall back to manual entry.
var ErrOCRUnavailable = errors.New("ocr unavailable")

// ExtractionResult is a best-effort guess at the fields printed on a receipt.
// It is advisory only and must be confirmed by a person before use.
type ExtractionResult struct {
	Amount  decimal.NullDecimal `json:"amount"`
	Date    *string             `json:"date"`
	Vendor  *string             `json:"vendor"`
	RawText string              `json:"raw_text"`
	Lines   []string            `json:"lines"`
}

// Empty returns the all-null result used when recognition fails.
func Empty() ExtractionResult {
	return ExtractionResult{Lines: []string{}}
}

// Recognizer turns an image into raw text
type Recognizer interface {
	// Recognize returns the text found in a JPEG image
	Recognize(ctx context.Context, image []byte, language string) (string, error)
	// Close releases resources held by the backend
	Close() error
}

// Config controls the extraction engine
type Config struct {
	Language    string
	TargetWidth int
	Timeout     time.Duration
}

// Engine runs preprocessing, recognition and text parsing for one upload
type Engine struct {
	recognizer Recognizer
	cfg        Config
}

// NewEngine creates an Engine, filling unset config with defaults
func NewEngine(recognizer Recognizer, cfg Config) *Engine {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.TargetWidth <= 0 {
		cfg.TargetWidth = DefaultTargetWidth
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Engine{recognizer: recognizer, cfg: cfg}
}

// Extract recognizes the receipt in data. Every failure, including an
// expired or cancelled context, is reported as ErrOCRUnavailable.
func (e *Engine) Extract(ctx context.Context, data []byte, contentType string) (*ExtractionResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	prepared, err := Preprocess(data, contentType, e.cfg.TargetWidth)
	if err != nil {
		return nil, fmt.Errorf("%w: preprocessing image: %w", ErrOCRUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOCRUnavailable, err)
	}

	text, err := e.recognizer.Recognize(ctx, prepared, e.cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: recognizing text: %w", ErrOCRUnavailable, err)
	}

	result := ParseText(text)
	slog.Debug("OCR extraction completed",
		"content_type", contentType,
		"input_bytes", len(data),
		"prepared_bytes", len(prepared),
		"text_length", len(result.RawText),
		"amount_found", result.Amount.Valid,
		"date_found", result.Date != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &result, nil
}

// Close closes the underlying recognizer
func (e *Engine) Close() error {
	return e.recognizer.Close()
}

// Nop is a Recognizer for deployments without OCR. Every upload falls back
// to manual entry.
type Nop struct{}

// Recognize always fails with ErrOCRUnavailable
func (Nop) Recognize(context.Context, []byte, string) (string, error) {
	return "", ErrOCRUnavailable
}

// Close is a no-op
func (Nop) Close() error { return nil }
