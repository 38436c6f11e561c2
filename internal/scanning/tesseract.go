package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		slog.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

// Tesseract implements the Recognizer interface with the tesseract CLI
type Tesseract struct {
	binary      string
	tessdataDir string
	runner      Runner
}

// NewTesseract creates a Tesseract Recognizer. An empty binary means
// "tesseract" on PATH.
func NewTesseract(binary, tessdataDir string) *Tesseract {
	return NewTesseractWithRunner(binary, tessdataDir, execRunner{})
}

// NewTesseractWithRunner creates a Tesseract Recognizer with a custom Runner for testing
func NewTesseractWithRunner(binary, tessdataDir string, runner Runner) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	return &Tesseract{binary: binary, tessdataDir: tessdataDir, runner: runner}
}

// Recognize writes the image to a temp file and runs
// tesseract <file> stdout -l <lang>
func (t *Tesseract) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	if language == "" {
		language = "eng"
	}

	tmp, err := os.CreateTemp("", "receipt-ocr-*.jpg")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	args := []string{tmp.Name(), "stdout", "-l", language}
	if t.tessdataDir != "" {
		args = append(args, "--tessdata-dir", t.tessdataDir)
	}

	out, errb, err := t.runner.Run(ctx, t.binary, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	return string(out), nil
}

// Close is a no-op
func (t *Tesseract) Close() error {
	return nil
}
