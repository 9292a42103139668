package loader

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/xhad/docrag/internal/types"
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// PDFToText converts PDFs with poppler's pdftotext.
type PDFToText struct {
	Binary string
	Runner CommandRunner
}

var _ types.PDFConverter = (*PDFToText)(nil)

// NewPDFToText returns a converter that shells out to pdftotext.
func NewPDFToText() *PDFToText {
	return &PDFToText{Binary: "pdftotext", Runner: execRunner{}}
}

// Convert returns the text of the PDF at path, page breaks turned into
// blank lines.
func (p *PDFToText) Convert(ctx context.Context, path string) (string, error) {
	if _, ok := p.Runner.(execRunner); ok {
		if _, err := exec.LookPath(p.Binary); err != nil {
			return "", fmt.Errorf("%s not found: %s", p.Binary, InstallInstructions())
		}
	}

	out, err := p.Runner.Run(ctx, p.Binary, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", p.Binary, err)
	}

	text := strings.ReplaceAll(string(out), "\f", "\n\n")
	return strings.TrimSpace(text), nil
}

// InstallInstructions explains how to get pdftotext.
func InstallInstructions() string {
	return "install pdftotext (poppler): brew install poppler | apt install poppler-utils"
}
