package docextract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("docextract")

// Runner executes an external command. It exists so tests can stub the
// pdftotext and tesseract binaries.
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
		log.Errorf("%s %s failed after %s: %v: %s",
			name, strings.Join(args, " "), time.Since(start), err, truncate(errb.String(), 2048))
	} else {
		log.Debugf("%s produced %d bytes in %s", name, out.Len(), time.Since(start))
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// CLIExtractor extracts text by shelling out to pdftotext for PDFs and
// tesseract for images.
type CLIExtractor struct {
	runner    Runner
	pdftotext string
	tesseract string
	workDir   string
}

// CLIOption configures a CLIExtractor.
type CLIOption func(*CLIExtractor)

// WithRunner overrides the command runner.
func WithRunner(r Runner) CLIOption {
	return func(e *CLIExtractor) { e.runner = r }
}

// WithBinaries overrides the pdftotext and tesseract binary names.
func WithBinaries(pdftotext, tesseract string) CLIOption {
	return func(e *CLIExtractor) {
		e.pdftotext = pdftotext
		e.tesseract = tesseract
	}
}

// NewCLIExtractor returns a CLI-backed extractor writing scratch files
// under workDir.
func NewCLIExtractor(workDir string, opts ...CLIOption) *CLIExtractor {
	e := &CLIExtractor{
		runner:    execRunner{},
		pdftotext: "pdftotext",
		tesseract: "tesseract",
		workDir:   workDir,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText writes data to a scratch file and runs the format's extraction
// command. Any failure is wrapped in ErrUnreadable.
func (e *CLIExtractor) ExtractText(ctx context.Context, data []byte, format Format) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty document: %w", ErrUnreadable)
	}

	f, err := os.CreateTemp(e.workDir, "attest-doc-*")
	if err != nil {
		return "", fmt.Errorf("creating scratch file: %v", err)
	}
	defer func() {
		if err := os.Remove(f.Name()); err != nil {
			log.Warnf("removing scratch file: %v", err)
		}
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("writing scratch file: %v", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing scratch file: %v", err)
	}

	var out []byte
	switch format {
	case FormatPDF:
		out, _, err = e.runner.Run(ctx, e.pdftotext, "-layout", "-enc", "UTF-8", f.Name(), "-")
	case FormatImage:
		out, _, err = e.runner.Run(ctx, e.tesseract, f.Name(), "stdout", "-l", "nor+eng")
	default:
		return "", fmt.Errorf("unsupported format %s: %w", format, ErrUnreadable)
	}
	if err != nil {
		return "", fmt.Errorf("extracting %s text from %s: %w", format, filepath.Base(f.Name()), ErrUnreadable)
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return "", fmt.Errorf("extraction produced no text: %w", ErrUnreadable)
	}
	return string(out), nil
}
