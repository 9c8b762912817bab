// Package docextract is the boundary with the external document
// text-extraction collaborator: raw bytes plus a format hint in, best-effort
// UTF-8 text out.
package docextract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnreadable indicates the collaborator could not extract text from the
// document. Surfaced to callers as-is, never retried here.
var ErrUnreadable = errors.New("document unreadable")

// Format hints at the uploaded document type.
type Format int

const (
	// FormatUnspecified indicates an unknown document format.
	FormatUnspecified Format = iota
	// FormatPDF indicates a PDF document.
	FormatPDF
	// FormatImage indicates a scanned image.
	FormatImage
)

// String returns a string-encoded format.
func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatImage:
		return "image"
	default:
		return "unspecified"
	}
}

// FormatFromMIME maps a MIME content type to a Format.
func FormatFromMIME(mime string) (Format, error) {
	mime = strings.TrimSpace(strings.ToLower(mime))
	if i := strings.Index(mime, ";"); i != -1 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch {
	case mime == "application/pdf":
		return FormatPDF, nil
	case strings.HasPrefix(mime, "image/"):
		return FormatImage, nil
	default:
		return FormatUnspecified, fmt.Errorf("unsupported content type: %s", mime)
	}
}

// Extractor extracts text from a document. Implementations are external
// collaborators; extraction failure is reported immediately, not retried.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, format Format) (string, error)
}
