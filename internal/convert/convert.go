// Package convert provides the converter capabilities the format strategies
// delegate extraction to. Each capability has a native implementation built
// on Go libraries and a command-line implementation driving external tools.
package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/endy1328/document-parser-system/internal/document"
)

var (
	// ErrUnavailable is returned when a capability has no working backend,
	// for example when the external tool is not installed.
	ErrUnavailable = errors.New("converter unavailable")
	// ErrTimeout is returned when a conversion exceeds its deadline.
	ErrTimeout = errors.New("converter timed out")
)

// PDFText extracts the plain text of a PDF.
type PDFText interface {
	PDFText(ctx context.Context, path string) (string, error)
}

// PDFPageCount reports the number of pages in a PDF.
type PDFPageCount interface {
	PDFPageCount(ctx context.Context, path string) (int, error)
}

// PDFRaster renders the first page of a PDF as a JPEG scaled to width pixels.
type PDFRaster interface {
	Thumbnail(ctx context.Context, path string, width int) ([]byte, error)
}

// PDFImages writes the images embedded in a PDF into outDir and returns
// their file names relative to outDir.
type PDFImages interface {
	ExtractImages(ctx context.Context, path, outDir string) ([]string, error)
}

// DOCXText extracts the plain text of a DOCX document.
type DOCXText interface {
	DOCXText(ctx context.Context, path string) (string, error)
}

// XLSXRows reads every sheet of a workbook as rows of cell strings.
type XLSXRows interface {
	XLSXSheets(ctx context.Context, path string) ([]document.Sheet, error)
}

// XLSXSheetCount reports the number of sheets in a workbook.
type XLSXSheetCount interface {
	XLSXSheetCount(ctx context.Context, path string) (int, error)
}

// Set bundles one implementation per capability. A nil field means the
// capability is unavailable.
type Set struct {
	PDFText    PDFText
	PageCount  PDFPageCount
	Raster     PDFRaster
	Images     PDFImages
	DOCX       DOCXText
	XLSX       XLSXRows
	SheetCount XLSXSheetCount
}

const (
	BackendNative = "native"
	BackendCLI    = "cli"
)

// NewSet assembles the converters for backend. Thumbnails always use the
// pdftoppm tool since no rasterizer is available natively; sheet counting
// is always native.
func NewSet(backend string, tools Tools) (Set, error) {
	cli := NewCLI(tools)
	native := Native{}

	switch backend {
	case BackendNative, "":
		return Set{
			PDFText:    native,
			PageCount:  native,
			Raster:     cli,
			Images:     native,
			DOCX:       native,
			XLSX:       native,
			SheetCount: native,
		}, nil
	case BackendCLI:
		return Set{
			PDFText:    cli,
			PageCount:  cli,
			Raster:     cli,
			Images:     cli,
			DOCX:       cli,
			XLSX:       cli,
			SheetCount: native,
		}, nil
	default:
		return Set{}, fmt.Errorf("unknown converter backend %q (want %q or %q)", backend, BackendNative, BackendCLI)
	}
}

// deadlineErr maps a finished context to ErrTimeout when its deadline passed.
func deadlineErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
	return ctx.Err()
}

// bounded runs fn on its own goroutine and gives up when ctx ends. Library
// calls cannot be interrupted, so an abandoned fn finishes in the background
// and its result is dropped. Panics from malformed input become errors.
func bounded[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("converter panic: %v", r)}
			}
		}()
		v, err := fn()
		ch <- outcome{v: v, err: err}
	}()

	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, deadlineErr(ctx)
	}
}
