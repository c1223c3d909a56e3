// Package parser dispatches uploaded files to per-format strategies and
// assembles their output into ParsedContent.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/endy1328/document-parser-system/internal/convert"
	"github.com/endy1328/document-parser-system/internal/document"
	"github.com/endy1328/document-parser-system/internal/render"
)

// ParseError is a hard failure of a format's minimum viable extraction.
type ParseError struct {
	FileType document.FileType
	Op       string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.FileType, e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProgressFunc receives sub-step progress between 0 and 100.
type ProgressFunc func(progress int, message string)

// Progress steps reported while a job is being parsed.
const (
	ProgressMetadata  = 10
	ProgressExtracted = 60
	ProgressEnriched  = 90
)

// Request describes one file to parse.
type Request struct {
	Filename string
	Path     string
	FileType document.FileType
	// ReceivedAt is stamped into the metadata as the document's creation time.
	ReceivedAt time.Time
	// ImageDir receives extracted images; ImagePrefix is prepended to their
	// names in ParsedContent.Images.
	ImageDir    string
	ImagePrefix string
	Progress    ProgressFunc
}

func (r Request) report(progress int, message string) {
	if r.Progress != nil {
		r.Progress(progress, message)
	}
}

// Strategy extracts the content of one file format.
type Strategy interface {
	Parse(ctx context.Context, req Request, meta document.Metadata) (*document.ParsedContent, error)
}

// Options tunes converter invocation.
type Options struct {
	// Timeout bounds every converter call. Zero means no bound.
	Timeout        time.Duration
	ThumbnailWidth int
}

// Registry maps each supported FileType to its Strategy.
type Registry struct {
	conv       convert.Set
	opts       Options
	strategies map[document.FileType]Strategy
	logger     *slog.Logger
}

// NewRegistry builds the strategy table over the given converters.
func NewRegistry(conv convert.Set, opts Options) *Registry {
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 300
	}
	r := &Registry{conv: conv, opts: opts, logger: slog.Default()}
	r.strategies = map[document.FileType]Strategy{
		document.PDF:  pdfStrategy{r},
		document.DOCX: docxStrategy{r},
		document.XLSX: xlsxStrategy{r},
		document.TXT:  textStrategy{},
		document.MD:   textStrategy{},
	}
	return r
}

// For returns the strategy for ft, or ErrUnsupportedType.
func (r *Registry) For(ft document.FileType) (Strategy, error) {
	s, ok := r.strategies[ft]
	if !ok {
		return nil, fmt.Errorf("%w: %s", document.ErrUnsupportedType, ft)
	}
	return s, nil
}

// Parse runs the full pipeline for req: metadata, format dispatch and HTML
// rendering. Enrichment failures are returned as diagnostics on the content.
func (r *Registry) Parse(ctx context.Context, req Request) (*document.ParsedContent, error) {
	strategy, err := r.For(req.FileType)
	if err != nil {
		return nil, err
	}

	meta, diags, err := r.ExtractMetadata(ctx, req)
	if err != nil {
		return nil, err
	}
	req.report(ProgressMetadata, "metadata extracted")

	content, err := strategy.Parse(ctx, req, meta)
	if err != nil {
		return nil, err
	}
	content.Metadata = meta
	content.Diagnostics = append(diags, content.Diagnostics...)
	content.HTML = render.Render(req.Filename, *content)
	req.report(ProgressEnriched, "content rendered")

	for _, d := range content.Diagnostics {
		r.logger.Warn("enrichment step failed", "file", req.Filename, "step", d.Step, "error", d.Message)
	}
	return content, nil
}

// ExtractMetadata computes the Metadata for req. A file that cannot be
// stat'ed is a ParseError; page and sheet counts are best-effort.
func (r *Registry) ExtractMetadata(ctx context.Context, req Request) (document.Metadata, []document.Diagnostic, error) {
	info, err := os.Stat(req.Path)
	if err != nil {
		return document.Metadata{}, nil, &ParseError{FileType: req.FileType, Op: "could not read file", Err: err}
	}

	meta := document.Metadata{
		FileType:  req.FileType,
		FileSize:  info.Size(),
		CreatedAt: req.ReceivedAt.UTC(),
	}
	var diags []document.Diagnostic

	switch req.FileType {
	case document.PDF:
		if n, err := callConverter(ctx, r, r.conv.PageCount, func(ctx context.Context, c convert.PDFPageCount) (int, error) {
			return c.PDFPageCount(ctx, req.Path)
		}); err != nil {
			diags = append(diags, document.Diagnostic{Step: "page_count", Message: err.Error()})
		} else {
			meta.PageCount = &n
		}
	case document.XLSX:
		if n, err := callConverter(ctx, r, r.conv.SheetCount, func(ctx context.Context, c convert.XLSXSheetCount) (int, error) {
			return c.XLSXSheetCount(ctx, req.Path)
		}); err != nil {
			diags = append(diags, document.Diagnostic{Step: "sheet_count", Message: err.Error()})
		} else {
			meta.SheetCount = &n
		}
	}
	return meta, diags, nil
}

// callConverter invokes fn on c under the registry's converter timeout. A
// nil converter yields convert.ErrUnavailable.
func callConverter[C any, T any](ctx context.Context, r *Registry, c C, fn func(context.Context, C) (T, error)) (T, error) {
	var zero T
	if any(c) == nil {
		return zero, convert.ErrUnavailable
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

// isTimeout reports whether err came from a converter exceeding its deadline.
func isTimeout(err error) bool {
	return errors.Is(err, convert.ErrTimeout)
}
