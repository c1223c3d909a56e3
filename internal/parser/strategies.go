package parser

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/endy1328/document-parser-system/internal/convert"
	"github.com/endy1328/document-parser-system/internal/document"
)

// Placeholder bodies used when detailed parsing is unavailable.
const (
	DOCXPlaceholder = "DOCX file uploaded (detailed parsing unavailable)"
	XLSXPlaceholder = "XLSX file uploaded (detailed parsing unavailable)"
)

type pdfStrategy struct{ r *Registry }

// Parse extracts the text, which is required, then generates the thumbnail
// and extracts embedded images concurrently. Only text failures are fatal.
func (s pdfStrategy) Parse(ctx context.Context, req Request, meta document.Metadata) (*document.ParsedContent, error) {
	text, err := callConverter(ctx, s.r, s.r.conv.PDFText, func(ctx context.Context, c convert.PDFText) (string, error) {
		return c.PDFText(ctx, req.Path)
	})
	if err != nil {
		return nil, &ParseError{FileType: document.PDF, Op: "text extraction", Err: err}
	}
	req.report(ProgressExtracted, "text extracted")

	content := &document.ParsedContent{Text: &text}

	var (
		mu                 sync.Mutex
		thumbErr, imageErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		thumb, err := callConverter(ctx, s.r, s.r.conv.Raster, func(ctx context.Context, c convert.PDFRaster) ([]byte, error) {
			return c.Thumbnail(ctx, req.Path, s.r.opts.ThumbnailWidth)
		})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			thumbErr = err
			return nil
		}
		content.Thumbnail = thumb
		return nil
	})
	if req.ImageDir != "" {
		g.Go(func() error {
			names, err := callConverter(ctx, s.r, s.r.conv.Images, func(ctx context.Context, c convert.PDFImages) ([]string, error) {
				return c.ExtractImages(ctx, req.Path, req.ImageDir)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				imageErr = err
				return nil
			}
			for _, n := range names {
				content.Images = append(content.Images, path.Join(req.ImagePrefix, n))
			}
			return nil
		})
	}
	g.Wait()

	// Fixed order keeps diagnostics deterministic.
	if thumbErr != nil {
		content.AddDiagnostic("thumbnail", thumbErr)
	}
	if imageErr != nil {
		content.AddDiagnostic("images", imageErr)
	}
	return content, nil
}

type docxStrategy struct{ r *Registry }

func (s docxStrategy) Parse(ctx context.Context, req Request, meta document.Metadata) (*document.ParsedContent, error) {
	text, err := callConverter(ctx, s.r, s.r.conv.DOCX, func(ctx context.Context, c convert.DOCXText) (string, error) {
		return c.DOCXText(ctx, req.Path)
	})
	if isTimeout(err) {
		return nil, &ParseError{FileType: document.DOCX, Op: "text extraction", Err: err}
	}
	if err != nil {
		placeholder := DOCXPlaceholder
		content := &document.ParsedContent{Text: &placeholder}
		content.AddDiagnostic("docx_text", err)
		return content, nil
	}
	req.report(ProgressExtracted, "text extracted")
	return &document.ParsedContent{Text: &text}, nil
}

type xlsxStrategy struct{ r *Registry }

func (s xlsxStrategy) Parse(ctx context.Context, req Request, meta document.Metadata) (*document.ParsedContent, error) {
	sheets, err := callConverter(ctx, s.r, s.r.conv.XLSX, func(ctx context.Context, c convert.XLSXRows) ([]document.Sheet, error) {
		return c.XLSXSheets(ctx, req.Path)
	})
	if isTimeout(err) {
		return nil, &ParseError{FileType: document.XLSX, Op: "sheet extraction", Err: err}
	}
	if err != nil {
		placeholder := XLSXPlaceholder
		content := &document.ParsedContent{Text: &placeholder}
		content.AddDiagnostic("xlsx_rows", err)
		return content, nil
	}
	req.report(ProgressExtracted, "sheets extracted")
	return &document.ParsedContent{Sheets: sheets}, nil
}

// textStrategy reads TXT and Markdown files verbatim.
type textStrategy struct{}

func (textStrategy) Parse(ctx context.Context, req Request, meta document.Metadata) (*document.ParsedContent, error) {
	b, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, &ParseError{FileType: req.FileType, Op: "could not read file", Err: err}
	}
	text := string(b)
	req.report(ProgressExtracted, fmt.Sprintf("read %d bytes", len(b)))
	return &document.ParsedContent{Text: &text}, nil
}
