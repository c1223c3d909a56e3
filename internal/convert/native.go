package convert

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xuri/excelize/v2"

	"github.com/endy1328/document-parser-system/internal/document"
)

func init() {
	// Keep pdfcpu from installing a config directory under the user's home.
	api.DisableConfigDir()
}

// Native implements the capabilities with pure Go libraries.
type Native struct{}

func (Native) PDFText(ctx context.Context, path string) (string, error) {
	return bounded(ctx, func() (string, error) {
		f, r, err := pdf.Open(path)
		if err != nil {
			return "", fmt.Errorf("open pdf: %w", err)
		}
		defer f.Close()

		plain, err := r.GetPlainText()
		if err != nil {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
		b, err := io.ReadAll(plain)
		if err != nil {
			return "", fmt.Errorf("read pdf text: %w", err)
		}
		return string(b), nil
	})
}

func (Native) PDFPageCount(ctx context.Context, path string) (int, error) {
	return bounded(ctx, func() (int, error) {
		n, err := api.PageCountFile(path)
		if err != nil {
			return 0, fmt.Errorf("pdfcpu page count: %w", err)
		}
		return n, nil
	})
}

func (Native) ExtractImages(ctx context.Context, path, outDir string) ([]string, error) {
	return bounded(ctx, func() ([]string, error) {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating image directory: %w", err)
		}
		if err := api.ExtractImagesFile(path, outDir, nil, model.NewDefaultConfiguration()); err != nil {
			return nil, fmt.Errorf("pdfcpu extract images: %w", err)
		}
		return listFiles(outDir)
	})
}

func (Native) DOCXText(ctx context.Context, path string) (string, error) {
	return bounded(ctx, func() (string, error) {
		return readDocx(path)
	})
}

func (Native) XLSXSheets(ctx context.Context, path string) ([]document.Sheet, error) {
	return bounded(ctx, func() ([]document.Sheet, error) {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()

		var sheets []document.Sheet
		for _, name := range f.GetSheetList() {
			rows, err := f.GetRows(name)
			if err != nil {
				return nil, fmt.Errorf("read sheet %q: %w", name, err)
			}
			sheets = append(sheets, document.Sheet{Name: name, Rows: rows})
		}
		return sheets, nil
	})
}

func (Native) XLSXSheetCount(ctx context.Context, path string) (int, error) {
	return bounded(ctx, func() (int, error) {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return 0, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()
		return f.SheetCount, nil
	})
}

// readDocx concatenates the paragraphs of word/document.xml, one per line.
func readDocx(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", errors.New("word/document.xml not found in archive")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	var (
		out       strings.Builder
		para      strings.Builder
		inPara    bool
		inTextRun bool
	)
	decoder := xml.NewDecoder(rc)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				para.Reset()
			case "t":
				inTextRun = inPara
			case "tab":
				if inPara {
					para.WriteByte('\t')
				}
			case "br":
				if inPara {
					para.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inTextRun {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inTextRun = false
			case "p":
				inPara = false
				if out.Len() > 0 {
					out.WriteByte('\n')
				}
				out.WriteString(para.String())
			}
		}
	}
	return out.String(), nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
