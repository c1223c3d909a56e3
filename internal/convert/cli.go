package convert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/endy1328/document-parser-system/internal/document"
)

// Tools names the external executables used by the command-line backend.
// Empty fields fall back to the tool's default name on PATH.
type Tools struct {
	PDFToText string
	PDFInfo   string
	PDFImages string
	PDFToPPM  string
	DOCX2Txt  string
	XLSX2CSV  string
}

func (t Tools) withDefaults() Tools {
	def := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Tools{
		PDFToText: def(t.PDFToText, "pdftotext"),
		PDFInfo:   def(t.PDFInfo, "pdfinfo"),
		PDFImages: def(t.PDFImages, "pdfimages"),
		PDFToPPM:  def(t.PDFToPPM, "pdftoppm"),
		DOCX2Txt:  def(t.DOCX2Txt, "docx2txt"),
		XLSX2CSV:  def(t.XLSX2CSV, "xlsx2csv"),
	}
}

// CLI implements the capabilities by running external tools.
type CLI struct {
	tools Tools
}

func NewCLI(tools Tools) CLI {
	return CLI{tools: tools.withDefaults()}
}

// run executes name with args and returns its stdout. A missing executable
// is reported as ErrUnavailable; a passed deadline as ErrTimeout.
func (c CLI) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	bin, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", name, deadlineErr(ctx))
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return nil, fmt.Errorf("%s exited: %w", name, err)
		}
		return nil, fmt.Errorf("%s exited: %w: %s", name, err, detail)
	}
	return stdout.Bytes(), nil
}

func (c CLI) PDFText(ctx context.Context, path string) (string, error) {
	out, err := c.run(ctx, c.tools.PDFToText, "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c CLI) PDFPageCount(ctx context.Context, path string) (int, error) {
	out, err := c.run(ctx, c.tools.PDFInfo, path)
	if err != nil {
		return 0, err
	}
	return parsePDFInfoPages(out)
}

// parsePDFInfoPages reads the "Pages:" line of pdfinfo output.
func parsePDFInfoPages(out []byte) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if rest, ok := strings.CutPrefix(line, "Pages:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return 0, fmt.Errorf("parsing page count %q: %w", line, err)
			}
			return n, nil
		}
	}
	return 0, errors.New("pdfinfo output has no Pages line")
}

func (c CLI) Thumbnail(ctx context.Context, path string, width int) ([]byte, error) {
	if width <= 0 {
		width = 300
	}
	dir, err := os.MkdirTemp("", "docparse-thumb-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "thumb")
	if _, err := c.run(ctx, c.tools.PDFToPPM,
		"-jpeg", "-f", "1", "-l", "1", "-singlefile", "-scale-to", strconv.Itoa(width), path, prefix); err != nil {
		return nil, err
	}
	return os.ReadFile(prefix + ".jpg")
}

func (c CLI) ExtractImages(ctx context.Context, path, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	if _, err := c.run(ctx, c.tools.PDFImages, "-png", path, filepath.Join(outDir, "page")); err != nil {
		return nil, err
	}
	return listFiles(outDir)
}

func (c CLI) DOCXText(ctx context.Context, path string) (string, error) {
	out, err := c.run(ctx, c.tools.DOCX2Txt, path, "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c CLI) XLSXSheets(ctx context.Context, path string) ([]document.Sheet, error) {
	out, err := c.run(ctx, c.tools.XLSX2CSV, path)
	if err != nil {
		return nil, err
	}
	return []document.Sheet{{Name: "Sheet1", Rows: ParseDelimited(string(out))}}, nil
}

// ParseDelimited splits comma-delimited output into rows, trimming each cell
// and skipping empty lines. Quoting is not interpreted.
func ParseDelimited(data string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, ",")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	return rows
}
