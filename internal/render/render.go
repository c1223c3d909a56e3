// Package render turns parsed content into an editable HTML page.
//
// Rendering is a pure function of its inputs: the same content always yields
// the same bytes, and the only timestamp used is the one in the metadata.
package render

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/endy1328/document-parser-system/internal/document"
)

// ImageRoute is the URL prefix extracted images are served under.
const ImageRoute = "/images/"

// Escape replaces the five HTML-significant characters with entities.
func Escape(s string) string {
	return html.EscapeString(s)
}

const head = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
.metadata { color: #555; font-size: 0.9rem; }
.diagnostics { color: #a60; font-size: 0.9rem; }
.editable-content { width: 100%%; min-height: 24rem; font-family: monospace; }
table { border-collapse: collapse; margin-bottom: 2rem; }
th, td { border: 1px solid #ccc; padding: 0.25rem; }
.editable-cell { border: none; width: 100%%; }
.document-preview img { max-width: 100%%; display: block; margin: 1rem 0; }
</style>
</head>
<body>
`

const tail = "</body>\n</html>\n"

// Render produces the HTML page for content. Content with sheets uses the
// tabular layout; everything else uses the text layout.
func Render(title string, c document.ParsedContent) string {
	var b strings.Builder
	fmt.Fprintf(&b, head, Escape(title))
	fmt.Fprintf(&b, "<h1>%s</h1>\n", Escape(title))
	writeMetadata(&b, c.Metadata)
	writeDiagnostics(&b, c.Diagnostics)

	if len(c.Sheets) > 0 {
		writeSheets(&b, c.Sheets)
	} else {
		writeText(&b, c)
	}

	b.WriteString(tail)
	return b.String()
}

// MetadataLine formats the human-readable metadata summary.
func MetadataLine(m document.Metadata) string {
	parts := []string{
		"Type: " + m.FileType.Label(),
		fmt.Sprintf("Size: %.2f KB", float64(m.FileSize)/1024),
	}
	if m.PageCount != nil {
		parts = append(parts, fmt.Sprintf("Pages: %d", *m.PageCount))
	}
	if m.SheetCount != nil {
		parts = append(parts, fmt.Sprintf("Sheets: %d", *m.SheetCount))
	}
	if !m.CreatedAt.IsZero() {
		parts = append(parts, "Created: "+m.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, " | ")
}

func writeMetadata(b *strings.Builder, m document.Metadata) {
	fmt.Fprintf(b, "<p class=\"metadata\">%s</p>\n", Escape(MetadataLine(m)))
}

func writeDiagnostics(b *strings.Builder, diags []document.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	b.WriteString("<ul class=\"diagnostics\">\n")
	for _, d := range diags {
		fmt.Fprintf(b, "<li>%s: %s</li>\n", Escape(d.Step), Escape(d.Message))
	}
	b.WriteString("</ul>\n")
}

func writeText(b *strings.Builder, c document.ParsedContent) {
	if len(c.Thumbnail) > 0 {
		fmt.Fprintf(b, "<img class=\"thumbnail\" alt=\"first page\" src=\"data:image/jpeg;base64,%s\">\n",
			base64.StdEncoding.EncodeToString(c.Thumbnail))
	}

	var text string
	if c.Text != nil {
		text = *c.Text
	}
	fmt.Fprintf(b, "<textarea class=\"editable-content\">%s</textarea>\n", Escape(text))

	if len(c.Images) > 0 {
		b.WriteString("<section class=\"document-preview\">\n")
		for _, p := range Paragraphs(text) {
			fmt.Fprintf(b, "<p>%s</p>\n", p)
		}
		for _, img := range c.Images {
			fmt.Fprintf(b, "<img src=\"%s\" alt=\"%s\">\n", Escape(ImageRoute+img), Escape(path.Base(img)))
		}
		b.WriteString("</section>\n")
	}
}

// Paragraphs splits text on blank lines and returns each paragraph escaped,
// with its inner line breaks turned into <br>.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lines := strings.Split(p, "\n")
		for i, l := range lines {
			lines[i] = Escape(l)
		}
		out = append(out, strings.Join(lines, "<br>"))
	}
	return out
}

func writeSheets(b *strings.Builder, sheets []document.Sheet) {
	for _, s := range sheets {
		fmt.Fprintf(b, "<h2>%s</h2>\n<table class=\"sheet\">\n", Escape(s.Name))
		for i, row := range s.Rows {
			b.WriteString("<tr>")
			for _, cell := range row {
				if i == 0 {
					fmt.Fprintf(b, "<th>%s</th>", Escape(cell))
				} else {
					fmt.Fprintf(b, "<td><input type=\"text\" class=\"editable-cell\" value=\"%s\"></td>", Escape(cell))
				}
			}
			b.WriteString("</tr>\n")
		}
		b.WriteString("</table>\n")
	}
}
