package render

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/endy1328/document-parser-system/internal/document"
)

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

var created = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// collect walks the parsed document and returns every element named tag.
func collect(t *testing.T, page, tag string) []*html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatalf("html.Parse: %v", err)
	}
	return find(doc, tag)
}

func find(root *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func TestEscape(t *testing.T) {
	got := Escape(`<a href="x">Tom & Jerry's</a>`)
	want := "&lt;a href=&#34;x&#34;&gt;Tom &amp; Jerry&#39;s&lt;/a&gt;"
	if got != want {
		t.Errorf("Escape = %q, want %q", got, want)
	}
	if Escape("plain text") != "plain text" {
		t.Error("plain text should pass through unchanged")
	}
}

func TestRenderTextEscapesContent(t *testing.T) {
	hostile := `</textarea><script>alert("x")</script> & 'quoted'`
	page := Render(`<b>name</b>.txt`, document.ParsedContent{
		Text:     strPtr(hostile),
		Metadata: document.Metadata{FileType: document.TXT, FileSize: 2048, CreatedAt: created},
	})

	if strings.Contains(page, "<script>") {
		t.Fatal("unescaped script tag in output")
	}
	if n := len(collect(t, page, "script")); n != 0 {
		t.Fatalf("parsed output contains %d script elements", n)
	}

	areas := collect(t, page, "textarea")
	if len(areas) != 1 {
		t.Fatalf("expected one textarea, got %d", len(areas))
	}
	if got := textOf(areas[0]); got != hostile {
		t.Errorf("textarea text = %q, want %q", got, hostile)
	}

	h1 := collect(t, page, "h1")
	if len(h1) != 1 || textOf(h1[0]) != "<b>name</b>.txt" {
		t.Errorf("title not escaped correctly")
	}
}

func TestRenderDeterministic(t *testing.T) {
	c := document.ParsedContent{
		Text:        strPtr("line one\n\nline two"),
		Images:      []string{"job-1/page-000.png"},
		Thumbnail:   []byte{0xff, 0xd8, 0xff},
		Diagnostics: []document.Diagnostic{{Step: "images", Message: "partial"}},
		Metadata:    document.Metadata{FileType: document.PDF, FileSize: 10, PageCount: intPtr(2), CreatedAt: created},
	}
	first := Render("a.pdf", c)
	for i := 0; i < 5; i++ {
		if Render("a.pdf", c) != first {
			t.Fatal("Render output differs between calls")
		}
	}
}

func TestRenderTabular(t *testing.T) {
	page := Render("book.xlsx", document.ParsedContent{
		Sheets: []document.Sheet{
			{Name: "Q1", Rows: [][]string{{"item", "price"}, {"apple", `"3" & <4>`}}},
			{Name: "Q2", Rows: [][]string{{"only header"}}},
		},
		Metadata: document.Metadata{FileType: document.XLSX, FileSize: 4096, SheetCount: intPtr(2), CreatedAt: created},
	})

	if n := len(collect(t, page, "table")); n != 2 {
		t.Fatalf("expected 2 tables, got %d", n)
	}
	ths := collect(t, page, "th")
	if len(ths) != 3 {
		t.Fatalf("expected 3 header cells, got %d", len(ths))
	}
	if textOf(ths[0]) != "item" || textOf(ths[1]) != "price" {
		t.Errorf("unexpected headers %q %q", textOf(ths[0]), textOf(ths[1]))
	}

	inputs := collect(t, page, "input")
	if len(inputs) != 2 {
		t.Fatalf("expected 2 editable cells, got %d", len(inputs))
	}
	if attr(inputs[1], "value") != `"3" & <4>` {
		t.Errorf("input value = %q", attr(inputs[1], "value"))
	}
	if attr(inputs[0], "class") != "editable-cell" {
		t.Errorf("input class = %q", attr(inputs[0], "class"))
	}
	if n := len(collect(t, page, "textarea")); n != 0 {
		t.Errorf("tabular layout should not render a textarea, got %d", n)
	}
}

func TestRenderImagesAndParagraphs(t *testing.T) {
	page := Render("scan.pdf", document.ParsedContent{
		Text:     strPtr("Intro line\nsecond line\n\nNext <para>"),
		Images:   []string{"job-9/page-000.png", "job-9/page-001.png"},
		Metadata: document.Metadata{FileType: document.PDF, CreatedAt: created},
	})

	imgs := collect(t, page, "img")
	if len(imgs) != 2 {
		t.Fatalf("expected 2 images, got %d", len(imgs))
	}
	if attr(imgs[0], "src") != "/images/job-9/page-000.png" {
		t.Errorf("image src = %q", attr(imgs[0], "src"))
	}

	// one <p> for metadata plus two preview paragraphs
	ps := collect(t, page, "p")
	if len(ps) != 3 {
		t.Fatalf("expected 3 paragraphs, got %d", len(ps))
	}
	if n := len(find(ps[1], "br")); n != 1 {
		t.Errorf("expected 1 <br> in first preview paragraph, got %d", n)
	}
	if textOf(ps[2]) != "Next <para>" {
		t.Errorf("second paragraph = %q", textOf(ps[2]))
	}
}

func TestRenderThumbnailDataURI(t *testing.T) {
	page := Render("a.pdf", document.ParsedContent{
		Text:      strPtr("x"),
		Thumbnail: []byte("jpg"),
		Metadata:  document.Metadata{FileType: document.PDF},
	})
	imgs := collect(t, page, "img")
	if len(imgs) != 1 || attr(imgs[0], "src") != "data:image/jpeg;base64,anBn" {
		t.Errorf("unexpected thumbnail markup: %d images", len(imgs))
	}
}

func TestMetadataLine(t *testing.T) {
	got := MetadataLine(document.Metadata{
		FileType:  document.PDF,
		FileSize:  1536,
		PageCount: intPtr(3),
		CreatedAt: created,
	})
	want := "Type: PDF | Size: 1.50 KB | Pages: 3 | Created: 2024-03-01 09:30:00"
	if got != want {
		t.Errorf("MetadataLine = %q, want %q", got, want)
	}
}
