// Package document holds the format-independent vocabulary shared by the
// parser, renderer and job pipeline.
package document

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedType is returned when a filename does not map to a known format.
var ErrUnsupportedType = errors.New("unsupported file type")

// FileType is the closed set of formats the pipeline knows how to convert.
type FileType string

const (
	PDF     FileType = "pdf"
	DOCX    FileType = "docx"
	XLSX    FileType = "xlsx"
	TXT     FileType = "txt"
	MD      FileType = "md"
	Unknown FileType = "unknown"
)

// SupportedTypes lists every FileType that can be enqueued, in display order.
func SupportedTypes() []FileType {
	return []FileType{PDF, DOCX, XLSX, TXT, MD}
}

// Classify maps a filename to its FileType using the last dot-delimited
// segment, case-insensitively. Names without an extension are Unknown.
func Classify(filename string) FileType {
	base := filepath.Base(filename)
	i := strings.LastIndexByte(base, '.')
	if i < 0 || i == len(base)-1 {
		return Unknown
	}
	return ParseFileType(base[i+1:])
}

// ParseFileType parses a stored or user-supplied type name.
func ParseFileType(s string) FileType {
	switch ft := FileType(strings.ToLower(strings.TrimSpace(s))); ft {
	case PDF, DOCX, XLSX, TXT, MD:
		return ft
	default:
		return Unknown
	}
}

// Label returns the upper-case display name ("PDF", "DOCX", ...).
func (t FileType) Label() string {
	return strings.ToUpper(string(t))
}

// Metadata is computed once per job before format dispatch.
type Metadata struct {
	FileType   FileType  `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	PageCount  *int      `json:"page_count,omitempty"`
	SheetCount *int      `json:"sheet_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sheet is one named table of rows. Row 0 is treated as the header row.
type Sheet struct {
	Name string     `json:"name"`
	Rows [][]string `json:"rows"`
}

// Diagnostic records a non-fatal failure of an optional enrichment step.
type Diagnostic struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// ParsedContent is the output of a format strategy.
type ParsedContent struct {
	Text        *string      `json:"text,omitempty"`
	Sheets      []Sheet      `json:"sheets,omitempty"`
	Metadata    Metadata     `json:"metadata"`
	Thumbnail   []byte       `json:"thumbnail,omitempty"`
	Images      []string     `json:"images,omitempty"`
	HTML        string       `json:"html"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// AddDiagnostic appends a diagnostic for step built from err.
func (c *ParsedContent) AddDiagnostic(step string, err error) {
	c.Diagnostics = append(c.Diagnostics, Diagnostic{Step: step, Message: err.Error()})
}
