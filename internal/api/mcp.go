package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/endy1328/document-parser-system/internal/document"
	"github.com/endy1328/document-parser-system/internal/ingest"
	"github.com/endy1328/document-parser-system/internal/storage"
)

const recentJobsLimit = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *ingest.Service
	Version string
}

// NewMCPServer creates an MCP server exposing document submission and job
// queries as tools, plus the recent job list as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	formats := make([]string, 0, len(document.SupportedTypes()))
	for _, ft := range document.SupportedTypes() {
		formats = append(formats, string(ft))
	}

	s := server.NewMCPServer(
		"docparse",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docparse converts documents ("+strings.Join(formats, ", ")+") into text, tables and HTML asynchronously. Submit a file, then poll job_status until it is completed and fetch job_result."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("submit_document",
			mcp.WithDescription("Queue a document for conversion. Returns the job id to poll."),
			mcp.WithString("filename", mcp.Description("Original file name; the extension selects the format"), mcp.Required()),
			mcp.WithString("content_base64", mcp.Description("File bytes, base64 encoded"), mcp.Required()),
		),
		mcpSubmitDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Report the status, progress and message of a conversion job."),
			mcp.WithString("job_id", mcp.Description("Job id returned by submit_document"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("job_result",
			mcp.WithDescription("Fetch the converted content of a completed job."),
			mcp.WithString("job_id", mcp.Description("Job id returned by submit_document"), mcp.Required()),
			mcp.WithString("view", mcp.Description(`"summary" (default) omits rendered HTML and thumbnail; "full" includes them`)),
		),
		mcpJobResult(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jobs://recent",
			"Recent Jobs",
			mcp.WithResourceDescription(fmt.Sprintf("Last %d conversion jobs, newest first", recentJobsLimit)),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSubmitDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		encoded, err := req.RequireString("content_base64")
		if err != nil {
			return mcpError("content_base64 is required"), nil
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return mcpError(fmt.Sprintf("content_base64 is not valid base64: %v", err)), nil
		}

		job, err := deps.Service.Enqueue(filename, data)
		if errors.Is(err, document.ErrUnsupportedType) {
			return mcpError(fmt.Sprintf("%v; supported formats: %v", err, document.SupportedTypes())), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue document: %v", err)), nil
		}

		return mcpJSON(UploadResponse{
			Status:   "accepted",
			JobID:    job.ID,
			Filename: job.Filename,
			FileType: job.FileType,
			Message:  job.Message,
		})
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		view, err := deps.Service.Status(id)
		if err != nil {
			return mcpLookupError(id, err), nil
		}
		return mcpJSON(view)
	}
}

func mcpJobResult(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		res, err := deps.Service.Result(id)
		var nr *ingest.NotReadyError
		if errors.As(err, &nr) {
			if nr.Status == storage.StatusFailed {
				return mcpError(fmt.Sprintf("job %s failed; no result will be produced", id)), nil
			}
			return mcpText(fmt.Sprintf("job %s is %s (%d%%); try again later", id, nr.Status, nr.Progress)), nil
		}
		if err != nil {
			return mcpLookupError(id, err), nil
		}

		out := *res
		if req.GetString("view", "summary") != "full" {
			out.Content.HTML = ""
			out.Content.Thumbnail = nil
		}
		return mcpJSON(ResultResponse{JobID: id, Result: &out})
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		views, err := deps.Service.List(recentJobsLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpLookupError(id string, err error) *mcp.CallToolResult {
	if errors.Is(err, storage.ErrNotFound) {
		return mcpError(fmt.Sprintf("job %s not found", id))
	}
	return mcpError(fmt.Sprintf("failed to load job %s: %v", id, err))
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
