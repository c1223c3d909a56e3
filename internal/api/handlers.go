package api

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/endy1328/document-parser-system/internal/document"
	"github.com/endy1328/document-parser-system/internal/ingest"
	"github.com/endy1328/document-parser-system/internal/render"
	"github.com/endy1328/document-parser-system/internal/storage"
)

const (
	defaultMaxUploadBytes = 50 << 20
	multipartMemory       = 8 << 20
	uploadField           = "file"
)

type AppDeps struct {
	Service        *ingest.Service
	Token          string // empty disables authentication
	MaxUploadBytes int64
	ArtifactDir    string // served under /images/
}

// UploadResponse is returned with 202 Accepted once a file is queued.
type UploadResponse struct {
	Status   string            `json:"status"`
	JobID    string            `json:"job_id"`
	Filename string            `json:"filename"`
	FileType document.FileType `json:"file_type"`
	Message  string            `json:"message"`
}

// ResultResponse wraps a completed job's result.
type ResultResponse struct {
	JobID  string          `json:"job_id"`
	Result *storage.Result `json:"result"`
}

// PendingResponse is returned with 202 while a job has no result.
type PendingResponse struct {
	JobID    string         `json:"job_id"`
	Status   storage.Status `json:"status"`
	Progress int            `json:"progress"`
	Message  string         `json:"message"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(allowAnyOrigin)

	r.Get("/health", handleHealth)
	// Image URLs are embedded in rendered HTML and carry unguessable job ids.
	r.Get(render.ImageRoute+"*", handleImages(deps.ArtifactDir))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/upload", handleUpload(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/jobs/{id}/result", handleGetResult(deps))
		r.Get("/jobs/{id}/html", handleGetHTML(deps))
		r.Get("/jobs/{id}/download", handleDownload(deps))
	})

	return r
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "upload exceeds %d bytes", tooLarge.Limit)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile(uploadField)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no file uploaded in field %q", uploadField)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		job, err := deps.Service.Enqueue(header.Filename, data)
		switch {
		case errors.Is(err, document.ErrUnsupportedType):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{
					"message":           err.Error(),
					"type":              "unsupported_type_error",
					"supported_formats": document.SupportedTypes(),
				},
			})
			return
		case errors.Is(err, ingest.ErrInvalidFilename):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			slog.Error("enqueue failed", "filename", header.Filename, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue upload: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, UploadResponse{
			Status:   "accepted",
			JobID:    job.ID,
			Filename: job.Filename,
			FileType: job.FileType,
			Message:  job.Message,
		})
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		views, err := deps.Service.List(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := deps.Service.Status(chi.URLParam(r, "id"))
		if err != nil {
			lookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleGetResult(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := deps.Service.Result(id)
		if err != nil {
			if !writePending(w, id, err) {
				lookupError(w, err)
			}
			return
		}
		if r.URL.Query().Get("download") != "" {
			setAttachment(w, stem(res.Filename)+"_result.json")
		}
		writeJSON(w, http.StatusOK, ResultResponse{JobID: id, Result: res})
	}
}

func handleGetHTML(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := deps.Service.Result(id)
		if err != nil {
			if !writePending(w, id, err) {
				lookupError(w, err)
			}
			return
		}
		if r.URL.Query().Get("download") != "" {
			setAttachment(w, stem(res.Filename)+".html")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, res.Content.HTML)
	}
}

func handleDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Service.Job(chi.URLParam(r, "id"))
		if err != nil {
			lookupError(w, err)
			return
		}

		f, err := os.Open(deps.Service.UploadPath(job))
		if errors.Is(err, fs.ErrNotExist) {
			httpError(w, http.StatusNotFound, "not_found_error", "original file for job %s is no longer available", job.ID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "opening original file: %v", err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading original file: %v", err)
			return
		}
		if ct := contentTypeOf(job.FileType); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		setAttachment(w, job.Filename)
		http.ServeContent(w, r, job.Filename, info.ModTime(), f)
	}
}

func handleImages(dir string) http.HandlerFunc {
	files := http.StripPrefix(render.ImageRoute, http.FileServer(http.Dir(dir)))
	return func(w http.ResponseWriter, r *http.Request) {
		// no directory listings
		if dir == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}
}

// writePending reports whether err was a not-ready result and, if so, writes
// the 202 response for it.
func writePending(w http.ResponseWriter, id string, err error) bool {
	var nr *ingest.NotReadyError
	if !errors.As(err, &nr) {
		return false
	}
	msg := "result is not ready yet"
	if nr.Status == storage.StatusFailed {
		msg = "job failed; no result will be produced"
	}
	writeJSON(w, http.StatusAccepted, PendingResponse{
		JobID:    id,
		Status:   nr.Status,
		Progress: nr.Progress,
		Message:  msg,
	})
	return true
}

func lookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "job not found")
	case errors.Is(err, storage.ErrCorrupt):
		httpError(w, http.StatusInternalServerError, "api_error", "job record is unreadable: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load job: %v", err)
	}
}

func setAttachment(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
}

func stem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

func contentTypeOf(ft document.FileType) string {
	switch ft {
	case document.PDF:
		return "application/pdf"
	case document.DOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case document.XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case document.TXT:
		return "text/plain; charset=utf-8"
	case document.MD:
		return "text/markdown; charset=utf-8"
	default:
		return ""
	}
}
