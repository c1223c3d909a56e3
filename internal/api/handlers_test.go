package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/endy1328/document-parser-system/internal/convert"
	"github.com/endy1328/document-parser-system/internal/ingest"
	"github.com/endy1328/document-parser-system/internal/parser"
	"github.com/endy1328/document-parser-system/internal/storage"
)

const testToken = "test-token-12345"

type testApp struct {
	handler   http.Handler
	store     *storage.Store
	service   *ingest.Service
	worker    *ingest.Worker
	artifacts string
}

func setupApp(t *testing.T, token string, maxUpload int64) *testApp {
	t.Helper()
	store, err := storage.Open(storage.MemoryDSN)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dirs := ingest.Dirs{Uploads: t.TempDir(), Artifacts: t.TempDir()}
	svc := ingest.NewService(store, store, dirs.Uploads)
	worker := ingest.NewWorker(store, store, parser.NewRegistry(convert.Set{}, parser.Options{}), dirs, 0)

	return &testApp{
		handler: NewAppHandler(AppDeps{
			Service:        svc,
			Token:          token,
			MaxUploadBytes: maxUpload,
			ArtifactDir:    dirs.Artifacts,
		}),
		store:     store,
		service:   svc,
		worker:    worker,
		artifacts: dirs.Artifacts,
	}
}

func (a *testApp) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) drain(t *testing.T) {
	t.Helper()
	for {
		done, err := a.worker.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if !done {
			return
		}
	}
}

func uploadReq(t *testing.T, field, filename string, content []byte, token string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func getReq(url, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func upload(t *testing.T, app *testApp, filename, content string) UploadResponse {
	t.Helper()
	rec := app.do(t, uploadReq(t, "file", filename, []byte(content), ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[UploadResponse](t, rec)
}

func TestHealthSkipsAuth(t *testing.T) {
	app := setupApp(t, testToken, 0)
	rec := app.do(t, getReq("/health", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAuthRequiredWhenTokenSet(t *testing.T) {
	app := setupApp(t, testToken, 0)

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"no token", getReq("/jobs", ""), http.StatusUnauthorized},
		{"wrong token", getReq("/jobs", "nope"), http.StatusUnauthorized},
		{"header token", getReq("/jobs", testToken), http.StatusOK},
		{"query token", getReq("/jobs?access_token="+testToken, ""), http.StatusOK},
		{"upload without token", uploadReq(t, "file", "a.txt", []byte("x"), ""), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestUploadQueuesJob(t *testing.T) {
	app := setupApp(t, "", 0)

	resp := upload(t, app, "notes.txt", "hello")
	if resp.JobID == "" || resp.FileType != "txt" || resp.Filename != "notes.txt" || resp.Status != "accepted" {
		t.Fatalf("upload response = %+v", resp)
	}

	rec := app.do(t, getReq("/jobs/"+resp.JobID, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decode[ingest.StatusView](t, rec)
	if view.Status != storage.StatusQueued || view.Progress != 0 {
		t.Errorf("view = %+v", view)
	}
	if n, _ := app.store.QueueDepth(); n != 1 {
		t.Errorf("queue depth = %d", n)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	app := setupApp(t, "", 0)

	rec := app.do(t, uploadReq(t, "file", "photo.png", []byte("png"), ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Error struct {
			Type             string   `json:"type"`
			SupportedFormats []string `json:"supported_formats"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Type != "unsupported_type_error" {
		t.Errorf("type = %q", body.Error.Type)
	}
	if strings.Join(body.Error.SupportedFormats, ",") != "pdf,docx,xlsx,txt,md" {
		t.Errorf("supported = %v", body.Error.SupportedFormats)
	}
	if jobs, _ := app.store.ListJobs(10, 0); len(jobs) != 0 {
		t.Errorf("rejected upload created %d jobs", len(jobs))
	}
}

func TestUploadMissingField(t *testing.T) {
	app := setupApp(t, "", 0)
	rec := app.do(t, uploadReq(t, "document", "a.txt", []byte("x"), ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestUploadTooLarge(t *testing.T) {
	app := setupApp(t, "", 256)
	rec := app.do(t, uploadReq(t, "file", "big.txt", bytes.Repeat([]byte("a"), 4096), ""))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestResultLifecycle(t *testing.T) {
	app := setupApp(t, "", 0)
	resp := upload(t, app, "notes.txt", "first paragraph\n\nsecond <b>paragraph</b>")

	rec := app.do(t, getReq("/jobs/"+resp.JobID+"/result", ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pending result status = %d", rec.Code)
	}
	pending := decode[PendingResponse](t, rec)
	if pending.Status != storage.StatusQueued {
		t.Errorf("pending = %+v", pending)
	}

	app.drain(t)

	rec = app.do(t, getReq("/jobs/"+resp.JobID+"/result", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := decode[ResultResponse](t, rec)
	if got.JobID != resp.JobID || got.Result == nil {
		t.Fatalf("result = %+v", got)
	}
	if got.Result.Content.Text == nil || !strings.Contains(*got.Result.Content.Text, "second <b>paragraph</b>") {
		t.Errorf("text = %v", got.Result.Content.Text)
	}

	rec = app.do(t, getReq("/jobs/"+resp.JobID+"/result?download=1", ""))
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes_result.json") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rec = app.do(t, getReq("/jobs/"+resp.JobID+"/html", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("html status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	html := rec.Body.String()
	if !strings.Contains(html, "&lt;b&gt;paragraph&lt;/b&gt;") || strings.Contains(html, "<b>paragraph") {
		t.Errorf("html not escaped: %s", html)
	}
}

func TestFailedJobResultIsAcceptedWithStatus(t *testing.T) {
	app := setupApp(t, "", 0)
	resp := upload(t, app, "gone.txt", "x")
	job, _ := app.service.Job(resp.JobID)
	os.Remove(app.service.UploadPath(job))
	app.drain(t)

	rec := app.do(t, getReq("/jobs/"+resp.JobID+"/result", ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	pending := decode[PendingResponse](t, rec)
	if pending.Status != storage.StatusFailed || pending.Progress != 100 {
		t.Errorf("pending = %+v", pending)
	}
}

func TestDownloadOriginal(t *testing.T) {
	app := setupApp(t, "", 0)
	resp := upload(t, app, "readme.md", "# Title\n")

	rec := app.do(t, getReq("/jobs/"+resp.JobID+"/download", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body, _ := io.ReadAll(rec.Body); string(body) != "# Title\n" {
		t.Errorf("body = %q", body)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "readme.md") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	app := setupApp(t, "", 0)
	for _, path := range []string{"/jobs/missing", "/jobs/missing/result", "/jobs/missing/html", "/jobs/missing/download"} {
		if rec := app.do(t, getReq(path, "")); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}

func TestListJobsPaging(t *testing.T) {
	app := setupApp(t, "", 0)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		upload(t, app, name, name)
	}

	rec := app.do(t, getReq("/jobs?limit=2", ""))
	views := decode[[]ingest.StatusView](t, rec)
	if len(views) != 2 || views[0].Filename != "c.txt" {
		t.Fatalf("first page = %+v", views)
	}

	rec = app.do(t, getReq("/jobs?limit=2&offset=2", ""))
	views = decode[[]ingest.StatusView](t, rec)
	if len(views) != 1 || views[0].Filename != "a.txt" {
		t.Errorf("second page = %+v", views)
	}
}

func TestImagesServed(t *testing.T) {
	app := setupApp(t, testToken, 0)
	dir := filepath.Join(app.artifacts, "job-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "page-0.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := app.do(t, getReq("/images/job-1/page-0.png", ""))
	if rec.Code != http.StatusOK || rec.Body.String() != "png-bytes" {
		t.Errorf("image: status %d body %q", rec.Code, rec.Body.String())
	}
	if rec := app.do(t, getReq("/images/job-1/", "")); rec.Code != http.StatusNotFound {
		t.Errorf("directory listing: status %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	app := setupApp(t, testToken, 0)
	req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization")

	rec := app.do(t, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Allow-Origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Headers") != "authorization" {
		t.Errorf("Allow-Headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}

	rec = app.do(t, getReq("/health", ""))
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("simple responses should carry Allow-Origin")
	}
}
