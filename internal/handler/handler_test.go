package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phasesim/internal/backend"
	"phasesim/internal/notify"
	"phasesim/internal/repository"
	"phasesim/internal/service"
	"phasesim/web"
)

var processedPNG = []byte("\x89PNG\r\n\x1a\nprocessed")

type testClient struct {
	t        *testing.T
	router   *gin.Engine
	sessions *service.Manager
	cookies  []*http.Cookie
}

type upload struct {
	name     string
	mimeType string
	data     []byte
}

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("phase") == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"phase is required"}`))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(processedPNG)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://share.example/abc","id":"abc"}`))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","timestamp":"2024-01-01T00:00:00Z"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, backendURL string) *testClient {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	blobs := repository.NewMemoryRepository(log)
	api := backend.NewClient(backendURL, 5*time.Second, log)

	sessions := service.NewManager(api, blobs, service.ManagerOptions{
		DownloadStagger: 10 * time.Millisecond,
	}, log)
	t.Cleanup(sessions.Close)

	h := NewHandler(sessions, api, blobs, Options{}, log)

	router := gin.New()
	tmpl, err := web.Templates()
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}
	router.SetHTMLTemplate(tmpl)
	h.Register(router)

	return &testClient{t: t, router: router, sessions: sessions}
}

func (c *testClient) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	c.t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	if cookies := w.Result().Cookies(); len(cookies) > 0 {
		c.cookies = cookies
	}
	return w
}

func (c *testClient) postJSON(path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		c.t.Fatalf("failed to marshal payload: %v", err)
	}
	return c.do(http.MethodPost, path, bytes.NewReader(body), "application/json")
}

func (c *testClient) postFiles(path, field string, files ...upload) *httptest.ResponseRecorder {
	c.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.name))
		header.Set("Content-Type", f.mimeType)

		part, err := mw.CreatePart(header)
		if err != nil {
			c.t.Fatalf("failed to create part: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			c.t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		c.t.Fatalf("failed to close multipart writer: %v", err)
	}

	return c.do(http.MethodPost, path, &buf, mw.FormDataContentType())
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) stateResponse {
	t.Helper()

	var state stateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("failed to decode state: %v (body %s)", err, w.Body.String())
	}
	return state
}

func findToast(toasts []notify.Toast, message string) (notify.Toast, bool) {
	for _, toast := range toasts {
		if toast.Message == message {
			return toast, true
		}
	}
	return notify.Toast{}, false
}

func scan() upload {
	return upload{name: "scan.png", mimeType: "image/png", data: []byte("\x89PNG\r\n\x1a\noriginal")}
}

// processed проводит сессию через выбор файла, фазы и обработку.
func (c *testClient) processed(phase string) stateResponse {
	c.t.Helper()

	if w := c.postFiles("/api/file", "file", scan()); w.Code != http.StatusOK {
		c.t.Fatalf("select file status = %d", w.Code)
	}
	if w := c.postJSON("/api/phase", gin.H{"phase": phase}); w.Code != http.StatusOK {
		c.t.Fatalf("select phase status = %d", w.Code)
	}

	w := c.do(http.MethodPost, "/api/process", nil, "")
	if w.Code != http.StatusOK {
		c.t.Fatalf("process status = %d", w.Code)
	}
	return decodeState(c.t, w)
}

func TestGetUI(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)

	w := c.do(http.MethodGet, "/", nil, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Arterial Phase") {
		t.Error("page does not list the arterial phase")
	}
	if !strings.Contains(w.Body.String(), "No Images to Display") {
		t.Error("page does not show the empty results state")
	}
	if len(c.cookies) == 0 {
		t.Error("session cookie was not set")
	}
}

func TestSessionCookieIsReused(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)

	c.do(http.MethodGet, "/api/state", nil, "")
	c.do(http.MethodGet, "/api/state", nil, "")

	if got := c.sessions.Len(); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}

func TestSelectFile(t *testing.T) {
	tests := []struct {
		name      string
		file      upload
		wantState service.FormState
		wantKind  service.ViewKind
		wantToast string
	}{
		{
			name:      "image accepted",
			file:      scan(),
			wantState: service.FormFileSelected,
			wantKind:  service.ViewOriginalOnly,
			wantToast: "Selected: scan.png (16 Bytes)",
		},
		{
			name:      "non image rejected",
			file:      upload{name: "notes.txt", mimeType: "text/plain", data: []byte("hello")},
			wantState: service.FormNoFile,
			wantKind:  service.ViewEmpty,
			wantToast: "Please select a valid image file (JPG, PNG)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, fakeBackend(t).URL)

			w := c.postFiles("/api/file", "file", tt.file)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}

			state := decodeState(t, w)
			if state.Form.State != tt.wantState {
				t.Errorf("form state = %q, want %q", state.Form.State, tt.wantState)
			}
			if state.View.Kind != tt.wantKind {
				t.Errorf("view kind = %q, want %q", state.View.Kind, tt.wantKind)
			}
			if _, ok := findToast(state.Toasts, tt.wantToast); !ok {
				t.Errorf("toast %q not found in %+v", tt.wantToast, state.Toasts)
			}
		})
	}
}

func TestSelectFileMissingField(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)

	w := c.postFiles("/api/file", "other", scan())

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDragAndDrop(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)

	state := decodeState(t, c.postJSON("/api/drag", gin.H{"event": "dragenter"}))
	if !state.Form.DragActive {
		t.Error("drag should be active after dragenter")
	}

	if w := c.postJSON("/api/drag", gin.H{"event": "dragstart"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown drag event status = %d, want 400", w.Code)
	}

	state = decodeState(t, c.postFiles("/api/drop", "files", scan(), scan()))
	if state.Form.DragActive {
		t.Error("drag should be inactive after drop")
	}
	if state.Form.State != service.FormNoFile {
		t.Errorf("multi-file drop state = %q, want %q", state.Form.State, service.FormNoFile)
	}

	state = decodeState(t, c.postFiles("/api/drop", "files", scan()))
	if state.Form.FileName != "scan.png" {
		t.Errorf("dropped file = %q, want scan.png", state.Form.FileName)
	}
}

func TestSelectPhase(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)
	c.postFiles("/api/file", "file", scan())

	state := decodeState(t, c.postJSON("/api/phase", gin.H{"phase": "arterial"}))
	if !state.Form.CanSubmit {
		t.Error("form should be submittable with a file and a phase")
	}

	state = decodeState(t, c.postJSON("/api/phase", gin.H{"phase": "portal"}))
	if _, ok := findToast(state.Toasts, "Validation error"); !ok {
		t.Error("unknown phase should raise a validation warning")
	}

	if w := c.postJSON("/api/phase", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing phase status = %d, want 400", w.Code)
	}
}

func TestProcessImage(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)

	state := c.processed("venous")

	if state.View.Kind != service.ViewComparison {
		t.Fatalf("view kind = %q, want %q", state.View.Kind, service.ViewComparison)
	}
	if state.Page.IsLoading {
		t.Error("loading should be cleared after processing")
	}
	if state.Form.State != service.FormDone {
		t.Errorf("form state = %q, want %q", state.Form.State, service.FormDone)
	}
	if state.View.ProcessedTitle != "Processed (Venous)" {
		t.Errorf("processed title = %q", state.View.ProcessedTitle)
	}
	if _, ok := findToast(state.Toasts, "Venous phase processing completed!"); !ok {
		t.Errorf("success toast not found in %+v", state.Toasts)
	}

	w := c.do(http.MethodGet, state.View.ProcessedURL, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("processed blob status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("processed content type = %q, want image/png", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), processedPNG) {
		t.Error("processed blob does not match backend response")
	}
}

func TestProcessImageWithoutFile(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)

	state := decodeState(t, c.do(http.MethodPost, "/api/process", nil, ""))

	if _, ok := findToast(state.Toasts, "Please select an image file"); !ok {
		t.Errorf("missing file warning not found in %+v", state.Toasts)
	}
	if state.View.Kind != service.ViewEmpty {
		t.Errorf("view kind = %q, want %q", state.View.Kind, service.ViewEmpty)
	}
}

func TestProcessImageBackendDown(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	c := newTestClient(t, down.URL)
	state := c.processed("arterial")

	toast, ok := findToast(state.Toasts, "Cannot connect to backend server. Please check if it's running.")
	if !ok {
		t.Fatalf("network error toast not found in %+v", state.Toasts)
	}
	if toast.Action == nil || toast.Action.Label != "Retry" {
		t.Errorf("network error toast action = %+v, want Retry", toast.Action)
	}
	if state.View.Kind != service.ViewOriginalOnly {
		t.Errorf("view kind = %q, want %q", state.View.Kind, service.ViewOriginalOnly)
	}
	if state.Form.State != service.FormError {
		t.Errorf("form state = %q, want %q", state.Form.State, service.FormError)
	}
}

func TestSetViewMode(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)

	state := decodeState(t, c.postJSON("/api/view", gin.H{"mode": "overlay"}))
	if state.View.Mode != service.ModeSideBySide {
		t.Errorf("overlay without result: mode = %q, want %q", state.View.Mode, service.ModeSideBySide)
	}

	c.processed("arterial")

	state = decodeState(t, c.postJSON("/api/view", gin.H{"mode": "overlay"}))
	if state.View.Mode != service.ModeOverlay {
		t.Errorf("mode = %q, want %q", state.View.Mode, service.ModeOverlay)
	}

	if w := c.postJSON("/api/view", gin.H{"mode": "grid"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown mode status = %d, want 400", w.Code)
	}
}

func TestDownload(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)

	if w := c.do(http.MethodPost, "/api/download/processed", nil, ""); w.Code != http.StatusConflict {
		t.Errorf("download without result status = %d, want 409", w.Code)
	}
	if w := c.do(http.MethodPost, "/api/download/thumbnail", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown target status = %d, want 400", w.Code)
	}

	c.processed("arterial")

	w := c.do(http.MethodPost, "/api/download/processed", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("download status = %d, want 200", w.Code)
	}

	var resp struct {
		Downloads []service.PendingDownload `json:"downloads"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode downloads: %v", err)
	}
	if len(resp.Downloads) != 1 || resp.Downloads[0].Filename != "processed-arterial.png" {
		t.Errorf("downloads = %+v", resp.Downloads)
	}
}

func TestDownloadBoth(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)
	c.processed("venous")

	var names []string
	collect := func(w *httptest.ResponseRecorder) {
		t.Helper()
		var resp struct {
			Downloads []service.PendingDownload `json:"downloads"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode downloads: %v", err)
		}
		for _, d := range resp.Downloads {
			names = append(names, d.Filename)
		}
	}

	w := c.do(http.MethodPost, "/api/download/both", nil, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	collect(w)
	if len(names) != 1 || names[0] != "original-image.png" {
		t.Fatalf("accepted response downloads = %v, want the original only", names)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(names) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		collect(c.do(http.MethodGet, "/api/downloads", nil, ""))
	}

	if len(names) != 2 || names[0] != "original-image.png" || names[1] != "processed-venous.png" {
		t.Errorf("downloads = %v, want original then processed", names)
	}
}

func TestGetBlob(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)
	state := c.processed("arterial")

	w := c.do(http.MethodGet, state.View.OriginalURL+"?download=original-image.png", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="original-image.png"` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	if w := c.do(http.MethodGet, "/blobs/missing", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("missing blob status = %d, want 404", w.Code)
	}

	stranger := &testClient{t: t, router: c.router, sessions: c.sessions}
	if w := stranger.do(http.MethodGet, state.View.ProcessedURL, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("blob of another session status = %d, want 404", w.Code)
	}
}

func TestOversizedUpload(t *testing.T) {
	const message = "File size too large. Please select an image under 10 MB."
	huge := upload{name: "huge.png", mimeType: "image/png", data: bytes.Repeat([]byte{0x42}, 12<<20)}

	tests := []struct {
		name  string
		path  string
		field string
	}{
		{name: "file picker", path: "/api/file", field: "file"},
		{name: "drop", path: "/api/drop", field: "files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, fakeBackend(t).URL)
			c.postJSON("/api/drag", gin.H{"event": "dragenter"})

			w := c.postFiles(tt.path, tt.field, huge)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
			}

			state := decodeState(t, w)
			if state.Form.State != service.FormNoFile {
				t.Errorf("form state = %q, want %q", state.Form.State, service.FormNoFile)
			}
			if state.Form.DragActive {
				t.Error("drag should be inactive after a rejected upload")
			}
			toast, ok := findToast(state.Toasts, message)
			if !ok || toast.Severity != notify.SeverityError {
				t.Errorf("size error toast not found in %+v", state.Toasts)
			}
		})
	}
}

func TestResetPageAndForm(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)
	c.processed("arterial")

	state := decodeState(t, c.do(http.MethodPost, "/api/reset", nil, ""))
	if state.View.Kind != service.ViewEmpty {
		t.Errorf("view kind after page reset = %q, want %q", state.View.Kind, service.ViewEmpty)
	}
	if state.Form.FileName == "" {
		t.Error("page reset should keep the form selection")
	}

	state = decodeState(t, c.do(http.MethodPost, "/api/form/reset", nil, ""))
	if state.Form.State != service.FormNoFile {
		t.Errorf("form state after reset = %q, want %q", state.Form.State, service.FormNoFile)
	}
}

func TestShareProcessed(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)

	if w := c.do(http.MethodPost, "/api/share", nil, ""); w.Code != http.StatusConflict {
		t.Errorf("share without result status = %d, want 409", w.Code)
	}

	c.processed("venous")

	w := c.do(http.MethodPost, "/api/share", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Upload *backend.UploadResponse `json:"upload"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode share response: %v", err)
	}
	if resp.Upload == nil || resp.Upload.ID != "abc" {
		t.Errorf("upload = %+v", resp.Upload)
	}
}

func TestToastDismissAndAction(t *testing.T) {
	c := newTestClient(t, fakeBackend(t).URL)
	state := decodeState(t, c.postFiles("/api/file", "file", scan()))

	if len(state.Toasts) == 0 {
		t.Fatal("expected a toast after selecting a file")
	}
	id := state.Toasts[0].ID

	if w := c.do(http.MethodPost, "/api/toasts/"+id+"/action", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("action on toast without action status = %d, want 404", w.Code)
	}

	w := c.do(http.MethodPost, "/api/toasts/"+id+"/dismiss", nil, "")
	var resp struct {
		Toasts []notify.Toast `json:"toasts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode toasts: %v", err)
	}
	for _, toast := range resp.Toasts {
		if toast.ID == id {
			t.Errorf("toast %s still active after dismiss", id)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	tests := []struct {
		name       string
		backendURL string
		wantStatus string
	}{
		{name: "backend up", backendURL: fakeBackend(t).URL, wantStatus: "OK"},
		{name: "backend down", backendURL: down.URL, wantStatus: "DEGRADED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.backendURL)

			w := c.do(http.MethodGet, "/health", nil, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}

			var resp struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode health: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
		})
	}
}
