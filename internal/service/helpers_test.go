package service

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"phasesim/internal/backend"
	"phasesim/internal/domain"
	"phasesim/internal/notify"
	"phasesim/internal/repository"
)

type stubBackend struct {
	mu           sync.Mutex
	processCalls int
	uploadCalls  int
	uploaded     *domain.SelectedFile

	process func(ctx context.Context, file *domain.SelectedFile, phase domain.Phase) (*backend.ProcessedImage, error)
	upload  func(ctx context.Context, file *domain.SelectedFile) (*backend.UploadResponse, error)
	health  func(ctx context.Context) (*backend.HealthResponse, error)
}

func (s *stubBackend) ProcessImage(ctx context.Context, file *domain.SelectedFile, phase domain.Phase) (*backend.ProcessedImage, error) {
	s.mu.Lock()
	s.processCalls++
	s.mu.Unlock()

	if s.process == nil {
		return &backend.ProcessedImage{Data: []byte("processed"), ContentType: "image/png"}, nil
	}
	return s.process(ctx, file, phase)
}

func (s *stubBackend) UploadImage(ctx context.Context, file *domain.SelectedFile) (*backend.UploadResponse, error) {
	s.mu.Lock()
	s.uploadCalls++
	s.uploaded = file
	s.mu.Unlock()

	if s.upload == nil {
		return &backend.UploadResponse{URL: "http://cdn/1", ID: "1"}, nil
	}
	return s.upload(ctx, file)
}

func (s *stubBackend) HealthCheck(ctx context.Context) (*backend.HealthResponse, error) {
	if s.health == nil {
		return &backend.HealthResponse{Status: "ok"}, nil
	}
	return s.health(ctx)
}

func (s *stubBackend) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processCalls
}

type fixture struct {
	api      *stubBackend
	blobs    repository.BlobRepository
	notifier *notify.Notifier
	page     *Page
	form     *UploadForm
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := zap.NewNop()
	api := &stubBackend{}
	blobs := repository.NewMemoryRepository(log)
	notifier := notify.New(log)
	t.Cleanup(notifier.Close)

	page := NewPage(blobs, api, notifier, log)
	form := NewUploadForm(page, api, blobs, notifier, UploadFormOptions{}, log)

	return &fixture{api: api, blobs: blobs, notifier: notifier, page: page, form: form}
}

func pngFile(name string) *domain.SelectedFile {
	data := []byte("\x89PNG fake")
	return &domain.SelectedFile{Name: name, Size: int64(len(data)), MIMEType: "image/png", Data: data}
}

func lastToast(t *testing.T, n *notify.Notifier) notify.Toast {
	t.Helper()
	active := n.Active()
	if len(active) == 0 {
		t.Fatal("expected at least one notification")
	}
	return active[len(active)-1]
}

func hasToast(n *notify.Notifier, sev notify.Severity, message string) bool {
	for _, toast := range n.Active() {
		if toast.Severity == sev && toast.Message == message {
			return true
		}
	}
	return false
}
