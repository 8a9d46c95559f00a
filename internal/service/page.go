package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"phasesim/internal/backend"
	"phasesim/internal/domain"
	"phasesim/internal/notify"
	"phasesim/internal/repository"
	"phasesim/pkg/utils"
)

// maxDetailLength ограничивает текст ошибки бэкенда в уведомлениях.
const maxDetailLength = 200

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Page owns the shared state of one page. Children change it only through
// ReportResults, Reset and the loading setters.
type Page struct {
	mu       sync.RWMutex
	state    domain.PageState
	blobs    repository.BlobRepository
	api      BackendAPI
	notifier *notify.Notifier
	log      *zap.Logger
}

func NewPage(blobs repository.BlobRepository, api BackendAPI, notifier *notify.Notifier, log *zap.Logger) *Page {
	return &Page{
		blobs:    blobs,
		api:      api,
		notifier: notifier,
		log:      log,
	}
}

func (p *Page) ReportResults(original, processed domain.Ref, phase domain.Phase) {
	next := domain.ImagePair{
		OriginalRef:  original,
		ProcessedRef: processed,
		Phase:        phase,
	}

	p.mu.Lock()
	prev := p.state.ImagePair
	p.state.ImagePair = next
	p.mu.Unlock()

	p.release(superseded(prev, next)...)
}

// Owns reports whether ref is one of the images currently on the page.
func (p *Page) Owns(ref domain.Ref) bool {
	if ref.Empty() {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	return ref == p.state.OriginalRef || ref == p.state.ProcessedRef
}

// Reset clears images and phase; the loading flag is left alone.
func (p *Page) Reset() {
	p.mu.Lock()
	prev := p.state.ImagePair
	p.state.ImagePair = domain.ImagePair{}
	p.mu.Unlock()

	p.release(prev.OriginalRef, prev.ProcessedRef)
}

func (p *Page) SetLoading(loading bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.IsLoading = loading
	if !loading {
		p.state.Stage = ""
		p.state.Progress = nil
	}
}

func (p *Page) SetStage(stage string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.Stage = stage
}

func (p *Page) IsLoading() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.state.IsLoading
}

func (p *Page) Snapshot() domain.PageState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.state
}

// ShareProcessed uploads the current processed image to the backend under a
// generated filename.
func (p *Page) ShareProcessed(ctx context.Context) (*backend.UploadResponse, error) {
	state := p.Snapshot()
	if state.ProcessedRef.Empty() {
		p.notifier.Warning("Nothing to share yet",
			notify.WithDescription("Process an image before sharing the result."))
		return nil, ErrNoProcessedImage
	}

	blob, err := p.blobs.Get(ctx, state.ProcessedRef)
	if err != nil {
		p.log.Error("Failed to load processed image", zap.Error(err))
		p.notifier.UploadError("")
		return nil, err
	}

	ext, ok := extensions[blob.ContentType]
	if !ok {
		ext = "png"
	}

	file := &domain.SelectedFile{
		Name:     utils.GenerateFilename("processed-"+string(state.Phase), ext),
		Size:     int64(len(blob.Data)),
		MIMEType: blob.ContentType,
		Data:     blob.Data,
	}

	resp, err := p.api.UploadImage(ctx, file)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == backend.KindNetwork {
			p.notifier.NetworkError()
		} else {
			p.notifier.UploadError(describe(err))
		}
		return nil, err
	}

	p.notifier.UploadSuccess(file.Name)
	p.log.Info("Processed image shared",
		zap.String("file", file.Name),
		zap.String("id", resp.ID))

	return resp, nil
}

func (p *Page) CheckBackend(ctx context.Context) (*backend.HealthResponse, error) {
	return notify.Promise(ctx, p.notifier, p.api.HealthCheck, notify.PromiseMessages[*backend.HealthResponse]{
		Loading: "Checking backend connection...",
		Success: func(h *backend.HealthResponse) string {
			return "Backend is " + h.Status
		},
		Error: func(err error) string {
			if backend.IsKind(err, backend.KindNetwork) || backend.IsKind(err, backend.KindTimeout) {
				return "Cannot connect to backend server. Please check if it's running."
			}
			return "Backend health check failed: " + describe(err)
		},
	})
}

func (p *Page) release(refs ...domain.Ref) {
	for _, ref := range refs {
		if ref.Empty() {
			continue
		}
		if err := p.blobs.Delete(context.Background(), ref); err != nil {
			p.log.Warn("Failed to release blob",
				zap.String("ref", string(ref)),
				zap.Error(err))
		}
	}
}

func superseded(prev, next domain.ImagePair) []domain.Ref {
	var out []domain.Ref
	for _, ref := range []domain.Ref{prev.OriginalRef, prev.ProcessedRef} {
		if ref != next.OriginalRef && ref != next.ProcessedRef {
			out = append(out, ref)
		}
	}
	return out
}

// describe даёт короткий текст ошибки для уведомления.
func describe(err error) string {
	message := err.Error()

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		message = apiErr.Message
		if detail := apiErr.Detail(); detail != "" {
			message = detail
		}
	}

	return utils.TruncateText(message, maxDetailLength)
}
