package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"phasesim/internal/backend"
	"phasesim/internal/domain"
	"phasesim/internal/notify"
	"phasesim/internal/repository"
	"phasesim/pkg/utils"
)

type FormState string

const (
	FormNoFile        FormState = "no-file"
	FormFileSelected  FormState = "file-selected"
	FormPhaseSelected FormState = "phase-selected"
	FormSubmitting    FormState = "submitting"
	FormDone          FormState = "done"
	FormError         FormState = "error"
)

const (
	msgInvalidType = "Please select a valid image file (JPG, PNG)"
	msgTimeout     = "Request timeout. Please try again with a smaller image."
	msgNetwork     = "Cannot connect to backend server. Please check if it's running."
	msgUnexpected  = "An unexpected error occurred. Please try again."
)

type FormSnapshot struct {
	State      FormState    `json:"state"`
	FileName   string       `json:"file_name,omitempty"`
	FileSize   string       `json:"file_size,omitempty"`
	FileType   string       `json:"file_type,omitempty"`
	Preview    string       `json:"preview,omitempty"`
	Phase      domain.Phase `json:"phase"`
	DragActive bool         `json:"drag_active"`
	InputValue string       `json:"input_value"`
	CanSubmit  bool         `json:"can_submit"`
	Submitting bool         `json:"submitting"`
}

type UploadFormOptions struct {
	MaxFileSize    int64
	RequestTimeout time.Duration
}

type UploadForm struct {
	mu         sync.Mutex
	file       *domain.SelectedFile
	preview    string
	phase      domain.Phase
	dragActive bool
	inputValue string
	submitting bool
	outcome    FormState

	page     ResultsReporter
	api      BackendAPI
	blobs    repository.BlobRepository
	notifier Notifier
	opts     UploadFormOptions
	log      *zap.Logger
}

func NewUploadForm(page ResultsReporter, api BackendAPI, blobs repository.BlobRepository, notifier Notifier, opts UploadFormOptions, log *zap.Logger) *UploadForm {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = utils.DefaultMaxFileSize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = backend.DefaultTimeout
	}

	return &UploadForm{
		page:     page,
		api:      api,
		blobs:    blobs,
		notifier: notifier,
		opts:     opts,
		log:      log,
	}
}

// SelectFile validates the file and, if accepted, shows it as the original
// image right away.
func (f *UploadForm) SelectFile(ctx context.Context, file *domain.SelectedFile) error {
	if res := utils.ValidateImageFile(file, f.opts.MaxFileSize); !res.IsValid {
		if file == nil || !strings.HasPrefix(file.MIMEType, "image/") {
			f.notifier.Error(msgInvalidType)
		} else {
			f.notifier.Error(f.tooLargeMessage())
		}
		return fmt.Errorf("%w: %s", ErrInvalidFile, res.Error)
	}

	preview, err := utils.CreateImagePreview(ctx, bytes.NewReader(file.Data), file.MIMEType)
	if err != nil {
		f.log.Error("Failed to create preview", zap.String("file", file.Name), zap.Error(err))
		f.notifier.Error("Failed to read file")
		return err
	}

	ref, err := f.blobs.Put(ctx, file.Data, file.MIMEType)
	if err != nil {
		f.log.Error("Failed to store original image", zap.String("file", file.Name), zap.Error(err))
		f.notifier.Error(msgUnexpected)
		return err
	}

	f.mu.Lock()
	f.file = file
	f.preview = preview
	f.inputValue = file.Name
	f.outcome = ""
	f.mu.Unlock()

	f.page.ReportResults(ref, "", domain.PhaseNone)

	f.notifier.Info(fmt.Sprintf("Selected: %s (%s)", file.Name, utils.FormatFileSize(file.Size)))

	f.log.Info("File selected",
		zap.String("file", file.Name),
		zap.Int64("size", file.Size),
		zap.String("type", file.MIMEType))

	return nil
}

// RejectTooLarge reports a file the host refused before it could be read.
// The current selection is kept.
func (f *UploadForm) RejectTooLarge() error {
	f.setDragActive(false)
	f.notifier.Error(f.tooLargeMessage())
	return fmt.Errorf("%w: file exceeds %s", ErrInvalidFile, utils.FormatFileSize(f.opts.MaxFileSize))
}

func (f *UploadForm) tooLargeMessage() string {
	return fmt.Sprintf("File size too large. Please select an image under %s.",
		utils.FormatFileSize(f.opts.MaxFileSize))
}

func (f *UploadForm) DragEnter() {
	f.setDragActive(true)
}

func (f *UploadForm) DragOver() {
	f.setDragActive(true)
}

func (f *UploadForm) DragLeave() {
	f.setDragActive(false)
}

// Drop accepts a payload with exactly one file; anything else is ignored.
func (f *UploadForm) Drop(ctx context.Context, files []*domain.SelectedFile) error {
	f.setDragActive(false)

	if len(files) != 1 {
		f.log.Debug("Ignoring drop", zap.Int("files", len(files)))
		return nil
	}

	return f.SelectFile(ctx, files[0])
}

func (f *UploadForm) SelectPhase(value string) error {
	phase, err := domain.ParsePhase(value)
	if err != nil {
		f.notifier.Warning("Validation error",
			notify.WithDescription("Please check the phase field and try again."))
		return err
	}

	f.mu.Lock()
	f.phase = phase
	f.outcome = ""
	f.mu.Unlock()

	return nil
}

// Submit sends the selected file to the backend. Failures are reported as
// notifications and returned; the page keeps showing the previous original.
func (f *UploadForm) Submit(ctx context.Context) (err error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		f.notifier.Warning("Processing already in progress")
		return ErrSubmitInFlight
	}
	file, phase := f.file, f.phase
	if file == nil {
		f.mu.Unlock()
		f.notifier.Warning("Please select an image file")
		return ErrNoFile
	}
	if !phase.Valid() {
		f.mu.Unlock()
		f.notifier.Warning("Please select a processing phase")
		return ErrNoPhase
	}
	f.submitting = true
	f.outcome = ""
	f.mu.Unlock()

	f.page.SetLoading(true)
	f.page.SetStage(stageMessage(phase))

	// флаг загрузки снимается всегда, даже если упала отправка уведомления
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("Recovered during submit", zap.Any("panic", r))
			err = fmt.Errorf("submit: %v", r)
		}

		f.page.SetLoading(false)

		f.mu.Lock()
		f.submitting = false
		if err != nil {
			f.outcome = FormError
		} else {
			f.outcome = FormDone
		}
		f.mu.Unlock()
	}()

	f.notifier.Info(fmt.Sprintf("Processing image with %s phase simulation...", phase))

	reqCtx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()

	result, err := f.api.ProcessImage(reqCtx, file, phase)
	if err != nil {
		f.reportFailure(err)
		return err
	}

	originalRef, err := f.blobs.Put(ctx, file.Data, file.MIMEType)
	if err != nil {
		f.log.Error("Failed to store original image", zap.Error(err))
		f.notifier.Error(msgUnexpected)
		return err
	}

	processedRef, err := f.blobs.Put(ctx, result.Data, result.ContentType)
	if err != nil {
		_ = f.blobs.Delete(ctx, originalRef)
		f.log.Error("Failed to store processed image", zap.Error(err))
		f.notifier.Error(msgUnexpected)
		return err
	}

	f.page.ReportResults(originalRef, processedRef, phase)

	f.notifier.Success(utils.Capitalize(string(phase)) + " phase processing completed!")

	f.log.Info("Processing completed",
		zap.String("file", file.Name),
		zap.String("phase", string(phase)),
		zap.Int("processed_size", len(result.Data)))

	return nil
}

// Reset clears the form only; the page keeps its images.
func (f *UploadForm) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.file = nil
	f.preview = ""
	f.phase = domain.PhaseNone
	f.inputValue = ""
	f.outcome = ""
}

func (f *UploadForm) State() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.stateLocked()
}

func (f *UploadForm) Snapshot() FormSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := FormSnapshot{
		State:      f.stateLocked(),
		Preview:    f.preview,
		Phase:      f.phase,
		DragActive: f.dragActive,
		InputValue: f.inputValue,
		Submitting: f.submitting,
	}
	if f.file != nil {
		snap.FileName = f.file.Name
		snap.FileSize = utils.FormatFileSize(f.file.Size)
		snap.FileType = f.file.MIMEType
	}
	snap.CanSubmit = f.file != nil && f.phase.Valid() && !f.submitting && !f.page.IsLoading()

	return snap
}

func (f *UploadForm) stateLocked() FormState {
	switch {
	case f.submitting:
		return FormSubmitting
	case f.outcome != "":
		return f.outcome
	case f.file == nil:
		return FormNoFile
	case !f.phase.Valid():
		return FormFileSelected
	default:
		return FormPhaseSelected
	}
}

func (f *UploadForm) setDragActive(active bool) {
	f.mu.Lock()
	f.dragActive = active
	f.mu.Unlock()
}

func (f *UploadForm) retry() {
	_ = f.Submit(context.Background())
}

func (f *UploadForm) reportFailure(err error) {
	f.log.Warn("Processing failed", zap.Error(err))

	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		f.notifier.Error(msgUnexpected)
		return
	}

	switch apiErr.Kind {
	case backend.KindTimeout:
		f.notifier.Error(msgTimeout, notify.WithAction("Retry", f.retry))
	case backend.KindServer:
		message := utils.TruncateText(apiErr.Detail(), maxDetailLength)
		if message == "" {
			message = "Processing failed"
		}
		f.notifier.Error("Error: " + message)
	case backend.KindNetwork:
		f.notifier.Error(msgNetwork, notify.WithAction("Retry", f.retry))
	default:
		f.notifier.Error(msgUnexpected)
	}
}
