package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"phasesim/internal/domain"
	"phasesim/pkg/utils"
)

type ViewKind string

const (
	ViewLoading      ViewKind = "loading"
	ViewEmpty        ViewKind = "empty"
	ViewOriginalOnly ViewKind = "original-only"
	ViewComparison   ViewKind = "comparison"
)

type ViewMode string

const (
	ModeSideBySide ViewMode = "side-by-side"
	ModeOverlay    ViewMode = "overlay"
	ModeOriginal   ViewMode = "original"
	ModeProcessed  ViewMode = "processed"
)

const DefaultDownloadStagger = 500 * time.Millisecond

const (
	DownloadOriginal  = "original"
	DownloadProcessed = "processed"
	DownloadBoth      = "both"

	originalFilename = "original-image.png"
)

func ParseViewMode(s string) (ViewMode, error) {
	switch m := ViewMode(s); m {
	case ModeSideBySide, ModeOverlay, ModeOriginal, ModeProcessed:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownViewMode, s)
	}
}

func (m ViewMode) needsProcessed() bool {
	return m == ModeOverlay || m == ModeProcessed
}

type View struct {
	Kind              ViewKind     `json:"kind"`
	Mode              ViewMode     `json:"mode"`
	Phase             domain.Phase `json:"phase"`
	Title             string       `json:"title"`
	Message           string       `json:"message,omitempty"`
	OriginalURL       string       `json:"original_url,omitempty"`
	ProcessedURL      string       `json:"processed_url,omitempty"`
	ProcessedTitle    string       `json:"processed_title,omitempty"`
	OriginalFilename  string       `json:"original_filename,omitempty"`
	ProcessedFilename string       `json:"processed_filename,omitempty"`
	CanDownloadBoth   bool         `json:"can_download_both"`
}

// BuildView derives what the results panel shows from the page state.
func BuildView(state domain.PageState, mode ViewMode) View {
	if mode == "" || (state.ProcessedRef.Empty() && mode.needsProcessed()) {
		mode = ModeSideBySide
	}

	view := View{Mode: mode, Phase: state.Phase}

	switch {
	case state.IsLoading:
		view.Kind = ViewLoading
		view.Title = "Processing Image..."
		view.Message = state.Stage
		if view.Message == "" {
			view.Message = stageMessage(state.Phase)
		}
	case state.OriginalRef.Empty():
		view.Kind = ViewEmpty
		view.Title = "No Images to Display"
		view.Message = "Upload and process an image to see the results here"
	case state.ProcessedRef.Empty():
		view.Kind = ViewOriginalOnly
		view.Title = "Processing Results"
		view.Message = "Select a phase and process to see results"
		view.OriginalURL = state.OriginalRef.URL()
		view.OriginalFilename = originalFilename
	default:
		view.Kind = ViewComparison
		view.Title = "Processing Results"
		view.OriginalURL = state.OriginalRef.URL()
		view.ProcessedURL = state.ProcessedRef.URL()
		view.ProcessedTitle = fmt.Sprintf("Processed (%s)", utils.Capitalize(string(state.Phase)))
		view.OriginalFilename = originalFilename
		view.ProcessedFilename = processedFilename(state.Phase)
		view.CanDownloadBoth = true
	}

	return view
}

func stageMessage(phase domain.Phase) string {
	return fmt.Sprintf("Applying %s phase simulation", phase)
}

func processedFilename(phase domain.Phase) string {
	return fmt.Sprintf("processed-%s.png", phase)
}

type Display struct {
	mu       sync.Mutex
	mode     ViewMode
	stagger  time.Duration
	notifier Notifier
	log      *zap.Logger
}

func NewDisplay(stagger time.Duration, notifier Notifier, log *zap.Logger) *Display {
	if stagger < 0 {
		stagger = DefaultDownloadStagger
	}
	return &Display{
		mode:     ModeSideBySide,
		stagger:  stagger,
		notifier: notifier,
		log:      log,
	}
}

// View builds the view and drops a mode that points at a missing processed image.
func (d *Display) View(state domain.PageState) View {
	d.mu.Lock()
	if state.ProcessedRef.Empty() && d.mode.needsProcessed() {
		d.mode = ModeSideBySide
	}
	mode := d.mode
	d.mu.Unlock()

	return BuildView(state, mode)
}

func (d *Display) SetMode(value string, state domain.PageState) (ViewMode, error) {
	mode, err := ParseViewMode(value)
	if err != nil {
		return d.Mode(), err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if state.ProcessedRef.Empty() && mode.needsProcessed() {
		mode = ModeSideBySide
	}
	d.mode = mode

	return mode, nil
}

func (d *Display) Mode() ViewMode {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mode
}

func (d *Display) Download(state domain.PageState, which string, dl Downloader) error {
	var (
		ref      domain.Ref
		filename string
	)

	switch which {
	case DownloadOriginal:
		ref, filename = state.OriginalRef, originalFilename
		if ref.Empty() {
			return ErrNoOriginalImage
		}
	case DownloadProcessed:
		ref, filename = state.ProcessedRef, processedFilename(state.Phase)
		if ref.Empty() {
			return ErrNoProcessedImage
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDownload, which)
	}

	if err := dl.TriggerDownload(ref, filename); err != nil {
		return d.downloadFailed(filename, err)
	}

	d.notifier.DownloadSuccess(filename)
	return nil
}

// DownloadBoth triggers the original at once and the processed image after
// the stagger, so browsers do not block the second download as a popup.
func (d *Display) DownloadBoth(ctx context.Context, state domain.PageState, dl Downloader) error {
	if err := d.downloadOriginalFirst(state, dl); err != nil {
		return err
	}
	return d.downloadProcessedLater(ctx, state, dl)
}

// StartDownloadBoth triggers the original before returning and leaves the
// staggered processed download to a goroutine bound to ctx.
func (d *Display) StartDownloadBoth(ctx context.Context, state domain.PageState, dl Downloader) error {
	if err := d.downloadOriginalFirst(state, dl); err != nil {
		return err
	}

	go func() {
		err := d.downloadProcessedLater(ctx, state, dl)
		if err != nil && ctx.Err() == nil {
			d.log.Error("Failed to finish paired download", zap.Error(err))
		}
	}()

	return nil
}

func (d *Display) downloadOriginalFirst(state domain.PageState, dl Downloader) error {
	if state.OriginalRef.Empty() {
		return ErrNoOriginalImage
	}
	if state.ProcessedRef.Empty() {
		return ErrNoProcessedImage
	}

	if err := dl.TriggerDownload(state.OriginalRef, originalFilename); err != nil {
		return d.downloadFailed(originalFilename, err)
	}
	return nil
}

func (d *Display) downloadProcessedLater(ctx context.Context, state domain.PageState, dl Downloader) error {
	timer := time.NewTimer(d.stagger)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	name := processedFilename(state.Phase)
	if err := dl.TriggerDownload(state.ProcessedRef, name); err != nil {
		return d.downloadFailed(name, err)
	}

	return nil
}

func (d *Display) downloadFailed(filename string, err error) error {
	d.log.Error("Failed to trigger download", zap.String("file", filename), zap.Error(err))
	d.notifier.DownloadError()
	return err
}
