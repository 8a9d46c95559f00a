package service

import (
	"context"
	"errors"

	"phasesim/internal/backend"
	"phasesim/internal/domain"
	"phasesim/internal/notify"
)

var (
	ErrInvalidFile      = errors.New("invalid file")
	ErrNoFile           = errors.New("no file selected")
	ErrNoPhase          = errors.New("no phase selected")
	ErrSubmitInFlight   = errors.New("submission already in progress")
	ErrNoProcessedImage = errors.New("no processed image")
	ErrNoOriginalImage  = errors.New("no original image")
	ErrUnknownViewMode  = errors.New("unknown view mode")
	ErrUnknownDownload  = errors.New("unknown download target")
	ErrEmptyRef         = errors.New("empty image reference")
)

type BackendAPI interface {
	ProcessImage(ctx context.Context, file *domain.SelectedFile, phase domain.Phase) (*backend.ProcessedImage, error)
	UploadImage(ctx context.Context, file *domain.SelectedFile) (*backend.UploadResponse, error)
	HealthCheck(ctx context.Context) (*backend.HealthResponse, error)
}

type Notifier interface {
	Success(message string, opts ...notify.Option) string
	Error(message string, opts ...notify.Option) string
	Warning(message string, opts ...notify.Option) string
	Info(message string, opts ...notify.Option) string
	DownloadSuccess(filename string) string
	DownloadError() string
}

// Downloader is the host capability that hands a reference to the user as a file.
type Downloader interface {
	TriggerDownload(ref domain.Ref, filename string) error
}

type ResultsReporter interface {
	ReportResults(original, processed domain.Ref, phase domain.Phase)
	SetLoading(loading bool)
	SetStage(stage string)
	IsLoading() bool
}
