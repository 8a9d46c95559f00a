package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phasesim/internal/backend"
	"phasesim/internal/domain"
	"phasesim/internal/notify"
	"phasesim/internal/repository"
	"phasesim/internal/service"
)

const (
	sessionKey         = "session"
	healthCheckTimeout = 5 * time.Second
)

type HealthChecker interface {
	HealthCheck(ctx context.Context) (*backend.HealthResponse, error)
}

type Options struct {
	CookieName    string
	CookieMaxAge  time.Duration
	MaxUploadSize int64
}

type Handler struct {
	sessions *service.Manager
	api      HealthChecker
	blobs    repository.BlobRepository
	opts     Options
	log      *zap.Logger
}

type stateResponse struct {
	Page   domain.PageState     `json:"page"`
	Form   service.FormSnapshot `json:"form"`
	View   service.View         `json:"view"`
	Toasts []notify.Toast       `json:"toasts"`
}

type dragRequest struct {
	Event string `json:"event" binding:"required,oneof=dragenter dragover dragleave"`
}

type phaseRequest struct {
	Phase string `form:"phase" json:"phase" binding:"required"`
}

type viewRequest struct {
	Mode string `form:"mode" json:"mode" binding:"required"`
}

func NewHandler(sessions *service.Manager, api HealthChecker, blobs repository.BlobRepository, opts Options, log *zap.Logger) *Handler {
	if opts.CookieName == "" {
		opts.CookieName = "phasesim_session"
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = 30 * time.Minute
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 10 * 1024 * 1024
	}

	return &Handler{
		sessions: sessions,
		api:      api,
		blobs:    blobs,
		opts:     opts,
		log:      log,
	}
}

func (h *Handler) Register(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)

	ui := router.Group("/", h.Session())
	ui.GET("/", h.GetUI)
	ui.GET("/blobs/:ref", h.GetBlob)

	api := router.Group("/api", h.Session())
	{
		api.GET("/state", h.GetState)

		upload := api.Group("", h.LimitBody())
		upload.POST("/file", h.SelectFile)
		upload.POST("/drop", h.Drop)

		api.POST("/drag", h.Drag)
		api.POST("/phase", h.SelectPhase)
		api.POST("/process", h.ProcessImage)
		api.POST("/form/reset", h.ResetForm)
		api.POST("/reset", h.ResetPage)
		api.POST("/view", h.SetViewMode)
		api.POST("/share", h.ShareProcessed)
		api.POST("/backend/check", h.CheckBackend)

		api.GET("/toasts", h.ListToasts)
		api.POST("/toasts/:id/dismiss", h.DismissToast)
		api.POST("/toasts/:id/action", h.TriggerToastAction)

		api.POST("/download/:which", h.Download)
		api.GET("/downloads", h.DrainDownloads)
	}
}

// Session привязывает запрос к сессии по cookie, создавая новую при необходимости.
func (h *Handler) Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(h.opts.CookieName)

		s, created := h.sessions.Get(id)
		if created {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(h.opts.CookieName, s.ID, int(h.opts.CookieMaxAge.Seconds()), "/", "", false, true)
		}
		h.sessions.Touch(s)

		c.Set(sessionKey, s)
		c.Next()
	}
}

func (h *Handler) LimitBody() gin.HandlerFunc {
	limit := h.bodyLimit()
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func (h *Handler) GetUI(c *gin.Context) {
	s := session(c)
	state := h.state(s)

	c.HTML(http.StatusOK, "index.html", gin.H{
		"Page":   state.Page,
		"Form":   state.Form,
		"View":   state.View,
		"Toasts": state.Toasts,
		"Phases": domain.Phases,
	})
}

func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.state(session(c)))
}

func (h *Handler) SelectFile(c *gin.Context) {
	s := session(c)

	header, err := c.FormFile("file")
	if h.tooLarge(c, err) {
		h.log.Warn("Upload exceeds body limit", zap.Int64("content_length", c.Request.ContentLength))
		_ = s.Form.RejectTooLarge()
		c.JSON(http.StatusOK, h.state(s))
		return
	}
	if err != nil {
		h.log.Error("Failed to get file from form", zap.Error(err))
		h.badRequest(c, s, "No image file provided")
		return
	}

	file, err := readFile(header)
	if err != nil {
		h.log.Error("Failed to read file", zap.Error(err))
		h.badRequest(c, s, "Failed to read file")
		return
	}

	// ошибки валидации уже показаны пользователю уведомлением
	_ = s.Form.SelectFile(c.Request.Context(), file)

	c.JSON(http.StatusOK, h.state(s))
}

func (h *Handler) Drag(c *gin.Context) {
	s := session(c)

	var req dragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, s, "Invalid drag event")
		return
	}

	switch req.Event {
	case "dragenter":
		s.Form.DragEnter()
	case "dragover":
		s.Form.DragOver()
	case "dragleave":
		s.Form.DragLeave()
	}

	c.JSON(http.StatusOK, h.state(s))
}

func (h *Handler) Drop(c *gin.Context) {
	s := session(c)

	form, err := c.MultipartForm()
	if h.tooLarge(c, err) {
		h.log.Warn("Drop exceeds body limit", zap.Int64("content_length", c.Request.ContentLength))
		_ = s.Form.RejectTooLarge()
		c.JSON(http.StatusOK, h.state(s))
		return
	}
	if err != nil {
		s.Form.DragLeave()
		h.badRequest(c, s, "Invalid drop payload")
		return
	}

	headers := form.File["files"]
	files := make([]*domain.SelectedFile, 0, len(headers))
	for _, header := range headers {
		file, err := readFile(header)
		if err != nil {
			h.log.Error("Failed to read dropped file", zap.Error(err))
			s.Form.DragLeave()
			h.badRequest(c, s, "Failed to read file")
			return
		}
		files = append(files, file)
	}

	_ = s.Form.Drop(c.Request.Context(), files)

	c.JSON(http.StatusOK, h.state(s))
}

func (h *Handler) SelectPhase(c *gin.Context) {
	s := session(c)

	var req phaseRequest
	if err := c.ShouldBind(&req); err != nil {
		s.Notifier.ValidationError("phase")
		h.badRequest(c, s, "Phase is required")
		return
	}

	_ = s.Form.SelectPhase(req.Phase)

	c.JSON(http.StatusOK, h.state(s))
}

func (h *Handler) ProcessImage(c *gin.Context) {
	s := session(c)

	// запрос к бэкенду не должен обрываться вместе с вкладкой браузера
	ctx := context.WithoutCancel(c.Request.Context())
	if err := s.Form.Submit(ctx); err != nil {
		h.log.Info("Processing did not complete", zap.String("session", s.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, h.state(s))
}

func (h *Handler) ResetForm(c *gin.Context) {
	s := session(c)
	s.Form.Reset()
	c.JSON(http.StatusOK, h.state(s))
}

func (h *Handler) ResetPage(c *gin.Context) {
	s := session(c)
	s.Page.Reset()
	c.JSON(http.StatusOK, h.state(s))
}

func (h *Handler) SetViewMode(c *gin.Context) {
	s := session(c)

	var req viewRequest
	if err := c.ShouldBind(&req); err != nil {
		h.badRequest(c, s, "Mode is required")
		return
	}

	if _, err := s.Display.SetMode(req.Mode, s.Page.Snapshot()); err != nil {
		h.badRequest(c, s, err.Error())
		return
	}

	c.JSON(http.StatusOK, h.state(s))
}

func (h *Handler) ShareProcessed(c *gin.Context) {
	s := session(c)

	resp, err := s.Page.ShareProcessed(c.Request.Context())
	if errors.Is(err, service.ErrNoProcessedImage) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": h.state(s)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload": resp, "state": h.state(s)})
}

func (h *Handler) CheckBackend(c *gin.Context) {
	s := session(c)

	health, _ := s.Page.CheckBackend(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{"backend": health, "state": h.state(s)})
}

func (h *Handler) ListToasts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"toasts": session(c).Notifier.Active()})
}

func (h *Handler) DismissToast(c *gin.Context) {
	s := session(c)
	s.Notifier.Dismiss(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"toasts": s.Notifier.Active()})
}

func (h *Handler) TriggerToastAction(c *gin.Context) {
	s := session(c)

	if !s.Notifier.Trigger(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notification has no action"})
		return
	}

	c.JSON(http.StatusOK, h.state(s))
}

func (h *Handler) Download(c *gin.Context) {
	s := session(c)
	state := s.Page.Snapshot()
	which := c.Param("which")

	if which == service.DownloadBoth {
		// оригинал уходит в этом ответе, обработанный приходит опросом после паузы
		if err := s.Display.StartDownloadBoth(s.Context(), state, s.Downloads); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"downloads": s.Downloads.Drain()})
		return
	}

	err := s.Display.Download(state, which, s.Downloads)
	switch {
	case errors.Is(err, service.ErrUnknownDownload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrNoOriginalImage), errors.Is(err, service.ErrNoProcessedImage):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"downloads": s.Downloads.Drain()})
}

func (h *Handler) DrainDownloads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"downloads": session(c).Downloads.Drain()})
}

// GetBlob отдаёт только изображения, которые сейчас на странице этой сессии.
func (h *Handler) GetBlob(c *gin.Context) {
	ref := domain.Ref(c.Param("ref"))

	if !session(c).Page.Owns(ref) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}

	blob, err := h.blobs.Get(c.Request.Context(), ref)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}
	if err != nil {
		h.log.Error("Failed to load blob", zap.String("ref", string(ref)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load image"})
		return
	}

	if name := c.Query("download"); name != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	c.Header("Cache-Control", "private, max-age=3600")

	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp, err := h.api.HealthCheck(ctx)
	if err != nil {
		h.log.Warn("Backend health check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"status":  "DEGRADED",
			"backend": gin.H{"status": "unreachable", "error": err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "OK", "backend": resp})
}

func (h *Handler) state(s *service.Session) stateResponse {
	page := s.Page.Snapshot()

	return stateResponse{
		Page:   page,
		Form:   s.Form.Snapshot(),
		View:   s.Display.View(page),
		Toasts: s.Notifier.Active(),
	}
}

func (h *Handler) badRequest(c *gin.Context, s *service.Session, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "state": h.state(s)})
}

func (h *Handler) bodyLimit() int64 {
	return h.opts.MaxUploadSize + 1<<20
}

// tooLarge распознаёт тело, обрезанное LimitBody.
func (h *Handler) tooLarge(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || c.Request.ContentLength > h.bodyLimit()
}

func session(c *gin.Context) *service.Session {
	return c.MustGet(sessionKey).(*service.Session)
}

func readFile(header *multipart.FileHeader) (*domain.SelectedFile, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &domain.SelectedFile{
		Name:     header.Filename,
		Size:     header.Size,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}
