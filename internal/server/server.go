package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phasesim/internal/backend"
	"phasesim/internal/config"
	"phasesim/internal/handler"
	"phasesim/internal/repository"
	"phasesim/internal/service"
	"phasesim/web"
)

type Server struct {
	httpServer *http.Server
	sessions   *service.Manager
	cfg        *config.Config
	log        *zap.Logger
}

func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	blobs, err := newBlobRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	api := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, log)

	sessions := service.NewManager(api, blobs, service.ManagerOptions{
		MaxFileSize:     cfg.App.MaxUploadSize,
		RequestTimeout:  cfg.Backend.Timeout,
		DownloadStagger: cfg.App.DownloadStagger,
		SessionTTL:      cfg.App.SessionTTL,
		SweepDebounce:   cfg.App.SweepDebounce,
	}, log)

	h := handler.NewHandler(sessions, api, blobs, handler.Options{
		CookieName:    cfg.App.SessionCookie,
		CookieMaxAge:  cfg.App.SessionTTL,
		MaxUploadSize: cfg.App.MaxUploadSize,
	}, log)

	router, err := NewRouter(h, log)
	if err != nil {
		return nil, err
	}

	server := &Server{
		httpServer: &http.Server{
			Addr:           cfg.Addr(),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
		sessions: sessions,
		cfg:      cfg,
		log:      log,
	}

	log.Info("Server created successfully",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("backend", api.BaseURL()),
		zap.String("storage", cfg.App.StorageBackend))

	return server, nil
}

// NewRouter собирает gin-движок со встроенными шаблонами и статикой.
func NewRouter(h *handler.Handler, log *zap.Logger) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	static, err := web.Static()
	if err != nil {
		return nil, fmt.Errorf("failed to load static files: %w", err)
	}
	router.StaticFS("/static", static)

	h.Register(router)

	return router, nil
}

func newBlobRepository(cfg *config.Config, log *zap.Logger) (repository.BlobRepository, error) {
	switch cfg.App.StorageBackend {
	case config.StorageS3:
		repo, err := repository.NewS3Repository(&cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 repository: %w", err)
		}
		return repo, nil
	default:
		return repository.NewMemoryRepository(log), nil
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// опрос состояния идёт каждую секунду, не засоряем info
		level := zap.InfoLevel
		if c.Request.Method == http.MethodGet {
			level = zap.DebugLevel
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = zap.ErrorLevel
		}

		if ce := log.Check(level, "Request handled"); ce != nil {
			ce.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("client_ip", c.ClientIP()))
		}
	}
}

func (s *Server) Run() error {
	s.log.Info("Server is running",
		zap.String("host", s.cfg.Server.Host),
		zap.String("port", s.cfg.Server.Port),
		zap.String("address", s.httpServer.Addr))

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	defer s.sessions.Close()
	return s.httpServer.Shutdown(ctx)
}
