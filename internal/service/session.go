package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phasesim/internal/notify"
	"phasesim/internal/repository"
	"phasesim/pkg/utils"
)

type Session struct {
	ID        string
	Page      *Page
	Form      *UploadForm
	Display   *Display
	Notifier  *notify.Notifier
	Downloads *DownloadQueue

	ctx      context.Context
	cancel   context.CancelFunc
	lastSeen time.Time
}

// Context is cancelled when the session is evicted or the manager closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

type ManagerOptions struct {
	MaxFileSize     int64
	RequestTimeout  time.Duration
	DownloadStagger time.Duration
	SessionTTL      time.Duration
	SweepDebounce   time.Duration
}

// Manager keeps one page per browser session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	api      BackendAPI
	blobs    repository.BlobRepository
	opts     ManagerOptions
	log      *zap.Logger
	now      func() time.Time
	sweep    func(struct{})
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewManager(api BackendAPI, blobs repository.BlobRepository, opts ManagerOptions, log *zap.Logger) *Manager {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.SweepDebounce <= 0 {
		opts.SweepDebounce = 300 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		sessions: make(map[string]*Session),
		api:      api,
		blobs:    blobs,
		opts:     opts,
		log:      log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.sweep = utils.Debounce(func(struct{}) {
		m.Sweep()
	}, opts.SweepDebounce)

	return m
}

// Get returns the session for id, creating a fresh one when id is unknown.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.lastSeen = m.now()
		return s, false
	}

	s := m.newSession()
	m.sessions[s.ID] = s

	m.log.Info("Session created", zap.String("session", s.ID))

	return s, true
}

func (m *Manager) Touch(s *Session) {
	m.mu.Lock()
	s.lastSeen = m.now()
	m.mu.Unlock()

	m.sweep(struct{}{})
}

// Sweep evicts idle sessions and releases their images. Sessions with a
// submission in flight are kept.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.lastSeen) > m.opts.SessionTTL && !s.Page.IsLoading() {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.cancel()
		s.Page.Reset()
		s.Notifier.Close()
		m.log.Info("Session expired", zap.String("session", s.ID))
	}

	return len(expired)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.cancel()
		s.Page.Reset()
		s.Notifier.Close()
	}
}

func (m *Manager) newSession() *Session {
	id := uuid.NewString()
	log := m.log.With(zap.String("session", id))

	notifier := notify.New(log)
	page := NewPage(m.blobs, m.api, notifier, log)
	ctx, cancel := context.WithCancel(m.ctx)

	return &Session{
		ID:       id,
		Page:     page,
		Notifier: notifier,
		Form: NewUploadForm(page, m.api, m.blobs, notifier, UploadFormOptions{
			MaxFileSize:    m.opts.MaxFileSize,
			RequestTimeout: m.opts.RequestTimeout,
		}, log),
		Display:   NewDisplay(m.opts.DownloadStagger, notifier, log),
		Downloads: &DownloadQueue{},
		ctx:       ctx,
		cancel:    cancel,
		lastSeen:  m.now(),
	}
}
