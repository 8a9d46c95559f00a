// Package notify keeps the transient notification stack of one page.
package notify

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityLoading Severity = "loading"
)

const (
	SuccessDuration = 4000 * time.Millisecond
	ErrorDuration   = 5000 * time.Millisecond
	WarningDuration = 4000 * time.Millisecond
	InfoDuration    = 4000 * time.Millisecond
)

type Action struct {
	Label   string `json:"label"`
	OnClick func() `json:"-"`
}

type Toast struct {
	ID          string        `json:"id"`
	Severity    Severity      `json:"severity"`
	Message     string        `json:"message"`
	Description string        `json:"description,omitempty"`
	Duration    time.Duration `json:"duration"`
	Action      *Action       `json:"action,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

type Option func(*Toast)

func WithDescription(description string) Option {
	return func(t *Toast) {
		t.Description = description
	}
}

// WithDuration overrides the auto-dismiss delay. Zero keeps the default.
func WithDuration(d time.Duration) Option {
	return func(t *Toast) {
		if d > 0 {
			t.Duration = d
		}
	}
}

func WithAction(label string, onClick func()) Option {
	return func(t *Toast) {
		t.Action = &Action{Label: label, OnClick: onClick}
	}
}

type Notifier struct {
	mu     sync.Mutex
	toasts []*Toast
	timers map[string]*time.Timer
	log    *zap.Logger
}

func New(log *zap.Logger) *Notifier {
	return &Notifier{
		timers: make(map[string]*time.Timer),
		log:    log,
	}
}

func (n *Notifier) Success(message string, opts ...Option) string {
	return n.show("", SeveritySuccess, message, SuccessDuration, opts)
}

func (n *Notifier) Error(message string, opts ...Option) string {
	return n.show("", SeverityError, message, ErrorDuration, opts)
}

func (n *Notifier) Warning(message string, opts ...Option) string {
	return n.show("", SeverityWarning, message, WarningDuration, opts)
}

func (n *Notifier) Info(message string, opts ...Option) string {
	return n.show("", SeverityInfo, message, InfoDuration, opts)
}

// Loading stays until dismissed or replaced.
func (n *Notifier) Loading(message string, opts ...Option) string {
	return n.show("", SeverityLoading, message, 0, opts)
}

// Dismiss removes one toast; an empty id clears the stack.
func (n *Notifier) Dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if id == "" {
		for key, timer := range n.timers {
			timer.Stop()
			delete(n.timers, key)
		}
		n.toasts = nil
		return
	}

	n.removeLocked(id)
}

// Trigger runs the toast's action and dismisses it. Reports whether an action ran.
func (n *Notifier) Trigger(id string) bool {
	n.mu.Lock()
	var action *Action
	if idx := n.indexLocked(id); idx >= 0 {
		action = n.toasts[idx].Action
	}
	if action != nil {
		n.removeLocked(id)
	}
	n.mu.Unlock()

	if action == nil || action.OnClick == nil {
		return false
	}

	action.OnClick()
	return true
}

func (n *Notifier) Active() []Toast {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Toast, 0, len(n.toasts))
	for _, t := range n.toasts {
		out = append(out, *t)
	}
	return out
}

func (n *Notifier) Close() {
	n.Dismiss("")
}

// show создаёт тост или, если id уже есть в стеке, заменяет его на месте.
func (n *Notifier) show(id string, severity Severity, message string, duration time.Duration, opts []Option) string {
	toast := &Toast{
		ID:        id,
		Severity:  severity,
		Message:   message,
		Duration:  duration,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(toast)
	}
	if severity == SeverityLoading {
		toast.Duration = 0
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if toast.ID == "" {
		toast.ID = uuid.NewString()
	}

	if timer, ok := n.timers[toast.ID]; ok {
		timer.Stop()
		delete(n.timers, toast.ID)
	}

	if idx := n.indexLocked(toast.ID); idx >= 0 {
		n.toasts[idx] = toast
	} else {
		n.toasts = append(n.toasts, toast)
	}

	if toast.Duration > 0 {
		n.timers[toast.ID] = time.AfterFunc(toast.Duration, func() {
			n.expire(toast)
		})
	}

	n.log.Debug("Notification shown",
		zap.String("id", toast.ID),
		zap.String("severity", string(severity)),
		zap.String("message", message))

	return toast.ID
}

// expire removes the toast only if it was not replaced in the meantime.
func (n *Notifier) expire(toast *Toast) {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx := n.indexLocked(toast.ID)
	if idx < 0 || n.toasts[idx] != toast {
		return
	}
	n.removeLocked(toast.ID)
}

func (n *Notifier) indexLocked(id string) int {
	return slices.IndexFunc(n.toasts, func(t *Toast) bool { return t.ID == id })
}

func (n *Notifier) removeLocked(id string) {
	if timer, ok := n.timers[id]; ok {
		timer.Stop()
		delete(n.timers, id)
	}
	if idx := n.indexLocked(id); idx >= 0 {
		n.toasts = slices.Delete(n.toasts, idx, idx+1)
	}
}
