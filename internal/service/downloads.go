package service

import (
	"sync"

	"phasesim/internal/domain"
)

type PendingDownload struct {
	Ref      domain.Ref `json:"ref"`
	URL      string     `json:"url"`
	Filename string     `json:"filename"`
}

// DownloadQueue collects downloads for the browser to perform on its next poll.
type DownloadQueue struct {
	mu      sync.Mutex
	pending []PendingDownload
}

func (q *DownloadQueue) TriggerDownload(ref domain.Ref, filename string) error {
	if ref.Empty() {
		return ErrEmptyRef
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, PendingDownload{
		Ref:      ref,
		URL:      ref.URL(),
		Filename: filename,
	})
	return nil
}

func (q *DownloadQueue) Drain() []PendingDownload {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.pending
	q.pending = nil
	if out == nil {
		out = []PendingDownload{}
	}
	return out
}
