package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phasesim/internal/domain"
)

var ErrNotFound = errors.New("blob not found")

type Blob struct {
	Data        []byte
	ContentType string
}

// BlobRepository хранит байты за локальными ссылками на изображения.
type BlobRepository interface {
	Put(ctx context.Context, data []byte, contentType string) (domain.Ref, error)
	Get(ctx context.Context, ref domain.Ref) (*Blob, error)
	Delete(ctx context.Context, ref domain.Ref) error
}

type memoryRepository struct {
	mu    sync.RWMutex
	blobs map[domain.Ref]Blob
	log   *zap.Logger
}

func NewMemoryRepository(log *zap.Logger) BlobRepository {
	return &memoryRepository{
		blobs: make(map[domain.Ref]Blob),
		log:   log,
	}
}

func (r *memoryRepository) Put(ctx context.Context, data []byte, contentType string) (domain.Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := domain.Ref(uuid.NewString())

	r.mu.Lock()
	r.blobs[ref] = Blob{Data: data, ContentType: contentType}
	r.mu.Unlock()

	r.log.Debug("Blob stored",
		zap.String("ref", string(ref)),
		zap.Int("size", len(data)))

	return ref, nil
}

func (r *memoryRepository) Get(ctx context.Context, ref domain.Ref) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	blob, ok := r.blobs[ref]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return &blob, nil
}

func (r *memoryRepository) Delete(ctx context.Context, ref domain.Ref) error {
	r.mu.Lock()
	delete(r.blobs, ref)
	r.mu.Unlock()

	r.log.Debug("Blob released", zap.String("ref", string(ref)))
	return nil
}
