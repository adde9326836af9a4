package repo

import (
	"context"
	"sync"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session/entity"
)

type MemoryRepo struct {
	mu     sync.RWMutex
	byHash map[string]entity.Session
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byHash: map[string]entity.Session{}}
}

func (r *MemoryRepo) Create(_ context.Context, s *entity.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[s.TokenHash] = *s
	return nil
}

func (r *MemoryRepo) GetByTokenHash(_ context.Context, hash string) (*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *MemoryRepo) Update(_ context.Context, s *entity.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[s.TokenHash]; !ok {
		return ErrNotFound
	}
	r.byHash[s.TokenHash] = *s
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHash, hash)
	return nil
}

func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHash)
}
