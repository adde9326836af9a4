package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/audit/entity"
)

type MemoryRepo struct {
	mu   sync.RWMutex
	logs []entity.Log
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Insert(_ context.Context, l *entity.Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *l)
	return nil
}

func (r *MemoryRepo) Recent(_ context.Context, limit int) ([]entity.Log, error) {
	r.mu.RLock()
	out := make([]entity.Log, len(r.logs))
	copy(out, r.logs)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
