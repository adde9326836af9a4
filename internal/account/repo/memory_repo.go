package repo

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
)

// MemoryRepo is an in-process account store with the same uniqueness rules as the users table.
type MemoryRepo struct {
	mu         sync.RWMutex
	byID       map[string]*entity.Account
	candidates map[string]bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]*entity.Account{}, candidates: map[string]bool{}}
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*entity.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.copyOf(a), nil
}

func (r *MemoryRepo) GetByEmail(_ context.Context, email string) (*entity.Account, error) {
	email = strings.ToLower(email)
	return r.find(func(a *entity.Account) bool { return a.Email == email })
}

func (r *MemoryRepo) GetByStudentNumber(_ context.Context, studentNumber string) (*entity.Account, error) {
	return r.find(func(a *entity.Account) bool {
		return a.StudentNumber != nil && *a.StudentNumber == studentNumber
	})
}

func (r *MemoryRepo) find(match func(*entity.Account) bool) (*entity.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if match(a) {
			return r.copyOf(a), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) Create(_ context.Context, a *entity.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.Email = strings.ToLower(a.Email)
	if _, ok := r.byID[a.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range r.byID {
		if existing.Email == a.Email {
			return ErrDuplicate
		}
		if a.StudentNumber != nil && existing.StudentNumber != nil && *existing.StudentNumber == *a.StudentNumber {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	stored := *a
	stored.IsCandidate = false
	r.byID[a.ID] = &stored
	return nil
}

func (r *MemoryRepo) UpdateRole(_ context.Context, id string, role entity.Role) error {
	return r.update(id, func(a *entity.Account) { a.Role = role })
}

func (r *MemoryRepo) SetActive(_ context.Context, id string, active bool) error {
	return r.update(id, func(a *entity.Account) { a.IsActive = active })
}

func (r *MemoryRepo) RecordFailedLogin(_ context.Context, id string, threshold int, lockUntil time.Time) (bool, error) {
	locked := false
	err := r.update(id, func(a *entity.Account) {
		a.FailedLogins++
		if a.FailedLogins >= threshold {
			a.FailedLogins = 0
			until := lockUntil
			a.LockedUntil = &until
			locked = true
		}
	})
	return locked, err
}

func (r *MemoryRepo) ResetFailedLogins(_ context.Context, id string) error {
	err := r.update(id, func(a *entity.Account) {
		a.FailedLogins = 0
		a.LockedUntil = nil
	})
	if err == ErrNotFound {
		return nil
	}
	return err
}

// MarkCandidate records a candidates row for the account.
func (r *MemoryRepo) MarkCandidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[id] = true
}

// Len reports how many accounts exist.
func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *MemoryRepo) update(id string, fn func(*entity.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// copyOf must be called with the lock held.
func (r *MemoryRepo) copyOf(a *entity.Account) *entity.Account {
	c := *a
	c.IsCandidate = r.candidates[a.ID]
	return &c
}
