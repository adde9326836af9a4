package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-election-auth/pkg/utilities"
)

const (
	DefaultLimit = 5
	MaxLimit     = 100
)

type Store interface {
	Insert(ctx context.Context, l *entity.Log) error
	Recent(ctx context.Context, limit int) ([]entity.Log, error)
}

// Service writes and reads the system log.
type Service struct {
	store  Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(store Store, logger *zap.SugaredLogger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Record never fails the caller's operation; write errors are logged only.
func (s *Service) Record(ctx context.Context, userID string, action entity.Action, details string) {
	l := &entity.Log{
		ID:        utilities.NewKSUID(),
		UserID:    userID,
		Action:    action,
		Details:   details,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, l); err != nil {
		s.logger.Warnw("system log write failed", "action", action, "user_id", userID, "err", err)
	}
}

// Recent clamps limit: non-positive means DefaultLimit.
func (s *Service) Recent(ctx context.Context, limit int) ([]entity.Log, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return s.store.Recent(ctx, limit)
}
