package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	accountentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session/entity"
	sessionrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-election-auth/pkg/utilities"
)

// ErrNoSession covers missing, unknown, expired and orphaned sessions.
var ErrNoSession = errors.New("no valid session")

type Store interface {
	Create(ctx context.Context, s *entity.Session) error
	GetByTokenHash(ctx context.Context, hash string) (*entity.Session, error)
	Update(ctx context.Context, s *entity.Session) error
	Delete(ctx context.Context, hash string) error
}

type AccountLookup interface {
	GetByID(ctx context.Context, id string) (*accountentity.Account, error)
}

type Service struct {
	store     Store
	accounts  AccountLookup
	logger    *zap.SugaredLogger
	maxAge    time.Duration
	updateAge time.Duration
	now       func() time.Time
}

func NewService(store Store, accounts AccountLookup, logger *zap.SugaredLogger, maxAge, updateAge time.Duration) *Service {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	if updateAge < 0 || updateAge > maxAge {
		updateAge = 0
	}
	return &Service{
		store:     store,
		accounts:  accounts,
		logger:    logger,
		maxAge:    maxAge,
		updateAge: updateAge,
		now:       time.Now,
	}
}

func (s *Service) MaxAge() time.Duration { return s.maxAge }

// LandingRoute maps a role to its home area. Unknown roles land on /voter.
func LandingRoute(role accountentity.Role) string {
	switch role {
	case accountentity.RoleAdmin:
		return "/admin"
	case accountentity.RoleElectionOfficer:
		return "/officer"
	case accountentity.RoleCandidate:
		return "/candidate"
	default:
		return "/voter"
	}
}

// ResolveClaims derives session claims from the identity and the store's view of the account.
// The store wins for role, student number and candidate flag; on lookup failure the identity's values stand.
func ResolveClaims(ident accountentity.Identity, acct *accountentity.Account, lookupErr error) entity.Claims {
	c := entity.Claims{
		UserID:        ident.ID,
		Email:         ident.Email,
		Name:          ident.Name,
		Image:         ident.Image,
		Role:          ident.Role,
		StudentNumber: ident.StudentNumber,
		IsCandidate:   ident.IsCandidate,
	}
	if lookupErr != nil || acct == nil {
		return c
	}
	c.Role = acct.Role
	c.StudentNumber = acct.StudentNumber
	c.IsCandidate = acct.IsCandidate
	if acct.Email != "" {
		c.Email = acct.Email
	}
	if acct.Name != "" {
		c.Name = acct.Name
	}
	if acct.Image != nil {
		c.Image = acct.Image
	}
	return c
}

// Issue persists a new session for ident and returns the raw token.
func (s *Service) Issue(ctx context.Context, ident accountentity.Identity) (string, *entity.Session, error) {
	acct, err := s.accounts.GetByID(ctx, ident.ID)
	if err != nil {
		s.logger.Warnw("account lookup failed while issuing session; using provider claims",
			"account_id", ident.ID, "provider", ident.Provider, "err", err)
	}
	claims := ResolveClaims(ident, acct, err)

	token, err := NewToken()
	if err != nil {
		return "", nil, fmt.Errorf("session token: %w", err)
	}
	now := s.now().UTC()
	sess := &entity.Session{
		ID:        utilities.NewSnowflakeID(),
		TokenHash: HashToken(token),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.maxAge),
	}
	sess.SetClaims(claims)
	if err := s.store.Create(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("persist session: %w", err)
	}
	return token, sess, nil
}

// Validate resolves a raw token to a session with claims refreshed from the account store.
// Any error other than ErrNoSession means the store could not answer.
func (s *Service) Validate(ctx context.Context, token string) (*entity.Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	hash := HashToken(token)
	sess, err := s.store.GetByTokenHash(ctx, hash)
	if errors.Is(err, sessionrepo.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		s.deleteQuietly(ctx, hash)
		return nil, ErrNoSession
	}

	acct, err := s.accounts.GetByID(ctx, sess.UserID)
	if errors.Is(err, accountrepo.ErrNotFound) {
		s.deleteQuietly(ctx, hash)
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !acct.IsActive {
		return nil, ErrNoSession
	}

	before := sess.Claims()
	fresh := ResolveClaims(accountentity.Identity{
		ID:            before.UserID,
		Email:         before.Email,
		Name:          before.Name,
		Image:         before.Image,
		Role:          before.Role,
		StudentNumber: before.StudentNumber,
		IsCandidate:   before.IsCandidate,
	}, acct, nil)
	sess.SetClaims(fresh)

	extend := sess.ExpiresAt.Sub(now) < s.maxAge-s.updateAge
	if extend {
		sess.ExpiresAt = now.UTC().Add(s.maxAge)
	}
	if extend || claimsChanged(before, fresh) {
		if err := s.store.Update(ctx, sess); err != nil {
			s.logger.Warnw("session refresh failed", "session_id", sess.ID, "err", err)
		}
	}
	return sess, nil
}

// Revoke deletes the session; unknown tokens are not an error.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.Delete(ctx, HashToken(token))
}

func (s *Service) deleteQuietly(ctx context.Context, hash string) {
	if err := s.store.Delete(ctx, hash); err != nil {
		s.logger.Debugw("stale session delete failed", "err", err)
	}
}

func claimsChanged(a, b entity.Claims) bool {
	return a.Role != b.Role ||
		a.IsCandidate != b.IsCandidate ||
		a.Email != b.Email ||
		a.Name != b.Name ||
		!equalPtr(a.StudentNumber, b.StudentNumber) ||
		!equalPtr(a.Image, b.Image)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
