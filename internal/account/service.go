package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	netmail "net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/repo"
	auditentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/mail"
	"github.com/ovaphlow/pitchfork/service-election-auth/pkg/utilities"
)

const (
	ProviderGoogle        = "google"
	ProviderStudentNumber = "student-number"

	defaultName = "Unknown User"
)

// Store is implemented by repo.AccountRepo and repo.MemoryRepo.
type Store interface {
	GetByID(ctx context.Context, id string) (*entity.Account, error)
	GetByEmail(ctx context.Context, email string) (*entity.Account, error)
	GetByStudentNumber(ctx context.Context, studentNumber string) (*entity.Account, error)
	Create(ctx context.Context, a *entity.Account) error
	UpdateRole(ctx context.Context, id string, role entity.Role) error
	SetActive(ctx context.Context, id string, active bool) error
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil time.Time) (bool, error)
	ResetFailedLogins(ctx context.Context, id string) error
}

type Recorder interface {
	Record(ctx context.Context, userID string, action auditentity.Action, details string)
}

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

var (
	ErrAccessDenied       = errors.New("email outside institutional domain")
	ErrMissingCredentials = errors.New("student number and password required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrAccountExists      = errors.New("account with this email or student number already exists")
	ErrInvalidInput       = errors.New("invalid account input")
)

// Assertion is the identity a federated provider vouches for.
type Assertion struct {
	Email   string
	Name    string
	Picture string
}

// Service orchestrates sign-in and account lifecycle flows.
type Service struct {
	store  Store
	hasher PasswordHasher
	mailer mail.Mailer
	audit  Recorder
	logger *zap.SugaredLogger
	domain string
	// dummyHash is compared on the not-found path so both failures cost one bcrypt compare.
	dummyHash string
	now       func() time.Time

	// MaxFailed wrong passwords lock local sign-in for LockFor; zero disables lockout.
	MaxFailed int
	LockFor   time.Duration
}

func NewService(store Store, hasher PasswordHasher, mailer mail.Mailer, audit Recorder, logger *zap.SugaredLogger, domain string) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	s := &Service{
		store:  store,
		hasher: hasher,
		mailer: mailer,
		audit:  audit,
		logger: logger,
		domain: strings.ToLower(domain),
		now:    time.Now,

		MaxFailed: 6,
		LockFor:   15 * time.Minute,
	}
	if h, err := hasher.Hash("not-a-real-password"); err == nil {
		s.dummyHash = h
	}
	return s
}

func (s *Service) Domain() string { return s.domain }

// InDomain accepts a single bare address whose domain matches case-insensitively.
func (s *Service) InDomain(email string) bool {
	if !isPlainAddress(email) {
		return false
	}
	at := strings.LastIndex(email, "@")
	return strings.EqualFold(email[at+1:], s.domain)
}

// isPlainAddress rejects display names, comments, quoting and anything else
// that would parse to a different address than the input.
func isPlainAddress(email string) bool {
	addr, err := netmail.ParseAddress(email)
	return err == nil && addr.Name == "" && addr.Address == email
}

// AuthenticateOAuth admits an institutional email, creating a VOTER account on first sign-in.
func (s *Service) AuthenticateOAuth(ctx context.Context, a Assertion) (entity.Identity, error) {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if !s.InDomain(email) {
		return entity.Identity{}, ErrAccessDenied
	}

	acct, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, accountrepo.ErrNotFound) {
		acct, err = s.createFromAssertion(ctx, email, a)
	}
	if err != nil {
		return entity.Identity{}, err
	}
	if !acct.IsActive {
		return entity.Identity{}, ErrAccountDisabled
	}
	return acct.Identity(ProviderGoogle), nil
}

func (s *Service) createFromAssertion(ctx context.Context, email string, a Assertion) (*entity.Account, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = defaultName
	}
	acct := &entity.Account{
		ID:       utilities.NewUUID(),
		Email:    email,
		Name:     name,
		Role:     entity.RoleVoter,
		IsActive: true,
	}
	if a.Picture != "" {
		pic := a.Picture
		acct.Image = &pic
	}
	err := s.store.Create(ctx, acct)
	switch {
	case err == nil:
		s.logger.Infow("account created from oauth sign-in", "account_id", acct.ID)
		return acct, nil
	case errors.Is(err, accountrepo.ErrDuplicate):
		// a concurrent sign-in for the same email won the insert
		return s.store.GetByEmail(ctx, email)
	default:
		return nil, fmt.Errorf("create account: %w", err)
	}
}

// AuthenticatePassword verifies a student number and password.
// Not-found, missing hash and wrong password all return ErrInvalidCredentials.
func (s *Service) AuthenticatePassword(ctx context.Context, studentNumber, password string) (entity.Identity, error) {
	studentNumber = strings.TrimSpace(studentNumber)
	if studentNumber == "" || password == "" {
		return entity.Identity{}, ErrMissingCredentials
	}

	acct, err := s.store.GetByStudentNumber(ctx, studentNumber)
	if err != nil {
		if errors.Is(err, accountrepo.ErrNotFound) {
			if s.dummyHash != "" {
				s.hasher.Verify(s.dummyHash, password)
			}
			return entity.Identity{}, ErrInvalidCredentials
		}
		return entity.Identity{}, err
	}
	if acct.PasswordHash == nil || *acct.PasswordHash == "" {
		if s.dummyHash != "" {
			s.hasher.Verify(s.dummyHash, password)
		}
		return entity.Identity{}, ErrInvalidCredentials
	}
	if acct.LockedUntil != nil && s.now().Before(*acct.LockedUntil) {
		// still pay for the compare; a locked account answers like a wrong password
		s.hasher.Verify(*acct.PasswordHash, password)
		s.logger.Infow("sign-in refused: account locked", "account_id", acct.ID, "locked_until", acct.LockedUntil)
		return entity.Identity{}, ErrInvalidCredentials
	}
	if !s.hasher.Verify(*acct.PasswordHash, password) {
		s.recordFailure(ctx, acct.ID)
		return entity.Identity{}, ErrInvalidCredentials
	}
	if !acct.IsActive {
		return entity.Identity{}, ErrAccountDisabled
	}
	if acct.FailedLogins > 0 || acct.LockedUntil != nil {
		if err := s.store.ResetFailedLogins(ctx, acct.ID); err != nil {
			s.logger.Warnw("reset failed logins", "account_id", acct.ID, "err", err)
		}
	}
	return acct.Identity(ProviderStudentNumber), nil
}

func (s *Service) recordFailure(ctx context.Context, id string) {
	if s.MaxFailed <= 0 {
		return
	}
	locked, err := s.store.RecordFailedLogin(ctx, id, s.MaxFailed, s.now().Add(s.LockFor))
	if err != nil {
		s.logger.Warnw("record failed login", "account_id", id, "err", err)
		return
	}
	if locked {
		s.logger.Warnw("account locked after repeated failed sign-ins", "account_id", id, "lock_for", s.LockFor)
	}
}

// ProvisionRequest is the admin registration payload. An empty password is generated.
type ProvisionRequest struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	StudentNumber string `json:"studentNumber"`
	Password      string `json:"password"`
	Role          string `json:"role"`
}

// Provision creates an account with a password and mails the credentials to the owner.
func (s *Service) Provision(ctx context.Context, actorID string, req ProvisionRequest) (*entity.Account, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.Name)
	studentNumber := strings.TrimSpace(req.StudentNumber)
	if email == "" || name == "" || studentNumber == "" {
		return nil, fmt.Errorf("%w: email, name and student number are required", ErrInvalidInput)
	}
	if !isPlainAddress(email) {
		return nil, fmt.Errorf("%w: %q is not a single email address", ErrInvalidInput, req.Email)
	}
	if !s.InDomain(email) {
		return nil, ErrAccessDenied
	}
	role := entity.RoleVoter
	if req.Role != "" {
		r, ok := entity.ParseRole(req.Role)
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, req.Role)
		}
		role = r
	}
	password := req.Password
	if password == "" {
		generated, err := GeneratePassword(12)
		if err != nil {
			return nil, err
		}
		password = generated
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acct := &entity.Account{
		ID:            utilities.NewUUID(),
		Email:         email,
		StudentNumber: &studentNumber,
		PasswordHash:  &hash,
		Name:          name,
		Role:          role,
		IsActive:      true,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		if errors.Is(err, accountrepo.ErrDuplicate) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.audit.Record(ctx, acct.ID, auditentity.ActionRegister, "User registered with email: "+email)
	s.logger.Infow("account provisioned", "account_id", acct.ID, "role", role, "actor_id", actorID)

	msg := mail.Message{
		To:      email,
		Subject: "Your election account",
		Body: fmt.Sprintf("Hello %s,\n\nYour account has been created.\n\nStudent Number: %s\nPassword: %s\n",
			name, studentNumber, password),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		// the account exists; an admin can re-send or reset
		s.logger.Warnw("credentials mail failed", "account_id", acct.ID, "err", err)
	}
	return acct, nil
}

// ChangeRole is the only path that alters an account's role.
func (s *Service) ChangeRole(ctx context.Context, actorID, id string, role string) (*entity.Account, error) {
	r, ok := entity.ParseRole(role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	before, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateRole(ctx, id, r); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, id, auditentity.ActionRoleChange, fmt.Sprintf("Role changed from %s to %s by %s", before.Role, r, actorID))
	return s.store.GetByID(ctx, id)
}

// SetActive (de)activates an account. Deactivated accounts cannot sign in and lose their sessions.
func (s *Service) SetActive(ctx context.Context, actorID, id string, active bool) (*entity.Account, error) {
	if err := s.store.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	action := auditentity.ActionDeactivate
	if active {
		action = auditentity.ActionActivate
	}
	s.audit.Record(ctx, id, action, "Changed by "+actorID)
	return s.store.GetByID(ctx, id)
}

func (s *Service) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	return s.store.GetByID(ctx, id)
}

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// GeneratePassword returns n characters drawn uniformly from an unambiguous alphabet.
func GeneratePassword(n int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = passwordAlphabet[idx.Int64()]
	}
	return string(b), nil
}
