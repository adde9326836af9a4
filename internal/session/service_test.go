package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	accountentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session/entity"
	sessionrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/session/repo"
)

type failingStore struct {
	sessionrepo.MemoryRepo
	err error
}

func (f *failingStore) GetByTokenHash(context.Context, string) (*entity.Session, error) {
	return nil, f.err
}

type failingAccounts struct{ err error }

func (f failingAccounts) GetByID(context.Context, string) (*accountentity.Account, error) {
	return nil, f.err
}

func strPtr(s string) *string { return &s }

func seedAccount(t *testing.T, accounts *accountrepo.MemoryRepo, id string, role accountentity.Role) *accountentity.Account {
	t.Helper()
	a := &accountentity.Account{
		ID:            id,
		Email:         id + "@kld.edu.ph",
		Name:          "Student " + id,
		Role:          role,
		StudentNumber: strPtr("KLD-" + id),
		IsActive:      true,
	}
	if err := accounts.Create(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func newTestService(t *testing.T) (*Service, *sessionrepo.MemoryRepo, *accountrepo.MemoryRepo) {
	t.Helper()
	store := sessionrepo.NewMemoryRepo()
	accounts := accountrepo.NewMemoryRepo()
	svc := NewService(store, accounts, zaptest.NewLogger(t).Sugar(), 720*time.Hour, 24*time.Hour)
	return svc, store, accounts
}

func TestLandingRoute(t *testing.T) {
	cases := map[accountentity.Role]string{
		accountentity.RoleAdmin:           "/admin",
		accountentity.RoleElectionOfficer: "/officer",
		accountentity.RoleCandidate:       "/candidate",
		accountentity.RoleVoter:           "/voter",
		"":                                "/voter",
		"SUPERUSER":                       "/voter",
	}
	for role, want := range cases {
		if got := LandingRoute(role); got != want {
			t.Fatalf("LandingRoute(%q) = %s, want %s", role, got, want)
		}
		if got := LandingRoute(role); got != want {
			t.Fatalf("LandingRoute(%q) not deterministic", role)
		}
	}
}

func TestResolveClaimsPrefersStore(t *testing.T) {
	ident := accountentity.Identity{ID: "u1", Email: "a@kld.edu.ph", Name: "A", Role: accountentity.RoleVoter}
	acct := &accountentity.Account{ID: "u1", Email: "a@kld.edu.ph", Name: "A", Role: accountentity.RoleAdmin, StudentNumber: strPtr("2021-001"), IsCandidate: true}

	c := ResolveClaims(ident, acct, nil)
	if c.Role != accountentity.RoleAdmin || !c.IsCandidate || c.StudentNumber == nil || *c.StudentNumber != "2021-001" {
		t.Fatalf("expected store values, got %+v", c)
	}

	c = ResolveClaims(ident, nil, errors.New("db down"))
	if c.Role != accountentity.RoleVoter || c.IsCandidate || c.StudentNumber != nil {
		t.Fatalf("expected identity values on lookup failure, got %+v", c)
	}
}

func TestIssueAndValidate(t *testing.T) {
	svc, store, accounts := newTestService(t)
	acct := seedAccount(t, accounts, "u1", accountentity.RoleCandidate)
	accounts.MarkCandidate(acct.ID)

	token, sess, err := svc.Issue(context.Background(), acct.Identity("student-number"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" || sess.TokenHash == token {
		t.Fatalf("expected raw token distinct from stored hash")
	}
	if _, err := store.GetByTokenHash(context.Background(), token); !errors.Is(err, sessionrepo.ErrNotFound) {
		t.Fatalf("raw token must not be a store key")
	}
	if !sess.IsCandidate {
		t.Fatalf("expected candidate flag from store")
	}

	got, err := svc.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	claims := got.Claims()
	if claims.UserID != "u1" || claims.Role != accountentity.RoleCandidate {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestIssueFallsBackWhenLookupFails(t *testing.T) {
	store := sessionrepo.NewMemoryRepo()
	svc := NewService(store, failingAccounts{err: errors.New("timeout")}, zaptest.NewLogger(t).Sugar(), time.Hour, 0)
	ident := accountentity.Identity{ID: "u9", Email: "x@kld.edu.ph", Role: accountentity.RoleVoter}

	_, sess, err := svc.Issue(context.Background(), ident)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if sess.Role != accountentity.RoleVoter {
		t.Fatalf("expected identity role, got %s", sess.Role)
	}
}

func TestValidateRejects(t *testing.T) {
	svc, store, accounts := newTestService(t)
	acct := seedAccount(t, accounts, "u1", accountentity.RoleVoter)
	ctx := context.Background()

	if _, err := svc.Validate(ctx, ""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("empty token: expected ErrNoSession, got %v", err)
	}
	if _, err := svc.Validate(ctx, "forged"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("unknown token: expected ErrNoSession, got %v", err)
	}

	token, _, err := svc.Issue(ctx, acct.Identity("google"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := accounts.SetActive(ctx, acct.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Validate(ctx, token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("inactive account: expected ErrNoSession, got %v", err)
	}
	if err := accounts.SetActive(ctx, acct.ID, true); err != nil {
		t.Fatalf("activate: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(721 * time.Hour) }
	if _, err := svc.Validate(ctx, token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expired: expected ErrNoSession, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected expired session deleted")
	}
}

func TestValidateStoreErrorIsNotNoSession(t *testing.T) {
	store := &failingStore{err: errors.New("connection refused")}
	svc := NewService(store, accountrepo.NewMemoryRepo(), zaptest.NewLogger(t).Sugar(), time.Hour, 0)
	_, err := svc.Validate(context.Background(), "token")
	if err == nil || errors.Is(err, ErrNoSession) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestValidateReflectsRoleChange(t *testing.T) {
	svc, store, accounts := newTestService(t)
	acct := seedAccount(t, accounts, "u1", accountentity.RoleVoter)
	ctx := context.Background()
	token, _, err := svc.Issue(ctx, acct.Identity("google"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := accounts.UpdateRole(ctx, acct.ID, accountentity.RoleElectionOfficer); err != nil {
		t.Fatalf("update role: %v", err)
	}

	got, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Role != accountentity.RoleElectionOfficer {
		t.Fatalf("expected refreshed role, got %s", got.Role)
	}
	stored, err := store.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Role != accountentity.RoleElectionOfficer {
		t.Fatalf("expected cached claims rewritten, got %s", stored.Role)
	}
}

func TestValidateSlidingExpiry(t *testing.T) {
	svc, store, accounts := newTestService(t)
	acct := seedAccount(t, accounts, "u1", accountentity.RoleVoter)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	token, sess, err := svc.Issue(ctx, acct.Identity("google"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	issuedExpiry := sess.ExpiresAt

	svc.now = func() time.Time { return start.Add(time.Hour) }
	got, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !got.ExpiresAt.Equal(issuedExpiry) {
		t.Fatalf("expected no extension within update age")
	}

	later := start.Add(48 * time.Hour)
	svc.now = func() time.Time { return later }
	got, err = svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !got.ExpiresAt.Equal(later.Add(720 * time.Hour)) {
		t.Fatalf("expected extension to %s, got %s", later.Add(720*time.Hour), got.ExpiresAt)
	}
	stored, _ := store.GetByTokenHash(ctx, HashToken(token))
	if !stored.ExpiresAt.Equal(got.ExpiresAt) {
		t.Fatalf("expected extended expiry persisted")
	}
}

func TestRevoke(t *testing.T) {
	svc, _, accounts := newTestService(t)
	acct := seedAccount(t, accounts, "u1", accountentity.RoleVoter)
	ctx := context.Background()
	token, _, err := svc.Issue(ctx, acct.Identity("google"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := svc.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Validate(ctx, token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected revoked session invalid, got %v", err)
	}
	if err := svc.Revoke(ctx, "never-issued"); err != nil {
		t.Fatalf("revoking unknown token should not fail: %v", err)
	}
}

func TestContextClaims(t *testing.T) {
	if ClaimsFromContext(context.Background()) != nil {
		t.Fatalf("expected nil claims")
	}
	c := &entity.Claims{UserID: "u1"}
	if got := ClaimsFromContext(WithClaims(context.Background(), c)); got != c {
		t.Fatalf("expected same claims back")
	}
}
