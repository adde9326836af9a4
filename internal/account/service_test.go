package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/repo"
	auditentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/mail"
)

// plainHasher keeps tests fast; production uses BcryptHasher.
type plainHasher struct {
	mu    sync.Mutex
	calls int
}

func (p *plainHasher) Hash(pw string) (string, error) { return "h:" + pw, nil }

func (p *plainHasher) Verify(hash, pw string) bool {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return hash == "h:"+pw
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (c *captureMailer) Send(_ context.Context, m mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

type captureRecorder struct {
	mu      sync.Mutex
	actions []auditentity.Action
}

func (c *captureRecorder) Record(_ context.Context, _ string, action auditentity.Action, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, action)
}

type fixture struct {
	svc    *Service
	store  *accountrepo.MemoryRepo
	hasher *plainHasher
	mailer *captureMailer
	audit  *captureRecorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		store:  accountrepo.NewMemoryRepo(),
		hasher: &plainHasher{},
		mailer: &captureMailer{},
		audit:  &captureRecorder{},
	}
	f.svc = NewService(f.store, f.hasher, f.mailer, f.audit, zaptest.NewLogger(t).Sugar(), "kld.edu.ph")
	return f
}

func (f fixture) seedLocal(t *testing.T, studentNumber, password string, active bool) *entity.Account {
	t.Helper()
	hash := "h:" + password
	sn := studentNumber
	a := &entity.Account{
		ID:            "id-" + studentNumber,
		Email:         strings.ToLower(studentNumber) + "@kld.edu.ph",
		StudentNumber: &sn,
		PasswordHash:  &hash,
		Name:          "Student",
		Role:          entity.RoleVoter,
		IsActive:      active,
	}
	if err := f.store.Create(context.Background(), a); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return a
}

func TestInDomain(t *testing.T) {
	f := newFixture(t)
	cases := map[string]bool{
		"juan@kld.edu.ph":          true,
		"JUAN@KLD.EDU.PH":          true,
		"a@b@kld.edu.ph":           false,
		"a@gmail.com@kld.edu.ph":   false,
		"Juan <juan@kld.edu.ph>":   false,
		`"a@b"@kld.edu.ph`:         false,
		"juan@kld.edu.ph (juan)":   false,
		"juan@gmail.com":           false,
		"juan@sub.kld.edu.ph":      false,
		"juan@kld.edu.ph.evil.com": false,
		"kld.edu.ph":               false,
		"juan@":                    false,
		"":                         false,
	}
	for email, want := range cases {
		if got := f.svc.InDomain(email); got != want {
			t.Fatalf("InDomain(%q) = %v, want %v", email, got, want)
		}
	}
}

func TestAuthenticateOAuthRejectsForeignDomain(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AuthenticateOAuth(context.Background(), Assertion{Email: "someone@gmail.com", Name: "X"})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected no account created")
	}
}

func TestAuthenticateOAuthCreatesThenReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.AuthenticateOAuth(ctx, Assertion{Email: "Maria@KLD.edu.ph", Picture: "https://img/1"})
	if err != nil {
		t.Fatalf("first sign-in: %v", err)
	}
	if first.Role != entity.RoleVoter || first.Name != "Unknown User" || first.Email != "maria@kld.edu.ph" {
		t.Fatalf("unexpected identity %+v", first)
	}
	if first.StudentNumber != nil || first.Provider != ProviderGoogle {
		t.Fatalf("unexpected identity %+v", first)
	}

	second, err := f.svc.AuthenticateOAuth(ctx, Assertion{Email: "maria@kld.edu.ph", Name: "Maria Clara"})
	if err != nil {
		t.Fatalf("second sign-in: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same account, got %s and %s", first.ID, second.ID)
	}
	if second.Name != "Unknown User" {
		t.Fatalf("existing account must be reused unchanged, got name %q", second.Name)
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected exactly one account, got %d", f.store.Len())
	}
}

func TestAuthenticateOAuthConcurrentFirstSignIn(t *testing.T) {
	f := newFixture(t)
	const n = 16
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ident, err := f.svc.AuthenticateOAuth(context.Background(), Assertion{Email: "new@kld.edu.ph", Name: "New"})
			ids[i], errs[i] = ident.ID, err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("sign-in %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected all sign-ins to resolve the same account")
		}
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected one account, got %d", f.store.Len())
	}
}

func TestAuthenticateOAuthInactive(t *testing.T) {
	f := newFixture(t)
	a := f.seedLocal(t, "2021-0001", "pw", false)
	_, err := f.svc.AuthenticateOAuth(context.Background(), Assertion{Email: a.Email})
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestAuthenticatePassword(t *testing.T) {
	f := newFixture(t)
	a := f.seedLocal(t, "2021-0001", "correct horse", true)
	ctx := context.Background()

	ident, err := f.svc.AuthenticatePassword(ctx, " 2021-0001 ", "correct horse")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if ident.ID != a.ID || ident.Provider != ProviderStudentNumber || ident.StudentNumber == nil {
		t.Fatalf("unexpected identity %+v", ident)
	}

	if _, err := f.svc.AuthenticatePassword(ctx, "", "x"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := f.svc.AuthenticatePassword(ctx, "2021-0001", ""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}

	_, wrongPw := f.svc.AuthenticatePassword(ctx, "2021-0001", "wrong")
	_, unknown := f.svc.AuthenticatePassword(ctx, "2099-9999", "wrong")
	if !errors.Is(wrongPw, ErrInvalidCredentials) || !errors.Is(unknown, ErrInvalidCredentials) {
		t.Fatalf("expected indistinguishable errors, got %v / %v", wrongPw, unknown)
	}
	if wrongPw.Error() != unknown.Error() {
		t.Fatalf("error text leaks which check failed")
	}
}

func TestAuthenticatePasswordRunsDummyCompare(t *testing.T) {
	f := newFixture(t)
	before := f.hasher.calls
	if _, err := f.svc.AuthenticatePassword(context.Background(), "2099-9999", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if f.hasher.calls != before+1 {
		t.Fatalf("expected one compare on the not-found path")
	}
}

func TestAuthenticatePasswordOAuthOnlyAccount(t *testing.T) {
	f := newFixture(t)
	sn := "2021-0002"
	if err := f.store.Create(context.Background(), &entity.Account{ID: "x", Email: "x@kld.edu.ph", StudentNumber: &sn, Role: entity.RoleVoter, IsActive: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := f.svc.AuthenticatePassword(context.Background(), sn, "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticatePasswordInactive(t *testing.T) {
	f := newFixture(t)
	f.seedLocal(t, "2021-0003", "pw", false)
	if _, err := f.svc.AuthenticatePassword(context.Background(), "2021-0003", "pw"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestAuthenticatePasswordLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.svc.now = func() time.Time { return now }
	f.svc.MaxFailed = 3
	f.svc.LockFor = 15 * time.Minute
	f.seedLocal(t, "2020-0009", "right", true)

	for i := 0; i < 3; i++ {
		if _, err := f.svc.AuthenticatePassword(ctx, "2020-0009", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	acct, err := f.store.GetByStudentNumber(ctx, "2020-0009")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.LockedUntil == nil || !acct.LockedUntil.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("expected lock for 15m, got %v", acct.LockedUntil)
	}

	// while locked the right password fails exactly like a wrong one, after a compare
	before := f.hasher.calls
	if _, err := f.svc.AuthenticatePassword(ctx, "2020-0009", "right"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("locked: expected ErrInvalidCredentials, got %v", err)
	}
	if f.hasher.calls != before+1 {
		t.Fatalf("locked path should still run one compare")
	}

	f.svc.now = func() time.Time { return now.Add(16 * time.Minute) }
	if _, err := f.svc.AuthenticatePassword(ctx, "2020-0009", "right"); err != nil {
		t.Fatalf("after lock expiry: %v", err)
	}
	acct, err = f.store.GetByStudentNumber(ctx, "2020-0009")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.LockedUntil != nil || acct.FailedLogins != 0 {
		t.Fatalf("expected lock cleared after success, got %v / %d", acct.LockedUntil, acct.FailedLogins)
	}
}

func TestAuthenticatePasswordSuccessResetsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.MaxFailed = 3
	f.seedLocal(t, "2020-0010", "right", true)

	for round := 0; round < 2; round++ {
		for i := 0; i < 2; i++ {
			if _, err := f.svc.AuthenticatePassword(ctx, "2020-0010", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		}
		if _, err := f.svc.AuthenticatePassword(ctx, "2020-0010", "right"); err != nil {
			t.Fatalf("round %d: success should still be possible: %v", round, err)
		}
	}
}

func TestAuthenticatePasswordLockoutDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.MaxFailed = 0
	f.seedLocal(t, "2020-0011", "right", true)
	for i := 0; i < 10; i++ {
		_, _ = f.svc.AuthenticatePassword(ctx, "2020-0011", "wrong")
	}
	if _, err := f.svc.AuthenticatePassword(ctx, "2020-0011", "right"); err != nil {
		t.Fatalf("lockout disabled: %v", err)
	}
}

func TestProvision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.svc.Provision(ctx, "admin-1", ProvisionRequest{Email: "Pedro@kld.edu.ph", Name: "Pedro", StudentNumber: "2022-0100"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if acct.Role != entity.RoleVoter || acct.Email != "pedro@kld.edu.ph" {
		t.Fatalf("unexpected account %+v", acct)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].To != "pedro@kld.edu.ph" {
		t.Fatalf("expected credentials mail, got %+v", f.mailer.sent)
	}
	if len(f.audit.actions) != 1 || f.audit.actions[0] != auditentity.ActionRegister {
		t.Fatalf("expected REGISTER log, got %v", f.audit.actions)
	}

	// the mailed password works for local sign-in
	body := f.mailer.sent[0].Body
	pw := strings.TrimSpace(body[strings.Index(body, "Password: ")+len("Password: "):])
	if _, err := f.svc.AuthenticatePassword(ctx, "2022-0100", pw); err != nil {
		t.Fatalf("sign in with mailed password: %v", err)
	}

	if _, err := f.svc.Provision(ctx, "admin-1", ProvisionRequest{Email: "pedro@kld.edu.ph", Name: "P", StudentNumber: "2022-0101"}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for email, got %v", err)
	}
	if _, err := f.svc.Provision(ctx, "admin-1", ProvisionRequest{Email: "other@kld.edu.ph", Name: "P", StudentNumber: "2022-0100"}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for student number, got %v", err)
	}
	if _, err := f.svc.Provision(ctx, "admin-1", ProvisionRequest{Email: "p@gmail.com", Name: "P", StudentNumber: "1"}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if _, err := f.svc.Provision(ctx, "admin-1", ProvisionRequest{Email: "q@kld.edu.ph", Name: "Q", StudentNumber: "2", Role: "KING"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	for _, email := range []string{"a@gmail.com@kld.edu.ph", "Q <q@kld.edu.ph>", "q@kld.edu.ph, r@kld.edu.ph"} {
		if _, err := f.svc.Provision(ctx, "admin-1", ProvisionRequest{Email: email, Name: "Q", StudentNumber: "3"}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: expected ErrInvalidInput, got %v", email, err)
		}
	}
	if f.store.Len() != 1 {
		t.Fatalf("malformed addresses must not be stored, have %d accounts", f.store.Len())
	}
	if _, err := f.svc.Provision(ctx, "admin-1", ProvisionRequest{Email: "q@kld.edu.ph"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestChangeRoleAndSetActive(t *testing.T) {
	f := newFixture(t)
	a := f.seedLocal(t, "2021-0004", "pw", true)
	ctx := context.Background()

	updated, err := f.svc.ChangeRole(ctx, "admin-1", a.ID, "election_officer")
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if updated.Role != entity.RoleElectionOfficer {
		t.Fatalf("expected ELECTION_OFFICER, got %s", updated.Role)
	}
	if _, err := f.svc.ChangeRole(ctx, "admin-1", a.ID, "nope"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.ChangeRole(ctx, "admin-1", "missing", "VOTER"); !errors.Is(err, accountrepo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	off, err := f.svc.SetActive(ctx, "admin-1", a.ID, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if off.IsActive {
		t.Fatalf("expected inactive")
	}
	want := []auditentity.Action{auditentity.ActionRoleChange, auditentity.ActionDeactivate}
	if len(f.audit.actions) != len(want) {
		t.Fatalf("expected %v, got %v", want, f.audit.actions)
	}
	for i := range want {
		if f.audit.actions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, f.audit.actions)
		}
	}
}

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: 4}
	hash, err := h.Hash("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !h.Verify(hash, "s3cret") || h.Verify(hash, "other") {
		t.Fatalf("verify mismatch")
	}
}

func TestGeneratePassword(t *testing.T) {
	pw, err := GeneratePassword(12)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pw) != 12 {
		t.Fatalf("expected 12 chars, got %d", len(pw))
	}
	for _, r := range pw {
		if !strings.ContainsRune(passwordAlphabet, r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}
}
