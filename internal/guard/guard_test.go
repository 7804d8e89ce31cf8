package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/auth"
	"semaphore/bursar/internal/model"
)

const testSecret = "test-secret-test-secret-test-secret"

type fakeUsers struct {
	users   map[uuid.UUID]model.User
	tenants map[uuid.UUID]model.Tenant
	err     error
}

func (f *fakeUsers) GetUserByID(_ context.Context, id uuid.UUID) (model.User, error) {
	if f.err != nil {
		return model.User{}, f.err
	}
	user, ok := f.users[id]
	if !ok {
		return model.User{}, apperr.ErrNotFound
	}
	return user, nil
}

func (f *fakeUsers) GetTenant(_ context.Context, id uuid.UUID) (model.Tenant, error) {
	tenant, ok := f.tenants[id]
	if !ok {
		return model.Tenant{}, apperr.ErrNotFound
	}
	return tenant, nil
}

type fakeDeny struct {
	denied map[uuid.UUID]bool
	err    error
}

func (f *fakeDeny) IsDenied(_ context.Context, identity auth.Identity) (bool, error) {
	return f.denied[identity.Subject], f.err
}

type fixture struct {
	tokens *auth.TokenService
	users  *fakeUsers
	tenant model.Tenant
	admin  model.User
	super  model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := auth.NewTokenService(testSecret, "test-issuer")
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	tenant := model.Tenant{ID: uuid.New(), Name: "College A", Subscription: model.SubscriptionActive, SeatLimit: 10}
	admin := model.User{ID: uuid.New(), TenantID: &tenant.ID, Email: "admin@a.edu", Role: model.RoleTenantAdmin, Status: model.UserActive}
	super := model.User{ID: uuid.New(), Email: "ops@platform", Role: model.RolePlatformSuper, Status: model.UserActive}
	return &fixture{
		tokens: tokens,
		tenant: tenant,
		admin:  admin,
		super:  super,
		users: &fakeUsers{
			users:   map[uuid.UUID]model.User{admin.ID: admin, super.ID: super},
			tenants: map[uuid.UUID]model.Tenant{tenant.ID: tenant},
		},
	}
}

func (f *fixture) token(t *testing.T, user model.User) string {
	t.Helper()
	token, _, err := f.tokens.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return token
}

func TestAuthenticateTenantUser(t *testing.T) {
	f := newFixture(t)
	g := New(f.tokens, f.users, nil, nil)

	user, err := g.Authenticate(context.Background(), f.token(t, f.admin))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.ID != f.admin.ID || user.TenantID != f.tenant.ID || user.Role != model.RoleTenantAdmin {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestAuthenticatePlatformSuperSkipsTenant(t *testing.T) {
	f := newFixture(t)
	f.users.tenants = map[uuid.UUID]model.Tenant{}
	g := New(f.tokens, f.users, nil, nil)

	user, err := g.Authenticate(context.Background(), f.token(t, f.super))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !user.IsPlatformSuper() || user.TenantID != uuid.Nil {
		t.Fatalf("unexpected super user %+v", user)
	}
}

func TestAuthenticateRejectsUnknownAndInactive(t *testing.T) {
	f := newFixture(t)
	g := New(f.tokens, f.users, nil, nil)
	token := f.token(t, f.admin)

	inactive := f.admin
	inactive.Status = model.UserInactive
	f.users.users[f.admin.ID] = inactive
	if _, err := g.Authenticate(context.Background(), token); !errors.Is(err, apperr.ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}

	deleted := f.admin
	deleted.Status = model.UserDeleted
	f.users.users[f.admin.ID] = deleted
	if _, err := g.Authenticate(context.Background(), token); !errors.Is(err, apperr.ErrUserInactive) {
		t.Fatalf("expected deleted user to be inactive, got %v", err)
	}

	delete(f.users.users, f.admin.ID)
	if _, err := g.Authenticate(context.Background(), token); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAuthenticateRejectsInactiveTenant(t *testing.T) {
	f := newFixture(t)
	g := New(f.tokens, f.users, nil, nil)
	token := f.token(t, f.admin)

	lapsed := f.tenant
	lapsed.Subscription = model.SubscriptionInactive
	f.users.tenants[f.tenant.ID] = lapsed
	if _, err := g.Authenticate(context.Background(), token); !errors.Is(err, apperr.ErrTenantInactive) {
		t.Fatalf("expected ErrTenantInactive, got %v", err)
	}

	f.users.tenants[f.tenant.ID] = f.tenant
	if _, err := g.Authenticate(context.Background(), token); err != nil {
		t.Fatalf("expected reactivated tenant to authenticate, got %v", err)
	}
}

func TestAuthenticateUsesLiveRole(t *testing.T) {
	f := newFixture(t)
	g := New(f.tokens, f.users, nil, nil)
	token := f.token(t, f.admin)

	demoted := f.admin
	demoted.Role = model.RoleInstructor
	f.users.users[f.admin.ID] = demoted

	user, err := g.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.Role != model.RoleInstructor {
		t.Fatalf("expected live role instructor, got %s", user.Role)
	}
}

func TestAuthenticateTokenErrors(t *testing.T) {
	f := newFixture(t)
	g := New(f.tokens, f.users, nil, nil)
	if _, err := g.Authenticate(context.Background(), ""); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}

	t0 := time.Now().Add(-25 * time.Hour)
	old, _, err := f.tokens.WithClock(func() time.Time { return t0 }).Issue(f.admin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := g.Authenticate(context.Background(), old); !errors.Is(err, apperr.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestAuthenticateDenyList(t *testing.T) {
	f := newFixture(t)
	deny := &fakeDeny{denied: map[uuid.UUID]bool{f.admin.ID: true}}
	g := New(f.tokens, f.users, deny, nil)

	if _, err := g.Authenticate(context.Background(), f.token(t, f.admin)); !errors.Is(err, apperr.ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	if _, err := g.Authenticate(context.Background(), f.token(t, f.super)); err != nil {
		t.Fatalf("expected super unaffected, got %v", err)
	}

	deny.err = errors.New("redis down")
	if _, err := g.Authenticate(context.Background(), f.token(t, f.super)); !errors.Is(err, apperr.ErrTransientStore) {
		t.Fatalf("expected ErrTransientStore, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	user := AuthenticatedUser{ID: uuid.New(), Role: model.RoleInstructor, TenantID: uuid.New()}
	if err := Authorize(user, model.RoleTenantAdmin, model.RoleInstructor); err != nil {
		t.Fatalf("expected instructor allowed, got %v", err)
	}
	if err := Authorize(user, model.RoleTenantAdmin); !errors.Is(err, apperr.ErrInsufficientRole) {
		t.Fatalf("expected ErrInsufficientRole, got %v", err)
	}
	if err := Authorize(user); !errors.Is(err, apperr.ErrInsufficientRole) {
		t.Fatalf("expected empty allow list to reject")
	}
}

func TestAuthorizeTenantScope(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()
	admin := AuthenticatedUser{ID: uuid.New(), Role: model.RoleTenantAdmin, TenantID: tenantA}
	super := AuthenticatedUser{ID: uuid.New(), Role: model.RolePlatformSuper}

	if err := AuthorizeTenantScope(admin, tenantA); err != nil {
		t.Fatalf("expected same tenant allowed, got %v", err)
	}
	if err := AuthorizeTenantScope(admin, tenantB); !errors.Is(err, apperr.ErrCrossTenantAccess) {
		t.Fatalf("expected ErrCrossTenantAccess, got %v", err)
	}
	if err := AuthorizeTenantScope(super, tenantB); err != nil {
		t.Fatalf("expected platform super exempt, got %v", err)
	}
	orphan := AuthenticatedUser{ID: uuid.New(), Role: model.RoleTenantAdmin}
	if err := AuthorizeTenantScope(orphan, uuid.Nil); !errors.Is(err, apperr.ErrCrossTenantAccess) {
		t.Fatalf("expected tenantless non-super user rejected, got %v", err)
	}
}

func TestResolveTenant(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()
	admin := AuthenticatedUser{Role: model.RoleTenantAdmin, TenantID: tenantA}
	super := AuthenticatedUser{Role: model.RolePlatformSuper}

	if got, err := ResolveTenant(admin, nil); err != nil || got != tenantA {
		t.Fatalf("expected own tenant, got %s %v", got, err)
	}
	if _, err := ResolveTenant(admin, &tenantB); !errors.Is(err, apperr.ErrCrossTenantAccess) {
		t.Fatalf("expected client supplied tenant rejected, got %v", err)
	}
	if got, err := ResolveTenant(super, &tenantB); err != nil || got != tenantB {
		t.Fatalf("expected super to pick tenant, got %s %v", got, err)
	}
	if _, err := ResolveTenant(super, nil); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for super without tenant, got %v", err)
	}
}
