// Package guard resolves bearer tokens to live users and holds the only
// role and tenant comparisons in the service.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/auth"
	"semaphore/bursar/internal/model"
)

type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

type UserStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error)
}

type DenyList interface {
	IsDenied(ctx context.Context, identity auth.Identity) (bool, error)
}

// AuthenticatedUser is threaded explicitly through service calls.
type AuthenticatedUser struct {
	ID       uuid.UUID
	Role     model.Role
	TenantID uuid.UUID
	Email    string
	Token    auth.Identity
}

func (u AuthenticatedUser) IsPlatformSuper() bool {
	return u.Role == model.RolePlatformSuper
}

type Guard struct {
	tokens Verifier
	users  UserStore
	deny   DenyList
	log    *zap.Logger
}

// New builds a guard. deny may be nil when revocation is not configured.
func New(tokens Verifier, users UserStore, deny DenyList, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{tokens: tokens, users: users, deny: deny, log: log}
}

func (g *Guard) Authenticate(ctx context.Context, token string) (AuthenticatedUser, error) {
	if token == "" {
		return AuthenticatedUser{}, apperr.ErrInvalidToken
	}
	identity, err := g.tokens.Verify(token)
	if err != nil {
		return AuthenticatedUser{}, err
	}

	user, err := g.users.GetUserByID(ctx, identity.Subject)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return AuthenticatedUser{}, apperr.ErrUserNotFound
		}
		return AuthenticatedUser{}, storeError("load user", err)
	}
	if user.Status != model.UserActive {
		return AuthenticatedUser{}, apperr.ErrUserInactive
	}

	authed := AuthenticatedUser{
		ID:    user.ID,
		Role:  user.Role,
		Email: user.Email,
		Token: identity,
	}
	// Platform-super has no tenant row to join.
	if user.Role != model.RolePlatformSuper {
		if user.TenantID == nil || identity.TenantID == nil || *user.TenantID != *identity.TenantID {
			return AuthenticatedUser{}, apperr.ErrInvalidToken
		}
		tenant, err := g.users.GetTenant(ctx, *user.TenantID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return AuthenticatedUser{}, apperr.ErrUserNotFound
			}
			return AuthenticatedUser{}, storeError("load tenant", err)
		}
		if !tenant.Active() {
			return AuthenticatedUser{}, apperr.ErrTenantInactive
		}
		authed.TenantID = *user.TenantID
	} else if identity.TenantID != nil {
		return AuthenticatedUser{}, apperr.ErrInvalidToken
	}

	if g.deny != nil {
		denied, err := g.deny.IsDenied(ctx, identity)
		if err != nil {
			g.log.Error("deny list lookup failed", zap.String("user_id", user.ID.String()), zap.Error(err))
			return AuthenticatedUser{}, apperr.ErrTransientStore
		}
		if denied {
			return AuthenticatedUser{}, apperr.ErrTokenRevoked
		}
	}
	return authed, nil
}

// Authorize fails with ErrInsufficientRole unless the user's role is allowed.
func Authorize(user AuthenticatedUser, allowed ...model.Role) error {
	for _, role := range allowed {
		if user.Role == role {
			return nil
		}
	}
	return apperr.ErrInsufficientRole
}

// AuthorizeTenantScope is the single tenant comparison. resourceTenant must
// come from a stored record, never from request input.
func AuthorizeTenantScope(user AuthenticatedUser, resourceTenant uuid.UUID) error {
	if user.IsPlatformSuper() {
		return nil
	}
	if user.TenantID == uuid.Nil || user.TenantID != resourceTenant {
		return apperr.ErrCrossTenantAccess
	}
	return nil
}

// ResolveTenant picks the tenant a query runs against. Tenant users always
// get their own tenant; requested is only honoured for platform-super.
func ResolveTenant(user AuthenticatedUser, requested *uuid.UUID) (uuid.UUID, error) {
	if !user.IsPlatformSuper() {
		if requested != nil && *requested != user.TenantID {
			return uuid.Nil, apperr.ErrCrossTenantAccess
		}
		return user.TenantID, nil
	}
	if requested == nil || *requested == uuid.Nil {
		return uuid.Nil, apperr.Field("tenant", "required for platform super")
	}
	return *requested, nil
}

// LogDenied writes the audit line for an authorization failure.
func LogDenied(log *zap.Logger, user AuthenticatedUser, op string, err error, fields ...zap.Field) {
	if apperr.KindOf(err) != apperr.KindAuthorization {
		return
	}
	base := []zap.Field{
		zap.String("op", op),
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role.String()),
		zap.String("tenant_id", user.TenantID.String()),
		zap.Error(err),
	}
	log.Warn("access denied", append(base, fields...)...)
}

func storeError(op string, err error) error {
	if errors.Is(err, apperr.ErrTransientStore) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
