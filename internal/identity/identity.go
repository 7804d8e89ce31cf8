// Package identity covers login, tenant and user administration, and token
// revocation. Token checks on ordinary requests live in the guard package.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/auth"
	"semaphore/bursar/internal/crypto"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/model"
)

type Store interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error)
	// FindUserByEmail looks among platform users when tenantID is nil.
	FindUserByEmail(ctx context.Context, tenantID *uuid.UUID, email string) (model.User, error)
	// CreateUser enforces the tenant seat limit atomically with the insert.
	CreateUser(ctx context.Context, user model.User) error
	UpdateUserStatus(ctx context.Context, id uuid.UUID, status model.UserStatus, at time.Time) error
	UpdateUserRole(ctx context.Context, id uuid.UUID, role model.Role, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, at time.Time) error
	LinkGuardian(ctx context.Context, guardianID, studentID uuid.UUID) error
	UpsertEnrollment(ctx context.Context, enrollment model.Enrollment) error

	GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error)
	CreateTenant(ctx context.Context, tenant model.Tenant) error
	UpdateTenant(ctx context.Context, tenant model.Tenant) error
}

// Revoker is the write side of the deny list.
type Revoker interface {
	Revoke(ctx context.Context, identity auth.Identity) error
	RevokeSubject(ctx context.Context, subject uuid.UUID, before time.Time) error
}

type Service struct {
	store   Store
	tokens  *auth.TokenService
	revoker Revoker
	log     *zap.Logger
	now     func() time.Time
}

// NewService accepts a nil revoker, in which case logout and forced
// sign-out report that nothing was revoked.
func NewService(store Store, tokens *auth.TokenService, revoker Revoker, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, tokens: tokens, revoker: revoker, log: log, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

type Session struct {
	Token     string
	ExpiresAt time.Time
	User      model.User
}

// Login checks credentials and issues a token. Unknown emails still pay for
// a bcrypt comparison so timing does not reveal which accounts exist.
func (s *Service) Login(ctx context.Context, email, password string, tenantID *uuid.UUID) (Session, error) {
	email = NormalizeEmail(email)
	var fields []apperr.FieldError
	if email == "" {
		fields = append(fields, apperr.FieldError{Field: "email", Message: "is required"})
	}
	if password == "" {
		fields = append(fields, apperr.FieldError{Field: "password", Message: "is required"})
	}
	if len(fields) > 0 {
		return Session{}, apperr.Validation(fields...)
	}

	user, err := s.store.FindUserByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			crypto.BurnPasswordCheck(password)
			return Session{}, apperr.ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := crypto.CheckPassword(user.PasswordHash, password); err != nil {
		return Session{}, apperr.ErrInvalidCredentials
	}
	if user.Status != model.UserActive {
		return Session{}, apperr.ErrUserInactive
	}
	if user.TenantID != nil {
		tenant, err := s.store.GetTenant(ctx, *user.TenantID)
		if err != nil {
			return Session{}, err
		}
		if !tenant.Active() {
			s.log.Info("login refused for inactive tenant", zap.String("user_id", user.ID.String()), zap.String("tenant_id", tenant.ID.String()))
			return Session{}, apperr.ErrTenantInactive
		}
	}

	token, issued, err := s.tokens.Issue(user)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	s.log.Info("login", zap.String("user_id", user.ID.String()), zap.String("role", user.Role.String()))
	return Session{Token: token, ExpiresAt: issued.ExpiresAt, User: user}, nil
}

// Me reloads the caller's own record.
func (s *Service) Me(ctx context.Context, actor guard.AuthenticatedUser) (model.User, error) {
	return s.store.GetUserByID(ctx, actor.ID)
}

// Logout denies the caller's current token until it would have expired.
func (s *Service) Logout(ctx context.Context, actor guard.AuthenticatedUser) (bool, error) {
	if s.revoker == nil {
		return false, nil
	}
	if err := s.revoker.Revoke(ctx, actor.Token); err != nil {
		s.log.Error("revoke token", zap.String("user_id", actor.ID.String()), zap.Error(err))
		return false, apperr.ErrTransientStore
	}
	return true, nil
}

// RevokeSessions denies every token of userID issued up to now.
func (s *Service) RevokeSessions(ctx context.Context, actor guard.AuthenticatedUser, userID uuid.UUID) (bool, error) {
	const op = "revoke_sessions"
	target, err := s.manageable(ctx, actor, op, userID)
	if err != nil {
		return false, err
	}
	if s.revoker == nil {
		return false, nil
	}
	if err := s.revoker.RevokeSubject(ctx, target.ID, s.now().UTC()); err != nil {
		s.log.Error("revoke sessions", zap.String("user_id", target.ID.String()), zap.Error(err))
		return false, apperr.ErrTransientStore
	}
	s.log.Info("sessions revoked", zap.String("user_id", target.ID.String()), zap.String("by", actor.ID.String()))
	return true, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *Service) deny(actor guard.AuthenticatedUser, op string, err error, fields ...zap.Field) error {
	guard.LogDenied(s.log, actor, op, err, fields...)
	return err
}
