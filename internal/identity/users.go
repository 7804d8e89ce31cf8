package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/crypto"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/model"
)

var administrators = []model.Role{model.RolePlatformSuper, model.RoleTenantAdmin}

type NewUser struct {
	// TenantID is only honoured for platform-super callers and must be nil
	// when creating another platform-super.
	TenantID  *uuid.UUID
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      model.Role
}

// UserPatch changes the lifecycle fields an administrator controls.
type UserPatch struct {
	Status *model.UserStatus
	Role   *model.Role
}

func (s *Service) CreateUser(ctx context.Context, actor guard.AuthenticatedUser, in NewUser) (model.User, error) {
	const op = "create_user"
	if err := guard.Authorize(actor, administrators...); err != nil {
		return model.User{}, s.deny(actor, op, err)
	}

	var tenantID *uuid.UUID
	if in.Role == model.RolePlatformSuper {
		if !actor.IsPlatformSuper() {
			return model.User{}, s.deny(actor, op, apperr.ErrInsufficientRole)
		}
		if in.TenantID != nil {
			return model.User{}, apperr.Field("tenantId", "must be empty for platform super")
		}
	} else {
		resolved, err := guard.ResolveTenant(actor, in.TenantID)
		if err != nil {
			return model.User{}, s.deny(actor, op, err)
		}
		tenantID = &resolved
	}

	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	var fields []apperr.FieldError
	if !validEmail(in.Email) {
		fields = append(fields, apperr.FieldError{Field: "email", Message: "must be a valid email address"})
	}
	if in.FirstName == "" {
		fields = append(fields, apperr.FieldError{Field: "firstName", Message: "is required"})
	}
	if in.LastName == "" {
		fields = append(fields, apperr.FieldError{Field: "lastName", Message: "is required"})
	}
	if !in.Role.Valid() {
		fields = append(fields, apperr.FieldError{Field: "role", Message: "is not a known role"})
	}
	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		if !errors.Is(err, crypto.ErrPasswordTooShort) {
			return model.User{}, fmt.Errorf("hash password: %w", err)
		}
		fields = append(fields, apperr.FieldError{Field: "password", Message: err.Error()})
	}
	if len(fields) > 0 {
		return model.User{}, apperr.Validation(fields...)
	}

	if tenantID != nil {
		if _, err := s.store.GetTenant(ctx, *tenantID); err != nil {
			return model.User{}, err
		}
	}
	now := s.now().UTC()
	user := model.User{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         in.Role,
		Status:       model.UserActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return model.User{}, err
	}
	s.log.Info("user created",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role.String()),
		zap.String("by", actor.ID.String()),
	)
	return user, nil
}

// GetUser lets administrators read users of their tenant; everyone else
// may only read themselves.
func (s *Service) GetUser(ctx context.Context, actor guard.AuthenticatedUser, id uuid.UUID) (model.User, error) {
	if id == actor.ID {
		return s.Me(ctx, actor)
	}
	return s.manageable(ctx, actor, "get_user", id)
}

// UpdateUser applies a status or role change. Either takes effect on the
// target's next request, because the guard reads the live record.
func (s *Service) UpdateUser(ctx context.Context, actor guard.AuthenticatedUser, id uuid.UUID, patch UserPatch) (model.User, error) {
	const op = "update_user"
	target, err := s.manageable(ctx, actor, op, id)
	if err != nil {
		return model.User{}, err
	}
	if target.ID == actor.ID {
		return model.User{}, apperr.Field("id", "cannot change your own status or role")
	}

	var fields []apperr.FieldError
	if patch.Status != nil && !patch.Status.Valid() {
		fields = append(fields, apperr.FieldError{Field: "status", Message: "must be active, inactive or deleted"})
	}
	if patch.Role != nil {
		switch {
		case !patch.Role.Valid():
			fields = append(fields, apperr.FieldError{Field: "role", Message: "is not a known role"})
		case *patch.Role == model.RolePlatformSuper || target.Role == model.RolePlatformSuper:
			fields = append(fields, apperr.FieldError{Field: "role", Message: "platform super cannot be granted or changed"})
		}
	}
	if len(fields) > 0 {
		return model.User{}, apperr.Validation(fields...)
	}

	now := s.now().UTC()
	if patch.Status != nil && *patch.Status != target.Status {
		if err := s.store.UpdateUserStatus(ctx, target.ID, *patch.Status, now); err != nil {
			return model.User{}, err
		}
		target.Status = *patch.Status
	}
	if patch.Role != nil && *patch.Role != target.Role {
		if err := s.store.UpdateUserRole(ctx, target.ID, *patch.Role, now); err != nil {
			return model.User{}, err
		}
		target.Role = *patch.Role
	}
	target.UpdatedAt = now
	s.log.Info("user updated",
		zap.String("user_id", target.ID.String()),
		zap.String("status", string(target.Status)),
		zap.String("role", target.Role.String()),
		zap.String("by", actor.ID.String()),
	)
	return target, nil
}

// LinkGuardian records that guardianID may see studentID's obligations.
func (s *Service) LinkGuardian(ctx context.Context, actor guard.AuthenticatedUser, guardianID, studentID uuid.UUID) error {
	const op = "link_guardian"
	guardian, err := s.manageable(ctx, actor, op, guardianID)
	if err != nil {
		return err
	}
	student, err := s.manageable(ctx, actor, op, studentID)
	if err != nil {
		return err
	}
	var fields []apperr.FieldError
	if guardian.Role != model.RoleGuardian {
		fields = append(fields, apperr.FieldError{Field: "id", Message: "is not a guardian"})
	}
	if student.Role != model.RoleLearner {
		fields = append(fields, apperr.FieldError{Field: "studentId", Message: "is not a learner"})
	}
	if len(fields) > 0 {
		return apperr.Validation(fields...)
	}
	if *guardian.TenantID != *student.TenantID {
		return s.deny(actor, op, apperr.ErrCrossTenantAccess)
	}
	return s.store.LinkGuardian(ctx, guardian.ID, student.ID)
}

// ChangePassword requires the current password.
func (s *Service) ChangePassword(ctx context.Context, actor guard.AuthenticatedUser, current, next string) error {
	user, err := s.store.GetUserByID(ctx, actor.ID)
	if err != nil {
		return err
	}
	if err := crypto.CheckPassword(user.PasswordHash, current); err != nil {
		return apperr.ErrInvalidCredentials
	}
	hash, err := crypto.HashPassword(next)
	if err != nil {
		if errors.Is(err, crypto.ErrPasswordTooShort) {
			return apperr.Field("newPassword", err.Error())
		}
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, hash, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("password changed", zap.String("user_id", user.ID.String()))
	return nil
}

// manageable loads a user the actor administers. Deleted users are treated
// as missing. Tenant-admins never reach platform users, whose tenant is nil.
func (s *Service) manageable(ctx context.Context, actor guard.AuthenticatedUser, op string, id uuid.UUID) (model.User, error) {
	if err := guard.Authorize(actor, administrators...); err != nil {
		return model.User{}, s.deny(actor, op, err)
	}
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if user.Status == model.UserDeleted {
		return model.User{}, apperr.ErrNotFound
	}
	tenantID := uuid.Nil
	if user.TenantID != nil {
		tenantID = *user.TenantID
	}
	if err := guard.AuthorizeTenantScope(actor, tenantID); err != nil {
		return model.User{}, s.deny(actor, op, err, zap.String("target_user_id", user.ID.String()))
	}
	return user, nil
}
