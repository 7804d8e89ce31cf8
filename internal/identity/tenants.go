package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/model"
)

// TenantPatch changes a college's subscription or seat limit.
type TenantPatch struct {
	Name         *string
	Subscription *model.SubscriptionStatus
	SeatLimit    *int
}

func (s *Service) CreateTenant(ctx context.Context, actor guard.AuthenticatedUser, name string, seatLimit int) (model.Tenant, error) {
	const op = "create_tenant"
	if err := guard.Authorize(actor, model.RolePlatformSuper); err != nil {
		return model.Tenant{}, s.deny(actor, op, err)
	}
	name = strings.TrimSpace(name)
	var fields []apperr.FieldError
	if name == "" {
		fields = append(fields, apperr.FieldError{Field: "name", Message: "is required"})
	}
	if seatLimit < 0 {
		fields = append(fields, apperr.FieldError{Field: "seatLimit", Message: "must not be negative"})
	}
	if len(fields) > 0 {
		return model.Tenant{}, apperr.Validation(fields...)
	}

	now := s.now().UTC()
	tenant := model.Tenant{
		ID:           uuid.New(),
		Name:         name,
		Subscription: model.SubscriptionActive,
		SeatLimit:    seatLimit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateTenant(ctx, tenant); err != nil {
		return model.Tenant{}, err
	}
	s.log.Info("tenant created", zap.String("tenant_id", tenant.ID.String()), zap.String("by", actor.ID.String()))
	return tenant, nil
}

// GetTenant is open to platform-super and to members of the tenant.
func (s *Service) GetTenant(ctx context.Context, actor guard.AuthenticatedUser, id uuid.UUID) (model.Tenant, error) {
	const op = "get_tenant"
	if err := guard.AuthorizeTenantScope(actor, id); err != nil {
		return model.Tenant{}, s.deny(actor, op, err)
	}
	return s.store.GetTenant(ctx, id)
}

// UpdateTenant is platform-super only. Deactivating a subscription blocks
// new logins; tokens already issued stay valid until they expire or are
// revoked.
func (s *Service) UpdateTenant(ctx context.Context, actor guard.AuthenticatedUser, id uuid.UUID, patch TenantPatch) (model.Tenant, error) {
	const op = "update_tenant"
	if err := guard.Authorize(actor, model.RolePlatformSuper); err != nil {
		return model.Tenant{}, s.deny(actor, op, err)
	}
	var fields []apperr.FieldError
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		fields = append(fields, apperr.FieldError{Field: "name", Message: "must not be empty"})
	}
	if patch.Subscription != nil && *patch.Subscription != model.SubscriptionActive && *patch.Subscription != model.SubscriptionInactive {
		fields = append(fields, apperr.FieldError{Field: "subscription", Message: "must be active or inactive"})
	}
	if patch.SeatLimit != nil && *patch.SeatLimit < 0 {
		fields = append(fields, apperr.FieldError{Field: "seatLimit", Message: "must not be negative"})
	}
	if len(fields) > 0 {
		return model.Tenant{}, apperr.Validation(fields...)
	}

	tenant, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return model.Tenant{}, err
	}
	if patch.Name != nil {
		tenant.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Subscription != nil {
		tenant.Subscription = *patch.Subscription
	}
	if patch.SeatLimit != nil {
		tenant.SeatLimit = *patch.SeatLimit
	}
	tenant.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTenant(ctx, tenant); err != nil {
		return model.Tenant{}, err
	}
	s.log.Info("tenant updated",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("subscription", string(tenant.Subscription)),
		zap.String("by", actor.ID.String()),
	)
	return tenant, nil
}
