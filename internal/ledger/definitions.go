package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/model"
)

type NewFeeDefinition struct {
	// TenantID is only honoured for platform-super callers.
	TenantID *uuid.UUID
	CourseID uuid.UUID
	Period   string
	Category string
	Amount   decimal.Decimal
	DueDate  *time.Time
	Optional bool
}

// FeeDefinitionPatch holds the mutable fields; nil leaves a field as is.
type FeeDefinitionPatch struct {
	Category     *string
	Amount       *decimal.Decimal
	DueDate      *time.Time
	ClearDueDate bool
	Optional     *bool
}

type DefinitionQuery struct {
	TenantID *uuid.UUID
	CourseID *uuid.UUID
	Period   string
}

func (s *Service) CreateFeeDefinition(ctx context.Context, user guard.AuthenticatedUser, in NewFeeDefinition) (model.FeeDefinition, error) {
	const op = "create_fee_definition"
	if err := guard.Authorize(user, managers...); err != nil {
		return model.FeeDefinition{}, s.deny(user, op, err)
	}
	tenantID, err := guard.ResolveTenant(user, in.TenantID)
	if err != nil {
		return model.FeeDefinition{}, s.deny(user, op, err)
	}

	in.Period = strings.TrimSpace(in.Period)
	in.Category = strings.TrimSpace(in.Category)
	var fields []apperr.FieldError
	if in.CourseID == uuid.Nil {
		fields = append(fields, apperr.FieldError{Field: "courseId", Message: "is required"})
	}
	if in.Period == "" {
		fields = append(fields, apperr.FieldError{Field: "period", Message: "is required"})
	}
	if in.Category == "" {
		fields = append(fields, apperr.FieldError{Field: "category", Message: "is required"})
	}
	if msg := amountProblem(in.Amount); msg != "" {
		fields = append(fields, apperr.FieldError{Field: "amount", Message: msg})
	}
	if len(fields) > 0 {
		return model.FeeDefinition{}, apperr.Validation(fields...)
	}

	now := s.now().UTC()
	def := model.FeeDefinition{
		ID:        uuid.New(),
		TenantID:  tenantID,
		CourseID:  in.CourseID,
		Period:    in.Period,
		Category:  in.Category,
		Amount:    in.Amount,
		DueDate:   dateOnlyPtr(in.DueDate),
		Optional:  in.Optional,
		CreatedBy: user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertFeeDefinition(ctx, def); err != nil {
		return model.FeeDefinition{}, s.fail(op, err)
	}
	return def, nil
}

func (s *Service) GetFeeDefinition(ctx context.Context, user guard.AuthenticatedUser, id uuid.UUID) (model.FeeDefinition, error) {
	const op = "get_fee_definition"
	def, err := s.store.GetFeeDefinition(ctx, id)
	if err != nil {
		return model.FeeDefinition{}, s.fail(op, err)
	}
	if err := guard.AuthorizeTenantScope(user, def.TenantID); err != nil {
		return model.FeeDefinition{}, s.deny(user, op, err)
	}
	return def, nil
}

func (s *Service) ListFeeDefinitions(ctx context.Context, user guard.AuthenticatedUser, query DefinitionQuery) ([]model.FeeDefinition, error) {
	const op = "list_fee_definitions"
	tenantID, err := guard.ResolveTenant(user, query.TenantID)
	if err != nil {
		return nil, s.deny(user, op, err)
	}
	defs, err := s.store.ListFeeDefinitions(ctx, tenantID, query.CourseID, strings.TrimSpace(query.Period))
	if err != nil {
		return nil, s.fail(op, err)
	}
	return defs, nil
}

// UpdateFeeDefinition edits a definition until the first payment lands on
// any obligation derived from it. Obligations already assigned keep the
// amount they were billed.
func (s *Service) UpdateFeeDefinition(ctx context.Context, user guard.AuthenticatedUser, id uuid.UUID, patch FeeDefinitionPatch) (model.FeeDefinition, error) {
	const op = "update_fee_definition"
	var fields []apperr.FieldError
	if patch.Category != nil && strings.TrimSpace(*patch.Category) == "" {
		fields = append(fields, apperr.FieldError{Field: "category", Message: "must not be empty"})
	}
	if patch.Amount != nil {
		if msg := amountProblem(*patch.Amount); msg != "" {
			fields = append(fields, apperr.FieldError{Field: "amount", Message: msg})
		}
	}
	if patch.ClearDueDate && patch.DueDate != nil {
		fields = append(fields, apperr.FieldError{Field: "dueDate", Message: "cannot be set and cleared together"})
	}
	if len(fields) > 0 {
		return model.FeeDefinition{}, apperr.Validation(fields...)
	}

	var updated model.FeeDefinition
	err := s.store.WithTx(ctx, func(q Queries) error {
		def, err := q.LockFeeDefinition(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(user, op, def.TenantID, managers...); err != nil {
			return err
		}
		payments, err := q.CountDefinitionPayments(ctx, def.ID)
		if err != nil {
			return err
		}
		if payments > 0 {
			return apperr.ErrDefinitionLocked
		}

		if patch.Category != nil {
			def.Category = strings.TrimSpace(*patch.Category)
		}
		if patch.Amount != nil {
			def.Amount = *patch.Amount
		}
		if patch.DueDate != nil {
			def.DueDate = dateOnlyPtr(patch.DueDate)
		}
		if patch.ClearDueDate {
			def.DueDate = nil
		}
		if patch.Optional != nil {
			def.Optional = *patch.Optional
		}
		def.UpdatedAt = s.now().UTC()
		if err := q.UpdateFeeDefinition(ctx, def); err != nil {
			return err
		}
		updated = def
		return nil
	})
	if err != nil {
		return model.FeeDefinition{}, s.fail(op, err)
	}
	return updated, nil
}
