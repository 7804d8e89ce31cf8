package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/metrics"
	"semaphore/bursar/internal/model"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type ObligationQuery struct {
	TenantID        *uuid.UUID
	StudentID       *uuid.UUID
	FeeDefinitionID *uuid.UUID
	Status          *model.ObligationStatus
	Limit           int32
}

type CollectedQuery struct {
	TenantID *uuid.UUID
	Period   string
	From     *time.Time
	To       *time.Time
}

// ListObligations is open to every role. Learners only ever see their own
// obligations and guardians those of their linked wards.
func (s *Service) ListObligations(ctx context.Context, user guard.AuthenticatedUser, query ObligationQuery) ([]model.Obligation, error) {
	const op = "list_obligations"
	tenantID, err := guard.ResolveTenant(user, query.TenantID)
	if err != nil {
		return nil, s.deny(user, op, err)
	}
	if query.Status != nil && !query.Status.Valid() {
		return nil, apperr.Field("status", "must be one of due, partial, paid, overdue")
	}
	students, err := s.visibleStudents(ctx, user, query.StudentID)
	if err != nil {
		return nil, s.reject(user, op, err)
	}
	if students != nil && len(students) == 0 {
		return []model.Obligation{}, nil
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	obligations, err := s.store.ListObligations(ctx, model.ObligationFilter{
		TenantID:        tenantID,
		StudentIDs:      students,
		FeeDefinitionID: query.FeeDefinitionID,
		Status:          query.Status,
		Limit:           limit,
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	return obligations, nil
}

func (s *Service) GetObligation(ctx context.Context, user guard.AuthenticatedUser, id uuid.UUID) (model.Obligation, error) {
	const op = "get_obligation"
	ob, err := s.store.GetObligation(ctx, id)
	if err != nil {
		return model.Obligation{}, s.fail(op, err)
	}
	if err := s.canView(ctx, user, op, ob); err != nil {
		return model.Obligation{}, err
	}
	return ob, nil
}

// ListPayments returns the event history of one obligation, reversals
// included, oldest first.
func (s *Service) ListPayments(ctx context.Context, user guard.AuthenticatedUser, obligationID uuid.UUID) ([]model.PaymentEvent, error) {
	const op = "list_payments"
	ob, err := s.store.GetObligation(ctx, obligationID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if err := s.canView(ctx, user, op, ob); err != nil {
		return nil, err
	}
	events, err := s.store.ListPaymentEvents(ctx, ob.ID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return events, nil
}

func (s *Service) OutstandingBalances(ctx context.Context, user guard.AuthenticatedUser, tenant, courseID *uuid.UUID) ([]model.StudentBalance, error) {
	const op = "outstanding_balances"
	if err := guard.Authorize(user, reporters...); err != nil {
		return nil, s.deny(user, op, err)
	}
	tenantID, err := guard.ResolveTenant(user, tenant)
	if err != nil {
		return nil, s.deny(user, op, err)
	}
	balances, err := s.store.OutstandingBalances(ctx, tenantID, courseID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return balances, nil
}

// StudentStanding totals one student's obligations. It backs the internal
// gRPC query other services use before granting course access.
func (s *Service) StudentStanding(ctx context.Context, user guard.AuthenticatedUser, tenant *uuid.UUID, studentID uuid.UUID) (model.StudentBalance, error) {
	const op = "student_standing"
	tenantID, err := guard.ResolveTenant(user, tenant)
	if err != nil {
		return model.StudentBalance{}, s.deny(user, op, err)
	}
	students, err := s.visibleStudents(ctx, user, &studentID)
	if err != nil {
		return model.StudentBalance{}, s.reject(user, op, err)
	}
	if students != nil && len(students) == 0 {
		return model.StudentBalance{}, s.deny(user, op, apperr.ErrInsufficientRole)
	}
	obligations, err := s.store.ListObligations(ctx, model.ObligationFilter{
		TenantID:   tenantID,
		StudentIDs: []uuid.UUID{studentID},
		Limit:      maxListLimit,
	})
	if err != nil {
		return model.StudentBalance{}, s.fail(op, err)
	}

	standing := model.StudentBalance{StudentID: studentID, Billed: decimal.Zero, Paid: decimal.Zero, Outstanding: decimal.Zero}
	for _, ob := range obligations {
		standing.Billed = standing.Billed.Add(ob.BilledAmount)
		standing.Paid = standing.Paid.Add(ob.AmountPaid)
		standing.Outstanding = standing.Outstanding.Add(ob.Outstanding())
		standing.Obligations++
		if ob.Status == model.ObligationOverdue {
			standing.Overdue++
		}
	}
	return standing, nil
}

// CollectedTotal sums payment events net of reversals, optionally narrowed
// to a fee period and a paid-on date range (inclusive).
func (s *Service) CollectedTotal(ctx context.Context, user guard.AuthenticatedUser, query CollectedQuery) (model.CollectedTotal, error) {
	const op = "collected_total"
	if err := guard.Authorize(user, managers...); err != nil {
		return model.CollectedTotal{}, s.deny(user, op, err)
	}
	tenantID, err := guard.ResolveTenant(user, query.TenantID)
	if err != nil {
		return model.CollectedTotal{}, s.deny(user, op, err)
	}
	from, to := dateOnlyPtr(query.From), dateOnlyPtr(query.To)
	if from != nil && to != nil && to.Before(*from) {
		return model.CollectedTotal{}, apperr.Field("to", "must not be before from")
	}
	total, err := s.store.CollectedTotal(ctx, tenantID, strings.TrimSpace(query.Period), from, to)
	if err != nil {
		return model.CollectedTotal{}, s.fail(op, err)
	}
	return total, nil
}

// MarkOverdue flags obligations whose due date has passed while still due
// or partially paid. It runs without a caller, from the sweep job.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	n, err := s.store.MarkOverdue(ctx, s.today())
	if err != nil {
		return 0, s.fail("mark_overdue", err)
	}
	metrics.ObligationsOverdue.Add(float64(n))
	return n, nil
}

func (s *Service) canView(ctx context.Context, user guard.AuthenticatedUser, op string, ob model.Obligation) error {
	if err := guard.AuthorizeTenantScope(user, ob.TenantID); err != nil {
		return s.deny(user, op, err)
	}
	students, err := s.visibleStudents(ctx, user, &ob.StudentID)
	if err != nil {
		return s.reject(user, op, err)
	}
	if students != nil && len(students) == 0 {
		return s.deny(user, op, apperr.ErrInsufficientRole)
	}
	return nil
}

// visibleStudents narrows a read to the students user may see. nil means
// the whole tenant.
func (s *Service) visibleStudents(ctx context.Context, user guard.AuthenticatedUser, requested *uuid.UUID) ([]uuid.UUID, error) {
	switch user.Role {
	case model.RoleLearner:
		if requested != nil && *requested != user.ID {
			return nil, apperr.ErrInsufficientRole
		}
		return []uuid.UUID{user.ID}, nil
	case model.RoleGuardian:
		wards, err := s.store.ListGuardianStudents(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if requested == nil {
			if wards == nil {
				wards = []uuid.UUID{}
			}
			return wards, nil
		}
		for _, ward := range wards {
			if ward == *requested {
				return []uuid.UUID{ward}, nil
			}
		}
		return nil, apperr.ErrInsufficientRole
	default:
		if requested != nil {
			return []uuid.UUID{*requested}, nil
		}
		return nil, nil
	}
}
