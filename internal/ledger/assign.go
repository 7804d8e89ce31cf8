package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/metrics"
	"semaphore/bursar/internal/model"
	"semaphore/bursar/internal/notify"
)

type AssignResult struct {
	Matched int `json:"matched"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// AssignFee creates one obligation per matched learner that does not hold
// one for the definition yet. Students already billed are skipped, so the
// call can be repeated with overlapping cohorts.
func (s *Service) AssignFee(ctx context.Context, user guard.AuthenticatedUser, definitionID uuid.UUID, sel model.CohortSelector) (AssignResult, error) {
	const op = "assign_fee"
	var (
		result  AssignResult
		created []model.Obligation
	)
	err := s.store.WithTx(ctx, func(q Queries) error {
		result, created = AssignResult{}, created[:0]

		def, err := q.GetFeeDefinitionForShare(ctx, definitionID)
		if err != nil {
			return err
		}
		if err := s.authorize(user, op, def.TenantID, managers...); err != nil {
			return err
		}
		cohort, err := cohortFor(def, sel)
		if err != nil {
			return err
		}
		students, err := q.ListCohort(ctx, def.TenantID, cohort)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for _, studentID := range students {
			ob := newObligation(def, studentID)
			ob.CreatedAt, ob.UpdatedAt = now, now
			inserted, err := q.InsertObligation(ctx, ob)
			if err != nil {
				return err
			}
			if !inserted {
				result.Skipped++
				continue
			}
			created = append(created, ob)
		}
		result.Matched = len(students)
		result.Created = len(created)
		return nil
	})
	if err != nil {
		return AssignResult{}, s.fail(op, err)
	}

	metrics.ObligationsCreated.Add(float64(len(created)))
	for _, ob := range created {
		s.notifier.Publish(ctx, obligationEvent(ob))
	}
	s.log.Info("fee assigned",
		zap.String("fee_definition_id", definitionID.String()),
		zap.String("user_id", user.ID.String()),
		zap.Int("matched", result.Matched),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// AssignStudent bills a single enrolled learner and, unlike AssignFee,
// reports an existing obligation as ErrDuplicateObligation.
func (s *Service) AssignStudent(ctx context.Context, user guard.AuthenticatedUser, definitionID, studentID uuid.UUID) (model.Obligation, error) {
	const op = "assign_student"
	var ob model.Obligation
	err := s.store.WithTx(ctx, func(q Queries) error {
		def, err := q.GetFeeDefinitionForShare(ctx, definitionID)
		if err != nil {
			return err
		}
		if err := s.authorize(user, op, def.TenantID, managers...); err != nil {
			return err
		}
		cohort, err := cohortFor(def, model.CohortSelector{StudentIDs: []uuid.UUID{studentID}})
		if err != nil {
			return err
		}
		students, err := q.ListCohort(ctx, def.TenantID, cohort)
		if err != nil {
			return err
		}
		if len(students) == 0 {
			return apperr.Field("studentId", "is not an active learner enrolled in this course and period")
		}
		ob = newObligation(def, studentID)
		ob.CreatedAt = s.now().UTC()
		ob.UpdatedAt = ob.CreatedAt
		inserted, err := q.InsertObligation(ctx, ob)
		if err != nil {
			return err
		}
		if !inserted {
			return apperr.ErrDuplicateObligation
		}
		return nil
	})
	if err != nil {
		return model.Obligation{}, s.fail(op, err)
	}
	metrics.ObligationsCreated.Inc()
	s.notifier.Publish(ctx, obligationEvent(ob))
	return ob, nil
}

func newObligation(def model.FeeDefinition, studentID uuid.UUID) model.Obligation {
	return model.Obligation{
		ID:              uuid.New(),
		TenantID:        def.TenantID,
		FeeDefinitionID: def.ID,
		StudentID:       studentID,
		DueDate:         def.DueDate,
		BilledAmount:    def.Amount,
		AmountPaid:      decimal.Zero,
		Status:          model.ObligationDue,
	}
}

// cohortFor pins the selector to the definition's course and period.
func cohortFor(def model.FeeDefinition, sel model.CohortSelector) (model.CohortSelector, error) {
	var fields []apperr.FieldError
	if sel.CourseID == uuid.Nil {
		sel.CourseID = def.CourseID
	} else if sel.CourseID != def.CourseID {
		fields = append(fields, apperr.FieldError{Field: "courseId", Message: "must match the fee definition"})
	}
	sel.Period = strings.TrimSpace(sel.Period)
	if sel.Period == "" {
		sel.Period = def.Period
	} else if sel.Period != def.Period {
		fields = append(fields, apperr.FieldError{Field: "period", Message: "must match the fee definition"})
	}
	if len(fields) > 0 {
		return sel, apperr.Validation(fields...)
	}

	if len(sel.StudentIDs) > 0 {
		seen := make(map[uuid.UUID]struct{}, len(sel.StudentIDs))
		ids := make([]uuid.UUID, 0, len(sel.StudentIDs))
		for _, id := range sel.StudentIDs {
			if _, dup := seen[id]; dup || id == uuid.Nil {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		sel.StudentIDs = ids
		if len(ids) == 0 {
			return sel, apperr.Field("studentIds", "must contain at least one id")
		}
	}
	return sel, nil
}

func obligationEvent(ob model.Obligation) notify.Event {
	return notify.Event{
		Type:         notify.ObligationCreated,
		TenantID:     ob.TenantID,
		ObligationID: ob.ID,
		StudentID:    ob.StudentID,
		Amount:       ob.BilledAmount,
		OccurredAt:   ob.CreatedAt,
	}
}
