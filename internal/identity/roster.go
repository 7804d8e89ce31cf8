package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/model"
)

// Enroll adds or updates a learner's enrollment. Setting active to false
// keeps the row so later fee assignment can still include it on request.
func (s *Service) Enroll(ctx context.Context, actor guard.AuthenticatedUser, studentID, courseID uuid.UUID, period string, active bool) (model.Enrollment, error) {
	const op = "enroll"
	student, err := s.manageable(ctx, actor, op, studentID)
	if err != nil {
		return model.Enrollment{}, err
	}
	period = strings.TrimSpace(period)
	var fields []apperr.FieldError
	if student.Role != model.RoleLearner {
		fields = append(fields, apperr.FieldError{Field: "id", Message: "is not a learner"})
	}
	if courseID == uuid.Nil {
		fields = append(fields, apperr.FieldError{Field: "courseId", Message: "is required"})
	}
	if period == "" {
		fields = append(fields, apperr.FieldError{Field: "period", Message: "is required"})
	}
	if len(fields) > 0 {
		return model.Enrollment{}, apperr.Validation(fields...)
	}

	enrollment := model.Enrollment{
		TenantID:   *student.TenantID,
		StudentID:  student.ID,
		CourseID:   courseID,
		Period:     period,
		Active:     active,
		EnrolledAt: s.now().UTC(),
	}
	if err := s.store.UpsertEnrollment(ctx, enrollment); err != nil {
		return model.Enrollment{}, err
	}
	return enrollment, nil
}
