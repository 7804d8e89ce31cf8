// Package ledger keeps fee definitions, student obligations and payment
// events consistent with each other.
//
// Every operation receives the authenticated caller explicitly. Tenant scope
// is always checked against the tenant of the stored record, loaded inside
// the same transaction that mutates it.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/metrics"
	"semaphore/bursar/internal/model"
	"semaphore/bursar/internal/notify"
)

// Queries is the persistence surface of the ledger. Lock* methods take a
// row lock for the rest of the transaction; outside WithTx they behave like
// plain reads.
type Queries interface {
	GetFeeDefinition(ctx context.Context, id uuid.UUID) (model.FeeDefinition, error)
	GetFeeDefinitionForShare(ctx context.Context, id uuid.UUID) (model.FeeDefinition, error)
	LockFeeDefinition(ctx context.Context, id uuid.UUID) (model.FeeDefinition, error)
	ListFeeDefinitions(ctx context.Context, tenantID uuid.UUID, courseID *uuid.UUID, period string) ([]model.FeeDefinition, error)
	InsertFeeDefinition(ctx context.Context, def model.FeeDefinition) error
	UpdateFeeDefinition(ctx context.Context, def model.FeeDefinition) error
	CountDefinitionPayments(ctx context.Context, definitionID uuid.UUID) (int64, error)

	ListCohort(ctx context.Context, tenantID uuid.UUID, sel model.CohortSelector) ([]uuid.UUID, error)
	// InsertObligation reports false when the student already holds an
	// obligation for the definition.
	InsertObligation(ctx context.Context, ob model.Obligation) (bool, error)
	GetObligation(ctx context.Context, id uuid.UUID) (model.Obligation, error)
	LockObligation(ctx context.Context, id uuid.UUID) (model.Obligation, error)
	UpdateObligationBalance(ctx context.Context, ob model.Obligation) error
	ListObligations(ctx context.Context, filter model.ObligationFilter) ([]model.Obligation, error)
	MarkOverdue(ctx context.Context, today time.Time) (int64, error)

	InsertPaymentEvent(ctx context.Context, ev model.PaymentEvent) error
	LockPaymentEvent(ctx context.Context, id uuid.UUID) (model.PaymentEvent, error)
	PaymentReversed(ctx context.Context, eventID uuid.UUID) (bool, error)
	PaymentReferenceExists(ctx context.Context, tenantID uuid.UUID, reference string) (bool, error)
	ListPaymentEvents(ctx context.Context, obligationID uuid.UUID) ([]model.PaymentEvent, error)

	ListGuardianStudents(ctx context.Context, guardianID uuid.UUID) ([]uuid.UUID, error)
	OutstandingBalances(ctx context.Context, tenantID uuid.UUID, courseID *uuid.UUID) ([]model.StudentBalance, error)
	CollectedTotal(ctx context.Context, tenantID uuid.UUID, period string, from, to *time.Time) (model.CollectedTotal, error)
}

// Store runs fn inside one all-or-nothing transaction.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(Queries) error) error
}

// Notifier must not block; delivery is best-effort.
type Notifier interface {
	Publish(ctx context.Context, event notify.Event)
}

type discard struct{}

func (discard) Publish(context.Context, notify.Event) {}

var (
	managers   = []model.Role{model.RolePlatformSuper, model.RoleTenantAdmin}
	collectors = []model.Role{model.RoleTenantAdmin, model.RoleInstructor}
	reporters  = []model.Role{model.RolePlatformSuper, model.RoleTenantAdmin, model.RoleInstructor}
)

type Service struct {
	store    Store
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store Store, notifier Notifier, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = discard{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, notifier: notifier, log: log, now: time.Now}
}

// WithClock returns a copy of the service reading time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// authorize checks tenant scope first so a caller from another tenant always
// sees CrossTenantAccess, whatever its role.
func (s *Service) authorize(user guard.AuthenticatedUser, op string, resourceTenant uuid.UUID, roles ...model.Role) error {
	if err := guard.AuthorizeTenantScope(user, resourceTenant); err != nil {
		return s.deny(user, op, err, zap.String("resource_tenant_id", resourceTenant.String()))
	}
	if err := guard.Authorize(user, roles...); err != nil {
		return s.deny(user, op, err, zap.String("resource_tenant_id", resourceTenant.String()))
	}
	return nil
}

func (s *Service) deny(user guard.AuthenticatedUser, op string, err error, fields ...zap.Field) error {
	guard.LogDenied(s.log, user, op, err, fields...)
	if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindAuthorization {
		metrics.AuthFailures.WithLabelValues(appErr.Code).Inc()
	}
	return err
}

func (s *Service) reject(user guard.AuthenticatedUser, op string, err error) error {
	if apperr.KindOf(err) == apperr.KindAuthorization {
		return s.deny(user, op, err)
	}
	return s.fail(op, err)
}

func (s *Service) fail(op string, err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindLedgerInvariant, apperr.KindConflict:
		appErr, _ := apperr.As(err)
		metrics.LedgerRejections.WithLabelValues(appErr.Code).Inc()
	case apperr.KindTransientStore, apperr.KindInternal:
		s.log.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (s *Service) today() time.Time {
	return dateOnly(s.now())
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dateOnlyPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := dateOnly(*t)
	return &d
}
