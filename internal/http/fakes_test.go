package http

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/ledger"
	"semaphore/bursar/internal/model"
)

// backend is an in-memory stand-in for the Postgres stores. Transactions
// are serialized but not rolled back; ledger rollback is covered in the
// ledger package.
type backend struct {
	tx sync.Mutex
	mu sync.Mutex

	tenants     map[uuid.UUID]model.Tenant
	users       map[uuid.UUID]model.User
	wards       map[uuid.UUID][]uuid.UUID
	enrollments []model.Enrollment
	definitions map[uuid.UUID]model.FeeDefinition
	obligations map[uuid.UUID]model.Obligation
	events      []model.PaymentEvent
}

func newBackend() *backend {
	return &backend{
		tenants:     map[uuid.UUID]model.Tenant{},
		users:       map[uuid.UUID]model.User{},
		wards:       map[uuid.UUID][]uuid.UUID{},
		definitions: map[uuid.UUID]model.FeeDefinition{},
		obligations: map[uuid.UUID]model.Obligation{},
	}
}

func (b *backend) GetUserByID(_ context.Context, id uuid.UUID) (model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.users[id]
	if !ok {
		return model.User{}, apperr.ErrNotFound
	}
	return user, nil
}

func (b *backend) FindUserByEmail(_ context.Context, tenantID *uuid.UUID, email string) (model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, user := range b.users {
		if user.Status == model.UserDeleted || !strings.EqualFold(user.Email, email) {
			continue
		}
		if (tenantID == nil && user.TenantID == nil) || (tenantID != nil && user.TenantID != nil && *tenantID == *user.TenantID) {
			return user, nil
		}
	}
	return model.User{}, apperr.ErrNotFound
}

func (b *backend) CreateUser(_ context.Context, user model.User) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[user.ID] = user
	return nil
}

func (b *backend) updateUser(id uuid.UUID, fn func(*model.User)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	fn(&user)
	b.users[id] = user
	return nil
}

func (b *backend) UpdateUserStatus(_ context.Context, id uuid.UUID, status model.UserStatus, at time.Time) error {
	return b.updateUser(id, func(u *model.User) { u.Status, u.UpdatedAt = status, at })
}

func (b *backend) UpdateUserRole(_ context.Context, id uuid.UUID, role model.Role, at time.Time) error {
	return b.updateUser(id, func(u *model.User) { u.Role, u.UpdatedAt = role, at })
}

func (b *backend) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string, at time.Time) error {
	return b.updateUser(id, func(u *model.User) { u.PasswordHash, u.UpdatedAt = hash, at })
}

func (b *backend) LinkGuardian(_ context.Context, guardianID, studentID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wards[guardianID] = append(b.wards[guardianID], studentID)
	return nil
}

func (b *backend) UpsertEnrollment(_ context.Context, e model.Enrollment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.enrollments {
		if existing.StudentID == e.StudentID && existing.CourseID == e.CourseID && existing.Period == e.Period {
			b.enrollments[i].Active = e.Active
			return nil
		}
	}
	b.enrollments = append(b.enrollments, e)
	return nil
}

func (b *backend) GetTenant(_ context.Context, id uuid.UUID) (model.Tenant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tenant, ok := b.tenants[id]
	if !ok {
		return model.Tenant{}, apperr.ErrNotFound
	}
	return tenant, nil
}

func (b *backend) CreateTenant(_ context.Context, t model.Tenant) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tenants[t.ID] = t
	return nil
}

func (b *backend) UpdateTenant(_ context.Context, t model.Tenant) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tenants[t.ID]; !ok {
		return apperr.ErrNotFound
	}
	b.tenants[t.ID] = t
	return nil
}

func (b *backend) WithTx(ctx context.Context, fn func(ledger.Queries) error) error {
	b.tx.Lock()
	defer b.tx.Unlock()
	return fn(b)
}

func (b *backend) definition(id uuid.UUID) (model.FeeDefinition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	def, ok := b.definitions[id]
	if !ok {
		return model.FeeDefinition{}, apperr.ErrNotFound
	}
	return def, nil
}

func (b *backend) GetFeeDefinition(_ context.Context, id uuid.UUID) (model.FeeDefinition, error) {
	return b.definition(id)
}

func (b *backend) GetFeeDefinitionForShare(_ context.Context, id uuid.UUID) (model.FeeDefinition, error) {
	return b.definition(id)
}

func (b *backend) LockFeeDefinition(_ context.Context, id uuid.UUID) (model.FeeDefinition, error) {
	return b.definition(id)
}

func (b *backend) ListFeeDefinitions(_ context.Context, tenantID uuid.UUID, courseID *uuid.UUID, period string) ([]model.FeeDefinition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []model.FeeDefinition{}
	for _, def := range b.definitions {
		if def.TenantID != tenantID || (courseID != nil && def.CourseID != *courseID) || (period != "" && def.Period != period) {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *backend) InsertFeeDefinition(_ context.Context, def model.FeeDefinition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.definitions[def.ID] = def
	return nil
}

func (b *backend) UpdateFeeDefinition(_ context.Context, def model.FeeDefinition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.definitions[def.ID] = def
	return nil
}

func (b *backend) CountDefinitionPayments(_ context.Context, definitionID uuid.UUID) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for _, ev := range b.events {
		if b.obligations[ev.ObligationID].FeeDefinitionID == definitionID {
			n++
		}
	}
	return n, nil
}

func (b *backend) ListCohort(_ context.Context, tenantID uuid.UUID, sel model.CohortSelector) ([]uuid.UUID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range sel.StudentIDs {
		wanted[id] = true
	}
	seen := map[uuid.UUID]bool{}
	out := []uuid.UUID{}
	for _, e := range b.enrollments {
		user := b.users[e.StudentID]
		if e.TenantID != tenantID || e.CourseID != sel.CourseID || e.Period != sel.Period {
			continue
		}
		if user.Role != model.RoleLearner || user.Status == model.UserDeleted {
			continue
		}
		if !sel.IncludeInactive && (!e.Active || user.Status != model.UserActive) {
			continue
		}
		if len(wanted) > 0 && !wanted[e.StudentID] {
			continue
		}
		if !seen[e.StudentID] {
			seen[e.StudentID] = true
			out = append(out, e.StudentID)
		}
	}
	return out, nil
}

func (b *backend) InsertObligation(_ context.Context, ob model.Obligation) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.obligations {
		if existing.StudentID == ob.StudentID && existing.FeeDefinitionID == ob.FeeDefinitionID {
			return false, nil
		}
	}
	b.obligations[ob.ID] = ob
	return true, nil
}

func (b *backend) GetObligation(_ context.Context, id uuid.UUID) (model.Obligation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ob, ok := b.obligations[id]
	if !ok {
		return model.Obligation{}, apperr.ErrNotFound
	}
	return ob, nil
}

func (b *backend) LockObligation(ctx context.Context, id uuid.UUID) (model.Obligation, error) {
	return b.GetObligation(ctx, id)
}

func (b *backend) UpdateObligationBalance(_ context.Context, ob model.Obligation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.obligations[ob.ID] = ob
	return nil
}

func (b *backend) ListObligations(_ context.Context, f model.ObligationFilter) ([]model.Obligation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	students := map[uuid.UUID]bool{}
	for _, id := range f.StudentIDs {
		students[id] = true
	}
	out := []model.Obligation{}
	for _, ob := range b.obligations {
		if ob.TenantID != f.TenantID || (f.StudentIDs != nil && !students[ob.StudentID]) {
			continue
		}
		if f.FeeDefinitionID != nil && ob.FeeDefinitionID != *f.FeeDefinitionID {
			continue
		}
		if f.Status != nil && ob.Status != *f.Status {
			continue
		}
		out = append(out, ob)
	}
	return out, nil
}

func (b *backend) MarkOverdue(_ context.Context, today time.Time) (int64, error) {
	return 0, nil
}

func (b *backend) InsertPaymentEvent(_ context.Context, ev model.PaymentEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *backend) LockPaymentEvent(_ context.Context, id uuid.UUID) (model.PaymentEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range b.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return model.PaymentEvent{}, apperr.ErrNotFound
}

func (b *backend) PaymentReversed(_ context.Context, eventID uuid.UUID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range b.events {
		if ev.ReversesEventID != nil && *ev.ReversesEventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (b *backend) PaymentReferenceExists(_ context.Context, tenantID uuid.UUID, reference string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range b.events {
		if ev.TenantID == tenantID && ev.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (b *backend) ListPaymentEvents(_ context.Context, obligationID uuid.UUID) ([]model.PaymentEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []model.PaymentEvent{}
	for _, ev := range b.events {
		if ev.ObligationID == obligationID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (b *backend) ListGuardianStudents(_ context.Context, guardianID uuid.UUID) ([]uuid.UUID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uuid.UUID{}, b.wards[guardianID]...), nil
}

func (b *backend) OutstandingBalances(_ context.Context, tenantID uuid.UUID, courseID *uuid.UUID) ([]model.StudentBalance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := map[uuid.UUID]*model.StudentBalance{}
	for _, ob := range b.obligations {
		if ob.TenantID != tenantID || (courseID != nil && b.definitions[ob.FeeDefinitionID].CourseID != *courseID) {
			continue
		}
		row, ok := rows[ob.StudentID]
		if !ok {
			row = &model.StudentBalance{StudentID: ob.StudentID}
			rows[ob.StudentID] = row
		}
		row.Billed = row.Billed.Add(ob.BilledAmount)
		row.Paid = row.Paid.Add(ob.AmountPaid)
		row.Outstanding = row.Billed.Sub(row.Paid)
		row.Obligations++
	}
	out := make([]model.StudentBalance, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (b *backend) CollectedTotal(_ context.Context, tenantID uuid.UUID, period string, from, to *time.Time) (model.CollectedTotal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := model.CollectedTotal{TenantID: tenantID, Period: period, Total: decimal.Zero, From: from, To: to}
	for _, ev := range b.events {
		if ev.TenantID != tenantID {
			continue
		}
		total.Total = total.Total.Add(ev.Amount)
		total.Payments++
	}
	return total, nil
}
