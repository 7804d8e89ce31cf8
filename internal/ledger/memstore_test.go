package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/model"
)

type memLearner struct {
	tenantID uuid.UUID
	active   bool
	enrolled map[string]bool
}

type memState struct {
	definitions map[uuid.UUID]model.FeeDefinition
	obligations map[uuid.UUID]model.Obligation
	events      []model.PaymentEvent
	learners    map[uuid.UUID]memLearner
	wards       map[uuid.UUID][]uuid.UUID
}

func newMemState() *memState {
	return &memState{
		definitions: map[uuid.UUID]model.FeeDefinition{},
		obligations: map[uuid.UUID]model.Obligation{},
		learners:    map[uuid.UUID]memLearner{},
		wards:       map[uuid.UUID][]uuid.UUID{},
	}
}

func (st *memState) clone() *memState {
	cp := newMemState()
	for k, v := range st.definitions {
		cp.definitions[k] = v
	}
	for k, v := range st.obligations {
		cp.obligations[k] = v
	}
	cp.events = append([]model.PaymentEvent(nil), st.events...)
	for k, v := range st.learners {
		cp.learners[k] = v
	}
	for k, v := range st.wards {
		cp.wards[k] = v
	}
	return cp
}

// memStore runs one transaction at a time against a staged copy of the
// state, which is published only when fn succeeds.
type memStore struct {
	memQueries
	mu     sync.Mutex
	faults map[string]error
}

func newMemStore() *memStore {
	m := &memStore{faults: map[string]error{}}
	m.memQueries = memQueries{st: newMemState(), store: m}
	return m
}

func (m *memStore) WithTx(ctx context.Context, fn func(Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := m.st.clone()
	if err := fn(memQueries{st: staged, store: m, tx: true}); err != nil {
		return err
	}
	*m.st = *staged
	return nil
}

func (m *memStore) enroll(tenantID uuid.UUID, active bool, courseID uuid.UUID, period string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.st.learners[id] = memLearner{tenantID: tenantID, active: active, enrolled: map[string]bool{enrollmentKey(courseID, period): true}}
	return id
}

func (m *memStore) linkWard(guardianID, studentID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.wards[guardianID] = append(m.st.wards[guardianID], studentID)
}

func (m *memStore) obligation(id uuid.UUID) model.Obligation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.obligations[id]
}

func (m *memStore) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.events)
}

func enrollmentKey(courseID uuid.UUID, period string) string {
	return courseID.String() + "|" + period
}

type memQueries struct {
	st    *memState
	store *memStore
	tx    bool
}

func (q memQueries) enter() func() {
	if q.tx {
		return func() {}
	}
	q.store.mu.Lock()
	return q.store.mu.Unlock
}

func (q memQueries) fault(name string) error {
	return q.store.faults[name]
}

func (q memQueries) GetFeeDefinition(_ context.Context, id uuid.UUID) (model.FeeDefinition, error) {
	defer q.enter()()
	def, ok := q.st.definitions[id]
	if !ok {
		return model.FeeDefinition{}, apperr.ErrNotFound
	}
	return def, nil
}

func (q memQueries) GetFeeDefinitionForShare(ctx context.Context, id uuid.UUID) (model.FeeDefinition, error) {
	return q.GetFeeDefinition(ctx, id)
}

func (q memQueries) LockFeeDefinition(ctx context.Context, id uuid.UUID) (model.FeeDefinition, error) {
	return q.GetFeeDefinition(ctx, id)
}

func (q memQueries) ListFeeDefinitions(_ context.Context, tenantID uuid.UUID, courseID *uuid.UUID, period string) ([]model.FeeDefinition, error) {
	defer q.enter()()
	var out []model.FeeDefinition
	for _, def := range q.st.definitions {
		if def.TenantID != tenantID {
			continue
		}
		if courseID != nil && def.CourseID != *courseID {
			continue
		}
		if period != "" && def.Period != period {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (q memQueries) InsertFeeDefinition(_ context.Context, def model.FeeDefinition) error {
	defer q.enter()()
	q.st.definitions[def.ID] = def
	return nil
}

func (q memQueries) UpdateFeeDefinition(_ context.Context, def model.FeeDefinition) error {
	defer q.enter()()
	if _, ok := q.st.definitions[def.ID]; !ok {
		return apperr.ErrNotFound
	}
	q.st.definitions[def.ID] = def
	return nil
}

func (q memQueries) CountDefinitionPayments(_ context.Context, definitionID uuid.UUID) (int64, error) {
	defer q.enter()()
	var n int64
	for _, ev := range q.st.events {
		if q.st.obligations[ev.ObligationID].FeeDefinitionID == definitionID {
			n++
		}
	}
	return n, nil
}

func (q memQueries) ListCohort(_ context.Context, tenantID uuid.UUID, sel model.CohortSelector) ([]uuid.UUID, error) {
	defer q.enter()()
	wanted := map[uuid.UUID]bool{}
	for _, id := range sel.StudentIDs {
		wanted[id] = true
	}
	var out []uuid.UUID
	for id, learner := range q.st.learners {
		if learner.tenantID != tenantID || !learner.enrolled[enrollmentKey(sel.CourseID, sel.Period)] {
			continue
		}
		if !learner.active && !sel.IncludeInactive {
			continue
		}
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (q memQueries) InsertObligation(_ context.Context, ob model.Obligation) (bool, error) {
	defer q.enter()()
	if err := q.fault("InsertObligation"); err != nil {
		return false, err
	}
	for _, existing := range q.st.obligations {
		if existing.StudentID == ob.StudentID && existing.FeeDefinitionID == ob.FeeDefinitionID {
			return false, nil
		}
	}
	q.st.obligations[ob.ID] = ob
	return true, nil
}

func (q memQueries) GetObligation(_ context.Context, id uuid.UUID) (model.Obligation, error) {
	defer q.enter()()
	ob, ok := q.st.obligations[id]
	if !ok {
		return model.Obligation{}, apperr.ErrNotFound
	}
	return ob, nil
}

func (q memQueries) LockObligation(ctx context.Context, id uuid.UUID) (model.Obligation, error) {
	return q.GetObligation(ctx, id)
}

func (q memQueries) UpdateObligationBalance(_ context.Context, ob model.Obligation) error {
	defer q.enter()()
	if err := q.fault("UpdateObligationBalance"); err != nil {
		return err
	}
	if ob.AmountPaid.IsNegative() || ob.AmountPaid.GreaterThan(ob.BilledAmount) {
		return errors.New("check constraint violated: amount_paid bounds")
	}
	q.st.obligations[ob.ID] = ob
	return nil
}

func (q memQueries) ListObligations(_ context.Context, filter model.ObligationFilter) ([]model.Obligation, error) {
	defer q.enter()()
	students := map[uuid.UUID]bool{}
	for _, id := range filter.StudentIDs {
		students[id] = true
	}
	var out []model.Obligation
	for _, ob := range q.st.obligations {
		if ob.TenantID != filter.TenantID {
			continue
		}
		if filter.StudentIDs != nil && !students[ob.StudentID] {
			continue
		}
		if filter.FeeDefinitionID != nil && ob.FeeDefinitionID != *filter.FeeDefinitionID {
			continue
		}
		if filter.Status != nil && ob.Status != *filter.Status {
			continue
		}
		out = append(out, ob)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if filter.Limit > 0 && len(out) > int(filter.Limit) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (q memQueries) MarkOverdue(_ context.Context, today time.Time) (int64, error) {
	defer q.enter()()
	var n int64
	for id, ob := range q.st.obligations {
		if ob.DueDate == nil || !ob.DueDate.Before(today) {
			continue
		}
		if ob.Status == model.ObligationDue || ob.Status == model.ObligationPartial {
			ob.Status = model.ObligationOverdue
			q.st.obligations[id] = ob
			n++
		}
	}
	return n, nil
}

func (q memQueries) InsertPaymentEvent(_ context.Context, ev model.PaymentEvent) error {
	defer q.enter()()
	if err := q.fault("InsertPaymentEvent"); err != nil {
		return err
	}
	for _, existing := range q.st.events {
		if ev.Reference != "" && existing.TenantID == ev.TenantID && existing.Reference == ev.Reference {
			return apperr.ErrDuplicatePayment
		}
		if ev.ReversesEventID != nil && existing.ReversesEventID != nil && *existing.ReversesEventID == *ev.ReversesEventID {
			return apperr.ErrAlreadyReversed
		}
	}
	q.st.events = append(q.st.events, ev)
	return nil
}

func (q memQueries) LockPaymentEvent(_ context.Context, id uuid.UUID) (model.PaymentEvent, error) {
	defer q.enter()()
	for _, ev := range q.st.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return model.PaymentEvent{}, apperr.ErrNotFound
}

func (q memQueries) PaymentReversed(_ context.Context, eventID uuid.UUID) (bool, error) {
	defer q.enter()()
	for _, ev := range q.st.events {
		if ev.ReversesEventID != nil && *ev.ReversesEventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (q memQueries) PaymentReferenceExists(_ context.Context, tenantID uuid.UUID, reference string) (bool, error) {
	defer q.enter()()
	for _, ev := range q.st.events {
		if ev.TenantID == tenantID && ev.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (q memQueries) ListPaymentEvents(_ context.Context, obligationID uuid.UUID) ([]model.PaymentEvent, error) {
	defer q.enter()()
	var out []model.PaymentEvent
	for _, ev := range q.st.events {
		if ev.ObligationID == obligationID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (q memQueries) ListGuardianStudents(_ context.Context, guardianID uuid.UUID) ([]uuid.UUID, error) {
	defer q.enter()()
	return append([]uuid.UUID(nil), q.st.wards[guardianID]...), nil
}

func (q memQueries) OutstandingBalances(_ context.Context, tenantID uuid.UUID, courseID *uuid.UUID) ([]model.StudentBalance, error) {
	defer q.enter()()
	byStudent := map[uuid.UUID]*model.StudentBalance{}
	for _, ob := range q.st.obligations {
		if ob.TenantID != tenantID {
			continue
		}
		if courseID != nil && q.st.definitions[ob.FeeDefinitionID].CourseID != *courseID {
			continue
		}
		row, ok := byStudent[ob.StudentID]
		if !ok {
			row = &model.StudentBalance{StudentID: ob.StudentID}
			byStudent[ob.StudentID] = row
		}
		row.Billed = row.Billed.Add(ob.BilledAmount)
		row.Paid = row.Paid.Add(ob.AmountPaid)
		row.Outstanding = row.Billed.Sub(row.Paid)
		row.Obligations++
	}
	out := make([]model.StudentBalance, 0, len(byStudent))
	for _, row := range byStudent {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID.String() < out[j].StudentID.String() })
	return out, nil
}

func (q memQueries) CollectedTotal(_ context.Context, tenantID uuid.UUID, period string, from, to *time.Time) (model.CollectedTotal, error) {
	defer q.enter()()
	total := model.CollectedTotal{TenantID: tenantID, Period: period, Total: decimal.Zero, From: from, To: to}
	for _, ev := range q.st.events {
		if ev.TenantID != tenantID {
			continue
		}
		if period != "" && q.st.definitions[q.st.obligations[ev.ObligationID].FeeDefinitionID].Period != period {
			continue
		}
		if from != nil && ev.PaidOn.Before(*from) {
			continue
		}
		if to != nil && ev.PaidOn.After(*to) {
			continue
		}
		total.Total = total.Total.Add(ev.Amount)
		total.Payments++
	}
	return total, nil
}
