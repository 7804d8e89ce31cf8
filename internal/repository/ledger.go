package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"semaphore/bursar/internal/db"
	"semaphore/bursar/internal/ledger"
	"semaphore/bursar/internal/model"
)

// LedgerStore implements ledger.Store. Lock methods use row locks, so the
// ledger's read-check-write sequences serialize per obligation inside
// WithTx while unrelated obligations proceed in parallel.
type LedgerStore struct {
	*ledgerQueries
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{ledgerQueries: &ledgerQueries{db: pool}, pool: pool}
}

func (s *LedgerStore) WithTx(ctx context.Context, fn func(ledger.Queries) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&ledgerQueries{db: tx})
	})
	return wrap(err, "ledger tx")
}

type ledgerQueries struct {
	db db.DBTX
}

var _ ledger.Store = (*LedgerStore)(nil)

const definitionColumns = `id, tenant_id, course_id, period, category, amount, due_date, optional, created_by, created_at, updated_at`

func scanDefinition(row pgx.Row) (model.FeeDefinition, error) {
	var def model.FeeDefinition
	err := row.Scan(&def.ID, &def.TenantID, &def.CourseID, &def.Period, &def.Category, &def.Amount,
		&def.DueDate, &def.Optional, &def.CreatedBy, &def.CreatedAt, &def.UpdatedAt)
	return def, err
}

func (q *ledgerQueries) getDefinition(ctx context.Context, op, lock string, id uuid.UUID) (model.FeeDefinition, error) {
	def, err := scanDefinition(q.db.QueryRow(ctx, `SELECT `+definitionColumns+` FROM fee_definitions WHERE id = $1`+lock, id))
	return def, wrap(err, op)
}

func (q *ledgerQueries) GetFeeDefinition(ctx context.Context, id uuid.UUID) (model.FeeDefinition, error) {
	return q.getDefinition(ctx, "get fee definition", "", id)
}

func (q *ledgerQueries) GetFeeDefinitionForShare(ctx context.Context, id uuid.UUID) (model.FeeDefinition, error) {
	return q.getDefinition(ctx, "share fee definition", " FOR SHARE", id)
}

func (q *ledgerQueries) LockFeeDefinition(ctx context.Context, id uuid.UUID) (model.FeeDefinition, error) {
	return q.getDefinition(ctx, "lock fee definition", " FOR UPDATE", id)
}

func (q *ledgerQueries) ListFeeDefinitions(ctx context.Context, tenantID uuid.UUID, courseID *uuid.UUID, period string) ([]model.FeeDefinition, error) {
	rows, err := q.db.Query(ctx, `
    SELECT `+definitionColumns+`
    FROM fee_definitions
    WHERE tenant_id = $1
      AND ($2::uuid IS NULL OR course_id = $2)
      AND ($3 = '' OR period = $3)
    ORDER BY period DESC, category, created_at
  `, tenantID, courseID, period)
	if err != nil {
		return nil, wrap(err, "list fee definitions")
	}
	defer rows.Close()

	defs := []model.FeeDefinition{}
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, wrap(err, "scan fee definition")
		}
		defs = append(defs, def)
	}
	return defs, wrap(rows.Err(), "list fee definitions")
}

func (q *ledgerQueries) InsertFeeDefinition(ctx context.Context, d model.FeeDefinition) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO fee_definitions (`+definitionColumns+`)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
  `, d.ID, d.TenantID, d.CourseID, d.Period, d.Category, d.Amount, d.DueDate, d.Optional, d.CreatedBy, d.CreatedAt, d.UpdatedAt)
	return wrap(err, "insert fee definition")
}

func (q *ledgerQueries) UpdateFeeDefinition(ctx context.Context, d model.FeeDefinition) error {
	_, err := q.db.Exec(ctx, `
    UPDATE fee_definitions
    SET category = $2, amount = $3, due_date = $4, optional = $5, updated_at = $6
    WHERE id = $1
  `, d.ID, d.Category, d.Amount, d.DueDate, d.Optional, d.UpdatedAt)
	return wrap(err, "update fee definition")
}

func (q *ledgerQueries) CountDefinitionPayments(ctx context.Context, definitionID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `
    SELECT count(*)
    FROM payment_events e
    JOIN student_fee_obligations o ON o.id = e.obligation_id
    WHERE o.fee_definition_id = $1
  `, definitionID).Scan(&n)
	return n, wrap(err, "count definition payments")
}

// ListCohort only matches learners of tenantID, so explicit ids from
// another tenant silently drop out.
func (q *ledgerQueries) ListCohort(ctx context.Context, tenantID uuid.UUID, sel model.CohortSelector) ([]uuid.UUID, error) {
	ids := sel.StudentIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	rows, err := q.db.Query(ctx, `
    SELECT DISTINCT e.student_id
    FROM enrollments e
    JOIN users u ON u.id = e.student_id
    WHERE e.tenant_id = $1
      AND u.tenant_id = $1
      AND u.role = 'learner'
      AND u.status <> 'deleted'
      AND e.course_id = $2
      AND e.period = $3
      AND ($4 OR (e.active AND u.status = 'active'))
      AND (cardinality($5::uuid[]) = 0 OR e.student_id = ANY($5::uuid[]))
    ORDER BY e.student_id
  `, tenantID, sel.CourseID, sel.Period, sel.IncludeInactive, ids)
	if err != nil {
		return nil, wrap(err, "list cohort")
	}
	students, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return students, wrap(err, "list cohort")
}

const obligationColumns = `id, tenant_id, fee_definition_id, student_id, due_date, billed_amount, amount_paid, status, created_at, updated_at`

func scanObligation(row pgx.Row) (model.Obligation, error) {
	var ob model.Obligation
	err := row.Scan(&ob.ID, &ob.TenantID, &ob.FeeDefinitionID, &ob.StudentID, &ob.DueDate,
		&ob.BilledAmount, &ob.AmountPaid, &ob.Status, &ob.CreatedAt, &ob.UpdatedAt)
	return ob, err
}

func (q *ledgerQueries) InsertObligation(ctx context.Context, ob model.Obligation) (bool, error) {
	tag, err := q.db.Exec(ctx, `
    INSERT INTO student_fee_obligations (`+obligationColumns+`)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    ON CONFLICT ON CONSTRAINT obligations_student_fee_uniq DO NOTHING
  `, ob.ID, ob.TenantID, ob.FeeDefinitionID, ob.StudentID, ob.DueDate, ob.BilledAmount, ob.AmountPaid,
		string(ob.Status), ob.CreatedAt, ob.UpdatedAt)
	if err != nil {
		return false, wrap(err, "insert obligation")
	}
	return tag.RowsAffected() == 1, nil
}

func (q *ledgerQueries) GetObligation(ctx context.Context, id uuid.UUID) (model.Obligation, error) {
	ob, err := scanObligation(q.db.QueryRow(ctx, `SELECT `+obligationColumns+` FROM student_fee_obligations WHERE id = $1`, id))
	return ob, wrap(err, "get obligation")
}

func (q *ledgerQueries) LockObligation(ctx context.Context, id uuid.UUID) (model.Obligation, error) {
	ob, err := scanObligation(q.db.QueryRow(ctx, `SELECT `+obligationColumns+` FROM student_fee_obligations WHERE id = $1 FOR UPDATE`, id))
	return ob, wrap(err, "lock obligation")
}

func (q *ledgerQueries) UpdateObligationBalance(ctx context.Context, ob model.Obligation) error {
	_, err := q.db.Exec(ctx, `
    UPDATE student_fee_obligations
    SET amount_paid = $2, status = $3, updated_at = $4
    WHERE id = $1
  `, ob.ID, ob.AmountPaid, string(ob.Status), ob.UpdatedAt)
	return wrap(err, "update obligation balance")
}

func (q *ledgerQueries) ListObligations(ctx context.Context, f model.ObligationFilter) ([]model.Obligation, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	rows, err := q.db.Query(ctx, `
    SELECT `+obligationColumns+`
    FROM student_fee_obligations
    WHERE tenant_id = $1
      AND ($2::uuid[] IS NULL OR student_id = ANY($2::uuid[]))
      AND ($3::uuid IS NULL OR fee_definition_id = $3)
      AND ($4::text IS NULL OR status = $4)
    ORDER BY due_date NULLS LAST, created_at, id
    LIMIT $5
  `, f.TenantID, f.StudentIDs, f.FeeDefinitionID, status, f.Limit)
	if err != nil {
		return nil, wrap(err, "list obligations")
	}
	defer rows.Close()

	obligations := []model.Obligation{}
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, wrap(err, "scan obligation")
		}
		obligations = append(obligations, ob)
	}
	return obligations, wrap(rows.Err(), "list obligations")
}

func (q *ledgerQueries) MarkOverdue(ctx context.Context, today time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE student_fee_obligations
    SET status = 'overdue', updated_at = now()
    WHERE status IN ('due', 'partial') AND due_date < $1
  `, today)
	if err != nil {
		return 0, wrap(err, "mark overdue")
	}
	return tag.RowsAffected(), nil
}

const eventColumns = `id, tenant_id, obligation_id, amount, paid_on, method, reference, recorded_by, reverses_event_id, note, created_at`

func scanEvent(row pgx.Row) (model.PaymentEvent, error) {
	var ev model.PaymentEvent
	err := row.Scan(&ev.ID, &ev.TenantID, &ev.ObligationID, &ev.Amount, &ev.PaidOn, &ev.Method,
		&ev.Reference, &ev.RecordedBy, &ev.ReversesEventID, &ev.Note, &ev.CreatedAt)
	return ev, err
}

func (q *ledgerQueries) InsertPaymentEvent(ctx context.Context, ev model.PaymentEvent) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO payment_events (`+eventColumns+`)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
  `, ev.ID, ev.TenantID, ev.ObligationID, ev.Amount, ev.PaidOn, ev.Method, ev.Reference, ev.RecordedBy,
		ev.ReversesEventID, ev.Note, ev.CreatedAt)
	return wrap(err, "insert payment event")
}

func (q *ledgerQueries) LockPaymentEvent(ctx context.Context, id uuid.UUID) (model.PaymentEvent, error) {
	ev, err := scanEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM payment_events WHERE id = $1 FOR UPDATE`, id))
	return ev, wrap(err, "lock payment event")
}

func (q *ledgerQueries) PaymentReversed(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_events WHERE reverses_event_id = $1)`, eventID).Scan(&exists)
	return exists, wrap(err, "payment reversed")
}

func (q *ledgerQueries) PaymentReferenceExists(ctx context.Context, tenantID uuid.UUID, reference string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
    SELECT EXISTS (SELECT 1 FROM payment_events WHERE tenant_id = $1 AND reference = $2)
  `, tenantID, reference).Scan(&exists)
	return exists, wrap(err, "payment reference exists")
}

func (q *ledgerQueries) ListPaymentEvents(ctx context.Context, obligationID uuid.UUID) ([]model.PaymentEvent, error) {
	rows, err := q.db.Query(ctx, `
    SELECT `+eventColumns+`
    FROM payment_events
    WHERE obligation_id = $1
    ORDER BY created_at, id
  `, obligationID)
	if err != nil {
		return nil, wrap(err, "list payment events")
	}
	defer rows.Close()

	events := []model.PaymentEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, wrap(err, "scan payment event")
		}
		events = append(events, ev)
	}
	return events, wrap(rows.Err(), "list payment events")
}

func (q *ledgerQueries) ListGuardianStudents(ctx context.Context, guardianID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
    SELECT g.student_id
    FROM guardian_students g
    JOIN users u ON u.id = g.student_id
    WHERE g.guardian_id = $1 AND u.status <> 'deleted'
    ORDER BY g.student_id
  `, guardianID)
	if err != nil {
		return nil, wrap(err, "list guardian students")
	}
	students, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return students, wrap(err, "list guardian students")
}

func (q *ledgerQueries) OutstandingBalances(ctx context.Context, tenantID uuid.UUID, courseID *uuid.UUID) ([]model.StudentBalance, error) {
	rows, err := q.db.Query(ctx, `
    SELECT o.student_id,
           sum(o.billed_amount),
           sum(o.amount_paid),
           sum(o.billed_amount - o.amount_paid),
           count(*)
    FROM student_fee_obligations o
    JOIN fee_definitions d ON d.id = o.fee_definition_id
    WHERE o.tenant_id = $1
      AND ($2::uuid IS NULL OR d.course_id = $2)
    GROUP BY o.student_id
    ORDER BY o.student_id
  `, tenantID, courseID)
	if err != nil {
		return nil, wrap(err, "outstanding balances")
	}
	defer rows.Close()

	balances := []model.StudentBalance{}
	for rows.Next() {
		var b model.StudentBalance
		if err := rows.Scan(&b.StudentID, &b.Billed, &b.Paid, &b.Outstanding, &b.Obligations); err != nil {
			return nil, wrap(err, "scan balance")
		}
		balances = append(balances, b)
	}
	return balances, wrap(rows.Err(), "outstanding balances")
}

func (q *ledgerQueries) CollectedTotal(ctx context.Context, tenantID uuid.UUID, period string, from, to *time.Time) (model.CollectedTotal, error) {
	total := model.CollectedTotal{TenantID: tenantID, Period: period, From: from, To: to}
	var sum decimal.NullDecimal
	err := q.db.QueryRow(ctx, `
    SELECT sum(e.amount), count(*)
    FROM payment_events e
    JOIN student_fee_obligations o ON o.id = e.obligation_id
    JOIN fee_definitions d ON d.id = o.fee_definition_id
    WHERE e.tenant_id = $1
      AND ($2 = '' OR d.period = $2)
      AND ($3::date IS NULL OR e.paid_on >= $3)
      AND ($4::date IS NULL OR e.paid_on <= $4)
  `, tenantID, period, from, to).Scan(&sum, &total.Payments)
	if err != nil {
		return model.CollectedTotal{}, wrap(err, "collected total")
	}
	total.Total = decimal.Zero
	if sum.Valid {
		total.Total = sum.Decimal
	}
	return total, nil
}
