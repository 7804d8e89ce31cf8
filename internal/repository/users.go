package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/db"
	"semaphore/bursar/internal/model"
)

// Store serves the identity service and the guard's user lookup.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `id, tenant_id, email, password_hash, first_name, last_name, role, status, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var (
		user model.User
		role string
	)
	err := row.Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return model.User{}, err
	}
	user.Role, err = model.ParseRole(role)
	return user, err
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return user, wrap(err, "get user")
}

func (s *Store) FindUserByEmail(ctx context.Context, tenantID *uuid.UUID, email string) (model.User, error) {
	var row pgx.Row
	if tenantID == nil {
		row = s.pool.QueryRow(ctx, `
      SELECT `+userColumns+`
      FROM users
      WHERE tenant_id IS NULL AND lower(email) = lower($1) AND status <> 'deleted'
    `, email)
	} else {
		row = s.pool.QueryRow(ctx, `
      SELECT `+userColumns+`
      FROM users
      WHERE tenant_id = $1 AND lower(email) = lower($2) AND status <> 'deleted'
    `, *tenantID, email)
	}
	user, err := scanUser(row)
	return user, wrap(err, "find user by email")
}

// CreateUser locks the tenant row so concurrent creations cannot both take
// the last seat. Every non-deleted user holds a seat, inactive ones included.
// A seat limit of zero means unlimited.
func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if user.TenantID != nil {
			var limit int
			if err := tx.QueryRow(ctx, `SELECT seat_limit FROM tenants WHERE id = $1 FOR UPDATE`, *user.TenantID).Scan(&limit); err != nil {
				return err
			}
			if limit > 0 {
				var used int
				if err := tx.QueryRow(ctx, `SELECT count(*) FROM users WHERE tenant_id = $1 AND status <> 'deleted'`, *user.TenantID).Scan(&used); err != nil {
					return err
				}
				if used >= limit {
					return apperr.ErrSeatLimitReached
				}
			}
		}
		_, err := tx.Exec(ctx, `
      INSERT INTO users (`+userColumns+`)
      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, user.ID, user.TenantID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
			user.Role.String(), string(user.Status), user.CreatedAt, user.UpdatedAt)
		return err
	})
	return wrap(err, "create user")
}

func (s *Store) UpdateUserStatus(ctx context.Context, id uuid.UUID, status model.UserStatus, at time.Time) error {
	return s.execOne(ctx, "update user status", `UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
}

func (s *Store) UpdateUserRole(ctx context.Context, id uuid.UUID, role model.Role, at time.Time) error {
	return s.execOne(ctx, "update user role", `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`, id, role.String(), at)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, at time.Time) error {
	return s.execOne(ctx, "update password", `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, at)
}

func (s *Store) LinkGuardian(ctx context.Context, guardianID, studentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO guardian_students (guardian_id, student_id)
    VALUES ($1, $2)
    ON CONFLICT DO NOTHING
  `, guardianID, studentID)
	return wrap(err, "link guardian")
}

func (s *Store) UpsertEnrollment(ctx context.Context, e model.Enrollment) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO enrollments (tenant_id, student_id, course_id, period, active, enrolled_at)
    VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (student_id, course_id, period) DO UPDATE SET active = EXCLUDED.active
  `, e.TenantID, e.StudentID, e.CourseID, e.Period, e.Active, e.EnrolledAt)
	return wrap(err, "upsert enrollment")
}

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error) {
	var tenant model.Tenant
	err := s.pool.QueryRow(ctx, `
    SELECT id, name, subscription, seat_limit, created_at, updated_at
    FROM tenants
    WHERE id = $1
  `, id).Scan(&tenant.ID, &tenant.Name, &tenant.Subscription, &tenant.SeatLimit, &tenant.CreatedAt, &tenant.UpdatedAt)
	return tenant, wrap(err, "get tenant")
}

func (s *Store) CreateTenant(ctx context.Context, t model.Tenant) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO tenants (id, name, subscription, seat_limit, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6)
  `, t.ID, t.Name, string(t.Subscription), t.SeatLimit, t.CreatedAt, t.UpdatedAt)
	return wrap(err, "create tenant")
}

func (s *Store) UpdateTenant(ctx context.Context, t model.Tenant) error {
	return s.execOne(ctx, "update tenant", `
    UPDATE tenants SET name = $2, subscription = $3, seat_limit = $4, updated_at = $5
    WHERE id = $1
  `, t.ID, t.Name, string(t.Subscription), t.SeatLimit, t.UpdatedAt)
}

// Ping reports database reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.pool.Ping(ctx), "ping")
}

func (s *Store) execOne(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return wrap(err, op)
	}
	if tag.RowsAffected() == 0 {
		return wrap(apperr.ErrNotFound, op)
	}
	return nil
}
