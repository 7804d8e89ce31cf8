package repository

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"semaphore/bursar/internal/apperr"
)

var uniqueViolations = map[string]error{
	"users_tenant_email_uniq":       apperr.ErrEmailTaken,
	"users_platform_email_uniq":     apperr.ErrEmailTaken,
	"obligations_student_fee_uniq":  apperr.ErrDuplicateObligation,
	"payment_events_reference_uniq": apperr.ErrDuplicatePayment,
	"payment_events_reverses_uniq":  apperr.ErrAlreadyReversed,
}

// wrap maps driver errors onto the apperr taxonomy and annotates them with
// the failing operation.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(classify(err), op)
}

func classify(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if mapped, ok := uniqueViolations[pgErr.ConstraintName]; ok {
				return mapped
			}
		case "40001", "40P01", "55P03", "57P01", "53300":
			// serialization failure, deadlock, lock timeout, admin shutdown,
			// too many connections
			return fmt.Errorf("%w: %s", apperr.ErrTransientStore, pgErr.Message)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", apperr.ErrTransientStore, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %v", apperr.ErrTransientStore, err)
	}
	return err
}
