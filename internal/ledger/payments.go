package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/guard"
	"semaphore/bursar/internal/metrics"
	"semaphore/bursar/internal/model"
	"semaphore/bursar/internal/notify"
)

var paymentMethods = map[string]bool{
	"cash":          true,
	"bank_transfer": true,
	"card":          true,
	"mobile_money":  true,
	"cheque":        true,
	"online":        true,
}

const maxReferenceLength = 128

type PaymentInput struct {
	Amount decimal.Decimal
	PaidOn time.Time
	Method string
	// Reference is the external transaction id. When set it is unique per
	// tenant, which makes a retried request safe.
	Reference string
	Note      string
}

type PaymentResult struct {
	Obligation model.Obligation
	Event      model.PaymentEvent
}

// RecordPayment credits amount to the obligation. The obligation row is
// locked for the whole read-check-write so concurrent payments serialize,
// and the balance update and the event insert commit together or not at all.
//
// It is never retried internally. Callers may retry a transient failure when
// they send a reference.
func (s *Service) RecordPayment(ctx context.Context, user guard.AuthenticatedUser, obligationID uuid.UUID, in PaymentInput) (PaymentResult, error) {
	const op = "record_payment"
	in, err := s.normalizePayment(in)
	if err != nil {
		return PaymentResult{}, err
	}

	var result PaymentResult
	err = s.store.WithTx(ctx, func(q Queries) error {
		ob, err := q.LockObligation(ctx, obligationID)
		if err != nil {
			return err
		}
		if err := s.authorize(user, op, ob.TenantID, collectors...); err != nil {
			return err
		}
		// Holds off definition edits until this payment commits.
		if _, err := q.GetFeeDefinitionForShare(ctx, ob.FeeDefinitionID); err != nil {
			return err
		}
		if in.Reference != "" {
			exists, err := q.PaymentReferenceExists(ctx, ob.TenantID, in.Reference)
			if err != nil {
				return err
			}
			if exists {
				return apperr.ErrDuplicatePayment
			}
		}

		now := s.now().UTC()
		updated, err := applyPayment(ob, in.Amount, now)
		if err != nil {
			return err
		}
		event := model.PaymentEvent{
			ID:           uuid.New(),
			TenantID:     ob.TenantID,
			ObligationID: ob.ID,
			Amount:       in.Amount,
			PaidOn:       in.PaidOn,
			Method:       in.Method,
			Reference:    in.Reference,
			RecordedBy:   user.ID,
			Note:         in.Note,
			CreatedAt:    now,
		}
		if err := q.UpdateObligationBalance(ctx, updated); err != nil {
			return err
		}
		if err := q.InsertPaymentEvent(ctx, event); err != nil {
			return err
		}
		result = PaymentResult{Obligation: updated, Event: event}
		return nil
	})
	if err != nil {
		return PaymentResult{}, s.fail(op, err)
	}

	metrics.PaymentsRecorded.Inc()
	s.notifier.Publish(ctx, paymentEvent(notify.PaymentRecorded, result))
	s.log.Info("payment recorded",
		zap.String("obligation_id", obligationID.String()),
		zap.String("payment_id", result.Event.ID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("amount", result.Event.Amount.StringFixed(2)),
		zap.String("status", string(result.Obligation.Status)),
	)
	return result, nil
}

// ReversePayment appends an offsetting negative event for eventID. An event
// is reversed at most once and reversals themselves are final.
func (s *Service) ReversePayment(ctx context.Context, user guard.AuthenticatedUser, eventID uuid.UUID, reason string) (PaymentResult, error) {
	const op = "reverse_payment"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return PaymentResult{}, apperr.Field("reason", "is required")
	}

	var result PaymentResult
	err := s.store.WithTx(ctx, func(q Queries) error {
		original, err := q.LockPaymentEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := s.authorize(user, op, original.TenantID, managers...); err != nil {
			return err
		}
		if original.IsReversal() {
			return apperr.ErrNotReversible
		}
		reversed, err := q.PaymentReversed(ctx, original.ID)
		if err != nil {
			return err
		}
		if reversed {
			return apperr.ErrAlreadyReversed
		}
		ob, err := q.LockObligation(ctx, original.ObligationID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		amount := original.Amount.Neg()
		updated, err := applyPayment(ob, amount, now)
		if err != nil {
			return err
		}
		reverses := original.ID
		event := model.PaymentEvent{
			ID:              uuid.New(),
			TenantID:        original.TenantID,
			ObligationID:    ob.ID,
			Amount:          amount,
			PaidOn:          dateOnly(now),
			Method:          original.Method,
			RecordedBy:      user.ID,
			ReversesEventID: &reverses,
			Note:            reason,
			CreatedAt:       now,
		}
		if err := q.UpdateObligationBalance(ctx, updated); err != nil {
			return err
		}
		if err := q.InsertPaymentEvent(ctx, event); err != nil {
			return err
		}
		result = PaymentResult{Obligation: updated, Event: event}
		return nil
	})
	if err != nil {
		return PaymentResult{}, s.fail(op, err)
	}

	metrics.PaymentsReversed.Inc()
	s.notifier.Publish(ctx, paymentEvent(notify.PaymentReversed, result))
	s.log.Info("payment reversed",
		zap.String("payment_id", eventID.String()),
		zap.String("reversal_id", result.Event.ID.String()),
		zap.String("user_id", user.ID.String()),
	)
	return result, nil
}

func (s *Service) normalizePayment(in PaymentInput) (PaymentInput, error) {
	in.Method = strings.ToLower(strings.TrimSpace(in.Method))
	in.Reference = strings.TrimSpace(in.Reference)
	in.Note = strings.TrimSpace(in.Note)

	var fields []apperr.FieldError
	if msg := amountProblem(in.Amount); msg != "" {
		fields = append(fields, apperr.FieldError{Field: "amount", Message: msg})
	}
	switch {
	case in.PaidOn.IsZero():
		fields = append(fields, apperr.FieldError{Field: "date", Message: "is required"})
	case dateOnly(in.PaidOn).After(s.today()):
		fields = append(fields, apperr.FieldError{Field: "date", Message: "must not be in the future"})
	}
	if in.Method == "" {
		fields = append(fields, apperr.FieldError{Field: "method", Message: "is required"})
	} else if !paymentMethods[in.Method] {
		fields = append(fields, apperr.FieldError{Field: "method", Message: "is not a supported payment method"})
	}
	if len(in.Reference) > maxReferenceLength {
		fields = append(fields, apperr.FieldError{Field: "reference", Message: "is too long"})
	}
	if len(fields) > 0 {
		return in, apperr.Validation(fields...)
	}
	in.PaidOn = dateOnly(in.PaidOn)
	return in, nil
}

func paymentEvent(kind notify.EventType, result PaymentResult) notify.Event {
	paymentID := result.Event.ID
	return notify.Event{
		Type:         kind,
		TenantID:     result.Obligation.TenantID,
		ObligationID: result.Obligation.ID,
		StudentID:    result.Obligation.StudentID,
		PaymentID:    &paymentID,
		Amount:       result.Event.Amount,
		OccurredAt:   result.Event.CreatedAt,
	}
}
