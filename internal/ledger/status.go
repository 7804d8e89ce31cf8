package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/model"
)

var maxAmount = decimal.RequireFromString("9999999999.99")

// DeriveStatus maps a balance to paid, partial or due. Overdue is applied on
// top of it by nextStatus.
func DeriveStatus(paid, billed decimal.Decimal) model.ObligationStatus {
	switch {
	case paid.GreaterThanOrEqual(billed):
		return model.ObligationPaid
	case paid.IsPositive():
		return model.ObligationPartial
	default:
		return model.ObligationDue
	}
}

// nextStatus keeps an obligation overdue until it is fully paid.
func nextStatus(ob model.Obligation, paid decimal.Decimal, today time.Time) model.ObligationStatus {
	status := DeriveStatus(paid, ob.BilledAmount)
	if status == model.ObligationPaid {
		return status
	}
	if ob.Status == model.ObligationOverdue || pastDue(ob.DueDate, today) {
		return model.ObligationOverdue
	}
	return status
}

// applyPayment returns ob after crediting amount, which is negative for a
// reversal. The bounds 0 <= paid <= billed are enforced here.
func applyPayment(ob model.Obligation, amount decimal.Decimal, now time.Time) (model.Obligation, error) {
	paid := ob.AmountPaid.Add(amount)
	if paid.GreaterThan(ob.BilledAmount) {
		return ob, apperr.ErrOverpaymentRejected
	}
	if paid.IsNegative() {
		return ob, apperr.ErrReversalUnderflow
	}
	ob.Status = nextStatus(ob, paid, dateOnly(now))
	ob.AmountPaid = paid
	ob.UpdatedAt = now
	return ob, nil
}

func pastDue(due *time.Time, today time.Time) bool {
	return due != nil && today.After(dateOnly(*due))
}

func amountProblem(amount decimal.Decimal) string {
	switch {
	case !amount.IsPositive():
		return "must be greater than zero"
	case !amount.Equal(amount.Round(2)):
		return "must have at most two decimal places"
	case amount.GreaterThan(maxAmount):
		return "exceeds the maximum amount"
	}
	return ""
}
