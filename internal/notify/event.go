package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	ObligationCreated EventType = "obligation.created"
	PaymentRecorded   EventType = "payment.recorded"
	PaymentReversed   EventType = "payment.reversed"
)

type Event struct {
	Type         EventType       `json:"type"`
	TenantID     uuid.UUID       `json:"tenantId"`
	ObligationID uuid.UUID       `json:"obligationId"`
	StudentID    uuid.UUID       `json:"studentId"`
	PaymentID    *uuid.UUID      `json:"paymentId,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// Sink delivers one event synchronously.
type Sink interface {
	Send(ctx context.Context, event Event) error
}
