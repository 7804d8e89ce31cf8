package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

type Tenant struct {
	ID           uuid.UUID
	Name         string
	Subscription SubscriptionStatus
	SeatLimit    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (t Tenant) Active() bool {
	return t.Subscription == SubscriptionActive
}

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
	UserDeleted  UserStatus = "deleted"
)

func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserInactive || s == UserDeleted
}

type User struct {
	ID uuid.UUID
	// TenantID is nil only for platform-super users.
	TenantID     *uuid.UUID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type FeeDefinition struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	CourseID  uuid.UUID
	Period    string
	Category  string
	Amount    decimal.Decimal
	DueDate   *time.Time
	Optional  bool
	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ObligationStatus string

const (
	ObligationDue     ObligationStatus = "due"
	ObligationPartial ObligationStatus = "partial"
	ObligationPaid    ObligationStatus = "paid"
	ObligationOverdue ObligationStatus = "overdue"
)

func (s ObligationStatus) Valid() bool {
	switch s {
	case ObligationDue, ObligationPartial, ObligationPaid, ObligationOverdue:
		return true
	}
	return false
}

type Obligation struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	FeeDefinitionID uuid.UUID
	StudentID       uuid.UUID
	DueDate         *time.Time
	BilledAmount    decimal.Decimal
	AmountPaid      decimal.Decimal
	Status          ObligationStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (o Obligation) Outstanding() decimal.Decimal {
	return o.BilledAmount.Sub(o.AmountPaid)
}

// PaymentEvent is append-only. Reversals carry a negative amount and point
// at the event they offset.
type PaymentEvent struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	ObligationID    uuid.UUID
	Amount          decimal.Decimal
	PaidOn          time.Time
	Method          string
	Reference       string
	RecordedBy      uuid.UUID
	ReversesEventID *uuid.UUID
	Note            string
	CreatedAt       time.Time
}

func (e PaymentEvent) IsReversal() bool {
	return e.ReversesEventID != nil
}

// Enrollment places a learner in a course for one academic period. Cohort
// selection for fee assignment reads these rows.
type Enrollment struct {
	TenantID   uuid.UUID
	StudentID  uuid.UUID
	CourseID   uuid.UUID
	Period     string
	Active     bool
	EnrolledAt time.Time
}

// CohortSelector picks the learners a fee definition is assigned to.
type CohortSelector struct {
	CourseID        uuid.UUID
	Period          string
	StudentIDs      []uuid.UUID
	IncludeInactive bool
}

// ObligationFilter is always bound to one tenant by the ledger before it
// reaches a store.
type ObligationFilter struct {
	TenantID        uuid.UUID
	StudentIDs      []uuid.UUID
	FeeDefinitionID *uuid.UUID
	Status          *ObligationStatus
	Limit           int32
}

type StudentBalance struct {
	StudentID   uuid.UUID
	Billed      decimal.Decimal
	Paid        decimal.Decimal
	Outstanding decimal.Decimal
	Obligations int
	Overdue     int
}

type CollectedTotal struct {
	TenantID uuid.UUID
	Period   string
	Total    decimal.Decimal
	Payments int
	From     *time.Time
	To       *time.Time
}
