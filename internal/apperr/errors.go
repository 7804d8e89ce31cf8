// Package apperr holds the error taxonomy shared by the guard, identity and
// ledger layers. Transports map a Kind to a response; callers compare
// sentinels with errors.Is.
package apperr

import (
	"errors"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindLedgerInvariant
	KindConflict
	KindNotFound
	KindTransientStore
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindLedgerInvariant:
		return "ledger_invariant"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransientStore:
		return "transient_store"
	default:
		return "internal"
	}
}

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidToken = newError(KindAuthentication, "invalid_token", "token signature or encoding is invalid")
	ErrExpiredToken = newError(KindAuthentication, "expired_token", "token has expired")
	ErrTokenRevoked = newError(KindAuthentication, "token_revoked", "token has been revoked")
	ErrUserNotFound = newError(KindAuthentication, "user_not_found", "token subject no longer exists")
	ErrUserInactive = newError(KindAuthentication, "user_inactive", "token subject is not active")

	ErrInvalidCredentials = newError(KindAuthentication, "invalid_credentials", "email or password is incorrect")
	ErrTenantInactive     = newError(KindAuthorization, "tenant_inactive", "college subscription is not active")

	ErrInsufficientRole  = newError(KindAuthorization, "insufficient_role", "role not allowed for this operation")
	ErrCrossTenantAccess = newError(KindAuthorization, "cross_tenant_access", "resource belongs to another tenant")

	ErrOverpaymentRejected = newError(KindLedgerInvariant, "overpayment_rejected", "payment exceeds balance due")
	ErrDuplicateObligation = newError(KindLedgerInvariant, "duplicate_obligation", "student already has an obligation for this fee")
	ErrDefinitionLocked    = newError(KindLedgerInvariant, "definition_locked", "fee definition has recorded payments and can no longer change")
	ErrAlreadyReversed     = newError(KindLedgerInvariant, "already_reversed", "payment has already been reversed")
	ErrNotReversible       = newError(KindLedgerInvariant, "not_reversible", "reversal entries cannot be reversed")
	ErrReversalUnderflow   = newError(KindLedgerInvariant, "reversal_underflow", "reversal would push amount paid below zero")

	ErrDuplicatePayment = newError(KindConflict, "duplicate_payment", "a payment with this reference is already recorded")
	ErrSeatLimitReached = newError(KindConflict, "seat_limit_reached", "college has no free seats")
	ErrEmailTaken       = newError(KindConflict, "email_taken", "email already registered")

	ErrNotFound       = newError(KindNotFound, "not_found", "resource not found")
	ErrTransientStore = newError(KindTransientStore, "store_unavailable", "storage temporarily unavailable")
)

// Validation builds a caller-correctable error with field-level detail.
func Validation(fields ...FieldError) *Error {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	return &Error{
		Kind:    KindValidation,
		Code:    "invalid_request",
		Message: "invalid fields: " + strings.Join(names, ", "),
		Fields:  fields,
	}
}

// Field is shorthand for a single-field validation error.
func Field(field, message string) *Error {
	return Validation(FieldError{Field: field, Message: message})
}

// KindOf reports the taxonomy class of err; unknown errors are internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As extracts the *Error carried by err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}
