package apperr

import (
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	wrapped := fmt.Errorf("record payment: %w", ErrOverpaymentRejected)
	if KindOf(wrapped) != KindLedgerInvariant {
		t.Fatalf("expected ledger invariant, got %s", KindOf(wrapped))
	}
	if KindOf(fmt.Errorf("boom")) != KindInternal {
		t.Fatalf("expected plain errors to be internal")
	}
}

func TestValidationFields(t *testing.T) {
	err := Validation(FieldError{Field: "amount", Message: "must be positive"}, FieldError{Field: "method", Message: "required"})
	if err.Kind != KindValidation {
		t.Fatalf("expected validation kind")
	}
	if len(err.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(err.Fields))
	}
	if err.Message != "invalid fields: amount, method" {
		t.Fatalf("unexpected message %q", err.Message)
	}
}
