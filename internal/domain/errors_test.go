package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil error", err: nil, want: ""},
		{name: "invalid request", err: fmt.Errorf("%w: items[0]: quantity must be greater than zero", ErrInvalidRequest), want: KindInvalidRequest},
		{name: "customer", err: &CustomerNotFoundError{CustomerID: "c-1"}, want: KindCustomerNotFound},
		{name: "product", err: &ProductNotFoundError{ProductID: "p-1"}, want: KindProductNotFound},
		{name: "stock", err: &InsufficientStockError{ProductID: "p-1", Available: 1, Requested: 2}, want: KindInsufficientStock},
		{name: "order not found", err: ErrOrderNotFound, want: KindOrderNotFound},
		{name: "transition", err: &TransitionError{OrderID: "o-1", From: OrderStatusCancelled, To: OrderStatusCancelled}, want: KindOrderFinalized},
		{name: "transient", err: fmt.Errorf("%w: begin tx: %w", ErrTransientStoreFailure, errors.New("conn refused")), want: KindTransientStoreFailure},
		{name: "invariant", err: fmt.Errorf("%w: %w", ErrInvariantViolation, ErrAmountMismatch), want: KindInvariantViolation},
		{name: "unknown", err: errors.New("boom"), want: KindTransientStoreFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorKind_Rejected(t *testing.T) {
	for _, kind := range []ErrorKind{KindInvalidRequest, KindCustomerNotFound, KindProductNotFound, KindInsufficientStock, KindOrderNotFound, KindOrderFinalized} {
		if !kind.Rejected() {
			t.Errorf("kind %q must be a rejection", kind)
		}
	}
	for _, kind := range []ErrorKind{KindTransientStoreFailure, KindInvariantViolation} {
		if kind.Rejected() {
			t.Errorf("kind %q must be a failure", kind)
		}
	}
}

func TestTransitionError_MatchesFinalizedAndNotFound(t *testing.T) {
	err := fmt.Errorf("update status: %w", &TransitionError{OrderID: "o-1", From: OrderStatusCompleted, To: OrderStatusCancelled})

	if !errors.Is(err, ErrOrderFinalized) {
		t.Fatal("expected ErrOrderFinalized match")
	}
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatal("expected ErrOrderNotFound match")
	}

	var transition *TransitionError
	if !errors.As(err, &transition) || transition.From != OrderStatusCompleted {
		t.Fatalf("unexpected transition error: %v", transition)
	}
}

func TestInsufficientStockError_Message(t *testing.T) {
	err := &InsufficientStockError{ProductID: "p-1", ProductName: "Keyboard", Available: 3, Requested: 5}
	if got, want := err.Error(), "insufficient stock for Keyboard: available 3, requested 5"; got != want {
		t.Fatalf("unexpected message %q, want %q", got, want)
	}

	noName := &InsufficientStockError{ProductID: "p-1", Available: 0, Requested: 1}
	if got, want := noName.Error(), "insufficient stock for p-1: available 0, requested 1"; got != want {
		t.Fatalf("unexpected message %q, want %q", got, want)
	}
}

func TestIsDomainError(t *testing.T) {
	if !IsDomainError(&ProductNotFoundError{ProductID: "p"}) {
		t.Fatal("product not found must be a domain error")
	}
	if IsDomainError(errors.New("driver: bad connection")) {
		t.Fatal("raw driver error must not be a domain error")
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "idempotency already exists",
			err:  ErrIdempotencyKeyAlreadyExists,
			want: true,
		},
		{
			name: "idempotency hash mismatch",
			err:  ErrIdempotencyHashMismatch,
			want: true,
		},
		{
			name: "wrapped idempotency conflict",
			err:  errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
			want: true,
		},
		{
			name: "non idempotency error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsIdempotencyConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}
