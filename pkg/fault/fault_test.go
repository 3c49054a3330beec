package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ClassTransient},
		{"unavailable", ErrUnavailable, ClassTransient},
		{"rate limited", fmt.Errorf("backend: %w", ErrRateLimited), ClassTransient},
		{"malformed", ErrMalformed, ClassPermanent},
		{"invalid arguments", ErrInvalidArguments, ClassPermanent},
		{"unknown error", errors.New("boom"), ClassPermanent},
		{"explicit degraded", New(ClassDegraded, errors.New("store down")), ClassDegraded},
		{"explicit exhausted", Newf(ClassExhausted, "gave up after %d tries", 2), ClassExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(ErrUnavailable) {
		t.Error("unavailable should be retryable")
	}
	if Retryable(ErrInvalidArguments) {
		t.Error("invalid arguments must not be retryable")
	}
	if Retryable(New(ClassExhausted, errors.New("done"))) {
		t.Error("exhausted must not be retryable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("redis: connection refused")
	err := New(ClassTransient, inner)
	if !errors.Is(err, inner) {
		t.Error("classified error should unwrap to the cause")
	}
}
