package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "typed", err: New(KindNoAck, "set_actuator", nil), want: KindNoAck},
		{name: "wrapped typed", err: fmt.Errorf("tick: %w", Store("latest", errors.New("locked"))), want: KindStoreUnavailable},
		{name: "bare sentinel", err: fmt.Errorf("read: %w", ErrTimeout), want: KindTimeout},
		{name: "foreign", err: context.Canceled, want: KindUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf(%v) = %q; want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("port closed")
	err := New(KindNotConnected, "read_level", cause)

	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected errors.Is(ErrNotConnected)")
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("did not expect errors.Is(ErrTimeout)")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	if got := err.Error(); got != "read_level: not connected: port closed" {
		t.Fatalf("unexpected message %q", got)
	}
	if Store("x", nil) != nil {
		t.Fatalf("Store(nil) must stay nil")
	}
}
