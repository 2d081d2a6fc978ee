package retryutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo(t *testing.T) {
	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), "noop", func(ctx context.Context) error {
			calls++
			return nil
		}, Options{BaseDelay: time.Millisecond})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("retries then succeeds", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), "flaky", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, Options{Attempts: 3, BaseDelay: time.Millisecond})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("exhaustion returns typed error", func(t *testing.T) {
		boom := errors.New("boom")
		err := Do(context.Background(), "doomed", func(ctx context.Context) error {
			return boom
		}, Options{Attempts: 2, BaseDelay: time.Millisecond})

		var rerr *Error
		if !errors.As(err, &rerr) {
			t.Fatalf("expected *Error, got %T: %v", err, err)
		}
		if rerr.Op != "doomed" {
			t.Errorf("Op = %q, want doomed", rerr.Op)
		}
		if rerr.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", rerr.Attempts)
		}
		if !errors.Is(err, boom) {
			t.Error("wrapped error should unwrap to the last failure")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Do(ctx, "cancelled", func(ctx context.Context) error {
			return errors.New("never retried")
		}, Options{Attempts: 5, BaseDelay: time.Second})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestDoValue(t *testing.T) {
	got, err := DoValue(context.Background(), "value", func(ctx context.Context) (int, error) {
		return 42, nil
	}, Options{BaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("DoValue() error = %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}
