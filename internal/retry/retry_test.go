package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 1 {
		t.Errorf("non-retryable error retried: %d attempts", attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	transient := errors.New("still down")
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return Retryable(transient)
	})
	if !errors.Is(err, transient) {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fastConfig(), func() error {
		attempts++
		cancel()
		return Retryable(errors.New("transient"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts after cancel: %d", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error reported retryable")
	}
	if !IsRetryable(Retryable(errors.New("x"))) {
		t.Error("wrapped error not reported retryable")
	}
	wrapped := errors.Join(errors.New("context"), Retryable(errors.New("x")))
	if !IsRetryable(wrapped) {
		t.Error("nested retryable not detected")
	}
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should be nil")
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", Retryable(errors.New("transient"))
		}
		return "value", nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "value" {
		t.Errorf("result: got %q", got)
	}
}
