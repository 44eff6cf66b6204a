package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream down")

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("expected upstream error, got %v", err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("expected short circuit, got %v (called=%v)", err, called)
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errUpstream })
	cb.Execute(ctx, func() error { return nil })
	cb.Execute(ctx, func() error { return errUpstream })

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errUpstream })
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Execute(ctx, func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("failed probe must reopen, got %s", cb.GetState())
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context error, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Error("cancelled calls must not count as failures")
	}
}
