package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		if err := cb.Call(failing); err == nil {
			t.Fatalf("Expected failure on call %d", i)
		}
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected circuit to be open after 3 failures, got state %d", cb.GetState())
	}

	err := cb.Call(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	for i := 0; i < 10; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected circuit to stay closed, got state %d", cb.GetState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(false)

	if cb.GetState() != StateClosed {
		t.Error("Expected circuit to remain closed when failures are not consecutive")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 10*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be open")
	}

	// Wait for reset timeout to allow half-open probing
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Expected half-open call %d to be allowed: %v", i, err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected circuit to close after successful half-open probes, got state %d", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 10*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	time.Sleep(20 * time.Millisecond)

	if err := cb.Call(func() error { return errors.New("still broken") }); err == nil {
		t.Fatal("Expected probe failure")
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected circuit to reopen after half-open failure, got state %d", cb.GetState())
	}
}
