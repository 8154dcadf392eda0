package services

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMaxReqs: 1})
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if err := cb.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("breaker should open after max failures, got %s", cb.State())
	}

	called := false
	err := cb.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker must reject without calling, err=%v called=%v", err, called)
	}
	if !errors.Is(err, ErrInsightUnavailable) {
		t.Fatalf("ErrCircuitOpen should be an insight failure")
	}

	now = now.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected a probe after reset timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatalf("half-open allows only one probe")
	}
	cb.OnSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful probe")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }

	cb.OnFailure()
	now = now.Add(2 * time.Second)
	if !cb.Allow() {
		t.Fatalf("expected probe")
	}
	cb.OnFailure()
	if cb.State() != StateOpen {
		t.Fatalf("failed probe should reopen, got %s", cb.State())
	}
	if got := cb.Stats()["failure_count"]; got != 2 {
		t.Fatalf("failure_count = %v", got)
	}
}

func TestCircuitBreakerState_String(t *testing.T) {
	tests := []struct {
		state CircuitBreakerState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitBreakerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %v, want %v", got, tt.want)
		}
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	def := DefaultCircuitBreakerConfig()
	if cb.cfg != def {
		t.Fatalf("expected defaults %+v, got %+v", def, cb.cfg)
	}
	if cb.State() != StateClosed {
		t.Fatalf("new breaker should be closed")
	}
}

func TestCircuitBreaker_NilRunsEverything(t *testing.T) {
	var cb *CircuitBreaker
	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		if err := cb.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected fn error, got %v", i, err)
		}
	}
}
