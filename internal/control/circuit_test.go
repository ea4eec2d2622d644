package control

import (
	"testing"
	"time"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	c := NewCircuitBreaker(2, 100*time.Millisecond)
	now := time.Now()

	if c.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}

	if c.RecordFailure("telegram_poll", now) {
		t.Fatal("first failure must not open the breaker")
	}
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after first failure, got %s", c.State())
	}

	if !c.RecordFailure("telegram_poll", now) {
		t.Fatal("expected transition to open")
	}
	if c.State() != CircuitOpen {
		t.Fatalf("expected open after threshold failures, got %s", c.State())
	}
	if c.OpenedClass() != "telegram_poll" {
		t.Fatalf("unexpected opened class: %s", c.OpenedClass())
	}
	if left := c.RemainingCooldown(now.Add(40 * time.Millisecond)); left != 60*time.Millisecond {
		t.Fatalf("unexpected remaining cooldown: %s", left)
	}

	if c.Allow(now.Add(10 * time.Millisecond)) {
		t.Fatal("expected deny while cooldown not elapsed")
	}
	if !c.Allow(now.Add(120 * time.Millisecond)) {
		t.Fatal("expected allow after cooldown")
	}
	if c.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", c.State())
	}

	c.RecordSuccess()
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after trial success, got %s", c.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := NewCircuitBreaker(1, 50*time.Millisecond)
	now := time.Now()
	c.RecordFailure("network", now)
	if !c.Allow(now.Add(60 * time.Millisecond)) {
		t.Fatal("expected trial call to be allowed")
	}
	if !c.RecordFailure("network", now.Add(61*time.Millisecond)) {
		t.Fatal("failed trial call must reopen the breaker")
	}
	if c.Allow(now.Add(70 * time.Millisecond)) {
		t.Fatal("expected deny right after reopening")
	}
}
