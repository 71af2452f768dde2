package domain

import (
	"errors"
	"testing"
	"time"
)

func TestHoldTransition(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	h := &Hold{ID: "h-1", State: HoldActive}
	if err := h.Transition(HoldActive, at); err == nil {
		t.Fatal("expected ACTIVE -> ACTIVE to fail")
	}
	if err := h.Transition(HoldCommitted, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, to := range []HoldState{HoldReleased, HoldExpired, HoldCommitted} {
		if err := h.Transition(to, at); !errors.Is(err, ErrHoldNotActive) {
			t.Errorf("%s -> %s: expected ErrHoldNotActive, got %v", h.State, to, err)
		}
	}
	if h.State != HoldCommitted {
		t.Errorf("expected COMMITTED, got %s", h.State)
	}
}

func TestHoldExpiredAt(t *testing.T) {
	exp := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	h := Hold{ExpiresAt: exp}

	if h.ExpiredAt(exp.Add(-time.Nanosecond)) {
		t.Error("hold expired before ExpiresAt")
	}
	if !h.ExpiredAt(exp) {
		t.Error("hold not expired at ExpiresAt")
	}
}
