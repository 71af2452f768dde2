package domain

import (
	"fmt"
	"time"
)

type HoldState string

const (
	HoldActive    HoldState = "ACTIVE"
	HoldCommitted HoldState = "COMMITTED"
	HoldReleased  HoldState = "RELEASED"
	HoldExpired   HoldState = "EXPIRED"
)

func (s HoldState) Terminal() bool {
	return s != HoldActive
}

type Hold struct {
	ID         string
	OrderID    string
	ProductID  string
	LocationID string
	Quantity   int64
	State      HoldState
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UpdatedAt  time.Time
}

// ExpiredAt reports whether the hold can no longer be committed at t.
func (h Hold) ExpiredAt(t time.Time) bool {
	return !t.Before(h.ExpiresAt)
}

// Transition moves an ACTIVE hold into a terminal state.
func (h *Hold) Transition(to HoldState, at time.Time) error {
	if h.State != HoldActive {
		return fmt.Errorf("hold %s is %s: %w", h.ID, h.State, ErrHoldNotActive)
	}
	if !to.Terminal() {
		return fmt.Errorf("hold %s: invalid target state %s", h.ID, to)
	}
	h.State = to
	h.UpdatedAt = at
	return nil
}
