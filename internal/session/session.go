// Package session
package session

import (
	"fmt"
	"time"
)

// Status is the market session state.
type Status string

const (
	PreMarket Status = "PRE_MARKET"
	Open      Status = "OPEN"
	Closed    Status = "CLOSED"
	Halted    Status = "HALTED"
)

// Transition records a status change.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

var allowed = map[Status][]Status{
	PreMarket: {Open},
	Open:      {Closed, Halted},
	Halted:    {Open, Closed},
	Closed:    {Open},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Clock is the session state machine. Every open starts a new session id.
type Clock struct {
	status         Status
	sessionID      int64
	openedAt       time.Time
	history        []Transition
	maxHistorySize int
}

func NewClock() *Clock {
	return &Clock{
		status:         PreMarket,
		history:        make([]Transition, 0),
		maxHistorySize: 100,
	}
}

func (c *Clock) Status() Status { return c.status }

// SessionID increments on every open. Zero means no session has opened yet.
func (c *Clock) SessionID() int64 { return c.sessionID }

func (c *Clock) OpenedAt() time.Time { return c.openedAt }

func (c *Clock) IsOpen() bool { return c.status == Open }

// TransitionTo moves to a new status or returns an error for illegal moves.
func (c *Clock) TransitionTo(to Status, reason string, now time.Time) error {
	if !CanTransition(c.status, to) {
		return fmt.Errorf("illegal session transition %s -> %s", c.status, to)
	}
	if to == Open && c.status != Halted {
		c.sessionID++
		c.openedAt = now
	}
	c.history = append(c.history, Transition{From: c.status, To: to, Reason: reason, Timestamp: now})
	if len(c.history) > c.maxHistorySize {
		c.history = c.history[1:]
	}
	c.status = to
	return nil
}

// History returns the recorded transitions, oldest first.
func (c *Clock) History() []Transition {
	out := make([]Transition, len(c.history))
	copy(out, c.history)
	return out
}
