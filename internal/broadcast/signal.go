// Package broadcast carries cross-actor control signals: session open/close,
// manual market events and free-text admin messages.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind selects what a Signal controls.
type Kind string

const (
	KindSession Kind = "session"
	KindEvent   Kind = "event"
	KindMessage Kind = "message"
)

const (
	ActionOpen  = "OPEN"
	ActionClose = "CLOSE"
)

var ErrInvalidSignal = errors.New("invalid signal")

// Signal is one control message. Timestamp is the issue time in unix milliseconds.
type Signal struct {
	Kind      Kind   `json:"kind"`
	Action    string `json:"action,omitempty"`
	EventName string `json:"eventName,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func SessionSignal(action string, at time.Time) Signal {
	return Signal{Kind: KindSession, Action: action, Timestamp: at.UnixMilli()}
}

func EventSignal(name string, at time.Time) Signal {
	return Signal{Kind: KindEvent, EventName: name, Timestamp: at.UnixMilli()}
}

func MessageSignal(text string, at time.Time) Signal {
	return Signal{Kind: KindMessage, Message: text, Timestamp: at.UnixMilli()}
}

func (s Signal) IssuedAt() time.Time { return time.UnixMilli(s.Timestamp) }

// Age is how old the signal is at now. Signals from the future have age zero.
func (s Signal) Age(now time.Time) time.Duration {
	a := now.Sub(s.IssuedAt())
	if a < 0 {
		return 0
	}
	return a
}

func (s Signal) Validate() error {
	switch s.Kind {
	case KindSession:
		if s.Action != ActionOpen && s.Action != ActionClose {
			return fmt.Errorf("%w: session action %q", ErrInvalidSignal, s.Action)
		}
	case KindEvent:
		if s.EventName == "" {
			return fmt.Errorf("%w: missing event name", ErrInvalidSignal)
		}
	case KindMessage:
		if s.Message == "" {
			return fmt.Errorf("%w: empty message", ErrInvalidSignal)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidSignal, s.Kind)
	}
	if s.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSignal)
	}
	return nil
}

func Encode(s Signal) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		return Signal{}, fmt.Errorf("failed to decode signal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}
