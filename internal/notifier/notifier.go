// Package notifier
package notifier

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type is the severity shown to traders.
type Type string

const (
	Success Type = "success"
	Error   Type = "error"
	Info    Type = "info"
)

// Notification is a fire-and-forget message from the engine. An empty
// LedgerKey addresses every participant.
type Notification struct {
	Type      Type      `json:"type"`
	Text      string    `json:"text"`
	LedgerKey string    `json:"ledgerKey,omitempty"`
	Time      time.Time `json:"time"`
}

func (n Notification) Broadcast() bool { return n.LedgerKey == "" }

// Notifier consumes engine notifications. Implementations must not block for long.
type Notifier interface {
	Notify(n Notification)
}

// Sender interface for sending text messages to an operator channel (e.g., Telegram).
type Sender interface {
	Send(msg string) error
	SendWithRetry(msg string) error
	RetryWithNotification(action func() error, description string) error
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

// Log writes notifications to a zap logger.
type Log struct {
	L *zap.SugaredLogger
}

func (l Log) Notify(n Notification) {
	if l.L == nil {
		return
	}
	kv := []any{"type", n.Type, "ledger", n.LedgerKey}
	switch n.Type {
	case Error:
		l.L.Warnw("notify | "+n.Text, kv...)
	default:
		l.L.Infow("notify | "+n.Text, kv...)
	}
}

// Recorder keeps notifications in memory. Used in tests.
type Recorder struct {
	mu    sync.Mutex
	Items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Items = append(r.Items, n)
}

// Snapshot returns a copy of the recorded notifications.
func (r *Recorder) Snapshot() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.Items...)
}

func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Items) == 0 {
		return Notification{}, false
	}
	return r.Items[len(r.Items)-1], true
}
