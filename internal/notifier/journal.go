package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/trading-simulator/internal/journal"
)

const journalTimeout = 2 * time.Second

// Journal records every notification as a journal event.
type Journal struct {
	J   journal.Journaler
	Log *zap.SugaredLogger
}

func (j Journal) Notify(n Notification) {
	if j.J == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	data := map[string]any{"type": string(n.Type)}
	if n.LedgerKey != "" {
		data["ledgerKey"] = n.LedgerKey
	}
	at := n.Time
	if at.IsZero() {
		at = time.Now()
	}
	err := j.J.LogEvent(ctx, journal.Event{
		Time:        at,
		Type:        journal.TypeNotification,
		Description: n.Text,
		Data:        data,
	})
	if err != nil && j.Log != nil {
		j.Log.Warnw("Journal.Notify | failed to journal notification", "error", err)
	}
}
