package engine

import (
	"github.com/amirphl/trading-simulator/internal/broadcast"
	"github.com/amirphl/trading-simulator/internal/event"
	"github.com/amirphl/trading-simulator/internal/market"
	"github.com/amirphl/trading-simulator/internal/metrics"
	"github.com/amirphl/trading-simulator/internal/notifier"
	"github.com/amirphl/trading-simulator/internal/order"
	"github.com/amirphl/trading-simulator/internal/session"
)

// Open starts a new session from PRE_MARKET or CLOSED. Staged settings take
// effect here and the circuit breaker is re-armed at the current index. It
// returns false when the session was already OPEN or HALTED.
func (e *MarketEngine) Open() bool {
	e.mu.Lock()
	defer e.unlock()
	return e.open()
}

func (e *MarketEngine) open() bool {
	switch e.session.Status() {
	case session.PreMarket, session.Closed:
	default:
		return false
	}
	if e.pending != nil {
		e.settings = *e.pending
		e.pending = nil
		e.log.Infow("open | applied staged settings", "settings", e.settings)
	}
	e.stopResume()
	if err := e.setStatus(session.Open, "open"); err != nil {
		e.log.Errorw("open | failed to open", "error", err)
		return false
	}
	idx := market.Index(e.instruments)
	e.breaker.Arm(idx, e.settings.CircuitBreakerEnabled, e.settings.CircuitBreakerThreshold)
	metrics.MarketIndex.Set(idx)
	e.notify(notifier.Info, "", "The market is now open for trading!")
	return true
}

// Close ends the session from OPEN or HALTED. The active event is dropped and
// every active order expires: BUY reservations are refunded and SELL share locks
// are released. It returns false when there was no session to close.
func (e *MarketEngine) Close() bool {
	e.mu.Lock()
	defer e.unlock()
	return e.close()
}

func (e *MarketEngine) close() bool {
	switch e.session.Status() {
	case session.Open, session.Halted:
	default:
		return false
	}
	if err := e.setStatus(session.Closed, "close"); err != nil {
		e.log.Errorw("close | failed to close", "error", err)
		return false
	}
	e.stopResume()
	e.injector.Clear()

	now := e.clock.Now()
	expired := 0
	for _, k := range e.sortedKeys() {
		a := e.accounts[k]
		if len(a.ActiveOrders) == 0 {
			continue
		}
		var refunded float64
		for _, o := range a.ActiveOrders {
			r := e.release(a, o)
			refunded += r
			a.AddHistory(o.Expire(r, now))
			metrics.OrdersClosed.WithLabelValues(string(order.Expired)).Inc()
			expired++
		}
		a.ActiveOrders = a.ActiveOrders[:0]
		e.markDirty(k)
		e.log.Infow("close | expired active orders", "ledger", k, "refunded", refunded)
	}
	e.notify(notifier.Info, "", "The market has closed. Pending orders have expired.")
	e.log.Infow("close | session closed", "session", e.session.SessionID(), "expired", expired)
	return true
}

func (e *MarketEngine) stopResume() {
	if e.resume != nil {
		e.resume.Stop()
		e.resume = nil
	}
}

// ApplyControlSignal applies a cross-actor signal. Signals older than the
// freshness window are dropped, and applying a signal whose effect already
// holds is a no-op. The return value reports whether the state changed or a
// trigger was queued.
func (e *MarketEngine) ApplyControlSignal(sig broadcast.Signal) bool {
	e.mu.Lock()
	defer e.unlock()

	if err := sig.Validate(); err != nil {
		metrics.ControlSignals.WithLabelValues(string(sig.Kind), "invalid").Inc()
		e.log.Warnw("ApplyControlSignal | invalid signal", "error", err)
		return false
	}
	now := e.clock.Now()
	if sig.Age(now) > event.FreshnessWindow {
		metrics.ControlSignals.WithLabelValues(string(sig.Kind), "stale").Inc()
		e.log.Debugw("ApplyControlSignal | stale signal dropped", "kind", sig.Kind, "age", sig.Age(now))
		return false
	}

	applied := false
	switch sig.Kind {
	case broadcast.KindSession:
		if sig.Action == broadcast.ActionOpen {
			applied = e.open()
		} else {
			applied = e.close()
		}
	case broadcast.KindEvent:
		applied = e.injector.Trigger(sig.EventName, sig.IssuedAt())
		if !applied {
			e.log.Warnw("ApplyControlSignal | unknown event template", "name", sig.EventName)
		}
	case broadcast.KindMessage:
		e.notify(notifier.Info, "", "%s", sig.Message)
		applied = true
	}

	result := "ignored"
	if applied {
		result = "applied"
	}
	metrics.ControlSignals.WithLabelValues(string(sig.Kind), result).Inc()
	return applied
}
