package engine

import (
	"time"

	"github.com/amirphl/trading-simulator/internal/event"
	"github.com/amirphl/trading-simulator/internal/ledger"
	"github.com/amirphl/trading-simulator/internal/market"
	"github.com/amirphl/trading-simulator/internal/metrics"
	"github.com/amirphl/trading-simulator/internal/notifier"
	"github.com/amirphl/trading-simulator/internal/order"
	"github.com/amirphl/trading-simulator/internal/session"
)

// TickReport summarizes one Tick.
type TickReport struct {
	Status  session.Status
	Index   float64
	Settled float64
	Fills   int
	Halted  bool
}

// Tick runs one logical simulation step: settle due cash, advance prices, check
// the circuit breaker, evaluate orders and sample performance. Everything after
// settlement only runs while the session is OPEN, and a halt skips the order and
// performance passes for the tick.
func (e *MarketEngine) Tick() TickReport {
	e.mu.Lock()
	defer e.unlock()

	now := e.clock.Now()
	rep := TickReport{}
	keys := e.sortedKeys()

	for _, k := range keys {
		a := e.accounts[k]
		if released := a.Ledger.ReleaseSettled(now); released > 0 {
			rep.Settled += released
			e.markDirty(k)
			e.notify(notifier.Info, k, "%.2f from a sale has settled.", released)
		}
	}

	if !e.session.IsOpen() {
		rep.Status = e.session.Status()
		rep.Index = market.Index(e.instruments)
		return rep
	}

	drift, vol := e.injector.Modifiers()
	c := market.NewConditions(e.settings.BaseDrift, e.settings.BaseVolatility, e.settings.InterestRate, drift, vol)
	for _, ins := range e.instruments {
		e.prices.Advance(ins, c, now)
	}
	metrics.Ticks.Inc()
	rep.Index = market.Index(e.instruments)
	metrics.MarketIndex.Set(rep.Index)

	if e.breaker.Check(rep.Index) {
		e.halt(now)
		rep.Halted = true
		rep.Status = e.session.Status()
		return rep
	}

	for _, k := range keys {
		rep.Fills += e.processOrders(e.accounts[k], now)
	}

	prices := e.priceMap()
	for _, k := range keys {
		a := e.accounts[k]
		a.Performance.Record(now, a.Ledger.TotalValue(prices))
		e.markDirty(k)
	}
	rep.Status = e.session.Status()
	return rep
}

func (e *MarketEngine) halt(now time.Time) {
	if err := e.setStatus(session.Halted, "circuit breaker"); err != nil {
		e.log.Errorw("halt | failed to halt", "error", err)
		return
	}
	metrics.Halts.Inc()
	e.notify(notifier.Error, "", "CIRCUIT BREAKER: Market has dropped %.0f%%. Trading halted!", e.breaker.Threshold*100)

	id := e.session.SessionID()
	d := e.settings.HaltDuration()
	e.log.Warnw("halt | circuit breaker tripped", "drawdown", e.breaker.Drawdown(market.Index(e.instruments)), "resume_in", d)
	e.resume = e.clock.AfterFunc(d, func() { e.resumeAfterHalt(id) })
}

// resumeAfterHalt is a no-op when the halted session already ended.
func (e *MarketEngine) resumeAfterHalt(sessionID int64) {
	e.mu.Lock()
	defer e.unlock()
	if e.session.SessionID() != sessionID || e.session.Status() != session.Halted {
		return
	}
	e.resume = nil
	if err := e.setStatus(session.Open, "halt expired"); err != nil {
		e.log.Errorw("resumeAfterHalt | failed to resume", "error", err)
		return
	}
	e.notify(notifier.Info, "", "Trading has resumed.")
}

// processOrders arms and fills the active orders of one ledger against the
// current tick's prices and returns the number of fills.
func (e *MarketEngine) processOrders(a *ledger.Account, now time.Time) int {
	delay := e.settings.ArmingDelay()
	fills := 0
	kept := a.ActiveOrders[:0]
	for _, o := range a.ActiveOrders {
		ins, ok := e.bySymbol[o.Symbol]
		if !ok {
			kept = append(kept, o)
			continue
		}
		if o.Arm(now, delay) {
			e.markDirty(a.Key)
		}
		if o.Status == order.Working {
			hwm := o.HighWaterMark
			if o.ShouldFill(ins.Price) && e.fill(a, o, ins.Price, now) {
				fills++
				continue
			}
			if o.HighWaterMark != hwm {
				e.markDirty(a.Key)
			}
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(a.ActiveOrders); i++ {
		a.ActiveOrders[i] = nil
	}
	a.ActiveOrders = kept
	return fills
}

func (e *MarketEngine) fill(a *ledger.Account, o *order.Order, price float64, now time.Time) bool {
	total := float64(o.Quantity) * price
	commission := total * e.settings.CommissionFee

	switch o.Side {
	case order.Buy:
		a.Ledger.ApplyBuyFill(o.Symbol, o.Quantity, price, commission)
	case order.Sell:
		settlesAt := now.Add(e.settings.SettlementDelay())
		if _, err := a.Ledger.ApplySellFill(o.Symbol, o.Quantity, price, commission, settlesAt); err != nil {
			e.log.Errorw("fill | sell fill failed", "order", o.ID, "error", err)
			return false
		}
	}

	a.AddHistory(o.Execute(price, commission, now))
	e.markDirty(a.Key)
	metrics.Fills.WithLabelValues(o.Symbol).Inc()
	metrics.OrdersClosed.WithLabelValues(string(order.Executed)).Inc()
	e.log.Infow("fill | order executed", "ledger", a.Key, "order", o.ID, "side", o.Side, "kind", o.Kind, "symbol", o.Symbol, "quantity", o.Quantity, "price", price, "commission", commission)
	e.notify(notifier.Success, a.Key, "%s order for %d %s executed at %.2f. Fee: %.2f.", o.Side, o.Quantity, o.Symbol, price, commission)
	return true
}

// EventTick runs one event scheduling step. Nothing happens unless the session is
// OPEN.
func (e *MarketEngine) EventTick() event.Outcome {
	e.mu.Lock()
	defer e.unlock()

	if !e.session.IsOpen() {
		return event.NoChange
	}
	outcome, ev := e.injector.Scan(e.clock.Now(), e.settings.EventFrequency)
	switch outcome {
	case event.Started:
		metrics.EventScans.WithLabelValues("started").Inc()
		e.log.Infow("EventTick | market event started", "title", ev.Title, "expires_at", ev.ExpiresAt)
		e.notify(notifier.Info, "", "%s", ev.Title)
	case event.Stabilized:
		metrics.EventScans.WithLabelValues("stabilized").Inc()
		e.log.Infow("EventTick | market event expired")
		e.notify(notifier.Info, "", "The market has stabilized.")
	default:
		metrics.EventScans.WithLabelValues("none").Inc()
	}
	return outcome
}
