package engine

import (
	"errors"

	"github.com/amirphl/trading-simulator/internal/ledger"
	"github.com/amirphl/trading-simulator/internal/metrics"
	"github.com/amirphl/trading-simulator/internal/notifier"
	"github.com/amirphl/trading-simulator/internal/order"
)

// Rejection reasons reported in PlaceResult.
const (
	ReasonMarketClosed       = "market is not open"
	ReasonUnknownInstrument  = "unknown instrument"
	ReasonInvalidOrder       = "invalid order"
	ReasonInsufficientFunds  = "insufficient funds for cost + commission"
	ReasonInsufficientShares = "insufficient shares"
)

// PlaceResult is the synchronous outcome of PlaceOrder. A rejection leaves the
// engine untouched.
type PlaceResult struct {
	Accepted bool         `json:"accepted"`
	Reason   string       `json:"reason,omitempty"`
	Order    *order.Order `json:"order,omitempty"`
}

func rejected(reason string) PlaceResult {
	metrics.OrdersRejected.WithLabelValues(reason).Inc()
	return PlaceResult{Reason: reason}
}

// PlaceOrder validates and books an order against the ledger at key. BUY orders
// debit their reservation immediately, SELL orders lock shares.
func (e *MarketEngine) PlaceOrder(key string, req order.Request) PlaceResult {
	e.mu.Lock()
	defer e.unlock()

	if !e.session.IsOpen() {
		return rejected(ReasonMarketClosed)
	}
	if err := req.Validate(); err != nil {
		res := rejected(ReasonInvalidOrder)
		res.Reason = ReasonInvalidOrder + ": " + err.Error()
		return res
	}
	ins, ok := e.bySymbol[req.Symbol]
	if !ok {
		return rejected(ReasonUnknownInstrument)
	}

	a, exists := e.accounts[key]
	if !exists {
		a = ledger.NewAccount(key, e.settings.StartingCapital)
	}
	now := e.clock.Now()
	o := order.New(req, ins.Price, now)

	switch o.Side {
	case order.Buy:
		commission := o.Reservation * e.settings.CommissionFee
		if err := a.Ledger.ReserveCash(o.Reservation, commission); err != nil {
			e.log.Debugw("PlaceOrder | rejected", "ledger", key, "error", err)
			return rejected(ReasonInsufficientFunds)
		}
	case order.Sell:
		if err := a.Ledger.ReserveShares(o.Symbol, o.Quantity); err != nil {
			e.log.Debugw("PlaceOrder | rejected", "ledger", key, "error", err)
			return rejected(ReasonInsufficientShares)
		}
	}

	a.ActiveOrders = append(a.ActiveOrders, o)
	if !exists {
		e.accounts[key] = a
	}
	e.markDirty(key)
	metrics.OrdersPlaced.WithLabelValues(string(o.Side), string(o.Kind)).Inc()
	e.log.Infow("PlaceOrder | order accepted", "ledger", key, "order", o.ID, "side", o.Side, "kind", o.Kind, "symbol", o.Symbol, "quantity", o.Quantity, "reservation", o.Reservation)
	e.notify(notifier.Info, key, "%s %s order for %d %s submitted.", o.Side, o.Kind, o.Quantity, o.Symbol)

	c := *o
	return PlaceResult{Accepted: true, Order: &c}
}

// CancelOrder cancels a non-terminal order. BUY orders get their original
// reservation back; SELL orders release the locked shares.
func (e *MarketEngine) CancelOrder(key, id string) (order.HistoryItem, error) {
	e.mu.Lock()
	defer e.unlock()

	a, ok := e.accounts[key]
	if !ok {
		return order.HistoryItem{}, ErrOrderNotFound
	}
	i, o := a.FindOrder(id)
	if o == nil || o.Status.Terminal() {
		return order.HistoryItem{}, ErrOrderNotFound
	}

	refund := e.release(a, o)
	a.RemoveOrder(i)
	h := o.Cancel(refund, e.clock.Now())
	a.AddHistory(h)
	e.markDirty(key)
	metrics.OrdersClosed.WithLabelValues(string(order.Cancelled)).Inc()
	e.log.Infow("CancelOrder | order cancelled", "ledger", key, "order", id, "refund", refund)
	e.notify(notifier.Info, key, "Order %s for %s cancelled.", o.ID, o.Symbol)
	return h, nil
}

// release undoes the placement lock of an order and returns the cash refunded.
func (e *MarketEngine) release(a *ledger.Account, o *order.Order) float64 {
	if o.Side == order.Buy {
		a.Ledger.RefundCash(o.Reservation)
		return o.Reservation
	}
	a.Ledger.ReleaseShares(o.Symbol, o.Quantity)
	return 0
}

// IsNotFound reports whether err is one of the engine's not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrAccountNotFound)
}
