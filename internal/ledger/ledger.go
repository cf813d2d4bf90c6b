// Package ledger holds the cash, settlement and holding state of one ledger key.
//
// BUY orders lock cash at placement by debiting it from Cash, so Cash is always
// the available balance. SELL orders lock shares through Holding.Reserved.
// Fills consume the lock and update the position. Cancellation and expiry
// release the lock without a position change.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Holding is a position in one symbol.
type Holding struct {
	Symbol   string  `json:"symbol"`
	Quantity int64   `json:"quantity"`
	Reserved int64   `json:"reserved,omitempty"`
	AvgCost  float64 `json:"avgCost"`
}

// Available is the quantity not locked by working SELL orders.
func (h *Holding) Available() int64 { return h.Quantity - h.Reserved }

// UnsettledCash is SELL proceeds awaiting settlement.
type UnsettledCash struct {
	Amount    float64   `json:"amount"`
	SettlesAt time.Time `json:"settlesAt"`
}

type Ledger struct {
	Cash      float64             `json:"cash"`
	Unsettled []UnsettledCash     `json:"unsettledCash"`
	Holdings  map[string]*Holding `json:"holdings"`
}

func New(cash float64) *Ledger {
	return &Ledger{Cash: cash, Unsettled: []UnsettledCash{}, Holdings: map[string]*Holding{}}
}

func (l *Ledger) Holding(symbol string) (Holding, bool) {
	h, ok := l.Holdings[symbol]
	if !ok {
		return Holding{}, false
	}
	return *h, true
}

// ReserveCash checks that amount plus the projected commission is available and
// debits amount.
func (l *Ledger) ReserveCash(amount, commission float64) error {
	if l.Cash < amount+commission {
		return fmt.Errorf("%w: need %.2f, available %.2f", ErrInsufficientFunds, amount+commission, l.Cash)
	}
	l.Cash -= amount
	return nil
}

// RefundCash returns a reservation to available cash.
func (l *Ledger) RefundCash(amount float64) {
	l.Cash += amount
}

// ReserveShares locks qty shares of symbol for a SELL order.
func (l *Ledger) ReserveShares(symbol string, qty int64) error {
	h, ok := l.Holdings[symbol]
	if !ok || h.Available() < qty {
		var avail int64
		if ok {
			avail = h.Available()
		}
		return fmt.Errorf("%w of %s: need %d, available %d", ErrInsufficientShares, symbol, qty, avail)
	}
	h.Reserved += qty
	return nil
}

// ReleaseShares unlocks shares of a cancelled or expired SELL order.
func (l *Ledger) ReleaseShares(symbol string, qty int64) {
	h, ok := l.Holdings[symbol]
	if !ok {
		return
	}
	h.Reserved -= qty
	if h.Reserved < 0 {
		h.Reserved = 0
	}
}

// ApplyBuyFill books a BUY fill. The principal left Cash when the order was
// reserved, so only the commission is deducted here. The average cost uses the
// fill price.
func (l *Ledger) ApplyBuyFill(symbol string, qty int64, price, commission float64) {
	l.Cash -= commission

	total := float64(qty) * price
	h, ok := l.Holdings[symbol]
	if !ok {
		l.Holdings[symbol] = &Holding{Symbol: symbol, Quantity: qty, AvgCost: price}
		return
	}
	cost := h.AvgCost*float64(h.Quantity) + total
	h.Quantity += qty
	h.AvgCost = cost / float64(h.Quantity)
}

// ApplySellFill records the net proceeds as unsettled cash and removes the sold
// shares. Cash is unchanged until the proceeds settle.
func (l *Ledger) ApplySellFill(symbol string, qty int64, price, commission float64, settlesAt time.Time) (float64, error) {
	h, ok := l.Holdings[symbol]
	if !ok || h.Quantity < qty {
		return 0, fmt.Errorf("%w of %s for fill", ErrInsufficientShares, symbol)
	}
	proceeds := float64(qty)*price - commission
	l.Unsettled = append(l.Unsettled, UnsettledCash{Amount: proceeds, SettlesAt: settlesAt})

	h.Quantity -= qty
	h.Reserved -= qty
	if h.Reserved < 0 {
		h.Reserved = 0
	}
	if h.Quantity <= 0 {
		delete(l.Holdings, symbol)
	}
	return proceeds, nil
}

// ReleaseSettled credits every item due at now and returns the total released.
func (l *Ledger) ReleaseSettled(now time.Time) float64 {
	var released float64
	kept := l.Unsettled[:0]
	for _, u := range l.Unsettled {
		if !now.Before(u.SettlesAt) {
			released += u.Amount
			continue
		}
		kept = append(kept, u)
	}
	l.Unsettled = kept
	l.Cash += released
	return released
}

func (l *Ledger) UnsettledTotal() float64 {
	var sum float64
	for _, u := range l.Unsettled {
		sum += u.Amount
	}
	return sum
}

// TotalValue is cash plus unsettled proceeds plus holdings marked at prices.
// Holdings without a price are valued at cost.
func (l *Ledger) TotalValue(prices map[string]float64) float64 {
	v := l.Cash + l.UnsettledTotal()
	for sym, h := range l.Holdings {
		p, ok := prices[sym]
		if !ok {
			p = h.AvgCost
		}
		v += float64(h.Quantity) * p
	}
	return v
}

// Symbols returns held symbols in sorted order.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.Holdings))
	for s := range l.Holdings {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) normalize() {
	if l.Unsettled == nil {
		l.Unsettled = []UnsettledCash{}
	}
	if l.Holdings == nil {
		l.Holdings = map[string]*Holding{}
	}
	for sym, h := range l.Holdings {
		if h == nil || h.Quantity <= 0 {
			delete(l.Holdings, sym)
			continue
		}
		h.Symbol = sym
	}
}
