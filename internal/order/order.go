// Package order
package order

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Side is the trade direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Kind is the order type.
type Kind string

const (
	Market       Kind = "MARKET"
	Limit        Kind = "LIMIT"
	TrailingStop Kind = "TRAILING_STOP"
)

// Status is the order lifecycle state. EXECUTED, CANCELLED and EXPIRED are terminal.
type Status string

const (
	Pending   Status = "PENDING"
	Working   Status = "WORKING"
	Executed  Status = "EXECUTED"
	Cancelled Status = "CANCELLED"
	Expired   Status = "EXPIRED"
)

func (s Status) Terminal() bool {
	return s == Executed || s == Cancelled || s == Expired
}

var (
	ErrInvalidQuantity     = errors.New("quantity must be a positive integer")
	ErrInvalidSide         = errors.New("side must be BUY or SELL")
	ErrInvalidKind         = errors.New("kind must be MARKET, LIMIT or TRAILING_STOP")
	ErrInvalidLimitPrice   = errors.New("limit orders require a positive limit price")
	ErrInvalidTrailPercent = errors.New("trail percent must be between 0 and 1")
	ErrTrailingStopBuy     = errors.New("trailing stop orders must be SELL")
	ErrMissingSymbol       = errors.New("symbol is required")
	ErrMissingTrader       = errors.New("trader is required")
)

// Request is a new order as submitted by a trader.
type Request struct {
	TraderID     string  `json:"traderId"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	Kind         Kind    `json:"kind"`
	Quantity     int64   `json:"quantity"`
	LimitPrice   float64 `json:"limitPrice,omitempty"`
	TrailPercent float64 `json:"trailPercent,omitempty"`
}

// Validate checks the request shape. Market state is checked by the engine.
func (r Request) Validate() error {
	if r.TraderID == "" {
		return ErrMissingTrader
	}
	if r.Symbol == "" {
		return ErrMissingSymbol
	}
	if r.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	switch r.Side {
	case Buy, Sell:
	default:
		return ErrInvalidSide
	}
	switch r.Kind {
	case Market:
	case Limit:
		if r.LimitPrice <= 0 || math.IsNaN(r.LimitPrice) || math.IsInf(r.LimitPrice, 0) {
			return ErrInvalidLimitPrice
		}
	case TrailingStop:
		if r.Side != Sell {
			return ErrTrailingStopBuy
		}
		if !(r.TrailPercent > 0 && r.TrailPercent < 1) {
			return ErrInvalidTrailPercent
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

// ReferencePrice is the price used to size the BUY reservation.
func (r Request) ReferencePrice(market float64) float64 {
	if r.Kind == Limit {
		return r.LimitPrice
	}
	return market
}

// Order is an accepted, active order.
type Order struct {
	ID           string    `json:"id"`
	TraderID     string    `json:"traderId"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Kind         Kind      `json:"kind"`
	Quantity     int64     `json:"quantity"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	SubmittedAt  time.Time `json:"submittedAt"`
	LimitPrice   float64   `json:"limitPrice,omitempty"`
	TrailPercent float64   `json:"trailPercent,omitempty"`

	HighWaterMark float64 `json:"highWaterMark,omitempty"`
	TriggerPrice  float64 `json:"triggerPrice,omitempty"`

	// Reservation is the cash debited at placement for BUY orders.
	Reservation float64 `json:"reservation,omitempty"`
}

func NewID() string {
	return "ord_" + uuid.NewString()
}

// New builds a PENDING order from a validated request at the given market price.
func New(r Request, price float64, now time.Time) *Order {
	o := &Order{
		ID:           NewID(),
		TraderID:     r.TraderID,
		Symbol:       r.Symbol,
		Side:         r.Side,
		Kind:         r.Kind,
		Quantity:     r.Quantity,
		Status:       Pending,
		CreatedAt:    now,
		SubmittedAt:  now,
		LimitPrice:   r.LimitPrice,
		TrailPercent: r.TrailPercent,
	}
	if r.Kind == TrailingStop {
		o.HighWaterMark = price
		o.TriggerPrice = price * (1 - r.TrailPercent)
	}
	if r.Side == Buy {
		o.Reservation = float64(r.Quantity) * r.ReferencePrice(price)
	}
	return o
}

// Arm promotes a PENDING order to WORKING once the arming delay has passed.
func (o *Order) Arm(now time.Time, delay time.Duration) bool {
	if o.Status != Pending || now.Before(o.SubmittedAt.Add(delay)) {
		return false
	}
	o.Status = Working
	return true
}

// ShouldFill evaluates a WORKING order against the current tick's price. Trailing
// stops ratchet their high-water mark before the trigger check.
func (o *Order) ShouldFill(price float64) bool {
	if o.Status != Working {
		return false
	}
	switch o.Kind {
	case Market:
		return true
	case Limit:
		if o.Side == Buy {
			return price <= o.LimitPrice
		}
		return price >= o.LimitPrice
	case TrailingStop:
		if price > o.HighWaterMark {
			o.HighWaterMark = price
		}
		o.TriggerPrice = o.HighWaterMark * (1 - o.TrailPercent)
		return price <= o.TriggerPrice
	}
	return false
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s %d %s", o.ID, o.Side, o.Kind, o.Quantity, o.Symbol)
}
