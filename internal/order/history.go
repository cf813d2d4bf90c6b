package order

import "time"

// HistoryItem is the immutable record of a terminal order outcome.
type HistoryItem struct {
	ID           string    `json:"id"`
	TraderID     string    `json:"traderId"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Kind         Kind      `json:"kind"`
	Quantity     int64     `json:"quantity"`
	Status       Status    `json:"status"`
	LimitPrice   float64   `json:"limitPrice,omitempty"`
	TrailPercent float64   `json:"trailPercent,omitempty"`
	FillPrice    float64   `json:"fillPrice,omitempty"`
	Total        float64   `json:"total,omitempty"`
	Commission   float64   `json:"commission,omitempty"`
	Refunded     float64   `json:"refunded,omitempty"`
	SubmittedAt  time.Time `json:"submittedAt"`
	ClosedAt     time.Time `json:"closedAt"`
}

func (o *Order) record(status Status, now time.Time) HistoryItem {
	return HistoryItem{
		ID:           o.ID,
		TraderID:     o.TraderID,
		Symbol:       o.Symbol,
		Side:         o.Side,
		Kind:         o.Kind,
		Quantity:     o.Quantity,
		Status:       status,
		LimitPrice:   o.LimitPrice,
		TrailPercent: o.TrailPercent,
		SubmittedAt:  o.SubmittedAt,
		ClosedAt:     now,
	}
}

// Execute marks the order filled and returns its history entry.
func (o *Order) Execute(fillPrice, commission float64, now time.Time) HistoryItem {
	o.Status = Executed
	h := o.record(Executed, now)
	h.FillPrice = fillPrice
	h.Total = float64(o.Quantity) * fillPrice
	h.Commission = commission
	return h
}

// Cancel marks the order cancelled by the trader.
func (o *Order) Cancel(refunded float64, now time.Time) HistoryItem {
	o.Status = Cancelled
	h := o.record(Cancelled, now)
	h.Refunded = refunded
	return h
}

// Expire marks the order expired at session close.
func (o *Order) Expire(refunded float64, now time.Time) HistoryItem {
	o.Status = Expired
	h := o.record(Expired, now)
	h.Refunded = refunded
	return h
}
