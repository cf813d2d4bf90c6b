package order

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	base := Request{TraderID: "t1", Symbol: "AAPL", Side: Buy, Kind: Market, Quantity: 1}

	tests := []struct {
		name   string
		mutate func(r *Request)
		err    error
	}{
		{"valid market", func(r *Request) {}, nil},
		{"zero quantity", func(r *Request) { r.Quantity = 0 }, ErrInvalidQuantity},
		{"negative quantity", func(r *Request) { r.Quantity = -5 }, ErrInvalidQuantity},
		{"no symbol", func(r *Request) { r.Symbol = "" }, ErrMissingSymbol},
		{"no trader", func(r *Request) { r.TraderID = "" }, ErrMissingTrader},
		{"bad side", func(r *Request) { r.Side = "HOLD" }, ErrInvalidSide},
		{"bad kind", func(r *Request) { r.Kind = "STOP_LIMIT" }, ErrInvalidKind},
		{"limit without price", func(r *Request) { r.Kind = Limit }, ErrInvalidLimitPrice},
		{"limit ok", func(r *Request) { r.Kind = Limit; r.LimitPrice = 5 }, nil},
		{"trailing buy", func(r *Request) { r.Kind = TrailingStop; r.TrailPercent = 0.1 }, ErrTrailingStopBuy},
		{"trailing zero percent", func(r *Request) { r.Kind = TrailingStop; r.Side = Sell }, ErrInvalidTrailPercent},
		{"trailing full percent", func(r *Request) { r.Kind = TrailingStop; r.Side = Sell; r.TrailPercent = 1 }, ErrInvalidTrailPercent},
		{"trailing ok", func(r *Request) { r.Kind = TrailingStop; r.Side = Sell; r.TrailPercent = 0.1 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			err := r.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestNewBuyReservation(t *testing.T) {
	now := time.Unix(0, 0)
	mkt := New(Request{TraderID: "t", Symbol: "X", Side: Buy, Kind: Market, Quantity: 100}, 10, now)
	assert.Equal(t, 1000.0, mkt.Reservation)
	assert.Equal(t, Pending, mkt.Status)
	assert.True(t, strings.HasPrefix(mkt.ID, "ord_"))

	lim := New(Request{TraderID: "t", Symbol: "X", Side: Buy, Kind: Limit, Quantity: 10, LimitPrice: 5}, 5.10, now)
	assert.Equal(t, 50.0, lim.Reservation)

	sell := New(Request{TraderID: "t", Symbol: "X", Side: Sell, Kind: Market, Quantity: 10}, 5, now)
	assert.Zero(t, sell.Reservation)
	assert.NotEqual(t, mkt.ID, lim.ID)
}

func TestArmDelay(t *testing.T) {
	now := time.Unix(0, 0)
	o := New(Request{TraderID: "t", Symbol: "X", Side: Buy, Kind: Market, Quantity: 1}, 10, now)

	assert.False(t, o.ShouldFill(10), "pending orders never fill")
	assert.False(t, o.Arm(now.Add(4*time.Second), 5*time.Second))
	assert.True(t, o.Arm(now.Add(5*time.Second), 5*time.Second))
	assert.Equal(t, Working, o.Status)
	assert.False(t, o.Arm(now.Add(6*time.Second), 5*time.Second))
	assert.True(t, o.ShouldFill(10))
}

func TestLimitFill(t *testing.T) {
	now := time.Unix(0, 0)
	buy := New(Request{TraderID: "t", Symbol: "X", Side: Buy, Kind: Limit, Quantity: 1, LimitPrice: 5}, 5.10, now)
	buy.Arm(now, 0)
	assert.False(t, buy.ShouldFill(5.10))
	assert.True(t, buy.ShouldFill(5.00))
	assert.True(t, buy.ShouldFill(4.50))

	sell := New(Request{TraderID: "t", Symbol: "X", Side: Sell, Kind: Limit, Quantity: 1, LimitPrice: 12}, 10, now)
	sell.Arm(now, 0)
	assert.False(t, sell.ShouldFill(11.99))
	assert.True(t, sell.ShouldFill(12))
}

func TestTrailingStopRatchet(t *testing.T) {
	now := time.Unix(0, 0)
	o := New(Request{TraderID: "t", Symbol: "X", Side: Sell, Kind: TrailingStop, Quantity: 1, TrailPercent: 0.10}, 10, now)
	assert.InDelta(t, 9.0, o.TriggerPrice, 1e-9)
	o.Arm(now, 0)

	assert.False(t, o.ShouldFill(15))
	assert.InDelta(t, 13.5, o.TriggerPrice, 1e-9)

	// A dip above the trigger does not lower it.
	assert.False(t, o.ShouldFill(14))
	assert.InDelta(t, 13.5, o.TriggerPrice, 1e-9)
	assert.Equal(t, 15.0, o.HighWaterMark)

	assert.True(t, o.ShouldFill(13.40))
}

func TestTerminalRecords(t *testing.T) {
	now := time.Unix(0, 0)
	o := New(Request{TraderID: "t", Symbol: "X", Side: Buy, Kind: Market, Quantity: 100}, 10, now)

	h := o.Execute(10, 5, now.Add(time.Minute))
	require.Equal(t, Executed, h.Status)
	assert.Equal(t, 1000.0, h.Total)
	assert.Equal(t, 5.0, h.Commission)
	assert.True(t, o.Status.Terminal())

	c := New(Request{TraderID: "t", Symbol: "X", Side: Buy, Kind: Market, Quantity: 1}, 10, now)
	hc := c.Cancel(c.Reservation, now)
	assert.Equal(t, Cancelled, hc.Status)
	assert.Equal(t, 10.0, hc.Refunded)

	e := New(Request{TraderID: "t", Symbol: "X", Side: Buy, Kind: Market, Quantity: 2}, 10, now)
	he := e.Expire(e.Reservation, now)
	assert.Equal(t, Expired, he.Status)
	assert.Equal(t, 20.0, he.Refunded)
	assert.False(t, Working.Terminal())
}
