// Package indicator computes technical studies over instrument close prices.
package indicator

import (
	"math"

	"github.com/amirphl/trading-simulator/internal/candle"
)

// Closes extracts close prices, oldest first.
func Closes(cs []candle.Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Latest returns the newest defined value of a series.
func Latest(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i], true
		}
	}
	return 0, false
}

// Studies is the set of indicators shown next to a quote. Nil fields have not
// seen enough history yet.
type Studies struct {
	SMA *float64 `json:"sma,omitempty"`
	EMA *float64 `json:"ema,omitempty"`
	RSI *float64 `json:"rsi,omitempty"`
}

const (
	SMAPeriod = 10
	EMAPeriod = 10
	RSIPeriod = 14
)

// Compute evaluates the default studies over candles.
func Compute(cs []candle.Candle) Studies {
	closes := Closes(cs)
	var s Studies
	if v, ok := Latest(SMA(closes, SMAPeriod)); ok {
		s.SMA = round(v)
	}
	if v, ok := Latest(EMA(closes, EMAPeriod)); ok {
		s.EMA = round(v)
	}
	if v, ok := Latest(RSI(closes, RSIPeriod)); ok {
		s.RSI = round(v)
	}
	return s
}

func round(v float64) *float64 {
	r := candle.RoundCents(v)
	return &r
}
