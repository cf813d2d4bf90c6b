// Package candle
package candle

import (
	"errors"
	"math"
	"time"
)

// HistorySize is how many candles an instrument keeps.
const HistorySize = 50

type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
}

// Flat returns a candle with all four prices equal to price.
func Flat(price float64, ts time.Time) Candle {
	return Candle{Timestamp: ts, Open: price, High: price, Low: price, Close: price}
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	return nil
}

// Change is the fractional move from open to close.
func (c *Candle) Change() float64 {
	if c.Open == 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open
}

// RoundCents rounds a price to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// History keeps the most recent candles, oldest first.
type History struct {
	size    int
	candles []Candle
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = HistorySize
	}
	return &History{size: size, candles: make([]Candle, 0, size)}
}

func (h *History) Append(c Candle) {
	if len(h.candles) == h.size {
		copy(h.candles, h.candles[1:])
		h.candles = h.candles[:h.size-1]
	}
	h.candles = append(h.candles, c)
}

func (h *History) Len() int { return len(h.candles) }

// Last returns the newest candle and false when the history is empty.
func (h *History) Last() (Candle, bool) {
	if len(h.candles) == 0 {
		return Candle{}, false
	}
	return h.candles[len(h.candles)-1], true
}

// Candles returns a copy of the history, oldest first.
func (h *History) Candles() []Candle {
	out := make([]Candle, len(h.candles))
	copy(out, h.candles)
	return out
}
