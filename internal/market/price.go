package market

import (
	"math"
	"math/rand"
	"time"

	"github.com/amirphl/trading-simulator/internal/candle"
)

const (
	TradingDaysPerYear = 252
	// MinPrice is the floor for every simulated price.
	MinPrice = 0.01
)

// Conditions are the market-wide annualized drift and volatility for a tick, after
// the interest rate drag and any active event modifiers.
type Conditions struct {
	Drift      float64
	Volatility float64
}

// NewConditions computes drift = baseDrift - 0.5*interestRate + driftModifier and
// volatility = baseVolatility + volatilityModifier.
func NewConditions(baseDrift, baseVolatility, interestRate, driftModifier, volatilityModifier float64) Conditions {
	return Conditions{
		Drift:      baseDrift - 0.5*interestRate + driftModifier,
		Volatility: baseVolatility + volatilityModifier,
	}
}

// PriceProcess advances instruments with a discretized geometric Brownian motion,
// one simulated trading day per tick.
type PriceProcess struct {
	rng *rand.Rand
	dt  float64
}

func NewPriceProcess(rng *rand.Rand) *PriceProcess {
	return &PriceProcess{rng: rng, dt: 1.0 / TradingDaysPerYear}
}

// normal draws a standard normal sample with the Box-Muller transform.
func (p *PriceProcess) normal() float64 {
	u1 := 1 - p.rng.Float64() // (0, 1], keeps log finite
	u2 := p.rng.Float64()
	return math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
}

// Step returns the next candle for an instrument priced at open without mutating it.
func (p *PriceProcess) Step(open, trend, volatility float64, c Conditions, now time.Time) candle.Candle {
	drift := c.Drift + trend
	// Signed: a calm event can push the sum below zero and the path stays random.
	vol := c.Volatility + volatility

	z := p.normal()
	logReturn := (drift-0.5*vol*vol)*p.dt + vol*z*math.Sqrt(p.dt)
	closePrice := math.Max(MinPrice, open*math.Exp(logReturn))

	spread := 0.1 * math.Abs(vol)
	high := math.Max(open, closePrice) * (1 + p.rng.Float64()*spread)
	low := math.Min(open, closePrice) * (1 - p.rng.Float64()*spread)

	return candle.Candle{
		Timestamp: now,
		Open:      open,
		High:      math.Max(MinPrice, candle.RoundCents(high)),
		Low:       math.Max(MinPrice, candle.RoundCents(low)),
		Close:     math.Max(MinPrice, candle.RoundCents(closePrice)),
	}
}

// Advance moves one instrument forward one tick: LastPrice takes the prior Price,
// the new close becomes Price and the candle is appended to the history.
func (p *PriceProcess) Advance(ins *Instrument, c Conditions, now time.Time) candle.Candle {
	next := p.Step(ins.Price, ins.Trend, ins.Volatility, c, now)
	ins.LastPrice = ins.Price
	ins.Price = next.Close
	ins.History.Append(next)
	return next
}
