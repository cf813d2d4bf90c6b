// Package event
package event

import (
	"math/rand"
	"time"
)

const (
	// ScanInterval is the fixed cadence of event scheduling ticks.
	ScanInterval = 2 * time.Second
	// FreshnessWindow bounds how old a manual trigger may be when it is applied.
	FreshnessWindow = 5 * time.Second

	minDuration = 20 * time.Second
	maxExtra    = 20 * time.Second
)

// Template describes an event before it is scheduled.
type Template struct {
	Title              string  `json:"title"`
	Description        string  `json:"description"`
	DriftModifier      float64 `json:"driftModifier"`
	VolatilityModifier float64 `json:"volatilityModifier"`
}

// MarketEvent perturbs drift and volatility market-wide until ExpiresAt.
type MarketEvent struct {
	Template
	Duration  time.Duration `json:"duration"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

func (e *MarketEvent) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func DefaultTemplates() []Template {
	return []Template{
		{Title: "BREAKING: Positive Economic Report", Description: "Stronger than expected GDP growth boosts investor confidence.", DriftModifier: 0.15, VolatilityModifier: 0.05},
		{Title: "NEWS: Inflation Fears Rise", Description: "Concerns over rising inflation are causing market uncertainty and a potential downturn.", DriftModifier: -0.20, VolatilityModifier: 0.15},
		{Title: "ALERT: Major Tech Sector Breakthrough", Description: "A significant technological advancement is driving a rally in growth stocks.", DriftModifier: 0.25, VolatilityModifier: 0.20},
		{Title: "UPDATE: Global Supply Chain Issues", Description: "Disruptions in global supply chains are negatively impacting corporate earnings.", DriftModifier: -0.15, VolatilityModifier: 0.10},
		{Title: "FLASH: Market Experiencing Unusual Stability", Description: "Low trading volume and a lack of news have led to a period of market calm.", DriftModifier: 0, VolatilityModifier: -0.10},
	}
}

// Outcome reports what a scan did.
type Outcome int

const (
	NoChange Outcome = iota
	Started
	Stabilized
)

type manualTrigger struct {
	name     string
	issuedAt time.Time
}

// Injector holds at most one active MarketEvent. It is not safe for concurrent use;
// the engine serializes access.
type Injector struct {
	templates []Template
	rng       *rand.Rand
	active    *MarketEvent
	manual    *manualTrigger
}

func NewInjector(templates []Template, rng *rand.Rand) *Injector {
	if len(templates) == 0 {
		templates = DefaultTemplates()
	}
	return &Injector{templates: templates, rng: rng}
}

func (in *Injector) Templates() []Template {
	out := make([]Template, len(in.templates))
	copy(out, in.templates)
	return out
}

func (in *Injector) Lookup(title string) (Template, bool) {
	for _, t := range in.templates {
		if t.Title == title {
			return t, true
		}
	}
	return Template{}, false
}

// Active returns a copy of the active event, or nil.
func (in *Injector) Active() *MarketEvent {
	if in.active == nil {
		return nil
	}
	e := *in.active
	return &e
}

// Modifiers returns the drift and volatility modifiers of the active event.
func (in *Injector) Modifiers() (drift, volatility float64) {
	if in.active == nil {
		return 0, 0
	}
	return in.active.DriftModifier, in.active.VolatilityModifier
}

// Trigger queues a manual event for the next scan. Unknown titles are rejected.
func (in *Injector) Trigger(title string, issuedAt time.Time) bool {
	if _, ok := in.Lookup(title); !ok {
		return false
	}
	in.manual = &manualTrigger{name: title, issuedAt: issuedAt}
	return true
}

// Clear drops the active event and any queued trigger.
func (in *Injector) Clear() {
	in.active = nil
	in.manual = nil
}

// Scan runs one scheduling tick. A fresh manual trigger replaces whatever is
// active and skips the random roll. Otherwise an expired event is cleared, or,
// with no event active, a new one starts with probability frequency.
func (in *Injector) Scan(now time.Time, frequency float64) (Outcome, *MarketEvent) {
	if m := in.manual; m != nil {
		in.manual = nil
		if now.Sub(m.issuedAt) < FreshnessWindow {
			t, _ := in.Lookup(m.name)
			in.start(t, now)
			return Started, in.Active()
		}
	}

	if in.active != nil {
		if in.active.Expired(now) {
			in.active = nil
			return Stabilized, nil
		}
		return NoChange, in.Active()
	}

	if in.rng.Float64() < frequency {
		t := in.templates[in.rng.Intn(len(in.templates))]
		in.start(t, now)
		return Started, in.Active()
	}
	return NoChange, nil
}

func (in *Injector) start(t Template, now time.Time) {
	d := minDuration + time.Duration(in.rng.Float64()*float64(maxExtra))
	in.active = &MarketEvent{Template: t, Duration: d, ExpiresAt: now.Add(d)}
}
