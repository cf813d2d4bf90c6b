package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	SpeedSlow   = "Slow"
	SpeedNormal = "Normal"
	SpeedFast   = "Fast"

	CycleT1 = "T+1"
	CycleT2 = "T+2"
	CycleT3 = "T+3"
)

const (
	DefaultStartingCapital           = 100000
	DefaultAnnualDrift               = 0.08
	DefaultAnnualVolatility          = 0.20
	DefaultEventChancePerTick        = 0.05
	DefaultMarketDurationMinutes     = 5
	DefaultCircuitBreakerEnabled     = true
	DefaultCircuitBreakerThreshold   = 0.07
	DefaultCircuitBreakerHaltSeconds = 30
	DefaultInterestRate              = 0.02
	DefaultCommissionFee             = 0.005
)

// Settings is the admin-controlled market configuration. A running session keeps the
// settings it was opened with; changes apply from the next open.
type Settings struct {
	StartingCapital           float64 `yaml:"starting_capital" json:"startingCapital"`
	SettlementCycle           string  `yaml:"settlement_cycle" json:"settlementCycle"`
	BaseDrift                 float64 `yaml:"base_drift" json:"baseDrift"`
	BaseVolatility            float64 `yaml:"base_volatility" json:"baseVolatility"`
	EventFrequency            float64 `yaml:"event_frequency" json:"eventFrequency"`
	MarketDurationMinutes     float64 `yaml:"market_duration_minutes" json:"marketDurationMinutes"`
	CircuitBreakerEnabled     bool    `yaml:"circuit_breaker_enabled" json:"circuitBreakerEnabled"`
	CircuitBreakerThreshold   float64 `yaml:"circuit_breaker_threshold" json:"circuitBreakerThreshold"`
	CircuitBreakerHaltSeconds float64 `yaml:"circuit_breaker_halt_seconds" json:"circuitBreakerHaltSeconds"`
	SimulationSpeed           string  `yaml:"simulation_speed" json:"simulationSpeed"`
	InterestRate              float64 `yaml:"interest_rate" json:"interestRate"`
	CommissionFee             float64 `yaml:"commission_fee" json:"commissionFee"`
}

func DefaultSettings() Settings {
	return Settings{
		StartingCapital:           DefaultStartingCapital,
		SettlementCycle:           CycleT2,
		BaseDrift:                 DefaultAnnualDrift,
		BaseVolatility:            DefaultAnnualVolatility,
		EventFrequency:            DefaultEventChancePerTick,
		MarketDurationMinutes:     DefaultMarketDurationMinutes,
		CircuitBreakerEnabled:     DefaultCircuitBreakerEnabled,
		CircuitBreakerThreshold:   DefaultCircuitBreakerThreshold,
		CircuitBreakerHaltSeconds: DefaultCircuitBreakerHaltSeconds,
		SimulationSpeed:           SpeedNormal,
		InterestRate:              DefaultInterestRate,
		CommissionFee:             DefaultCommissionFee,
	}
}

func (s Settings) Validate() error {
	if s.StartingCapital < 0 {
		return errors.New("starting capital cannot be negative")
	}
	switch s.SettlementCycle {
	case CycleT1, CycleT2, CycleT3:
	default:
		return fmt.Errorf("unsupported settlement cycle %q", s.SettlementCycle)
	}
	switch s.SimulationSpeed {
	case SpeedSlow, SpeedNormal, SpeedFast:
	default:
		return fmt.Errorf("unsupported simulation speed %q", s.SimulationSpeed)
	}
	if s.BaseVolatility < 0 {
		return errors.New("base volatility cannot be negative")
	}
	if s.EventFrequency < 0 || s.EventFrequency > 1 {
		return errors.New("event frequency must be between 0 and 1")
	}
	if s.MarketDurationMinutes <= 0 {
		return errors.New("market duration must be positive")
	}
	if s.CircuitBreakerThreshold <= 0 || s.CircuitBreakerThreshold >= 1 {
		return errors.New("circuit breaker threshold must be between 0 and 1")
	}
	if s.CircuitBreakerHaltSeconds <= 0 {
		return errors.New("circuit breaker halt seconds must be positive")
	}
	if s.CommissionFee < 0 || s.CommissionFee >= 1 {
		return errors.New("commission fee must be between 0 and 1")
	}
	return nil
}

// TickInterval is the wall-clock cadence of price ticks.
func (s Settings) TickInterval() time.Duration {
	switch s.SimulationSpeed {
	case SpeedSlow:
		return 5 * time.Second
	case SpeedFast:
		return 1500 * time.Millisecond
	default:
		return 3 * time.Second
	}
}

// ArmingDelay is how long an order stays PENDING before it can work.
func (s Settings) ArmingDelay() time.Duration {
	switch s.SimulationSpeed {
	case SpeedSlow:
		return 8 * time.Second
	case SpeedFast:
		return 2500 * time.Millisecond
	default:
		return 5 * time.Second
	}
}

func (s Settings) MarketDuration() time.Duration {
	return time.Duration(s.MarketDurationMinutes * float64(time.Minute))
}

// SettlementDelay scales the settlement cycle to the simulated session length.
func (s Settings) SettlementDelay() time.Duration {
	d := s.MarketDuration()
	switch s.SettlementCycle {
	case CycleT1:
		return time.Duration(float64(d) / 2.5)
	case CycleT3:
		return d
	default:
		return d * 2 / 3
	}
}

func (s Settings) HaltDuration() time.Duration {
	return time.Duration(s.CircuitBreakerHaltSeconds * float64(time.Second))
}
