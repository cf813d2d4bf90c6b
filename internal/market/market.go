// Package market
package market

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amirphl/trading-simulator/internal/candle"
	"github.com/amirphl/trading-simulator/internal/indicator"
)

// Spec is a catalog entry used to create an Instrument.
type Spec struct {
	Symbol       string  `yaml:"symbol" json:"symbol"`
	Name         string  `yaml:"name" json:"name"`
	InitialPrice float64 `yaml:"initial_price" json:"initialPrice"`
	Volatility   float64 `yaml:"volatility" json:"volatility"`
	Trend        float64 `yaml:"trend" json:"trend"`
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return errors.New("instrument symbol cannot be empty")
	}
	if s.InitialPrice <= 0 {
		return fmt.Errorf("instrument %s: initial price must be positive", s.Symbol)
	}
	if s.Volatility < 0 {
		return fmt.Errorf("instrument %s: volatility cannot be negative", s.Symbol)
	}
	return nil
}

// Instrument is a simulated stock. Price and LastPrice move every tick while the
// session is open.
type Instrument struct {
	Symbol     string
	Name       string
	Price      float64
	LastPrice  float64
	Volatility float64
	Trend      float64
	History    *candle.History
}

func NewInstrument(s Spec, now time.Time) *Instrument {
	h := candle.NewHistory(candle.HistorySize)
	h.Append(candle.Flat(s.InitialPrice, now))
	return &Instrument{
		Symbol:     s.Symbol,
		Name:       s.Name,
		Price:      s.InitialPrice,
		LastPrice:  s.InitialPrice,
		Volatility: s.Volatility,
		Trend:      s.Trend,
		History:    h,
	}
}

// ChangePercent is the tick-over-tick move in percent.
func (i *Instrument) ChangePercent() float64 {
	if i.LastPrice == 0 {
		return 0
	}
	return (i.Price - i.LastPrice) / i.LastPrice * 100
}

// Quote is a read-only view of an instrument.
type Quote struct {
	Symbol        string            `json:"symbol"`
	Name          string            `json:"name"`
	Price         float64           `json:"price"`
	LastPrice     float64           `json:"lastPrice"`
	ChangePercent float64           `json:"changePercent"`
	History       []candle.Candle   `json:"history"`
	Studies       indicator.Studies `json:"studies"`
}

func (i *Instrument) Quote() Quote {
	q := Quote{
		Symbol:        i.Symbol,
		Name:          i.Name,
		Price:         i.Price,
		LastPrice:     i.LastPrice,
		ChangePercent: i.ChangePercent(),
		History:       i.History.Candles(),
	}
	q.Studies = indicator.Compute(q.History)
	return q
}

// Index is the equal-weighted mean price of instruments.
func Index(instruments []*Instrument) float64 {
	if len(instruments) == 0 {
		return 0
	}
	sum := 0.0
	for _, ins := range instruments {
		sum += ins.Price
	}
	return sum / float64(len(instruments))
}

// DefaultCatalog is the built-in list of simulated instruments.
func DefaultCatalog() []Spec {
	return []Spec{
		{Symbol: "MTNGH", Name: "MTN Ghana", InitialPrice: 1.55, Volatility: 0.02, Trend: 0.0005},
		{Symbol: "CAL", Name: "CAL Bank", InitialPrice: 0.68, Volatility: 0.015, Trend: 0.0003},
		{Symbol: "TOTAL", Name: "TotalEnergies Marketing", InitialPrice: 9.90, Volatility: 0.025, Trend: 0.0002},
		{Symbol: "GOIL", Name: "GOIL PLC", InitialPrice: 1.60, Volatility: 0.022, Trend: 0.00025},
		{Symbol: "GCB", Name: "GCB Bank PLC", InitialPrice: 4.01, Volatility: 0.018, Trend: 0.0004},
		{Symbol: "EGL", Name: "Enterprise Group PLC", InitialPrice: 3.90, Volatility: 0.019, Trend: 0.0006},
		{Symbol: "FML", Name: "Fan Milk PLC", InitialPrice: 1.80, Volatility: 0.03, Trend: -0.0001},
		{Symbol: "SOGEGH", Name: "Societe Generale Ghana", InitialPrice: 1.25, Volatility: 0.016, Trend: 0.0002},
		{Symbol: "UNIL", Name: "Unilever Ghana PLC", InitialPrice: 19.98, Volatility: 0.012, Trend: 0.0007},
		{Symbol: "GGBL", Name: "Guinness Ghana Breweries", InitialPrice: 3.20, Volatility: 0.028, Trend: 0.0003},
		{Symbol: "SCB", Name: "Standard Chartered Bank", InitialPrice: 20.00, Volatility: 0.011, Trend: 0.0005},
		{Symbol: "BOPP", Name: "Benso Oil Palm Plantation", InitialPrice: 21.00, Volatility: 0.035, Trend: 0.0008},
		{Symbol: "GSR", Name: "Ghana Stock Exchange", InitialPrice: 15.00, Volatility: 0.008, Trend: 0.0001},
		{Symbol: "ACCESS", Name: "Access Bank Ghana", InitialPrice: 4.50, Volatility: 0.021, Trend: 0.00045},
		{Symbol: "ETI", Name: "Ecobank Transnational", InitialPrice: 0.15, Volatility: 0.04, Trend: 0.0001},
	}
}

// ValidateCatalog checks every entry and rejects duplicate symbols.
func ValidateCatalog(specs []Spec) error {
	if len(specs) == 0 {
		return errors.New("catalog is empty")
	}
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid catalog entry at index %d: %w", i, err)
		}
		if seen[s.Symbol] {
			return fmt.Errorf("duplicate symbol %s in catalog", s.Symbol)
		}
		seen[s.Symbol] = true
	}
	return nil
}

type catalogFile struct {
	Instruments []Spec `yaml:"instruments"`
}

// LoadCatalog reads a YAML catalog of the form `instruments: [{symbol, name, ...}]`.
func LoadCatalog(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if err := ValidateCatalog(f.Instruments); err != nil {
		return nil, err
	}
	return f.Instruments, nil
}
