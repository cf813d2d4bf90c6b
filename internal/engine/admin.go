package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/amirphl/trading-simulator/internal/config"
	"github.com/amirphl/trading-simulator/internal/event"
	"github.com/amirphl/trading-simulator/internal/ledger"
	"github.com/amirphl/trading-simulator/internal/market"
	"github.com/amirphl/trading-simulator/internal/notifier"
	"github.com/amirphl/trading-simulator/internal/order"
	"github.com/amirphl/trading-simulator/internal/session"
)

// Standing is one leaderboard row.
type Standing struct {
	LedgerKey  string  `json:"ledgerKey"`
	Value      float64 `json:"value"`
	PnL        float64 `json:"pnl"`
	PnLPercent float64 `json:"pnlPercent"`
}

// Leaderboard ranks every attached ledger by total value, highest first.
func (e *MarketEngine) Leaderboard() []Standing {
	e.mu.Lock()
	defer e.mu.Unlock()

	prices := e.priceMap()
	capital := e.settings.StartingCapital
	out := make([]Standing, 0, len(e.accounts))
	for _, k := range e.sortedKeys() {
		v := e.accounts[k].Ledger.TotalValue(prices)
		s := Standing{LedgerKey: k, Value: v, PnL: v - capital}
		if capital > 0 {
			s.PnLPercent = s.PnL / capital * 100
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// ResetAccount replaces a ledger with a fresh one at the starting capital.
// Active orders are dropped without refund since the cash is reset anyway.
func (e *MarketEngine) ResetAccount(key string) {
	e.mu.Lock()
	defer e.unlock()

	var version int64
	if old, ok := e.accounts[key]; ok {
		version = old.Version
	}
	a := ledger.NewAccount(key, e.settings.StartingCapital)
	a.Version = version
	e.accounts[key] = a
	e.markDirty(key)
	e.log.Infow("ResetAccount | ledger reset", "ledger", key)
	e.notify(notifier.Info, key, "Your portfolio has been reset by an administrator.")
}

// AdjustCash adds delta to a ledger's available cash.
func (e *MarketEngine) AdjustCash(key string, delta float64) (float64, error) {
	e.mu.Lock()
	defer e.unlock()

	a := e.account(key)
	if a.Ledger.Cash+delta < 0 {
		return a.Ledger.Cash, ErrNegativeCash
	}
	a.Ledger.Cash += delta
	e.markDirty(key)
	e.log.Infow("AdjustCash | cash adjusted", "ledger", key, "delta", delta, "cash", a.Ledger.Cash)
	e.notify(notifier.Info, key, "An administrator adjusted your cash by %.2f.", delta)
	return a.Ledger.Cash, nil
}

// UpdateSettings stages settings for the next Open. Before the first session
// they apply immediately.
func (e *MarketEngine) UpdateSettings(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status() == session.PreMarket {
		e.settings = s
		e.pending = nil
		return nil
	}
	e.pending = &s
	e.log.Infow("UpdateSettings | settings staged for next session")
	return nil
}

// Attach installs a ledger loaded from storage, replacing any in memory.
func (e *MarketEngine) Attach(a *ledger.Account) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts[a.Key] = a
	delete(e.dirty, a.Key)
}

func (e *MarketEngine) HasAccount(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.accounts[key]
	return ok
}

// Keys lists attached ledger keys in order.
func (e *MarketEngine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedKeys()
}

// NewAccount builds an empty ledger at the current starting capital.
func (e *MarketEngine) NewAccount(key string) *ledger.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ledger.NewAccount(key, e.settings.StartingCapital)
}

// PendingSave is a snapshot of a mutated ledger waiting to be written.
type PendingSave struct {
	Key     string
	Version int64
	Data    []byte
}

// TakeDirty encodes every ledger mutated since the last call and clears the
// dirty set.
func (e *MarketEngine) TakeDirty() []PendingSave {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]string, 0, len(e.dirty))
	for k := range e.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]PendingSave, 0, len(keys))
	for _, k := range keys {
		delete(e.dirty, k)
		a, ok := e.accounts[k]
		if !ok {
			continue
		}
		data, err := a.Encode()
		if err != nil {
			e.log.Errorw("TakeDirty | failed to encode ledger", "ledger", k, "error", err)
			continue
		}
		out = append(out, PendingSave{Key: k, Version: a.Version, Data: data})
	}
	return out
}

// Saved records the store version after a successful write.
func (e *MarketEngine) Saved(key string, version int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.accounts[key]; ok {
		a.Version = version
	}
}

// MarkDirty queues key for the next TakeDirty, e.g. after a failed write.
func (e *MarketEngine) MarkDirty(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.accounts[key]; ok {
		e.markDirty(key)
	}
}

// HoldingView is a holding marked to market.
type HoldingView struct {
	ledger.Holding
	Price        float64 `json:"price"`
	MarketValue  float64 `json:"marketValue"`
	UnrealizedPL float64 `json:"unrealizedPl"`
}

// Portfolio is the read model of one ledger.
type Portfolio struct {
	LedgerKey     string                    `json:"ledgerKey"`
	Cash          float64                   `json:"cash"`
	UnsettledCash []ledger.UnsettledCash    `json:"unsettledCash"`
	Holdings      []HoldingView             `json:"holdings"`
	ActiveOrders  []*order.Order            `json:"activeOrders"`
	OrderHistory  []order.HistoryItem       `json:"orderHistory"`
	Performance   []ledger.PerformanceEntry `json:"performanceHistory"`
	TotalValue    float64                   `json:"totalValue"`
}

func (e *MarketEngine) Portfolio(key string) (Portfolio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.accounts[key]
	if !ok {
		return Portfolio{}, ErrAccountNotFound
	}
	prices := e.priceMap()
	s := a.Snapshot()
	p := Portfolio{
		LedgerKey:     key,
		Cash:          s.Cash,
		UnsettledCash: s.UnsettledCash,
		ActiveOrders:  s.ActiveOrders,
		OrderHistory:  s.OrderHistory,
		Performance:   s.PerformanceHistory,
		TotalValue:    a.Ledger.TotalValue(prices),
	}
	for _, sym := range a.Ledger.Symbols() {
		h := *s.Holdings[sym]
		price, ok := prices[sym]
		if !ok {
			price = h.AvgCost
		}
		mv := float64(h.Quantity) * price
		p.Holdings = append(p.Holdings, HoldingView{
			Holding:      h,
			Price:        price,
			MarketValue:  mv,
			UnrealizedPL: mv - float64(h.Quantity)*h.AvgCost,
		})
	}
	return p, nil
}

// MarketView is the read model of the market.
type MarketView struct {
	Status           session.Status     `json:"status"`
	SessionID        int64              `json:"sessionId"`
	OpenedAt         time.Time          `json:"openedAt"`
	Index            float64            `json:"index"`
	OpenIndex        float64            `json:"openIndex"`
	Drawdown         float64            `json:"drawdown"`
	BreakerTriggered bool               `json:"circuitBreakerTriggered"`
	Instruments      []market.Quote     `json:"instruments"`
	ActiveEvent      *event.MarketEvent `json:"activeEvent,omitempty"`
	Settings         config.Settings    `json:"settings"`
}

func (e *MarketEngine) MarketView() MarketView {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := market.Index(e.instruments)
	v := MarketView{
		Status:           e.session.Status(),
		SessionID:        e.session.SessionID(),
		OpenedAt:         e.session.OpenedAt(),
		Index:            idx,
		OpenIndex:        e.breaker.OpenIndex(),
		Drawdown:         e.breaker.Drawdown(idx),
		BreakerTriggered: e.breaker.Triggered(),
		ActiveEvent:      e.injector.Active(),
		Settings:         e.settings,
	}
	for _, ins := range e.instruments {
		v.Instruments = append(v.Instruments, ins.Quote())
	}
	return v
}
