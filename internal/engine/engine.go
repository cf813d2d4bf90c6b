// Package engine owns the whole simulation state. Every mutation goes through the
// MarketEngine methods, which serialize on a single mutex.
package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/trading-simulator/internal/candle"
	"github.com/amirphl/trading-simulator/internal/clock"
	"github.com/amirphl/trading-simulator/internal/config"
	"github.com/amirphl/trading-simulator/internal/event"
	"github.com/amirphl/trading-simulator/internal/ledger"
	"github.com/amirphl/trading-simulator/internal/market"
	"github.com/amirphl/trading-simulator/internal/metrics"
	"github.com/amirphl/trading-simulator/internal/notifier"
	"github.com/amirphl/trading-simulator/internal/session"
	"github.com/amirphl/trading-simulator/internal/utils"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrAccountNotFound = errors.New("ledger not found")
	ErrNegativeCash    = errors.New("adjustment would make cash negative")
)

// Stepper advances an instrument by one tick.
type Stepper interface {
	Advance(ins *market.Instrument, c market.Conditions, now time.Time) candle.Candle
}

// Options configure a MarketEngine. Zero values pick defaults.
type Options struct {
	Settings  config.Settings
	Catalog   []market.Spec
	Templates []event.Template
	Seed      int64
	Rand      *rand.Rand
	Prices    Stepper
	Clock     clock.Clock
	Notifier  notifier.Notifier
	Logger    *zap.SugaredLogger
}

type MarketEngine struct {
	mu sync.Mutex

	clock    clock.Clock
	log      *zap.SugaredLogger
	notifier notifier.Notifier
	outbox   []notifier.Notification

	prices      Stepper
	instruments []*market.Instrument
	bySymbol    map[string]*market.Instrument
	injector    *event.Injector
	session     *session.Clock
	breaker     *session.CircuitBreaker
	resume      clock.Stopper

	settings config.Settings
	pending  *config.Settings

	accounts map[string]*ledger.Account
	dirty    map[string]struct{}
}

func New(opts Options) (*MarketEngine, error) {
	if opts.Settings == (config.Settings{}) {
		opts.Settings = config.DefaultSettings()
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if len(opts.Catalog) == 0 {
		opts.Catalog = market.DefaultCatalog()
	}
	if err := market.ValidateCatalog(opts.Catalog); err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Rand == nil {
		seed := opts.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		opts.Rand = rand.New(rand.NewSource(seed))
	}
	if opts.Prices == nil {
		opts.Prices = market.NewPriceProcess(opts.Rand)
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = notifier.Log{L: opts.Logger}
	}

	now := opts.Clock.Now()
	e := &MarketEngine{
		clock:    opts.Clock,
		log:      opts.Logger,
		notifier: opts.Notifier,
		prices:   opts.Prices,
		bySymbol: make(map[string]*market.Instrument, len(opts.Catalog)),
		injector: event.NewInjector(opts.Templates, opts.Rand),
		session:  session.NewClock(),
		breaker:  session.NewCircuitBreaker(opts.Settings.CircuitBreakerEnabled, opts.Settings.CircuitBreakerThreshold),
		settings: opts.Settings,
		accounts: map[string]*ledger.Account{},
		dirty:    map[string]struct{}{},
	}
	for _, s := range opts.Catalog {
		ins := market.NewInstrument(s, now)
		e.instruments = append(e.instruments, ins)
		e.bySymbol[s.Symbol] = ins
	}
	metrics.SetStatus(string(e.session.Status()))
	metrics.MarketIndex.Set(market.Index(e.instruments))
	return e, nil
}

// unlock releases the engine lock and then delivers queued notifications, so a
// slow notifier never holds up the engine.
func (e *MarketEngine) unlock() {
	out := e.outbox
	e.outbox = nil
	e.mu.Unlock()
	for _, n := range out {
		e.notifier.Notify(n)
	}
}

func (e *MarketEngine) notify(t notifier.Type, key, format string, args ...any) {
	e.outbox = append(e.outbox, notifier.Notification{
		Type:      t,
		Text:      fmt.Sprintf(format, args...),
		LedgerKey: key,
		Time:      e.clock.Now(),
	})
}

func (e *MarketEngine) markDirty(key string) {
	e.dirty[key] = struct{}{}
}

// account returns the ledger for key, attaching a fresh one when absent.
func (e *MarketEngine) account(key string) *ledger.Account {
	a, ok := e.accounts[key]
	if !ok {
		a = ledger.NewAccount(key, e.settings.StartingCapital)
		e.accounts[key] = a
		e.markDirty(key)
	}
	return a
}

func (e *MarketEngine) sortedKeys() []string {
	keys := make([]string, 0, len(e.accounts))
	for k := range e.accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *MarketEngine) priceMap() map[string]float64 {
	m := make(map[string]float64, len(e.instruments))
	for _, ins := range e.instruments {
		m[ins.Symbol] = ins.Price
	}
	return m
}

func (e *MarketEngine) setStatus(to session.Status, reason string) error {
	from := e.session.Status()
	if err := e.session.TransitionTo(to, reason, e.clock.Now()); err != nil {
		return err
	}
	metrics.SetStatus(string(to))
	e.log.Infow("setStatus | session transition", "from", from, "to", to, "reason", reason, "session", e.session.SessionID())
	return nil
}

// Status returns the current session status.
func (e *MarketEngine) Status() session.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Status()
}

// Settings returns the settings of the running session.
func (e *MarketEngine) Settings() config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// PendingSettings returns staged settings, if any.
func (e *MarketEngine) PendingSettings() (config.Settings, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return config.Settings{}, false
	}
	return *e.pending, true
}

// Templates lists the event templates that can be triggered by title.
func (e *MarketEngine) Templates() []event.Template {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.injector.Templates()
}

func (e *MarketEngine) SessionHistory() []session.Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.History()
}
