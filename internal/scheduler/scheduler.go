// Package scheduler drives the engine: the price tick, the event scan, ledger
// persistence and the control-signal subscription.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/trading-simulator/internal/broadcast"
	"github.com/amirphl/trading-simulator/internal/db"
	"github.com/amirphl/trading-simulator/internal/engine"
	"github.com/amirphl/trading-simulator/internal/event"
	"github.com/amirphl/trading-simulator/internal/journal"
	"github.com/amirphl/trading-simulator/internal/ledger"
	"github.com/amirphl/trading-simulator/internal/metrics"
	"github.com/amirphl/trading-simulator/internal/session"
	"github.com/amirphl/trading-simulator/internal/utils"
)

const journalTimeout = 2 * time.Second

// MarketPublisher receives the market view after every price tick.
type MarketPublisher interface {
	PublishMarket(view any)
}

type Options struct {
	Engine          *engine.MarketEngine
	Store           db.LedgerStore
	Journal         journal.Journaler
	Bus             broadcast.Bus
	Publisher       MarketPublisher
	Logger          *zap.SugaredLogger
	PersistInterval time.Duration
	// TickInterval overrides the speed-derived price cadence. Read before every tick.
	TickInterval func() time.Duration
	EventInterval time.Duration
}

type Runner struct {
	engine    *engine.MarketEngine
	store     db.LedgerStore
	journal   journal.Journaler
	bus       broadcast.Bus
	publisher MarketPublisher
	log       *zap.SugaredLogger

	persistEvery time.Duration
	eventEvery   time.Duration
	tickEvery    func() time.Duration

	// loadMu serializes Ensure so two requests for a new key load it once.
	loadMu sync.Mutex

	statusMu   sync.Mutex
	lastStatus session.Status
}

func New(opts Options) (*Runner, error) {
	if opts.Engine == nil {
		return nil, errors.New("scheduler requires an engine")
	}
	if opts.Store == nil {
		return nil, errors.New("scheduler requires a ledger store")
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	if opts.PersistInterval <= 0 {
		opts.PersistInterval = time.Second
	}
	if opts.EventInterval <= 0 {
		opts.EventInterval = event.ScanInterval
	}
	if opts.TickInterval == nil {
		eng := opts.Engine
		opts.TickInterval = func() time.Duration { return eng.Settings().TickInterval() }
	}
	return &Runner{
		engine:       opts.Engine,
		store:        opts.Store,
		journal:      opts.Journal,
		bus:          opts.Bus,
		publisher:    opts.Publisher,
		log:          opts.Logger,
		persistEvery: opts.PersistInterval,
		eventEvery:   opts.EventInterval,
		tickEvery:    opts.TickInterval,
		lastStatus:   opts.Engine.Status(),
	}, nil
}

// Run blocks until ctx is done. Dirty ledgers are flushed once more on exit.
func (r *Runner) Run(ctx context.Context) error {
	if r.bus != nil {
		unsubscribe, err := r.bus.Subscribe(r.HandleSignal)
		if err != nil {
			return fmt.Errorf("failed to subscribe to control signals: %w", err)
		}
		defer unsubscribe()
	}

	priceTimer := time.NewTimer(r.tickEvery())
	defer priceTimer.Stop()
	eventTicker := time.NewTicker(r.eventEvery)
	defer eventTicker.Stop()
	persistTicker := time.NewTicker(r.persistEvery)
	defer persistTicker.Stop()

	r.log.Infow("Run | scheduler started", "persistInterval", r.persistEvery, "eventInterval", r.eventEvery)
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.Persist(flushCtx)
			cancel()
			r.log.Infow("Run | scheduler stopped")
			return ctx.Err()
		case <-priceTimer.C:
			r.PriceStep(ctx)
			priceTimer.Reset(r.tickEvery())
		case <-eventTicker.C:
			r.EventStep()
		case <-persistTicker.C:
			r.Persist(ctx)
		}
	}
}

// PriceStep runs one engine tick and publishes the resulting market view.
func (r *Runner) PriceStep(ctx context.Context) engine.TickReport {
	rep := r.engine.Tick()
	if rep.Halted {
		r.log.Warnw("PriceStep | trading halted", "index", rep.Index)
	}
	r.observeStatus(ctx)
	if r.publisher != nil && (rep.Status == session.Open || rep.Halted) {
		r.publisher.PublishMarket(r.engine.MarketView())
	}
	return rep
}

// EventStep runs one event scan.
func (r *Runner) EventStep() event.Outcome {
	return r.engine.EventTick()
}

// HandleSignal applies a control signal from the bus and journals it.
func (r *Runner) HandleSignal(s broadcast.Signal) {
	applied := r.engine.ApplyControlSignal(s)
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	r.logEvent(ctx, journal.Event{
		Time:        s.IssuedAt(),
		Type:        journal.TypeSignal,
		Description: string(s.Kind),
		Data: map[string]any{
			"action":    s.Action,
			"eventName": s.EventName,
			"message":   s.Message,
			"applied":   applied,
		},
	})
	r.observeStatus(ctx)
}

// observeStatus journals a session transition the first time it is seen.
func (r *Runner) observeStatus(ctx context.Context) {
	status := r.engine.Status()
	r.statusMu.Lock()
	prev := r.lastStatus
	r.lastStatus = status
	r.statusMu.Unlock()
	if status == prev {
		return
	}
	r.log.Infow("observeStatus | session status changed", "from", prev, "to", status)
	r.logEvent(ctx, journal.Event{
		Time:        time.Now(),
		Type:        journal.TypeSession,
		Description: string(status),
		Data:        map[string]any{"from": string(prev), "to": string(status)},
	})
}

func (r *Runner) logEvent(ctx context.Context, e journal.Event) {
	if r.journal == nil {
		return
	}
	if err := r.journal.LogEvent(ctx, e); err != nil {
		r.log.Warnw("logEvent | failed to journal event", "type", e.Type, "error", err)
	}
}

// Ensure makes sure key has a ledger attached, loading it from the store on
// first use. Missing or unreadable snapshots start from a fresh ledger.
func (r *Runner) Ensure(ctx context.Context, key string) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.engine.HasAccount(key) {
		return nil
	}
	return r.load(ctx, key)
}

func (r *Runner) load(ctx context.Context, key string) error {
	rec, err := r.store.LoadLedger(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		r.engine.Attach(r.engine.NewAccount(key))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load ledger %s: %w", key, err)
	}
	a, err := ledger.Decode(key, rec.Version, rec.Data)
	if err != nil {
		r.log.Warnw("load | corrupt ledger snapshot, starting fresh", "ledger", key, "error", err)
		a = r.engine.NewAccount(key)
		a.Version = rec.Version
		r.engine.Attach(a)
		r.engine.MarkDirty(key)
		return nil
	}
	r.engine.Attach(a)
	return nil
}

// LoadAll attaches every stored ledger so the leaderboard and ticks see them.
func (r *Runner) LoadAll(ctx context.Context) error {
	keys, err := r.store.ListLedgerKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ledgers: %w", err)
	}
	for _, k := range keys {
		if err := r.Ensure(ctx, k); err != nil {
			return err
		}
	}
	r.log.Infow("LoadAll | ledgers attached", "count", len(keys))
	return nil
}

// Persist writes every dirty ledger. A version conflict means another writer
// saved first: the stored snapshot wins and is reattached. Other failures are
// retried on the next pass.
func (r *Runner) Persist(ctx context.Context) int {
	saved := 0
	for _, p := range r.engine.TakeDirty() {
		version, err := r.store.SaveLedger(ctx, p.Key, p.Version, p.Data)
		switch {
		case err == nil:
			r.engine.Saved(p.Key, version)
			metrics.LedgerSaves.WithLabelValues("ok").Inc()
			saved++
		case errors.Is(err, db.ErrVersionConflict):
			metrics.LedgerSaves.WithLabelValues("conflict").Inc()
			r.log.Warnw("Persist | ledger version conflict, reloading", "ledger", p.Key, "version", p.Version)
			r.loadMu.Lock()
			if err := r.load(ctx, p.Key); err != nil {
				r.log.Errorw("Persist | failed to reload ledger", "ledger", p.Key, "error", err)
			}
			r.loadMu.Unlock()
		default:
			metrics.LedgerSaves.WithLabelValues("error").Inc()
			r.log.Errorw("Persist | failed to save ledger", "ledger", p.Key, "error", err)
			r.engine.MarkDirty(p.Key)
		}
	}
	return saved
}
