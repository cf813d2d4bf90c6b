package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amirphl/trading-simulator/internal/broadcast"
	"github.com/amirphl/trading-simulator/internal/clock"
	"github.com/amirphl/trading-simulator/internal/config"
	"github.com/amirphl/trading-simulator/internal/db"
	"github.com/amirphl/trading-simulator/internal/engine"
	"github.com/amirphl/trading-simulator/internal/journal"
	"github.com/amirphl/trading-simulator/internal/ledger"
	"github.com/amirphl/trading-simulator/internal/market"
	"github.com/amirphl/trading-simulator/internal/notifier"
	"github.com/amirphl/trading-simulator/internal/order"
	"github.com/amirphl/trading-simulator/internal/session"
)

type fixture struct {
	eng   *engine.MarketEngine
	clk   *clock.Manual
	store *db.MemoryStorage
	bus   *broadcast.Local
	pub   *publisher
	r     *Runner
}

type publisher struct {
	mu    sync.Mutex
	views []any
}

func (p *publisher) PublishMarket(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, v)
}

func (p *publisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.views)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk:   clock.NewManual(time.Unix(1700000000, 0)),
		store: db.NewMemory(),
		bus:   broadcast.NewLocal(),
		pub:   &publisher{},
	}
	eng, err := engine.New(engine.Options{
		Settings: config.DefaultSettings(),
		Catalog:  []market.Spec{{Symbol: "TEST", Name: "Test Corp", InitialPrice: 10, Volatility: 0.1}},
		Seed:     3,
		Clock:    f.clk,
		Notifier: &notifier.Recorder{},
		Logger:   zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	f.eng = eng
	f.r, err = New(Options{
		Engine:    eng,
		Store:     f.store,
		Journal:   f.store,
		Bus:       f.bus,
		Publisher: f.pub,
		Logger:    zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) buy(t *testing.T, key string, qty int64) {
	t.Helper()
	res := f.eng.PlaceOrder(key, order.Request{TraderID: key, Symbol: "TEST", Side: order.Buy, Kind: order.Market, Quantity: qty})
	require.True(t, res.Accepted, res.Reason)
}

func TestNewRequiresEngineAndStore(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	f := newFixture(t)
	_, err = New(Options{Engine: f.eng})
	assert.Error(t, err)
}

func TestEnsureAttachesFreshLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.r.Ensure(ctx, "trd_a"))
	require.True(t, f.eng.HasAccount("trd_a"))

	p, err := f.eng.Portfolio("trd_a")
	require.NoError(t, err)
	assert.Equal(t, float64(config.DefaultStartingCapital), p.Cash)

	assert.Equal(t, 0, f.r.Persist(ctx), "a fresh ledger is not written until it changes")
	_, err = f.store.LoadLedger(ctx, "trd_a")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestEnsureLoadsStoredSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data, err := ledger.NewAccount("trd_a", 1234.5).Encode()
	require.NoError(t, err)
	_, err = f.store.SaveLedger(ctx, "trd_a", 0, data)
	require.NoError(t, err)

	require.NoError(t, f.r.Ensure(ctx, "trd_a"))
	p, err := f.eng.Portfolio("trd_a")
	require.NoError(t, err)
	assert.Equal(t, 1234.5, p.Cash)

	// A second Ensure keeps the in-memory ledger.
	_, err = f.eng.AdjustCash("trd_a", 10)
	require.NoError(t, err)
	require.NoError(t, f.r.Ensure(ctx, "trd_a"))
	p, _ = f.eng.Portfolio("trd_a")
	assert.Equal(t, 1244.5, p.Cash)
}

func TestCorruptSnapshotFallsBackToFreshLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.SaveLedger(ctx, "trd_a", 0, []byte("{not json"))
	require.NoError(t, err)

	require.NoError(t, f.r.Ensure(ctx, "trd_a"))
	p, err := f.eng.Portfolio("trd_a")
	require.NoError(t, err)
	assert.Equal(t, float64(config.DefaultStartingCapital), p.Cash)

	assert.Equal(t, 1, f.r.Persist(ctx))
	rec, err := f.store.LoadLedger(ctx, "trd_a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	_, err = ledger.Decode("trd_a", rec.Version, rec.Data)
	assert.NoError(t, err)
}

func TestPersistWritesDirtyLedgers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.eng.Open())
	require.NoError(t, f.r.Ensure(ctx, "trd_a"))
	f.buy(t, "trd_a", 10)

	assert.Equal(t, 1, f.r.Persist(ctx))
	assert.Equal(t, 0, f.r.Persist(ctx))

	rec, err := f.store.LoadLedger(ctx, "trd_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	a, err := ledger.Decode("trd_a", rec.Version, rec.Data)
	require.NoError(t, err)
	assert.Len(t, a.ActiveOrders, 1)
	assert.InDelta(t, config.DefaultStartingCapital-100, a.Ledger.Cash, 1e-9)

	f.buy(t, "trd_a", 1)
	assert.Equal(t, 1, f.r.Persist(ctx))
	rec, _ = f.store.LoadLedger(ctx, "trd_a")
	assert.Equal(t, int64(2), rec.Version)
}

func TestPersistConflictReloadsStoredSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.r.Ensure(ctx, "trd_team"))
	_, err := f.eng.AdjustCash("trd_team", 5)
	require.NoError(t, err)
	require.Equal(t, 1, f.r.Persist(ctx))

	// Another replica saves the shared ledger first.
	other := ledger.NewAccount("trd_team", 777)
	data, err := other.Encode()
	require.NoError(t, err)
	_, err = f.store.SaveLedger(ctx, "trd_team", 1, data)
	require.NoError(t, err)

	_, err = f.eng.AdjustCash("trd_team", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, f.r.Persist(ctx))

	p, err := f.eng.Portfolio("trd_team")
	require.NoError(t, err)
	assert.Equal(t, 777.0, p.Cash)

	_, err = f.eng.AdjustCash("trd_team", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, f.r.Persist(ctx))
	rec, _ := f.store.LoadLedger(ctx, "trd_team")
	assert.Equal(t, int64(3), rec.Version)
}

type flakyStore struct {
	*db.MemoryStorage
	fail bool
}

func (s *flakyStore) SaveLedger(ctx context.Context, key string, expected int64, data []byte) (int64, error) {
	if s.fail {
		return 0, errors.New("connection reset")
	}
	return s.MemoryStorage.SaveLedger(ctx, key, expected, data)
}

func TestPersistRetriesFailedWrites(t *testing.T) {
	f := newFixture(t)
	store := &flakyStore{MemoryStorage: f.store, fail: true}
	r, err := New(Options{Engine: f.eng, Store: store, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, r.Ensure(ctx, "trd_a"))
	_, err = f.eng.AdjustCash("trd_a", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Persist(ctx))

	store.fail = false
	assert.Equal(t, 1, r.Persist(ctx))
}

func TestLoadAllAttachesStoredLedgers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, k := range []string{"trd_a", "trd_b"} {
		data, err := ledger.NewAccount(k, 10).Encode()
		require.NoError(t, err)
		_, err = f.store.SaveLedger(ctx, k, 0, data)
		require.NoError(t, err)
	}
	require.NoError(t, f.r.LoadAll(ctx))
	assert.Equal(t, []string{"trd_a", "trd_b"}, f.eng.Keys())
	assert.Len(t, f.eng.Leaderboard(), 2)
}

func TestPriceStepPublishesWhileOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rep := f.r.PriceStep(ctx)
	assert.Equal(t, session.PreMarket, rep.Status)
	assert.Equal(t, 0, f.pub.count())

	require.True(t, f.eng.Open())
	rep = f.r.PriceStep(ctx)
	assert.Equal(t, session.Open, rep.Status)
	assert.Equal(t, 1, f.pub.count())
}

func TestHandleSignalJournalsSignalAndTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.r.HandleSignal(broadcast.SessionSignal(broadcast.ActionOpen, f.clk.Now()))
	assert.Equal(t, session.Open, f.eng.Status())
	f.r.HandleSignal(broadcast.SessionSignal(broadcast.ActionOpen, f.clk.Now()))

	far := time.Now().Add(time.Hour)
	signals, err := f.store.GetEvents(ctx, journal.TypeSignal, time.Time{}, far)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, true, signals[0].Data["applied"])
	assert.Equal(t, false, signals[1].Data["applied"])

	sessions, err := f.store.GetEvents(ctx, journal.TypeSession, time.Time{}, far)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "OPEN", sessions[0].Description)
	assert.Equal(t, "PRE_MARKET", sessions[0].Data["from"])
}

func TestRunAppliesBusSignalsAndFlushesOnExit(t *testing.T) {
	f := newFixture(t)
	s := config.DefaultSettings()
	s.CircuitBreakerEnabled = false
	require.NoError(t, f.eng.UpdateSettings(s))
	r, err := New(Options{
		Engine:          f.eng,
		Store:           f.store,
		Bus:             f.bus,
		Logger:          zap.NewNop().Sugar(),
		PersistInterval: time.Hour,
		EventInterval:   5 * time.Millisecond,
		TickInterval:    func() time.Duration { return 5 * time.Millisecond },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		_ = f.bus.Publish(context.Background(), broadcast.SessionSignal(broadcast.ActionOpen, f.clk.Now()))
		return f.eng.Status() == session.Open
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Ensure(context.Background(), "trd_a"))
	f.buy(t, "trd_a", 1)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	_, err = f.store.LoadLedger(context.Background(), "trd_a")
	assert.NoError(t, err, "dirty ledgers are flushed on shutdown")
}
